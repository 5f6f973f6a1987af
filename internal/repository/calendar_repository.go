package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ledgercraft/be-recurring-billing/internal/apperrors"
	"github.com/ledgercraft/be-recurring-billing/internal/database"
)

// EventTemplate is a tax-calendar rule: what kind of obligation recurs, how
// often, and when each occurrence falls due after its period closes.
type EventTemplate struct {
	ID             string
	OrganizationID string
	ProfileID      string
	Title          string
	Description    string
	Kind           string
	Frequency      string
	DueOffsetDays  int
	DueTimeLocal   string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EventInstance is one materialized occurrence of a template. The store
// enforces UNIQUE (template_id, period_start, period_end); the expander's
// skip-if-existing check is only advisory against a snapshot.
type EventInstance struct {
	ID          string
	TemplateID  string
	PeriodStart time.Time
	PeriodEnd   time.Time
	DueAt       time.Time
	Status      string
	DoneAt      *time.Time
	DoneByID    *string
	Note        *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CalendarRepository handles event-template and event-instance persistence.
type CalendarRepository struct {
	db *database.DB
}

// NewCalendarRepository creates a new calendar repository.
func NewCalendarRepository(db *database.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// CreateTemplate inserts a new event template.
func (r *CalendarRepository) CreateTemplate(ctx context.Context, t *EventTemplate) error {
	query := `
		INSERT INTO event_templates (id, organization_id, profile_id, title, description,
		                             kind, frequency, due_offset_days, due_time_local, is_active)
		VALUES ($1, $2, $3, $4, $5, $6::event_kind, $7::event_frequency, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		t.ID,
		t.OrganizationID,
		t.ProfileID,
		t.Title,
		t.Description,
		t.Kind,
		t.Frequency,
		t.DueOffsetDays,
		t.DueTimeLocal,
		t.IsActive,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return apperrors.Wrap(err, apperrors.ErrCodeConflict, "event template already exists")
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create event template")
	}
	return nil
}

// GetTemplate returns one template scoped to its organization.
func (r *CalendarRepository) GetTemplate(ctx context.Context, id, organizationID string) (*EventTemplate, error) {
	query := templateSelect + ` WHERE id = $1 AND organization_id = $2`

	t, err := r.scanTemplate(r.db.QueryRow(ctx, query, id, organizationID))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("event_template", id)
	}
	return t, err
}

// ListTemplates returns an organization's templates. When activeOnly is set,
// paused templates are filtered out.
func (r *CalendarRepository) ListTemplates(ctx context.Context, organizationID string, activeOnly bool) ([]*EventTemplate, error) {
	query := templateSelect + ` WHERE organization_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY title ASC`

	rows, err := r.db.Query(ctx, query, organizationID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list event templates")
	}
	defer rows.Close()

	var templates []*EventTemplate
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan event template")
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// UpdateTemplate rewrites the editable fields of a template.
func (r *CalendarRepository) UpdateTemplate(ctx context.Context, t *EventTemplate) error {
	query := `
		UPDATE event_templates
		SET title           = $3,
		    description     = $4,
		    kind            = $5::event_kind,
		    frequency       = $6::event_frequency,
		    due_offset_days = $7,
		    due_time_local  = $8,
		    is_active       = $9,
		    updated_at      = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		t.ID,
		t.OrganizationID,
		t.Title,
		t.Description,
		t.Kind,
		t.Frequency,
		t.DueOffsetDays,
		t.DueTimeLocal,
		t.IsActive,
	).Scan(&t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("event_template", t.ID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update event template")
	}
	return nil
}

// InsertInstances bulk-inserts materialized instances inside one
// transaction. A concurrent expansion racing over the same periods loses to
// the unique constraint; ON CONFLICT DO NOTHING degrades that to a no-op, so
// a lost race is tolerated rather than surfaced. Returns the number of rows
// actually inserted.
func (r *CalendarRepository) InsertInstances(ctx context.Context, instances []*EventInstance) (int, error) {
	if len(instances) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO event_instances (id, template_id, period_start, period_end,
		                             due_at, status)
		VALUES ($1, $2, $3, $4, $5, $6::instance_status)
		ON CONFLICT (template_id, period_start, period_end) DO NOTHING
	`

	inserted := 0
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		for _, inst := range instances {
			tag, err := tx.Exec(ctx, query,
				inst.ID,
				inst.TemplateID,
				inst.PeriodStart,
				inst.PeriodEnd,
				inst.DueAt,
				inst.Status,
			)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to insert event instance")
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// GetInstance returns one instance scoped to its organization through the
// owning template.
func (r *CalendarRepository) GetInstance(ctx context.Context, id, organizationID string) (*EventInstance, error) {
	query := instanceSelect + `
		JOIN event_templates t ON t.id = i.template_id
		WHERE i.id = $1 AND t.organization_id = $2
	`

	inst, err := r.scanInstance(r.db.QueryRow(ctx, query, id, organizationID))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("event_instance", id)
	}
	return inst, err
}

// ListInstances returns an organization's instances whose period overlaps
// [from, to], ordered by due date.
func (r *CalendarRepository) ListInstances(ctx context.Context, organizationID string, from, to time.Time) ([]*EventInstance, error) {
	query := instanceSelect + `
		JOIN event_templates t ON t.id = i.template_id
		WHERE t.organization_id = $1
		  AND i.period_start <= $3
		  AND i.period_end   >= $2
		ORDER BY i.due_at ASC, i.id ASC
	`

	rows, err := r.db.Query(ctx, query, organizationID, from, to)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list event instances")
	}
	defer rows.Close()

	var instances []*EventInstance
	for rows.Next() {
		inst, err := r.scanInstance(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan event instance")
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

// CloseInstance finalizes an instance as DONE or SKIPPED, recording the
// audit fields. The update is conditional on the row still being open, so a
// stale terminal check cannot overwrite an earlier completion. Zero rows
// means the instance was already closed (or never existed); the caller
// re-reads to classify.
func (r *CalendarRepository) CloseInstance(ctx context.Context, id, organizationID, status, doneBy string, note *string, doneAt time.Time) (bool, error) {
	query := `
		UPDATE event_instances i
		SET status     = $3::instance_status,
		    done_at    = $4,
		    done_by_id = $5,
		    note       = $6,
		    updated_at = NOW()
		FROM event_templates t
		WHERE i.id = $1
		  AND t.id = i.template_id
		  AND t.organization_id = $2
		  AND i.status IN ('UPCOMING'::instance_status, 'IN_PROGRESS'::instance_status)
	`

	tag, err := r.db.Exec(ctx, query, id, organizationID, status, doneAt, doneBy, note)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to close event instance")
	}
	return tag.RowsAffected() > 0, nil
}

const templateSelect = `
	SELECT id, organization_id, profile_id, title, description,
	       kind, frequency, due_offset_days, due_time_local, is_active,
	       created_at, updated_at
	FROM event_templates`

const instanceSelect = `
	SELECT i.id, i.template_id, i.period_start, i.period_end,
	       i.due_at, i.status, i.done_at, i.done_by_id, i.note,
	       i.created_at, i.updated_at
	FROM event_instances i`

func (r *CalendarRepository) scanTemplate(row rowScanner) (*EventTemplate, error) {
	t := &EventTemplate{}
	err := row.Scan(
		&t.ID,
		&t.OrganizationID,
		&t.ProfileID,
		&t.Title,
		&t.Description,
		&t.Kind,
		&t.Frequency,
		&t.DueOffsetDays,
		&t.DueTimeLocal,
		&t.IsActive,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *CalendarRepository) scanInstance(row rowScanner) (*EventInstance, error) {
	inst := &EventInstance{}
	err := row.Scan(
		&inst.ID,
		&inst.TemplateID,
		&inst.PeriodStart,
		&inst.PeriodEnd,
		&inst.DueAt,
		&inst.Status,
		&inst.DoneAt,
		&inst.DoneByID,
		&inst.Note,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inst, nil
}
