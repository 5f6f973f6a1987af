package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/ledgercraft/be-recurring-billing/internal/apperrors"
	"github.com/ledgercraft/be-recurring-billing/internal/database"
)

// ScheduleProfile is a recurring-invoice profile row: the template document
// being reissued, its recurrence policy, and its lifecycle status.
type ScheduleProfile struct {
	ID                 string
	OrganizationID     string
	TemplateDocumentID string
	IntervalUnit       string
	IntervalCount      int
	AnchorAt           time.Time
	DueOffsetDays      int
	AutoDispatch       bool
	NextRunAt          time.Time
	Status             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProfileRepository handles schedule-profile persistence.
type ProfileRepository struct {
	db *database.DB
}

// NewProfileRepository creates a new profile repository.
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create inserts a new profile.
func (r *ProfileRepository) Create(ctx context.Context, p *ScheduleProfile) error {
	query := `
		INSERT INTO schedule_profiles (id, organization_id, template_document_id,
		                               interval_unit, interval_count, anchor_at,
		                               due_offset_days, auto_dispatch, next_run_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::profile_status)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		p.ID,
		p.OrganizationID,
		p.TemplateDocumentID,
		p.IntervalUnit,
		p.IntervalCount,
		p.AnchorAt,
		p.DueOffsetDays,
		p.AutoDispatch,
		p.NextRunAt,
		p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if database.IsUniqueViolation(err) {
		return apperrors.Wrap(err, apperrors.ErrCodeConflict, "schedule profile already exists")
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create schedule profile")
	}
	return nil
}

// GetByID returns one profile scoped to its organization.
func (r *ProfileRepository) GetByID(ctx context.Context, id, organizationID string) (*ScheduleProfile, error) {
	query := profileSelect + ` WHERE id = $1 AND organization_id = $2`

	p, err := r.scanProfile(r.db.QueryRow(ctx, query, id, organizationID))
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("schedule_profile", id)
	}
	return p, err
}

// List returns an organization's profiles, optionally filtered by status,
// newest first, with the total count for pagination.
func (r *ProfileRepository) List(ctx context.Context, organizationID string, status *string, limit, offset int) ([]*ScheduleProfile, int64, error) {
	query := profileSelect + ` WHERE organization_id = $1`
	countQuery := `SELECT COUNT(*) FROM schedule_profiles WHERE organization_id = $1`

	args := []any{organizationID}
	argCount := 2

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d::profile_status", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d::profile_status", argCount)
		args = append(args, *status)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, limit, offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to count schedule profiles")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list schedule profiles")
	}
	defer rows.Close()

	var profiles []*ScheduleProfile
	for rows.Next() {
		p, err := r.scanProfile(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan schedule profile")
		}
		profiles = append(profiles, p)
	}
	return profiles, total, rows.Err()
}

// Update rewrites the editable fields of a profile.
func (r *ProfileRepository) Update(ctx context.Context, p *ScheduleProfile) error {
	query := `
		UPDATE schedule_profiles
		SET template_document_id = $3,
		    interval_unit        = $4,
		    interval_count       = $5,
		    anchor_at            = $6,
		    due_offset_days      = $7,
		    auto_dispatch        = $8,
		    next_run_at          = $9,
		    updated_at           = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		p.ID,
		p.OrganizationID,
		p.TemplateDocumentID,
		p.IntervalUnit,
		p.IntervalCount,
		p.AnchorAt,
		p.DueOffsetDays,
		p.AutoDispatch,
		p.NextRunAt,
	).Scan(&p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return apperrors.NotFound("schedule_profile", p.ID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update schedule profile")
	}
	return nil
}

// UpdateStatus applies a lifecycle transition conditionally: the row is only
// touched if it is still in the expected state, so a transition validated
// against a stale read cannot slip through. Zero rows means the state moved
// underneath the caller; the caller re-reads to classify the refusal.
func (r *ProfileRepository) UpdateStatus(ctx context.Context, id, organizationID, expected, target string) (bool, error) {
	query := `
		UPDATE schedule_profiles
		SET status = $4::profile_status, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND status = $3::profile_status
	`

	tag, err := r.db.Exec(ctx, query, id, organizationID, expected, target)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to update profile status")
	}
	return tag.RowsAffected() > 0, nil
}

// AdvanceNextRun moves next_run_at forward, guarded on the previous value so
// two concurrent sweeps cannot both advance (and both dispatch) the same
// occurrence.
func (r *ProfileRepository) AdvanceNextRun(ctx context.Context, id string, prev, next time.Time) (bool, error) {
	query := `
		UPDATE schedule_profiles
		SET next_run_at = $3, updated_at = NOW()
		WHERE id = $1 AND next_run_at = $2 AND status = 'ACTIVE'::profile_status
	`

	tag, err := r.db.Exec(ctx, query, id, prev, next)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to advance next run")
	}
	return tag.RowsAffected() > 0, nil
}

// ListDue returns ACTIVE profiles whose next run is at or before now. PAUSED
// and CANCELLED profiles are never eligible.
func (r *ProfileRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*ScheduleProfile, error) {
	query := profileSelect + `
		WHERE status = 'ACTIVE'::profile_status AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list due profiles")
	}
	defer rows.Close()

	var profiles []*ScheduleProfile
	for rows.Next() {
		p, err := r.scanProfile(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan due profile")
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

const profileSelect = `
	SELECT id, organization_id, template_document_id,
	       interval_unit, interval_count, anchor_at,
	       due_offset_days, auto_dispatch, next_run_at, status,
	       created_at, updated_at
	FROM schedule_profiles`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ProfileRepository) scanProfile(row rowScanner) (*ScheduleProfile, error) {
	p := &ScheduleProfile{}
	err := row.Scan(
		&p.ID,
		&p.OrganizationID,
		&p.TemplateDocumentID,
		&p.IntervalUnit,
		&p.IntervalCount,
		&p.AnchorAt,
		&p.DueOffsetDays,
		&p.AutoDispatch,
		&p.NextRunAt,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}
