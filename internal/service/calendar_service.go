package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ledgercraft/be-recurring-billing/internal/apperrors"
	"github.com/ledgercraft/be-recurring-billing/internal/logger"
	"github.com/ledgercraft/be-recurring-billing/internal/recurrence"
	"github.com/ledgercraft/be-recurring-billing/internal/repository"
)

// CalendarStore is the persistence surface the calendar service needs.
// *repository.CalendarRepository satisfies it.
type CalendarStore interface {
	CreateTemplate(ctx context.Context, t *repository.EventTemplate) error
	GetTemplate(ctx context.Context, id, organizationID string) (*repository.EventTemplate, error)
	ListTemplates(ctx context.Context, organizationID string, activeOnly bool) ([]*repository.EventTemplate, error)
	UpdateTemplate(ctx context.Context, t *repository.EventTemplate) error
	InsertInstances(ctx context.Context, instances []*repository.EventInstance) (int, error)
	GetInstance(ctx context.Context, id, organizationID string) (*repository.EventInstance, error)
	ListInstances(ctx context.Context, organizationID string, from, to time.Time) ([]*repository.EventInstance, error)
	CloseInstance(ctx context.Context, id, organizationID, status, doneBy string, note *string, doneAt time.Time) (bool, error)
}

// CalendarService handles tax-calendar templates and their materialized
// event instances.
type CalendarService struct {
	store CalendarStore
	log   *logger.Logger
	now   func() time.Time
}

// NewCalendarService creates a new calendar service.
func NewCalendarService(store CalendarStore, log *logger.Logger) *CalendarService {
	return &CalendarService{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// CreateTemplateRequest represents a create template request.
type CreateTemplateRequest struct {
	OrganizationID string
	ProfileID      string
	Title          string
	Description    string
	Kind           string
	Frequency      string
	DueOffsetDays  *int
	DueTimeLocal   string
	IsActive       *bool
}

// UpdateTemplateRequest represents a template edit. Nil fields keep their
// current values.
type UpdateTemplateRequest struct {
	ID             string
	OrganizationID string
	Title          *string
	Description    *string
	Kind           *string
	Frequency      *string
	DueOffsetDays  *int
	DueTimeLocal   *string
	IsActive       *bool
}

// CreateTemplate validates and persists a new event template.
func (s *CalendarService) CreateTemplate(ctx context.Context, req *CreateTemplateRequest) (*repository.EventTemplate, error) {
	if req.OrganizationID == "" {
		return nil, apperrors.InvalidInput("organizationId", "organization is required")
	}

	candidate := recurrence.TemplateCandidate{
		Title:         req.Title,
		Kind:          req.Kind,
		Frequency:     req.Frequency,
		DueOffsetDays: req.DueOffsetDays,
		DueTimeLocal:  req.DueTimeLocal,
	}
	if fe := recurrence.ValidateTemplate(candidate); !fe.Valid() {
		return nil, apperrors.Validation(fe)
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	template := &repository.EventTemplate{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		ProfileID:      req.ProfileID,
		Title:          req.Title,
		Description:    req.Description,
		Kind:           req.Kind,
		Frequency:      req.Frequency,
		DueOffsetDays:  *req.DueOffsetDays,
		DueTimeLocal:   req.DueTimeLocal,
		IsActive:       active,
	}

	if err := s.store.CreateTemplate(ctx, template); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("template_id", template.ID).
		Str("organization_id", template.OrganizationID).
		Str("frequency", template.Frequency).
		Str("kind", template.Kind).
		Msg("Event template created")

	return template, nil
}

// UpdateTemplate applies a validated edit to an existing template.
// Deactivation goes through IsActive; instances already materialized are
// left untouched.
func (s *CalendarService) UpdateTemplate(ctx context.Context, req *UpdateTemplateRequest) (*repository.EventTemplate, error) {
	template, err := s.store.GetTemplate(ctx, req.ID, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		template.Title = *req.Title
	}
	if req.Description != nil {
		template.Description = *req.Description
	}
	if req.Kind != nil {
		template.Kind = *req.Kind
	}
	if req.Frequency != nil {
		template.Frequency = *req.Frequency
	}
	if req.DueOffsetDays != nil {
		template.DueOffsetDays = *req.DueOffsetDays
	}
	if req.DueTimeLocal != nil {
		template.DueTimeLocal = *req.DueTimeLocal
	}
	if req.IsActive != nil {
		template.IsActive = *req.IsActive
	}

	candidate := recurrence.TemplateCandidate{
		Title:         template.Title,
		Kind:          template.Kind,
		Frequency:     template.Frequency,
		DueOffsetDays: &template.DueOffsetDays,
		DueTimeLocal:  template.DueTimeLocal,
	}
	if fe := recurrence.ValidateTemplate(candidate); !fe.Valid() {
		return nil, apperrors.Validation(fe)
	}

	if err := s.store.UpdateTemplate(ctx, template); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("template_id", template.ID).
		Bool("is_active", template.IsActive).
		Msg("Event template updated")

	return template, nil
}

// GetTemplate retrieves a template by ID.
func (s *CalendarService) GetTemplate(ctx context.Context, id, organizationID string) (*repository.EventTemplate, error) {
	return s.store.GetTemplate(ctx, id, organizationID)
}

// ListTemplates lists an organization's templates.
func (s *CalendarService) ListTemplates(ctx context.Context, organizationID string) ([]*repository.EventTemplate, error) {
	return s.store.ListTemplates(ctx, organizationID, false)
}

// GenerateRequest asks for materialization of every active template's
// occurrences inside a window.
type GenerateRequest struct {
	OrganizationID string
	From           time.Time
	To             time.Time
}

// GenerateEvents expands all active templates of an organization over the
// requested window and persists the instances that do not exist yet.
// Generation is idempotent: re-running over an overlapping window only adds
// the periods not yet materialized, and the store's unique constraint
// absorbs concurrent duplicates. Returns the number of instances created.
func (s *CalendarService) GenerateEvents(ctx context.Context, req *GenerateRequest) (int, error) {
	// A zero time would otherwise pass the range check and materialize a
	// permanent instance for the year 1 period.
	if req.From.IsZero() {
		return 0, apperrors.InvalidInput("from", "is required")
	}
	if req.To.IsZero() {
		return 0, apperrors.InvalidInput("to", "is required")
	}
	if req.To.Before(req.From) {
		return 0, apperrors.Wrap(recurrence.ErrInvalidRange, apperrors.ErrCodeInvalidRange, "window end precedes start")
	}

	templates, err := s.store.ListTemplates(ctx, req.OrganizationID, true)
	if err != nil {
		return 0, err
	}
	if len(templates) == 0 {
		return 0, nil
	}

	existing, err := s.store.ListInstances(ctx, req.OrganizationID, req.From, req.To)
	if err != nil {
		return 0, err
	}
	known := make(map[recurrence.PeriodKey]bool, len(existing))
	for _, inst := range existing {
		known[recurrence.KeyOf(inst.TemplateID, inst.PeriodStart, inst.PeriodEnd)] = true
	}

	var rows []*repository.EventInstance
	for _, tpl := range templates {
		spec, err := expandSpecOf(tpl, req.From)
		if err != nil {
			return 0, err
		}
		planned, err := recurrence.Expand(spec, req.From, req.To, known)
		if errors.Is(err, recurrence.ErrRangeTooLarge) {
			return 0, apperrors.Wrap(err, apperrors.ErrCodeInvalidRange, "window spans too many periods")
		}
		if err != nil {
			return 0, err
		}
		for _, inst := range planned {
			rows = append(rows, &repository.EventInstance{
				ID:          uuid.NewString(),
				TemplateID:  inst.TemplateID,
				PeriodStart: inst.PeriodStart,
				PeriodEnd:   inst.PeriodEnd,
				DueAt:       inst.DueAt,
				Status:      string(inst.Status),
			})
		}
	}

	inserted, err := s.store.InsertInstances(ctx, rows)
	if err != nil {
		return 0, err
	}

	s.log.Info().
		Str("organization_id", req.OrganizationID).
		Time("from", req.From).
		Time("to", req.To).
		Int("templates", len(templates)).
		Int("instances_created", inserted).
		Msg("Event instances generated")

	return inserted, nil
}

// expandSpecOf converts a stored template to the core expansion input.
func expandSpecOf(tpl *repository.EventTemplate, windowStart time.Time) (recurrence.ExpandSpec, error) {
	hour, minute, err := recurrence.ParseDueTime(tpl.DueTimeLocal)
	if err != nil {
		return recurrence.ExpandSpec{}, apperrors.Wrap(err, apperrors.ErrCodeInternal, "stored template has malformed due time")
	}
	return recurrence.ExpandSpec{
		TemplateID:    tpl.ID,
		Policy:        recurrence.PolicyFromFrequency(recurrence.Frequency(tpl.Frequency), windowStart),
		DueOffsetDays: tpl.DueOffsetDays,
		DueHour:       hour,
		DueMinute:     minute,
		Active:        tpl.IsActive,
	}, nil
}

// EventView is an instance together with its status as of read time. The
// stored status never says OVERDUE; it is derived per read and must not be
// cached.
type EventView struct {
	*repository.EventInstance
	EffectiveStatus string
}

// ListEvents returns an organization's instances in a window, each with its
// effective status derived at the current time.
func (s *CalendarService) ListEvents(ctx context.Context, organizationID string, from, to time.Time) ([]*EventView, error) {
	if to.Before(from) {
		return nil, apperrors.Wrap(recurrence.ErrInvalidRange, apperrors.ErrCodeInvalidRange, "window end precedes start")
	}

	instances, err := s.store.ListInstances(ctx, organizationID, from, to)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]*EventView, 0, len(instances))
	for _, inst := range instances {
		views = append(views, &EventView{
			EventInstance:   inst,
			EffectiveStatus: string(recurrence.EffectiveStatus(coreInstance(inst), now)),
		})
	}
	return views, nil
}

// MarkEventRequest represents a done/skip action on an instance.
type MarkEventRequest struct {
	ID             string
	OrganizationID string
	ActorID        string
	Note           *string
}

// MarkEventDone completes an instance, recording who closed it and when.
func (s *CalendarService) MarkEventDone(ctx context.Context, req *MarkEventRequest) (*repository.EventInstance, error) {
	return s.closeEvent(ctx, req, recurrence.InstanceDone)
}

// MarkEventSkipped skips an instance, recording who closed it and when.
func (s *CalendarService) MarkEventSkipped(ctx context.Context, req *MarkEventRequest) (*repository.EventInstance, error) {
	return s.closeEvent(ctx, req, recurrence.InstanceSkipped)
}

func (s *CalendarService) closeEvent(ctx context.Context, req *MarkEventRequest, target recurrence.InstanceStatus) (*repository.EventInstance, error) {
	inst, err := s.store.GetInstance(ctx, req.ID, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	note := ""
	if req.Note != nil {
		note = *req.Note
	}

	// Run the pure transition first so refusals carry the right taxonomy.
	var terr error
	switch target {
	case recurrence.InstanceDone:
		_, terr = recurrence.MarkDone(coreInstance(inst), req.ActorID, note, now)
	default:
		_, terr = recurrence.MarkSkip(coreInstance(inst), req.ActorID, note, now)
	}
	if terr != nil {
		return nil, mapTransitionError(terr)
	}

	ok, err := s.store.CloseInstance(ctx, req.ID, req.OrganizationID, string(target), req.ActorID, req.Note, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The row was closed between our read and write: classify against
		// the fresh state instead of silently accepting the stale check.
		fresh, err := s.store.GetInstance(ctx, req.ID, req.OrganizationID)
		if err != nil {
			return nil, err
		}
		if recurrence.InstanceStatus(fresh.Status).Terminal() {
			return nil, apperrors.New(apperrors.ErrCodeAlreadyTerminal, "instance was already handled")
		}
		return nil, apperrors.New(apperrors.ErrCodeConflict, "instance changed concurrently, please retry")
	}

	s.log.Info().
		Str("instance_id", req.ID).
		Str("status", string(target)).
		Str("actor_id", req.ActorID).
		Msg("Event instance closed")

	return s.store.GetInstance(ctx, req.ID, req.OrganizationID)
}

// coreInstance converts a stored row to the core lifecycle value.
func coreInstance(inst *repository.EventInstance) recurrence.Instance {
	out := recurrence.Instance{
		ID:          inst.ID,
		TemplateID:  inst.TemplateID,
		PeriodStart: inst.PeriodStart,
		PeriodEnd:   inst.PeriodEnd,
		DueAt:       inst.DueAt,
		Status:      recurrence.InstanceStatus(inst.Status),
		DoneAt:      inst.DoneAt,
	}
	if inst.DoneByID != nil {
		out.DoneByID = *inst.DoneByID
	}
	if inst.Note != nil {
		out.Note = *inst.Note
	}
	return out
}
