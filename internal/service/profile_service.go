package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ledgercraft/be-recurring-billing/internal/apperrors"
	"github.com/ledgercraft/be-recurring-billing/internal/logger"
	"github.com/ledgercraft/be-recurring-billing/internal/recurrence"
	"github.com/ledgercraft/be-recurring-billing/internal/repository"
)

// ProfileStore is the persistence surface the profile service needs.
// *repository.ProfileRepository satisfies it.
type ProfileStore interface {
	Create(ctx context.Context, p *repository.ScheduleProfile) error
	GetByID(ctx context.Context, id, organizationID string) (*repository.ScheduleProfile, error)
	List(ctx context.Context, organizationID string, status *string, limit, offset int) ([]*repository.ScheduleProfile, int64, error)
	Update(ctx context.Context, p *repository.ScheduleProfile) error
	UpdateStatus(ctx context.Context, id, organizationID, expected, target string) (bool, error)
}

// ProfileService handles recurring-invoice profile business logic.
type ProfileService struct {
	profiles ProfileStore
	log      *logger.Logger
	now      func() time.Time
}

// NewProfileService creates a new profile service.
func NewProfileService(profiles ProfileStore, log *logger.Logger) *ProfileService {
	return &ProfileService{
		profiles: profiles,
		log:      log,
		now:      time.Now,
	}
}

// CreateProfileRequest represents a create profile request. NextRunAt is
// optional: when omitted, the first run is the anchor date itself.
type CreateProfileRequest struct {
	OrganizationID     string
	TemplateDocumentID string
	IntervalUnit       string
	IntervalCount      *int
	AnchorAt           *time.Time
	NextRunAt          *time.Time
	DueOffsetDays      *int
	AutoDispatch       bool
}

// UpdateProfileRequest represents a profile edit. Nil fields keep their
// current values.
type UpdateProfileRequest struct {
	ID                 string
	OrganizationID     string
	TemplateDocumentID *string
	IntervalUnit       *string
	IntervalCount      *int
	AnchorAt           *time.Time
	NextRunAt          *time.Time
	DueOffsetDays      *int
	AutoDispatch       *bool
}

// CreateProfile validates and persists a new schedule profile.
func (s *ProfileService) CreateProfile(ctx context.Context, req *CreateProfileRequest) (*repository.ScheduleProfile, error) {
	if req.OrganizationID == "" {
		return nil, apperrors.InvalidInput("organizationId", "organization is required")
	}
	if req.TemplateDocumentID == "" {
		return nil, apperrors.InvalidInput("templateDocumentId", "template document is required")
	}

	nextRunAt := req.NextRunAt
	if nextRunAt == nil && req.AnchorAt != nil {
		// First issuance happens on the start date.
		nextRunAt = req.AnchorAt
	}

	candidate := recurrence.ProfileCandidate{
		IntervalUnit:  req.IntervalUnit,
		IntervalCount: req.IntervalCount,
		AnchorAt:      req.AnchorAt,
		NextRunAt:     nextRunAt,
		DueOffsetDays: req.DueOffsetDays,
		Status:        string(recurrence.ProfileActive),
	}
	if fe := recurrence.ValidateProfile(candidate); !fe.Valid() {
		return nil, apperrors.Validation(fe)
	}

	profile := &repository.ScheduleProfile{
		ID:                 uuid.NewString(),
		OrganizationID:     req.OrganizationID,
		TemplateDocumentID: req.TemplateDocumentID,
		IntervalUnit:       req.IntervalUnit,
		IntervalCount:      *req.IntervalCount,
		AnchorAt:           *req.AnchorAt,
		DueOffsetDays:      *req.DueOffsetDays,
		AutoDispatch:       req.AutoDispatch,
		NextRunAt:          *nextRunAt,
		Status:             string(recurrence.ProfileActive),
	}

	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("profile_id", profile.ID).
		Str("organization_id", profile.OrganizationID).
		Str("interval_unit", profile.IntervalUnit).
		Int("interval_count", profile.IntervalCount).
		Time("next_run_at", profile.NextRunAt).
		Msg("Schedule profile created")

	return profile, nil
}

// UpdateProfile applies a validated edit to an existing profile. When the
// policy or anchor changes without an explicit next run, the next run is
// recomputed: the anchor stepped forward by the new policy until it is not
// in the past.
func (s *ProfileService) UpdateProfile(ctx context.Context, req *UpdateProfileRequest) (*repository.ScheduleProfile, error) {
	profile, err := s.profiles.GetByID(ctx, req.ID, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if recurrence.ProfileStatus(profile.Status).Terminal() {
		return nil, apperrors.New(apperrors.ErrCodeInvalidTransition, "cannot edit a cancelled profile")
	}

	policyChanged := false
	if req.TemplateDocumentID != nil {
		profile.TemplateDocumentID = *req.TemplateDocumentID
	}
	if req.IntervalUnit != nil && *req.IntervalUnit != profile.IntervalUnit {
		profile.IntervalUnit = *req.IntervalUnit
		policyChanged = true
	}
	if req.IntervalCount != nil && *req.IntervalCount != profile.IntervalCount {
		profile.IntervalCount = *req.IntervalCount
		policyChanged = true
	}
	if req.AnchorAt != nil && !req.AnchorAt.Equal(profile.AnchorAt) {
		profile.AnchorAt = *req.AnchorAt
		policyChanged = true
	}
	if req.DueOffsetDays != nil {
		profile.DueOffsetDays = *req.DueOffsetDays
	}
	if req.AutoDispatch != nil {
		profile.AutoDispatch = *req.AutoDispatch
	}

	switch {
	case req.NextRunAt != nil:
		profile.NextRunAt = *req.NextRunAt
	case policyChanged:
		profile.NextRunAt = s.reschedule(profile)
	}

	candidate := recurrence.ProfileCandidate{
		IntervalUnit:  profile.IntervalUnit,
		IntervalCount: &profile.IntervalCount,
		AnchorAt:      &profile.AnchorAt,
		NextRunAt:     &profile.NextRunAt,
		DueOffsetDays: &profile.DueOffsetDays,
		Status:        profile.Status,
	}
	if fe := recurrence.ValidateProfile(candidate); !fe.Valid() {
		return nil, apperrors.Validation(fe)
	}

	if err := s.profiles.Update(ctx, profile); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("profile_id", profile.ID).
		Bool("policy_changed", policyChanged).
		Time("next_run_at", profile.NextRunAt).
		Msg("Schedule profile updated")

	return profile, nil
}

// reschedule walks the anchor forward by the profile's policy until the
// occurrence is not in the past.
func (s *ProfileService) reschedule(p *repository.ScheduleProfile) time.Time {
	policy := recurrence.Policy{
		Unit:     recurrence.IntervalUnit(p.IntervalUnit),
		Count:    p.IntervalCount,
		AnchorAt: p.AnchorAt,
	}
	now := s.now()
	next := p.AnchorAt
	for next.Before(now) {
		next = policy.Next(next)
	}
	return next
}

// GetProfile retrieves a profile by ID.
func (s *ProfileService) GetProfile(ctx context.Context, id, organizationID string) (*repository.ScheduleProfile, error) {
	return s.profiles.GetByID(ctx, id, organizationID)
}

// ListProfiles lists an organization's profiles with pagination.
func (s *ProfileService) ListProfiles(ctx context.Context, organizationID string, status *string, page, pageSize int) ([]*repository.ScheduleProfile, int64, error) {
	if status != nil && !recurrence.ProfileStatus(*status).Valid() {
		return nil, 0, apperrors.InvalidInput("status", "must be one of [ACTIVE PAUSED CANCELLED]")
	}
	offset := (page - 1) * pageSize
	return s.profiles.List(ctx, organizationID, status, pageSize, offset)
}

// PauseProfile suspends materialization. The next run date is kept so
// resuming does not lose the schedule.
func (s *ProfileService) PauseProfile(ctx context.Context, id, organizationID string) (*repository.ScheduleProfile, error) {
	return s.transition(ctx, id, organizationID, recurrence.ProfilePaused)
}

// ResumeProfile reactivates a paused profile.
func (s *ProfileService) ResumeProfile(ctx context.Context, id, organizationID string) (*repository.ScheduleProfile, error) {
	return s.transition(ctx, id, organizationID, recurrence.ProfileActive)
}

// CancelProfile permanently retires a profile. CANCELLED is terminal: there
// is no way back.
func (s *ProfileService) CancelProfile(ctx context.Context, id, organizationID string) (*repository.ScheduleProfile, error) {
	return s.transition(ctx, id, organizationID, recurrence.ProfileCancelled)
}

// transition applies a guarded lifecycle transition against the current
// persisted state. The conditional update refuses stale writes; on a race
// the state is re-read and re-classified rather than retried blindly.
func (s *ProfileService) transition(ctx context.Context, id, organizationID string, target recurrence.ProfileStatus) (*repository.ScheduleProfile, error) {
	const maxAttempts = 3

	for attempt := 0; attempt < maxAttempts; attempt++ {
		profile, err := s.profiles.GetByID(ctx, id, organizationID)
		if err != nil {
			return nil, err
		}

		current := recurrence.ProfileStatus(profile.Status)
		if _, err := recurrence.TransitionProfile(current, target); err != nil {
			return nil, mapTransitionError(err)
		}

		ok, err := s.profiles.UpdateStatus(ctx, id, organizationID, string(current), string(target))
		if err != nil {
			return nil, err
		}
		if ok {
			profile.Status = string(target)
			s.log.Info().
				Str("profile_id", id).
				Str("from", string(current)).
				Str("to", string(target)).
				Msg("Profile status changed")
			return profile, nil
		}
		// Someone else moved the state between our read and write; loop to
		// re-classify against the fresh state.
	}
	return nil, apperrors.New(apperrors.ErrCodeConflict, "profile status changed concurrently, please retry")
}

// mapTransitionError converts a core transition refusal into a coded error.
func mapTransitionError(err error) error {
	if recurrence.IsAlreadyTerminal(err) {
		return apperrors.Wrap(err, apperrors.ErrCodeAlreadyTerminal, err.Error())
	}
	return apperrors.Wrap(err, apperrors.ErrCodeInvalidTransition, err.Error())
}
