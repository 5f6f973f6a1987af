package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ledgercraft/be-recurring-billing/internal/apperrors"
	"github.com/ledgercraft/be-recurring-billing/internal/feed"
	"github.com/ledgercraft/be-recurring-billing/internal/logger"
	"github.com/ledgercraft/be-recurring-billing/internal/repository"
	"github.com/ledgercraft/be-recurring-billing/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	profiles *service.ProfileService
	calendar *service.CalendarService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(profiles *service.ProfileService, calendar *service.CalendarService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		profiles: profiles,
		calendar: calendar,
		log:      log,
	}
}

// Register wires every route onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/recurring-invoices", h.CreateProfile)
	mux.HandleFunc("GET /api/v1/recurring-invoices", h.ListProfiles)
	mux.HandleFunc("GET /api/v1/recurring-invoices/{id}", h.GetProfile)
	mux.HandleFunc("PATCH /api/v1/recurring-invoices/{id}", h.UpdateProfile)
	mux.HandleFunc("PATCH /api/v1/recurring-invoices/{id}/pause", h.PauseProfile)
	mux.HandleFunc("PATCH /api/v1/recurring-invoices/{id}/resume", h.ResumeProfile)
	mux.HandleFunc("DELETE /api/v1/recurring-invoices/{id}", h.CancelProfile)

	mux.HandleFunc("POST /api/v1/tax-calendar/templates", h.CreateTemplate)
	mux.HandleFunc("GET /api/v1/tax-calendar/templates", h.ListTemplates)
	mux.HandleFunc("PATCH /api/v1/tax-calendar/templates/{id}", h.UpdateTemplate)
	mux.HandleFunc("POST /api/v1/tax-calendar/events/generate", h.GenerateEvents)
	mux.HandleFunc("GET /api/v1/tax-calendar/events", h.ListEvents)
	mux.HandleFunc("POST /api/v1/tax-calendar/events/{id}/done", h.MarkEventDone)
	mux.HandleFunc("POST /api/v1/tax-calendar/events/{id}/skip", h.MarkEventSkipped)
	mux.HandleFunc("GET /api/v1/tax-calendar/feed.ics", h.TaxCalendarFeed)
}

// CreateProfile handles create profile HTTP requests.
func (h *HTTPHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	profile, err := h.profiles.CreateProfile(r.Context(), &req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, profile)
}

// GetProfile handles get profile HTTP requests.
func (h *HTTPHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		respondError(w, apperrors.InvalidInput("organization_id", "is required"))
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), r.PathValue("id"), orgID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// ListProfiles handles list profile HTTP requests.
func (h *HTTPHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		respondError(w, apperrors.InvalidInput("organization_id", "is required"))
		return
	}

	var status *string
	if s := r.URL.Query().Get("status"); s != "" {
		status = &s
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	profiles, total, err := h.profiles.ListProfiles(r.Context(), orgID, status, page, pageSize)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"profiles": profiles,
		"total":    total,
		"page":     page,
	})
}

// UpdateProfile handles profile edit HTTP requests.
func (h *HTTPHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	req.ID = r.PathValue("id")
	if req.OrganizationID == "" {
		req.OrganizationID = r.URL.Query().Get("organization_id")
	}

	profile, err := h.profiles.UpdateProfile(r.Context(), &req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// PauseProfile handles pause HTTP requests.
func (h *HTTPHandler) PauseProfile(w http.ResponseWriter, r *http.Request) {
	h.transitionProfile(w, r, h.profiles.PauseProfile)
}

// ResumeProfile handles resume HTTP requests.
func (h *HTTPHandler) ResumeProfile(w http.ResponseWriter, r *http.Request) {
	h.transitionProfile(w, r, h.profiles.ResumeProfile)
}

// CancelProfile handles cancel HTTP requests.
func (h *HTTPHandler) CancelProfile(w http.ResponseWriter, r *http.Request) {
	h.transitionProfile(w, r, h.profiles.CancelProfile)
}

func (h *HTTPHandler) transitionProfile(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id, organizationID string) (*repository.ScheduleProfile, error),
) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		respondError(w, apperrors.InvalidInput("organization_id", "is required"))
		return
	}

	profile, err := op(r.Context(), r.PathValue("id"), orgID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, profile)
}

// CreateTemplate handles create template HTTP requests.
func (h *HTTPHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}

	template, err := h.calendar.CreateTemplate(r.Context(), &req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, template)
}

// ListTemplates handles list template HTTP requests.
func (h *HTTPHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("organization_id")
	if orgID == "" {
		respondError(w, apperrors.InvalidInput("organization_id", "is required"))
		return
	}

	templates, err := h.calendar.ListTemplates(r.Context(), orgID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"templates": templates})
}

// UpdateTemplate handles template edit HTTP requests.
func (h *HTTPHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	req.ID = r.PathValue("id")
	if req.OrganizationID == "" {
		req.OrganizationID = r.URL.Query().Get("organization_id")
	}

	template, err := h.calendar.UpdateTemplate(r.Context(), &req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, template)
}

// GenerateEvents handles range materialization HTTP requests.
func (h *HTTPHandler) GenerateEvents(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrganizationID string    `json:"organizationId"`
		From           time.Time `json:"from"`
		To             time.Time `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if body.OrganizationID == "" {
		respondError(w, apperrors.InvalidInput("organizationId", "is required"))
		return
	}

	created, err := h.calendar.GenerateEvents(r.Context(), &service.GenerateRequest{
		OrganizationID: body.OrganizationID,
		From:           body.From,
		To:             body.To,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"created": created})
}

// ListEvents handles list instance HTTP requests.
func (h *HTTPHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	orgID, from, to, err := rangeParams(r)
	if err != nil {
		respondError(w, err)
		return
	}

	events, err := h.calendar.ListEvents(r.Context(), orgID, from, to)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"events": events})
}

// MarkEventDone handles done HTTP requests.
func (h *HTTPHandler) MarkEventDone(w http.ResponseWriter, r *http.Request) {
	h.markEvent(w, r, h.calendar.MarkEventDone)
}

// MarkEventSkipped handles skip HTTP requests.
func (h *HTTPHandler) MarkEventSkipped(w http.ResponseWriter, r *http.Request) {
	h.markEvent(w, r, h.calendar.MarkEventSkipped)
}

func (h *HTTPHandler) markEvent(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, req *service.MarkEventRequest) (*repository.EventInstance, error),
) {
	var body struct {
		OrganizationID string  `json:"organizationId"`
		ActorID        string  `json:"actorId"`
		Note           *string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if body.OrganizationID == "" {
		respondError(w, apperrors.InvalidInput("organizationId", "is required"))
		return
	}

	inst, err := op(r.Context(), &service.MarkEventRequest{
		ID:             r.PathValue("id"),
		OrganizationID: body.OrganizationID,
		ActorID:        body.ActorID,
		Note:           body.Note,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, inst)
}

// TaxCalendarFeed serves the obligation calendar as an ICS document.
func (h *HTTPHandler) TaxCalendarFeed(w http.ResponseWriter, r *http.Request) {
	orgID, from, to, err := rangeParams(r)
	if err != nil {
		respondError(w, err)
		return
	}

	events, err := h.calendar.ListEvents(r.Context(), orgID, from, to)
	if err != nil {
		respondError(w, err)
		return
	}
	templates, err := h.calendar.ListTemplates(r.Context(), orgID)
	if err != nil {
		respondError(w, err)
		return
	}

	byID := make(map[string]*repository.EventTemplate, len(templates))
	for _, tpl := range templates {
		byID[tpl.ID] = tpl
	}
	feedEvents := make([]*feed.Event, 0, len(events))
	for _, ev := range events {
		feedEvents = append(feedEvents, &feed.Event{
			Instance:        ev.EventInstance,
			Template:        byID[ev.TemplateID],
			EffectiveStatus: ev.EffectiveStatus,
		})
	}

	body, err := feed.BuildCalendar(templates, feedEvents)
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="tax-calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func rangeParams(r *http.Request) (orgID string, from, to time.Time, err error) {
	orgID = r.URL.Query().Get("organization_id")
	if orgID == "" {
		return "", time.Time{}, time.Time{}, apperrors.InvalidInput("organization_id", "is required")
	}
	from, err = time.Parse(time.RFC3339, r.URL.Query().Get("from"))
	if err != nil {
		return "", time.Time{}, time.Time{}, apperrors.InvalidInput("from", "must be an RFC 3339 timestamp")
	}
	to, err = time.Parse(time.RFC3339, r.URL.Query().Get("to"))
	if err != nil {
		return "", time.Time{}, time.Time{}, apperrors.InvalidInput("to", "must be an RFC 3339 timestamp")
	}
	return orgID, from, to, nil
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)

	var ae *apperrors.Error
	if !errors.As(err, &ae) {
		ae = apperrors.New(apperrors.ErrCodeInternal, "internal server error")
	}
	respondJSON(w, status, map[string]any{"error": ae})
}
