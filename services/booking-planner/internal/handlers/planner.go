package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/conflict"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/planner"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/scheduling"
)

type PlannerHandler struct {
	planner    *planner.Planner
	scheduling scheduling.Provider
	logger     *slog.Logger
}

func NewPlannerHandler(p *planner.Planner, schedulingProvider scheduling.Provider, logger *slog.Logger) *PlannerHandler {
	return &PlannerHandler{planner: p, scheduling: schedulingProvider, logger: logger}
}

// Register mounts the planner routes on mux.
func (h *PlannerHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/planner/start-options", h.StartOptions)
	mux.HandleFunc("/api/v1/planner/end-options", h.EndOptions)
	mux.HandleFunc("/api/v1/planner/suggestions", h.Suggestions)
	mux.HandleFunc("/api/v1/planner/suggestions/apply", h.ApplySuggestion)
	mux.HandleFunc("/api/v1/planner/probe", h.Probe)
	mux.HandleFunc("/api/v1/planner/bookings", h.Bookings)
}

type draftRequest struct {
	Draft   model.BookingDraft `json:"draft"`
	GroupID string             `json:"group_id"`
	UserID  string             `json:"user_id"`
}

type applySuggestionRequest struct {
	draftRequest
	Suggestion model.BookingSuggestionItem `json:"suggestion"`
}

type optionsResponse struct {
	Options    []model.SlotOption `json:"options"`
	Draft      model.BookingDraft `json:"draft"`
	Reselected bool               `json:"reselected,omitempty"`
}

type suggestionsResponse struct {
	Suggestions []model.BookingSuggestionItem `json:"suggestions"`
	Message     string                        `json:"message,omitempty"`
}

type probeResponse struct {
	HasConflicts        bool            `json:"has_conflicts"`
	ConflictingBookings []model.Booking `json:"conflicting_bookings"`
	BlocksSubmission    bool            `json:"blocks_submission"`
}

type conflictResponse struct {
	Error               string          `json:"error"`
	ConflictingBookings []model.Booking `json:"conflicting_bookings"`
}

func (h *PlannerHandler) StartOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d, ok := draftFromQuery(w, r)
	if !ok {
		return
	}

	s := h.planner.NewSession(identity(r, "", ""))
	s.Update(d)
	if err := s.RefreshAvailability(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	snap := s.Snapshot()
	writeJSON(w, http.StatusOK, optionsResponse{Options: emptyIfNil(snap.StartOptions), Draft: snap.Draft})
}

func (h *PlannerHandler) EndOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d, ok := draftFromQuery(w, r)
	if !ok {
		return
	}
	d.LocalStartTime = strings.TrimSpace(r.URL.Query().Get("start_time"))
	if d.LocalStartTime == "" {
		http.Error(w, "start_time required", http.StatusBadRequest)
		return
	}

	s := h.planner.NewSession(identity(r, "", ""))
	s.Update(d)
	if err := s.RefreshAvailability(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	snap := s.Snapshot()
	writeJSON(w, http.StatusOK, optionsResponse{
		Options:    emptyIfNil(snap.EndOptions),
		Draft:      snap.Draft,
		Reselected: snap.Draft.LocalStartTime != d.LocalStartTime || snap.Draft.LocalDate != d.LocalDate,
	})
}

func (h *PlannerHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	s := h.planner.NewSession(identity(r, req.GroupID, req.UserID))
	s.Update(req.Draft)
	items, err := s.Suggest(r.Context())
	if err != nil {
		var ue *planner.UpstreamRecommendationError
		if errors.As(err, &ue) {
			writeJSON(w, http.StatusOK, suggestionsResponse{Suggestions: []model.BookingSuggestionItem{}, Message: "suggestions are unavailable right now; pick a time manually"})
			return
		}
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []model.BookingSuggestionItem{}
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{Suggestions: items})
}

func (h *PlannerHandler) ApplySuggestion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req applySuggestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	s := h.planner.NewSession(identity(r, req.GroupID, req.UserID))
	s.Update(req.Draft)
	if err := s.ApplySuggestion(r.Context(), req.Suggestion); err != nil {
		h.writeError(w, err)
		return
	}
	snap := s.Snapshot()
	writeJSON(w, http.StatusOK, optionsResponse{Options: emptyIfNil(snap.EndOptions), Draft: snap.Draft})
}

func (h *PlannerHandler) Probe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	s := h.planner.NewSession(identity(r, req.GroupID, req.UserID))
	s.Update(req.Draft)
	res, err := s.Probe(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	conflicts := res.ConflictingBookings
	if conflicts == nil {
		conflicts = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, probeResponse{
		HasConflicts:        res.HasConflicts,
		ConflictingBookings: conflicts,
		BlocksSubmission:    conflict.Blocks(res, req.Draft),
	})
}

func (h *PlannerHandler) Bookings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createBooking(w, r)
	case http.MethodGet:
		h.listBookings(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PlannerHandler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req draftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	s := h.planner.NewSession(identity(r, req.GroupID, req.UserID))
	s.Update(req.Draft)
	if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		s.SetIdempotencyKey(key)
	}
	booking, err := s.Submit(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (h *PlannerHandler) listBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.BookingFilter{
		VehicleID: strings.TrimSpace(q.Get("vehicle_id")),
		Status:    strings.TrimSpace(q.Get("status")),
	}
	if filter.VehicleID == "" {
		http.Error(w, "vehicle_id required", http.StatusBadRequest)
		return
	}
	var err error
	if filter.From, err = optionalTime(q.Get("from")); err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	if filter.To, err = optionalTime(q.Get("to")); err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}

	bookings, err := h.scheduling.GetVehicleBookings(r.Context(), filter)
	if err != nil {
		h.logger.Warn("list bookings failed", "vehicle_id", filter.VehicleID, "err", err)
		http.Error(w, "booking service unavailable", http.StatusServiceUnavailable)
		return
	}
	if bookings == nil {
		bookings = []model.Booking{}
	}
	writeJSON(w, http.StatusOK, bookings)
}

func (h *PlannerHandler) writeError(w http.ResponseWriter, err error) {
	var (
		ve *planner.ValidationError
		ce *planner.ConflictError
		te *planner.TransientNetworkError
	)
	switch {
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &ce):
		conflicts := ce.Conflicts
		if conflicts == nil {
			conflicts = []model.Booking{}
		}
		writeJSON(w, http.StatusConflict, conflictResponse{Error: ce.Error(), ConflictingBookings: conflicts})
	case errors.Is(err, planner.ErrBusy), errors.Is(err, planner.ErrDraftChanged):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &te):
		h.logger.Warn("booking service call failed", "op", te.Op, "err", te.Err)
		http.Error(w, "booking service unavailable", http.StatusServiceUnavailable)
	default:
		h.logger.Error("planner request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func draftFromQuery(w http.ResponseWriter, r *http.Request) (model.BookingDraft, bool) {
	q := r.URL.Query()
	d := model.BookingDraft{
		VehicleID: strings.TrimSpace(q.Get("vehicle_id")),
		LocalDate: strings.TrimSpace(q.Get("date")),
	}
	if d.VehicleID == "" || d.LocalDate == "" {
		http.Error(w, "vehicle_id and date required", http.StatusBadRequest)
		return d, false
	}
	if raw := strings.TrimSpace(q.Get("duration_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
			return d, false
		}
		d.DurationMinutes = n
	}
	return d, true
}

// identity prefers the ids the gateway injected over those in the body.
func identity(r *http.Request, groupID, userID string) model.Identity {
	if v := strings.TrimSpace(r.Header.Get("X-Group-Id")); v != "" {
		groupID = v
	}
	if v := strings.TrimSpace(r.Header.Get("X-User-Id")); v != "" {
		userID = v
	}
	return model.Identity{GroupID: groupID, UserID: userID}
}

func optionalTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func emptyIfNil(opts []model.SlotOption) []model.SlotOption {
	if opts == nil {
		return []model.SlotOption{}
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
