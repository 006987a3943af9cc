package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/availability"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/conflict"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/events"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/interval"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/policy"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/recommend"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/request"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/suggestion"
)

// ErrBusy is returned when a probe or submit is already running for the draft.
var ErrBusy = errors.New("another probe or submit is in progress")

// ErrDraftChanged is returned by Submit when the draft was edited while the
// pre-submit probe was running.
var ErrDraftChanged = errors.New("draft changed during submission")

type State int

const (
	StateIdle State = iota
	StateFetchingAvailability
	StateReady
	StateProbing
	StateSubmitting
	StateSuccess
	StateError
)

var stateNames = [...]string{"idle", "fetching_availability", "ready", "probing", "submitting", "success", "error"}

func (s State) String() string {
	if s < StateIdle || s > StateError {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a consistent copy of a session's observable state.
type Snapshot struct {
	State        State                      `json:"state"`
	Draft        model.BookingDraft         `json:"draft"`
	StartOptions []model.SlotOption         `json:"start_options"`
	EndOptions   []model.SlotOption         `json:"end_options"`
	Probe        *model.ConflictCheckResult `json:"probe,omitempty"`
	Booking      *model.Booking             `json:"booking,omitempty"`
	Err          error                      `json:"-"`
}

type scope struct {
	vehicleID string
	date      string
}

// boundProbe is a conflict result valid only for the exact interval it was asked for.
type boundProbe struct {
	vehicleID string
	iv        interval.Interval
	result    model.ConflictCheckResult
}

// Session is the state machine of one booking draft. It is safe for concurrent
// use; network calls run without holding the lock.
type Session struct {
	p   *Planner
	ids model.Identity

	mu        sync.Mutex
	state     State
	err       error
	draft     model.BookingDraft
	gen       uint64
	loaded    bool
	scope     scope
	windows   []model.AvailabilityWindow
	startOpts []model.SlotOption
	endOpts   []model.SlotOption
	probe     *boundProbe
	booking   *model.Booking
	idemKey   string
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:        s.state,
		Draft:        s.draft,
		StartOptions: append([]model.SlotOption(nil), s.startOpts...),
		EndOptions:   append([]model.SlotOption(nil), s.endOpts...),
		Err:          s.err,
	}
	if res, ok := s.currentProbeLocked(); ok {
		snap.Probe = &res
	}
	if s.booking != nil {
		b := *s.booking
		snap.Booking = &b
	}
	return snap
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Draft() model.BookingDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetIdempotencyKey fixes the key sent with the create call. Without one, a key
// is generated per interval so retries of the same draft are deduplicated.
func (s *Session) SetIdempotencyKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idemKey = key
}

// LastProbe returns the last conflict result if it still matches the draft.
func (s *Session) LastProbe() (model.ConflictCheckResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentProbeLocked()
}

func (s *Session) currentProbeLocked() (model.ConflictCheckResult, bool) {
	if s.probe == nil || s.probe.vehicleID != s.draft.VehicleID {
		return model.ConflictCheckResult{}, false
	}
	iv, err := request.Interval(s.draft, s.p.codec)
	if err != nil || !iv.Start.Equal(s.probe.iv.Start) || !iv.End.Equal(s.probe.iv.End) {
		return model.ConflictCheckResult{}, false
	}
	return s.probe.result, true
}

// Update replaces the draft. Changing the vehicle, date or duration discards any
// availability fetch still in flight.
func (s *Session) Update(d model.BookingDraft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.draft
	s.draft = d
	if prev.VehicleID != d.VehicleID || prev.LocalDate != d.LocalDate || prev.DurationMinutes != d.DurationMinutes {
		s.supersedeLocked()
	}
	s.editedLocked(prev)
}

// Cancel discards any availability fetch still in flight.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.supersedeLocked()
}

func (s *Session) supersedeLocked() {
	s.gen++
	if s.state == StateFetchingAvailability {
		s.state = s.restingStateLocked()
	}
}

func (s *Session) restingStateLocked() State {
	if s.loaded {
		return StateReady
	}
	return StateIdle
}

func (s *Session) editedLocked(prev model.BookingDraft) {
	if prev.VehicleID != s.draft.VehicleID || prev.LocalDate != s.draft.LocalDate ||
		prev.LocalStartTime != s.draft.LocalStartTime || request.EndDate(prev) != request.EndDate(s.draft) ||
		prev.LocalEndTime != s.draft.LocalEndTime {
		s.probe = nil
		s.idemKey = ""
	}
	if s.state == StateError || s.state == StateSuccess {
		s.state = s.restingStateLocked()
		s.err = nil
		s.booking = nil
	}
}

func (s *Session) failLocked(err error) error {
	s.state = StateError
	s.err = err
	return err
}

// requestedMinutes is the duration used to build start options.
func requestedMinutes(d model.BookingDraft, pol policy.Policy) int {
	if d.DurationMinutes < pol.MinDurationMinutes {
		return pol.MinDurationMinutes
	}
	return d.DurationMinutes
}

// RefreshAvailability fetches the windows for the draft's vehicle and date and
// rebuilds the slot lists. A selected start that is no longer offered is
// replaced by the first option.
func (s *Session) RefreshAvailability(ctx context.Context) error {
	return s.load(ctx, true)
}

func (s *Session) ensureWindows(ctx context.Context) error {
	s.mu.Lock()
	fresh := s.loaded && s.scope == scope{s.draft.VehicleID, s.draft.LocalDate}
	s.mu.Unlock()
	if fresh {
		return nil
	}
	return s.load(ctx, false)
}

func (s *Session) load(ctx context.Context, reselect bool) error {
	s.mu.Lock()
	d := s.draft
	s.gen++
	gen := s.gen
	prev := s.state
	s.state = StateFetchingAvailability
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "planner.availability", trace.WithAttributes(
		attribute.String("vehicle.id", d.VehicleID),
		attribute.String("local.date", d.LocalDate),
	))
	defer span.End()

	pol, err := s.p.policyFor(ctx, d.VehicleID)
	var ws []model.AvailabilityWindow
	if err == nil {
		ws, err = s.p.windows(ctx, pol, d.VehicleID, d.LocalDate, requestedMinutes(d, pol))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		span.SetAttributes(attribute.Bool("stale", true))
		return ErrStale
	}
	if err != nil {
		if isCanceled(err) {
			s.state = prev
			if prev == StateFetchingAvailability {
				s.state = s.restingStateLocked()
			}
			return err
		}
		span.RecordError(err)
		return s.failLocked(asTaxonomy("availability fetch", err))
	}
	s.setWindowsLocked(ws, scope{d.VehicleID, d.LocalDate}, pol, reselect)
	s.state = StateReady
	s.err = nil
	span.SetAttributes(attribute.Int("slots", len(s.startOpts)))
	return nil
}

func (s *Session) setWindowsLocked(ws []model.AvailabilityWindow, sc scope, pol policy.Policy, reselect bool) {
	s.windows = ws
	s.scope = sc
	s.loaded = true

	dur := time.Duration(requestedMinutes(s.draft, pol)) * time.Minute
	s.startOpts = availability.StartOptions(ws, dur, pol.Step(), s.p.now(), s.p.codec.Label)

	start, err := s.p.codec.ToUTCInstant(s.draft.LocalDate, s.draft.LocalStartTime)
	if reselect {
		chosen, ok := availability.Reselect(s.startOpts, start)
		if !ok {
			s.draft.LocalStartTime, s.draft.LocalEndDate, s.draft.LocalEndTime = "", "", ""
			s.endOpts = nil
			s.probe = nil
			return
		}
		if err != nil || !chosen.Equal(start) {
			s.setStartLocked(chosen, dur)
		}
		start, err = chosen, nil
	}
	if err != nil {
		s.endOpts = nil
		return
	}
	s.endOpts = availability.EndOptions(ws, start, pol.MinDuration(), pol.Step(), s.p.codec.Label)
}

func (s *Session) setStartLocked(start time.Time, dur time.Duration) {
	prev := s.draft
	end := start.Add(dur)
	s.draft.LocalDate, s.draft.LocalStartTime = s.p.codec.FromInstant(start)
	s.draft.LocalEndDate, s.draft.LocalEndTime = s.p.codec.FromInstant(end)
	s.draft.DurationMinutes = int(dur / time.Minute)
	s.editedLocked(prev)
}

// SelectStart picks one of the current start options. The end follows so the
// requested duration is kept.
func (s *Session) SelectStart(ctx context.Context, start time.Time) error {
	pol, err := s.p.policyFor(ctx, s.Draft().VehicleID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !offered(s.startOpts, start) {
		return &ValidationError{Field: "local_start_time", Reason: "is not an available start"}
	}
	s.setStartLocked(start, time.Duration(requestedMinutes(s.draft, pol))*time.Minute)
	s.endOpts = availability.EndOptions(s.windows, start, pol.MinDuration(), pol.Step(), s.p.codec.Label)
	return nil
}

// SelectEnd picks one of the current end options and recomputes the duration.
func (s *Session) SelectEnd(end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !offered(s.endOpts, end) {
		return &ValidationError{Field: "local_end_time", Reason: "is not an available end"}
	}
	start, err := s.p.codec.ToUTCInstant(s.draft.LocalDate, s.draft.LocalStartTime)
	if err != nil {
		return fromFieldError(err)
	}
	prev := s.draft
	s.draft.LocalEndDate, s.draft.LocalEndTime = s.p.codec.FromInstant(end)
	s.draft.DurationMinutes = interval.DurationMinutes(interval.New(start, end), 0)
	s.editedLocked(prev)
	return nil
}

func offered(opts []model.SlotOption, t time.Time) bool {
	for _, o := range opts {
		if o.Instant.Equal(t) {
			return true
		}
	}
	return false
}

// validate checks a draft against the booking rules and the loaded windows.
func (s *Session) validate(d model.BookingDraft, ws []model.AvailabilityWindow, pol policy.Policy) (interval.Interval, error) {
	iv, err := request.Interval(d, s.p.codec)
	if err != nil {
		return interval.Interval{}, fromFieldError(err)
	}
	if iv.Duration() < pol.MinDuration() {
		return interval.Interval{}, &ValidationError{Field: "local_end_time", Reason: fmt.Sprintf("must be at least %d minutes after start", pol.MinDurationMinutes)}
	}
	if iv.Start.Before(s.p.now()) {
		return interval.Interval{}, &ValidationError{Field: "local_start_time", Reason: "is in the past"}
	}
	if _, ok := availability.Containing(ws, iv); !ok {
		return interval.Interval{}, &ValidationError{Reason: "requested time is outside vehicle availability"}
	}
	return iv, nil
}

// Probe asks the booking API whether the draft interval conflicts. The result
// stays attached to that interval until the draft is edited.
func (s *Session) Probe(ctx context.Context) (model.ConflictCheckResult, error) {
	if err := s.ensureWindows(ctx); err != nil {
		return model.ConflictCheckResult{}, err
	}
	pol, err := s.p.policyFor(ctx, s.Draft().VehicleID)
	if err != nil {
		return model.ConflictCheckResult{}, err
	}

	s.mu.Lock()
	if s.state == StateProbing || s.state == StateSubmitting {
		s.mu.Unlock()
		return model.ConflictCheckResult{}, ErrBusy
	}
	d := s.draft
	iv, err := s.validate(d, s.windows, pol)
	if err != nil {
		s.failLocked(err)
		s.mu.Unlock()
		return model.ConflictCheckResult{}, err
	}
	s.state = StateProbing
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "planner.probe", trace.WithAttributes(attribute.String("vehicle.id", d.VehicleID)))
	defer span.End()
	res, err := conflict.NewProbe(s.p.scheduling, pol.ProbeStartEpsilon(), pol.ProbeEndEpsilon()).Check(ctx, d.VehicleID, iv)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if isCanceled(err) {
			s.state = StateReady
			return model.ConflictCheckResult{}, err
		}
		span.RecordError(err)
		return model.ConflictCheckResult{}, s.failLocked(asTaxonomy("conflict probe", err))
	}
	s.state = StateReady
	s.probe = &boundProbe{vehicleID: d.VehicleID, iv: iv, result: res}
	return res, nil
}

// Submit re-probes the draft and creates the booking. A failed probe aborts the
// submit. A conflict aborts it too unless the draft is an emergency asking the
// server to cancel conflicting bookings.
func (s *Session) Submit(ctx context.Context) (model.Booking, error) {
	ctx, span := tracer.Start(ctx, "planner.submit")
	defer span.End()

	s.mu.Lock()
	if _, err := request.Assemble(s.draft, s.ids, s.p.codec); err != nil {
		err = s.failLocked(fromFieldError(err))
		s.mu.Unlock()
		return model.Booking{}, err
	}
	s.mu.Unlock()

	res, err := s.Probe(ctx)
	if err != nil {
		return model.Booking{}, err
	}

	s.mu.Lock()
	d := s.draft
	if _, ok := s.currentProbeLocked(); !ok {
		s.mu.Unlock()
		return model.Booking{}, ErrDraftChanged
	}
	if conflict.Blocks(res, d) {
		err := s.failLocked(&ConflictError{Conflicts: res.ConflictingBookings})
		s.mu.Unlock()
		return model.Booking{}, err
	}
	req, err := request.Assemble(d, s.ids, s.p.codec)
	if err != nil {
		err = s.failLocked(fromFieldError(err))
		s.mu.Unlock()
		return model.Booking{}, err
	}
	if s.idemKey == "" {
		s.idemKey = uuid.NewString()
	}
	key := s.idemKey
	s.state = StateSubmitting
	s.mu.Unlock()

	if res.HasConflicts {
		s.p.logger.Warn("submitting emergency booking over conflicts",
			"vehicle_id", d.VehicleID, "conflicts", len(res.ConflictingBookings), "reason", d.EmergencyReason)
	}

	booking, err := s.p.scheduling.CreateBooking(ctx, req, key)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if isCanceled(err) {
			s.state = StateReady
			return model.Booking{}, err
		}
		span.RecordError(err)
		return model.Booking{}, s.failLocked(asTaxonomy("create booking", err))
	}

	s.mu.Lock()
	s.booking = &booking
	s.state = StateSuccess
	s.err = nil
	s.mu.Unlock()

	s.p.InvalidateVehicle(d.VehicleID)
	span.SetAttributes(attribute.String("booking.id", booking.ID))
	s.p.logger.Info("booking created", "booking_id", booking.ID, "vehicle_id", d.VehicleID, "emergency", req.IsEmergency)

	evt := events.NewBookingRequestCreated(req, booking, s.p.now())
	if err := s.p.events.PublishBookingRequestCreated(ctx, evt); err != nil {
		s.p.logger.Error("publish booking event failed", "booking_id", booking.ID, "err", err)
	}
	return booking, nil
}

// Suggest asks the recommendation service for booking times, best first. Any
// failure is reported as an UpstreamRecommendationError and leaves the session
// untouched.
func (s *Session) Suggest(ctx context.Context) ([]model.BookingSuggestionItem, error) {
	s.mu.Lock()
	d, ids := s.draft, s.ids
	s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "planner.suggest", trace.WithAttributes(attribute.String("vehicle.id", d.VehicleID)))
	defer span.End()

	pol, err := s.p.policyFor(ctx, d.VehicleID)
	if err != nil {
		return nil, &UpstreamRecommendationError{Err: err}
	}
	from := s.p.now().UTC()
	if day, err := s.p.dayStart(d.LocalDate); err == nil && day.After(from) {
		from = day
	}
	resp, err := s.p.recommender.SuggestBookingTime(ctx, recommend.Request{
		VehicleID:       d.VehicleID,
		GroupID:         ids.GroupID,
		UserID:          ids.UserID,
		PreferredDate:   d.LocalDate,
		DurationMinutes: requestedMinutes(d, pol),
		Purpose:         d.Purpose,
		From:            from,
		To:              from.AddDate(0, 0, pol.HorizonDays),
	})
	if err != nil {
		span.RecordError(err)
		s.p.logger.Warn("booking suggestions unavailable", "vehicle_id", d.VehicleID, "err", err)
		return nil, &UpstreamRecommendationError{Err: err}
	}
	return suggestion.Ranked(resp.Suggestions), nil
}

// ApplySuggestion seeds the draft from item. The result is validated against
// the availability of its date like any manual edit; an invalid suggestion
// leaves the draft unchanged.
func (s *Session) ApplySuggestion(ctx context.Context, item model.BookingSuggestionItem) error {
	s.mu.Lock()
	d := s.draft
	s.mu.Unlock()

	pol, err := s.p.policyFor(ctx, d.VehicleID)
	if err != nil {
		return err
	}
	next, err := suggestion.Apply(d, item, s.p.codec, pol.MinDuration())
	if err != nil {
		return &ValidationError{Field: "suggestion", Reason: err.Error(), Err: err}
	}
	ws, err := s.p.windows(ctx, pol, next.VehicleID, next.LocalDate, requestedMinutes(next, pol))
	if err != nil {
		return asTaxonomy("availability fetch", err)
	}
	if _, err := s.validate(next, ws, pol); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.draft
	s.draft = next
	s.gen++
	s.setWindowsLocked(ws, scope{next.VehicleID, next.LocalDate}, pol, false)
	s.editedLocked(prev)
	s.state = StateReady
	return nil
}

// asTaxonomy passes planner errors through and classifies everything else.
func asTaxonomy(op string, err error) error {
	var (
		ve *ValidationError
		ce *ConflictError
		te *TransientNetworkError
	)
	if errors.As(err, &ve) || errors.As(err, &ce) || errors.As(err, &te) {
		return err
	}
	if errors.Is(err, conflict.ErrInvalidInterval) {
		return &ValidationError{Reason: err.Error(), Err: err}
	}
	return classify(op, err)
}
