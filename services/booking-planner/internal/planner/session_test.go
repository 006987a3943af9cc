package planner_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/events"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/localtime"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/planner"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/recommend"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/scheduling"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/scheduling/schedulingtest"
)

var (
	now = time.Date(2025, 6, 1, 6, 0, 0, 0, time.UTC)
	ids = model.Identity{GroupID: "grp-1", UserID: "usr-1"}
)

func at(day, h, m int) time.Time {
	return time.Date(2025, 6, day, h, m, 0, 0, time.UTC)
}

type stubSuggester struct {
	resp recommend.Response
	err  error
}

func (s stubSuggester) SuggestBookingTime(context.Context, recommend.Request) (recommend.Response, error) {
	return s.resp, s.err
}

type recordingPublisher struct {
	mu   sync.Mutex
	evts []events.BookingRequestCreated
	err  error
}

func (p *recordingPublisher) PublishBookingRequestCreated(_ context.Context, evt events.BookingRequestCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evts = append(p.evts, evt)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	backend   *schedulingtest.Backend
	publisher *recordingPublisher
	planner   *planner.Planner
}

func newFixture(t *testing.T, loc *time.Location, suggester recommend.Suggester) *fixture {
	t.Helper()
	backend := schedulingtest.NewBackend()
	backend.SetWindows("veh-1", model.AvailabilityWindow{StartAt: at(1, 8, 0), EndAt: at(1, 18, 0)})
	pub := &recordingPublisher{}
	p := planner.New(planner.Config{
		Scheduling:  backend,
		Recommender: suggester,
		Codec:       localtime.New(loc),
		Events:      pub,
		Now:         func() time.Time { return now },
	})
	return &fixture{backend: backend, publisher: pub, planner: p}
}

func baseDraft() model.BookingDraft {
	return model.BookingDraft{VehicleID: "veh-1", LocalDate: "2025-06-01", DurationMinutes: 120, Purpose: "errands"}
}

func readySession(t *testing.T, f *fixture, d model.BookingDraft) *planner.Session {
	t.Helper()
	s := f.planner.NewSession(ids)
	s.Update(d)
	require.NoError(t, s.RefreshAvailability(context.Background()))
	return s
}

func TestRefreshAvailability_BuildsOptionsAndSelectsFirst(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())

	snap := s.Snapshot()
	assert.Equal(t, planner.StateReady, snap.State)
	require.Len(t, snap.StartOptions, 17)
	assert.True(t, snap.StartOptions[0].Instant.Equal(at(1, 8, 0)))
	assert.True(t, snap.StartOptions[16].Instant.Equal(at(1, 16, 0)))
	assert.Equal(t, "08:00", snap.Draft.LocalStartTime)
	assert.Equal(t, "10:00", snap.Draft.LocalEndTime)
	require.NotEmpty(t, snap.EndOptions)
	assert.True(t, snap.EndOptions[0].Instant.Equal(at(1, 8, 30)))
}

func TestRefreshAvailability_ServedFromCache(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())
	require.NoError(t, s.RefreshAvailability(context.Background()))
	assert.Equal(t, 1, f.backend.AvailabilityCalls)

	f.planner.InvalidateVehicle("veh-1")
	require.NoError(t, s.RefreshAvailability(context.Background()))
	assert.Equal(t, 2, f.backend.AvailabilityCalls)
}

func TestRefreshAvailability_ReselectsWhenStartDisappears(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())
	require.NoError(t, s.SelectStart(context.Background(), at(1, 12, 0)))
	assert.Equal(t, "12:00", s.Draft().LocalStartTime)

	f.backend.SetWindows("veh-1", model.AvailabilityWindow{StartAt: at(1, 14, 0), EndAt: at(1, 18, 0)})
	f.planner.InvalidateVehicle("veh-1")
	require.NoError(t, s.RefreshAvailability(context.Background()))

	d := s.Draft()
	assert.Equal(t, "14:00", d.LocalStartTime)
	assert.Equal(t, "16:00", d.LocalEndTime)
}

func TestRefreshAvailability_KeepsStartStillOffered(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())
	require.NoError(t, s.SelectStart(context.Background(), at(1, 12, 0)))
	require.NoError(t, s.RefreshAvailability(context.Background()))
	assert.Equal(t, "12:00", s.Draft().LocalStartTime)
}

func TestRefreshAvailability_DiscardsStaleFetch(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	f.backend.SetWindows("veh-1",
		model.AvailabilityWindow{StartAt: at(1, 8, 0), EndAt: at(1, 18, 0)},
		model.AvailabilityWindow{StartAt: at(2, 9, 0), EndAt: at(2, 17, 0)},
	)
	started := make(chan struct{})
	release := make(chan struct{})
	f.backend.BeforeAvailability = func(_ context.Context, q scheduling.AvailabilityQuery) {
		if q.From.Equal(at(1, 0, 0)) {
			close(started)
			<-release
		}
	}

	s := f.planner.NewSession(ids)
	s.Update(baseDraft())
	firstErr := make(chan error, 1)
	go func() { firstErr <- s.RefreshAvailability(context.Background()) }()
	<-started

	next := baseDraft()
	next.LocalDate = "2025-06-02"
	s.Update(next)
	require.NoError(t, s.RefreshAvailability(context.Background()))

	close(release)
	require.ErrorIs(t, <-firstErr, planner.ErrStale)

	snap := s.Snapshot()
	assert.Equal(t, planner.StateReady, snap.State)
	assert.Equal(t, "2025-06-02", snap.Draft.LocalDate)
	require.NotEmpty(t, snap.StartOptions)
	assert.True(t, snap.StartOptions[0].Instant.Equal(at(2, 9, 0)))
}

func TestRefreshAvailability_CancelDiscardsResult(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	started := make(chan struct{})
	f.backend.BeforeAvailability = func(ctx context.Context, _ scheduling.AvailabilityQuery) {
		close(started)
		<-ctx.Done()
	}

	s := f.planner.NewSession(ids)
	s.Update(baseDraft())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	err := s.RefreshAvailability(ctx)
	require.ErrorIs(t, err, context.Canceled)
	snap := s.Snapshot()
	assert.Equal(t, planner.StateIdle, snap.State)
	assert.NoError(t, snap.Err)
	assert.Empty(t, snap.StartOptions)
}

func TestCancel_DiscardsPendingRefresh(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())

	f.backend.SetWindows("veh-1", model.AvailabilityWindow{StartAt: at(1, 14, 0), EndAt: at(1, 18, 0)})
	f.planner.InvalidateVehicle("veh-1")
	started := make(chan struct{})
	release := make(chan struct{})
	f.backend.BeforeAvailability = func(context.Context, scheduling.AvailabilityQuery) {
		close(started)
		<-release
	}

	refreshErr := make(chan error, 1)
	go func() { refreshErr <- s.RefreshAvailability(context.Background()) }()
	<-started
	assert.Equal(t, planner.StateFetchingAvailability, s.State())

	s.Cancel()
	assert.Equal(t, planner.StateReady, s.State())
	close(release)
	require.ErrorIs(t, <-refreshErr, planner.ErrStale)

	snap := s.Snapshot()
	assert.Equal(t, planner.StateReady, snap.State)
	assert.NoError(t, snap.Err)
	require.Len(t, snap.StartOptions, 17)
	assert.True(t, snap.StartOptions[0].Instant.Equal(at(1, 8, 0)))
	assert.Equal(t, "08:00", snap.Draft.LocalStartTime)
}

func TestRefreshAvailability_FailureIsErrorState(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	f.backend.Fail = func(op string) error {
		if op == "availability" {
			return errors.New("connection refused")
		}
		return nil
	}
	s := f.planner.NewSession(ids)
	s.Update(baseDraft())

	err := s.RefreshAvailability(context.Background())
	var te *planner.TransientNetworkError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, planner.StateError, s.State())
	assert.Empty(t, s.Snapshot().StartOptions)
}

func TestRefreshAvailability_RejectsDateOutsideHorizon(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	for _, date := range []string{"2025-05-31", "2025-07-30", "not-a-date"} {
		s := f.planner.NewSession(ids)
		d := baseDraft()
		d.LocalDate = date
		s.Update(d)
		var ve *planner.ValidationError
		require.ErrorAs(t, s.RefreshAvailability(context.Background()), &ve, date)
		assert.Equal(t, "local_date", ve.Field)
	}
	assert.Zero(t, f.backend.AvailabilityCalls)
}

func TestProbe_ResultInvalidatedByEdit(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())

	res, err := s.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, res.HasConflicts)
	_, ok := s.LastProbe()
	assert.True(t, ok)

	require.NoError(t, s.SelectStart(context.Background(), at(1, 9, 0)))
	_, ok = s.LastProbe()
	assert.False(t, ok)
	assert.Nil(t, s.Snapshot().Probe)
}

func TestSelectEnd_RecomputesDurationAndDropsProbe(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())
	_, err := s.Probe(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.SelectEnd(at(1, 9, 0)))
	d := s.Draft()
	assert.Equal(t, "08:00", d.LocalStartTime)
	assert.Equal(t, "2025-06-01", d.LocalEndDate)
	assert.Equal(t, "09:00", d.LocalEndTime)
	assert.Equal(t, 60, d.DurationMinutes)
	_, ok := s.LastProbe()
	assert.False(t, ok)
}

func TestSelectEnd_RejectsUnofferedEnd(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())

	var ve *planner.ValidationError
	require.ErrorAs(t, s.SelectEnd(at(1, 9, 15)), &ve)
	assert.Equal(t, "local_end_time", ve.Field)
	assert.Equal(t, "10:00", s.Draft().LocalEndTime)
}

func TestProbe_BackToBackIsNotAConflict(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	f.backend.AddBooking("veh-1", at(1, 8, 0), at(1, 10, 0))
	s := readySession(t, f, baseDraft())
	require.NoError(t, s.SelectStart(context.Background(), at(1, 10, 0)))

	res, err := s.Probe(context.Background())
	require.NoError(t, err)
	assert.False(t, res.HasConflicts)
}

func TestProbe_OutsideAvailabilityIsValidationError(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())
	d := s.Draft()
	d.LocalStartTime, d.LocalEndTime = "17:30", "19:00"
	s.Update(d)

	_, err := s.Probe(context.Background())
	var ve *planner.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, f.backend.ConflictCalls)
}

func TestSubmit_SendsLocalOffsetAndPublishes(t *testing.T) {
	f := newFixture(t, time.FixedZone("CEST", 2*3600), nil)
	s := readySession(t, f, baseDraft())

	booking, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, booking.ID)
	assert.Equal(t, planner.StateSuccess, s.State())

	require.Len(t, f.backend.Created, 1)
	created := f.backend.Created[0]
	assert.Equal(t, localtime.LocalOffsetTimestamp("2025-06-01T10:00:00+02:00"), created.Request.StartAt)
	assert.Equal(t, localtime.LocalOffsetTimestamp("2025-06-01T12:00:00+02:00"), created.Request.EndAt)
	assert.Equal(t, "grp-1", created.Request.GroupID)
	assert.NotEmpty(t, created.IdempotencyKey)
	require.Len(t, f.backend.ConflictCalls, 1)

	require.Len(t, f.publisher.evts, 1)
	assert.Equal(t, booking.ID, f.publisher.evts[0].BookingID)
}

func TestSubmit_UsesProvidedIdempotencyKey(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())
	s.SetIdempotencyKey("key-123")

	_, err := s.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, f.backend.Created, 1)
	assert.Equal(t, "key-123", f.backend.Created[0].IdempotencyKey)
}

func TestSubmit_ConflictBlocks(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	f.backend.AddBooking("veh-1", at(1, 8, 0), at(1, 9, 0))
	s := readySession(t, f, baseDraft())

	_, err := s.Submit(context.Background())
	var ce *planner.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Len(t, ce.Conflicts, 1)
	assert.Equal(t, planner.StateError, s.State())
	assert.Empty(t, f.backend.Created)
}

func TestSubmit_EmergencyWithoutAutoCancelStillBlocks(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	f.backend.AddBooking("veh-1", at(1, 8, 0), at(1, 9, 0))
	d := baseDraft()
	d.IsEmergency = true
	d.EmergencyReason = "hospital"
	s := readySession(t, f, d)

	_, err := s.Submit(context.Background())
	var ce *planner.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Empty(t, f.backend.Created)
}

func TestSubmit_EmergencyAutoCancelGoesThrough(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	f.backend.AddBooking("veh-1", at(1, 8, 0), at(1, 9, 0))
	d := baseDraft()
	d.IsEmergency = true
	d.EmergencyReason = "hospital"
	d.EmergencyAutoCancelConflicts = true
	s := readySession(t, f, d)

	_, err := s.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, f.backend.Created, 1)
	req := f.backend.Created[0].Request
	assert.True(t, req.IsEmergency)
	assert.True(t, req.EmergencyAutoCancelConflicts)
	assert.Equal(t, model.PriorityEmergency, req.Priority)
}

func TestSubmit_FailsClosedWhenProbeFails(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())
	f.backend.Fail = func(op string) error {
		if op == "conflicts" {
			return errors.New("timeout")
		}
		return nil
	}

	_, err := s.Submit(context.Background())
	var te *planner.TransientNetworkError
	require.ErrorAs(t, err, &te)
	assert.Empty(t, f.backend.Created)
	assert.Equal(t, planner.StateError, s.State())
}

func TestSubmit_ServerConflictIsConflictError(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())
	f.backend.Fail = func(op string) error {
		if op == "create" {
			return &scheduling.StatusError{Op: "create booking", StatusCode: http.StatusConflict, Message: "slot taken"}
		}
		return nil
	}

	_, err := s.Submit(context.Background())
	var ce *planner.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.True(t, scheduling.IsConflict(err))
}

func TestSubmit_MissingIdentityIsValidationError(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := f.planner.NewSession(model.Identity{UserID: "usr-1"})
	s.Update(baseDraft())
	require.NoError(t, s.RefreshAvailability(context.Background()))

	_, err := s.Submit(context.Background())
	var ve *planner.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "group_id", ve.Field)
	assert.Empty(t, f.backend.ConflictCalls)
}

func TestSubmit_PublishFailureDoesNotFailBooking(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	f.publisher.err = errors.New("kafka down")
	s := readySession(t, f, baseDraft())

	_, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, planner.StateSuccess, s.State())
}

func TestEdit_AfterSuccessReturnsToReady(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())
	_, err := s.Submit(context.Background())
	require.NoError(t, err)

	d := s.Draft()
	d.Notes = "second trip"
	s.Update(d)
	assert.Equal(t, planner.StateReady, s.State())
	assert.Nil(t, s.Snapshot().Booking)
}

func TestSuggest_FailureIsNonFatal(t *testing.T) {
	f := newFixture(t, time.UTC, stubSuggester{err: errors.New("503")})
	s := readySession(t, f, baseDraft())

	items, err := s.Suggest(context.Background())
	var ue *planner.UpstreamRecommendationError
	require.ErrorAs(t, err, &ue)
	assert.Empty(t, items)
	assert.Equal(t, planner.StateReady, s.State())

	_, err = s.Submit(context.Background())
	require.NoError(t, err)
}

func TestSuggest_RanksByConfidence(t *testing.T) {
	f := newFixture(t, time.UTC, stubSuggester{resp: recommend.Response{Suggestions: []model.BookingSuggestionItem{
		{Start: at(1, 9, 0), End: at(1, 10, 0), Confidence: 0.2},
		{Start: at(1, 11, 0), End: at(1, 12, 0), Confidence: 0.9},
	}}})
	s := readySession(t, f, baseDraft())

	items, err := s.Suggest(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 0.9, items[0].Confidence)
}

func TestApplySuggestion_RoundTripsAndSubmits(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())

	require.NoError(t, s.ApplySuggestion(context.Background(), model.BookingSuggestionItem{Start: at(1, 9, 15), End: at(1, 10, 45)}))
	d := s.Draft()
	assert.Equal(t, "09:15", d.LocalStartTime)
	assert.Equal(t, "10:45", d.LocalEndTime)
	assert.Equal(t, 90, d.DurationMinutes)

	_, err := s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, localtime.LocalOffsetTimestamp("2025-06-01T09:15:00+00:00"), f.backend.Created[0].Request.StartAt)
}

func TestApplySuggestion_OutsideAvailabilityIsRejected(t *testing.T) {
	f := newFixture(t, time.UTC, nil)
	s := readySession(t, f, baseDraft())
	before := s.Draft()

	err := s.ApplySuggestion(context.Background(), model.BookingSuggestionItem{Start: at(1, 17, 45), End: at(1, 19, 0)})
	var ve *planner.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, before, s.Draft())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "fetching_availability", planner.StateFetchingAvailability.String())
	text, err := planner.StateSuccess.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "success", string(text))
}
