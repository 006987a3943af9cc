// Package schedulingtest provides an in-memory booking API for tests, usable
// directly as a scheduling.Provider or served over HTTP.
package schedulingtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/scheduling"
)

// Backend mimics the booking API. Conflicts are detected with inclusive
// bounds, the way the real service compares stored bookings.
type Backend struct {
	mu       sync.Mutex
	windows  map[string][]model.AvailabilityWindow
	bookings []model.Booking
	nextID   int

	// Fail, when set, is consulted before every call; a non-nil error is returned as is.
	Fail func(op string) error
	// BeforeAvailability runs before GetAvailability answers.
	BeforeAvailability func(ctx context.Context, q scheduling.AvailabilityQuery)

	AvailabilityCalls int
	ConflictCalls     []ConflictCall
	Created           []CreateCall
}

type ConflictCall struct {
	VehicleID string
	Start     time.Time
	End       time.Time
}

type CreateCall struct {
	Request        model.BookingRequest
	IdempotencyKey string
}

var _ scheduling.Provider = (*Backend)(nil)

func NewBackend() *Backend {
	return &Backend{windows: map[string][]model.AvailabilityWindow{}}
}

func (b *Backend) SetWindows(vehicleID string, windows ...model.AvailabilityWindow) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.windows[vehicleID] = windows
}

func (b *Backend) AddBooking(vehicleID string, start, end time.Time) model.Booking {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(model.Booking{VehicleID: vehicleID, StartAt: start.UTC(), EndAt: end.UTC(), Status: "confirmed"})
}

func (b *Backend) addLocked(bk model.Booking) model.Booking {
	b.nextID++
	bk.ID = "bk-" + strconv.Itoa(b.nextID)
	b.bookings = append(b.bookings, bk)
	return bk
}

func (b *Backend) fail(op string) error {
	if b.Fail == nil {
		return nil
	}
	return b.Fail(op)
}

func (b *Backend) GetAvailability(ctx context.Context, q scheduling.AvailabilityQuery) ([]model.AvailabilityWindow, error) {
	if hook := b.BeforeAvailability; hook != nil {
		hook(ctx, q)
	}
	if err := b.fail("availability"); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.AvailabilityCalls++
	var out []model.AvailabilityWindow
	for _, w := range b.windows[q.VehicleID] {
		if w.EndAt.After(q.From) && w.StartAt.Before(q.To) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (b *Backend) CheckConflicts(_ context.Context, vehicleID string, start, end time.Time) (model.ConflictCheckResult, error) {
	if err := b.fail("conflicts"); err != nil {
		return model.ConflictCheckResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ConflictCalls = append(b.ConflictCalls, ConflictCall{VehicleID: vehicleID, Start: start, End: end})
	return b.conflictsLocked(vehicleID, start, end), nil
}

func (b *Backend) conflictsLocked(vehicleID string, start, end time.Time) model.ConflictCheckResult {
	res := model.ConflictCheckResult{ConflictingBookings: []model.Booking{}}
	for _, bk := range b.bookings {
		if bk.VehicleID != vehicleID || bk.Status == "cancelled" {
			continue
		}
		if !start.After(bk.EndAt) && !bk.StartAt.After(end) {
			res.ConflictingBookings = append(res.ConflictingBookings, bk)
		}
	}
	res.HasConflicts = len(res.ConflictingBookings) > 0
	return res
}

func (b *Backend) CreateBooking(_ context.Context, req model.BookingRequest, key string) (model.Booking, error) {
	if err := b.fail("create"); err != nil {
		return model.Booking{}, err
	}
	start, err := req.StartAt.Instant()
	if err != nil {
		return model.Booking{}, &scheduling.StatusError{Op: "create booking", StatusCode: http.StatusBadRequest, Message: err.Error()}
	}
	end, err := req.EndAt.Instant()
	if err != nil {
		return model.Booking{}, &scheduling.StatusError{Op: "create booking", StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.Created = append(b.Created, CreateCall{Request: req, IdempotencyKey: key})

	// Booked intervals are stored half-open, so back-to-back inserts are accepted.
	for i, bk := range b.bookings {
		if bk.VehicleID != req.VehicleID || bk.Status == "cancelled" {
			continue
		}
		if !(start.Before(bk.EndAt) && bk.StartAt.Before(end)) {
			continue
		}
		if req.EmergencyAutoCancelConflicts && req.IsEmergency && bk.Priority < model.PriorityEmergency {
			b.bookings[i].Status = "cancelled"
			continue
		}
		return model.Booking{}, &scheduling.StatusError{Op: "create booking", StatusCode: http.StatusConflict, Message: "time slot already booked"}
	}

	return b.addLocked(model.Booking{
		VehicleID: req.VehicleID,
		GroupID:   req.GroupID,
		UserID:    req.UserID,
		StartAt:   start.UTC(),
		EndAt:     end.UTC(),
		Status:    "confirmed",
		Priority:  req.Priority,
		Purpose:   req.Purpose,
	}), nil
}

func (b *Backend) GetVehicleBookings(_ context.Context, f model.BookingFilter) ([]model.Booking, error) {
	if err := b.fail("list"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []model.Booking{}
	for _, bk := range b.bookings {
		if f.VehicleID != "" && bk.VehicleID != f.VehicleID {
			continue
		}
		if f.Status != "" && bk.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && !bk.EndAt.After(f.From) {
			continue
		}
		if !f.To.IsZero() && !bk.StartAt.Before(f.To) {
			continue
		}
		out = append(out, bk)
	}
	return out, nil
}

// NewServer serves b with the booking API's HTTP contract.
func NewServer(b *Backend) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/vehicles/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/vehicles/")
		vehicleID, ok := strings.CutSuffix(rest, "/availability")
		if !ok || r.Method != http.MethodGet {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		from, err1 := time.Parse(time.RFC3339, q.Get("from"))
		to, err2 := time.Parse(time.RFC3339, q.Get("to"))
		duration, err3 := strconv.Atoi(q.Get("duration_minutes"))
		buffer, err4 := strconv.Atoi(q.Get("buffer_minutes"))
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			http.Error(w, "invalid query", http.StatusBadRequest)
			return
		}
		windows, err := b.GetAvailability(r.Context(), scheduling.AvailabilityQuery{
			VehicleID: vehicleID, From: from, To: to, DurationMinutes: duration, BufferMinutes: buffer,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		type slot struct {
			StartAt time.Time `json:"start_at"`
			EndAt   time.Time `json:"end_at"`
		}
		resp := struct {
			Slots []slot `json:"slots"`
		}{Slots: []slot{}}
		for _, win := range windows {
			resp.Slots = append(resp.Slots, slot{StartAt: win.StartAt, EndAt: win.EndAt})
		}
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("/api/v1/bookings/check-conflicts", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			VehicleID string    `json:"vehicle_id"`
			StartAt   time.Time `json:"start_at"`
			EndAt     time.Time `json:"end_at"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json body", http.StatusBadRequest)
			return
		}
		res, err := b.CheckConflicts(r.Context(), req.VehicleID, req.StartAt, req.EndAt)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
	mux.HandleFunc("/api/v1/bookings", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req model.BookingRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid json body", http.StatusBadRequest)
				return
			}
			bk, err := b.CreateBooking(r.Context(), req, r.Header.Get("Idempotency-Key"))
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, bk)
		case http.MethodGet:
			q := r.URL.Query()
			f := model.BookingFilter{VehicleID: q.Get("vehicle_id"), Status: q.Get("status")}
			f.From, _ = time.Parse(time.RFC3339, q.Get("from"))
			f.To, _ = time.Parse(time.RFC3339, q.Get("to"))
			out, err := b.GetVehicleBookings(r.Context(), f)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, out)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	if se, ok := err.(*scheduling.StatusError); ok {
		http.Error(w, se.Message, se.StatusCode)
		return
	}
	http.Error(w, fmt.Sprintf("backend error: %v", err), http.StatusInternalServerError)
}
