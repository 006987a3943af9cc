package planner

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/request"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/scheduling"
)

// ErrStale is returned by a fetch that was superseded before it resolved. Its
// result has been discarded.
var ErrStale = errors.New("availability fetch superseded")

// ValidationError means the draft itself is unusable; the user must edit it.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid booking: " + e.Reason
	}
	return fmt.Sprintf("invalid booking: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConflictError means the interval collides with existing bookings.
type ConflictError struct {
	Conflicts []model.Booking
	Err       error
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return "booking conflicts with an existing reservation"
	}
	return fmt.Sprintf("booking conflicts with %d existing reservation(s)", len(e.Conflicts))
}

func (e *ConflictError) Unwrap() error { return e.Err }

// TransientNetworkError means a collaborator could not be reached or failed;
// the same action may succeed when retried.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// UpstreamRecommendationError is informational only. Manual booking continues.
type UpstreamRecommendationError struct {
	Err error
}

func (e *UpstreamRecommendationError) Error() string {
	return fmt.Sprintf("booking suggestions unavailable: %v", e.Err)
}

func (e *UpstreamRecommendationError) Unwrap() error { return e.Err }

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

// classify maps a booking API failure onto the error taxonomy.
func classify(op string, err error) error {
	var se *scheduling.StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusConflict:
			return &ConflictError{Err: err}
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return &ValidationError{Reason: se.Message, Err: err}
		}
	}
	return &TransientNetworkError{Op: op, Err: err}
}

func fromFieldError(err error) error {
	var fe *request.FieldError
	if errors.As(err, &fe) {
		return &ValidationError{Field: fe.Field, Reason: fe.Reason, Err: err}
	}
	return &ValidationError{Reason: err.Error(), Err: err}
}
