// Package conflict asks the booking API whether a prospective interval collides
// with existing reservations.
package conflict

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/interval"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
)

const (
	DefaultStartEpsilon = time.Minute
	DefaultEndEpsilon   = time.Second
)

var ErrInvalidInterval = errors.New("interval end must be after start")

// Checker is the remote conflict endpoint.
type Checker interface {
	CheckConflicts(ctx context.Context, vehicleID string, start, end time.Time) (model.ConflictCheckResult, error)
}

// Probe pulls both boundaries inward before asking the server, so a booking that
// ends exactly when another begins is not reported as colliding. The start moves
// by a full minute and the end by one second.
type Probe struct {
	checker      Checker
	startEpsilon time.Duration
	endEpsilon   time.Duration
}

func NewProbe(checker Checker, startEpsilon, endEpsilon time.Duration) *Probe {
	if startEpsilon <= 0 {
		startEpsilon = DefaultStartEpsilon
	}
	if endEpsilon <= 0 {
		endEpsilon = DefaultEndEpsilon
	}
	return &Probe{checker: checker, startEpsilon: startEpsilon, endEpsilon: endEpsilon}
}

// Bounds returns the contracted interval actually sent to the server.
func (p *Probe) Bounds(iv interval.Interval) interval.Interval {
	return interval.New(
		interval.Contract(iv.Start, p.startEpsilon),
		interval.Contract(iv.End, -p.endEpsilon),
	)
}

func (p *Probe) Check(ctx context.Context, vehicleID string, iv interval.Interval) (model.ConflictCheckResult, error) {
	if !iv.Valid() {
		return model.ConflictCheckResult{}, ErrInvalidInterval
	}
	probe := p.Bounds(iv)
	if !probe.Valid() {
		probe = iv
	}

	ctx, span := otel.Tracer("planner").Start(ctx, "conflict.probe",
		trace.WithAttributes(
			attribute.String("vehicle.id", vehicleID),
			attribute.String("probe.start", probe.Start.UTC().Format(time.RFC3339)),
			attribute.String("probe.end", probe.End.UTC().Format(time.RFC3339)),
		),
	)
	defer span.End()

	res, err := p.checker.CheckConflicts(ctx, vehicleID, probe.Start, probe.End)
	if err != nil {
		span.RecordError(err)
		return model.ConflictCheckResult{}, err
	}
	span.SetAttributes(attribute.Bool("probe.has_conflicts", res.HasConflicts))
	return res, nil
}

// Blocks reports whether res must stop submission of draft. Only emergency
// drafts asking for auto-cancellation may go ahead despite a conflict.
func Blocks(res model.ConflictCheckResult, draft model.BookingDraft) bool {
	return res.HasConflicts && !draft.CanOverrideConflicts()
}
