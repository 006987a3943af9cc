// Package planner drives one booking draft from availability lookup to a
// created booking. A Planner holds the collaborators and the shared
// availability cache; each draft gets its own Session.
package planner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/events"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/localtime"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/policy"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/recommend"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/scheduling"
)

var tracer = otel.Tracer("planner")

type Config struct {
	Scheduling  scheduling.Provider
	Recommender recommend.Suggester
	Policy      policy.Provider
	Codec       localtime.Codec
	Events      events.Publisher
	Logger      *slog.Logger
	Now         func() time.Time
}

type Planner struct {
	scheduling  scheduling.Provider
	recommender recommend.Suggester
	policy      policy.Provider
	codec       localtime.Codec
	events      events.Publisher
	logger      *slog.Logger
	now         func() time.Time
	cache       *cache.Cache
}

func New(cfg Config) *Planner {
	p := &Planner{
		scheduling:  cfg.Scheduling,
		recommender: cfg.Recommender,
		policy:      cfg.Policy,
		codec:       cfg.Codec,
		events:      cfg.Events,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if p.recommender == nil {
		p.recommender = recommend.NewClient("", "", nil)
	}
	if p.policy == nil {
		p.policy = policy.NewStaticProvider(policy.Default())
	}
	if p.events == nil {
		p.events = events.Noop{}
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.now == nil {
		p.now = time.Now
	}
	p.cache = cache.New(policy.Default().CacheTTL(), 5*time.Minute)
	return p
}

// NewSession starts an empty draft for ids.
func (p *Planner) NewSession(ids model.Identity) *Session {
	return &Session{p: p, ids: ids}
}

func (p *Planner) policyFor(ctx context.Context, vehicleID string) (policy.Policy, error) {
	pol, err := p.policy.Policy(ctx, vehicleID)
	if err != nil {
		return policy.Policy{}, &TransientNetworkError{Op: "load booking policy", Err: err}
	}
	return pol, nil
}

func cacheKey(vehicleID, date string, durationMinutes int) string {
	return fmt.Sprintf("%s|%s|%d", vehicleID, date, durationMinutes)
}

// InvalidateVehicle drops every cached window set of vehicleID.
func (p *Planner) InvalidateVehicle(vehicleID string) {
	prefix := vehicleID + "|"
	for key := range p.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			p.cache.Delete(key)
		}
	}
}

// windows returns the availability of vehicleID on the local date, served from
// cache when the same (vehicle, date, duration) was fetched recently.
func (p *Planner) windows(ctx context.Context, pol policy.Policy, vehicleID, date string, durationMinutes int) ([]model.AvailabilityWindow, error) {
	if strings.TrimSpace(vehicleID) == "" {
		return nil, &ValidationError{Field: "vehicle_id", Reason: "is required"}
	}
	from, err := p.dayStart(date)
	if err != nil {
		return nil, &ValidationError{Field: "local_date", Reason: err.Error(), Err: err}
	}
	today, _ := p.dayStart(p.now().In(p.codec.Location()).Format(localtime.DateLayout))
	if from.Before(today) {
		return nil, &ValidationError{Field: "local_date", Reason: "is in the past"}
	}
	if from.After(today.AddDate(0, 0, pol.HorizonDays)) {
		return nil, &ValidationError{Field: "local_date", Reason: fmt.Sprintf("is more than %d days ahead", pol.HorizonDays)}
	}

	key := cacheKey(vehicleID, date, durationMinutes)
	if v, ok := p.cache.Get(key); ok {
		return v.([]model.AvailabilityWindow), nil
	}

	ws, err := p.scheduling.GetAvailability(ctx, scheduling.AvailabilityQuery{
		VehicleID:       vehicleID,
		From:            from,
		To:              from.Add(24 * time.Hour),
		DurationMinutes: durationMinutes,
		BufferMinutes:   pol.BufferMinutes,
	})
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, ws, pol.CacheTTL())
	return ws, nil
}

func (p *Planner) dayStart(date string) (time.Time, error) {
	return p.codec.ToUTCInstant(date, "00:00")
}
