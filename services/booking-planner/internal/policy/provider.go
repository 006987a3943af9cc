package policy

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/interval"
)

// Policy holds the booking rules the planner applies on the client side.
type Policy struct {
	StepMinutes        int `yaml:"step_minutes"`
	MinDurationMinutes int `yaml:"min_duration_minutes"`
	BufferMinutes      int `yaml:"buffer_minutes"`
	// HorizonDays bounds how far ahead availability is requested.
	HorizonDays int `yaml:"horizon_days"`

	ProbeStartEpsilonSeconds int `yaml:"probe_start_epsilon_seconds"`
	ProbeEndEpsilonSeconds   int `yaml:"probe_end_epsilon_seconds"`

	AvailabilityCacheTTLSeconds int `yaml:"availability_cache_ttl_seconds"`
}

func Default() Policy {
	return Policy{
		StepMinutes:                 30,
		MinDurationMinutes:          interval.MinDurationMinutes,
		BufferMinutes:               0,
		HorizonDays:                 14,
		ProbeStartEpsilonSeconds:    60,
		ProbeEndEpsilonSeconds:      1,
		AvailabilityCacheTTLSeconds: 120,
	}
}

func (p Policy) Step() time.Duration        { return time.Duration(p.StepMinutes) * time.Minute }
func (p Policy) MinDuration() time.Duration { return time.Duration(p.MinDurationMinutes) * time.Minute }
func (p Policy) ProbeStartEpsilon() time.Duration {
	return time.Duration(p.ProbeStartEpsilonSeconds) * time.Second
}
func (p Policy) ProbeEndEpsilon() time.Duration {
	return time.Duration(p.ProbeEndEpsilonSeconds) * time.Second
}
func (p Policy) CacheTTL() time.Duration {
	return time.Duration(p.AvailabilityCacheTTLSeconds) * time.Second
}

// withDefaults fills every unset or invalid field from Default. A minimum
// duration is never allowed below interval.MinDurationMinutes.
func (p Policy) withDefaults() Policy {
	d := Default()
	if p.StepMinutes <= 0 {
		p.StepMinutes = d.StepMinutes
	}
	if p.MinDurationMinutes <= 0 {
		p.MinDurationMinutes = d.MinDurationMinutes
	}
	p.MinDurationMinutes = max(p.MinDurationMinutes, interval.MinDurationMinutes)
	if p.BufferMinutes < 0 {
		p.BufferMinutes = d.BufferMinutes
	}
	if p.HorizonDays <= 0 {
		p.HorizonDays = d.HorizonDays
	}
	if p.ProbeStartEpsilonSeconds <= 0 {
		p.ProbeStartEpsilonSeconds = d.ProbeStartEpsilonSeconds
	}
	if p.ProbeEndEpsilonSeconds <= 0 {
		p.ProbeEndEpsilonSeconds = d.ProbeEndEpsilonSeconds
	}
	if p.AvailabilityCacheTTLSeconds <= 0 {
		p.AvailabilityCacheTTLSeconds = d.AvailabilityCacheTTLSeconds
	}
	return p
}

// Provider resolves the policy for a vehicle. Per-vehicle overrides come from
// the policy file; everything else uses the defaults.
type Provider interface {
	Policy(ctx context.Context, vehicleID string) (Policy, error)
}

type staticProvider struct {
	base      Policy
	overrides map[string]Policy
}

func NewStaticProvider(p Policy) Provider {
	return &staticProvider{base: p.withDefaults()}
}

func (p *staticProvider) Policy(_ context.Context, vehicleID string) (Policy, error) {
	if o, ok := p.overrides[vehicleID]; ok {
		return o, nil
	}
	return p.base, nil
}
