package policy

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/interval"
)

type fileConfig struct {
	Default  Policy            `yaml:"default"`
	Vehicles map[string]Policy `yaml:"vehicles"`
}

// LoadFile reads a YAML policy file:
//
//	default:
//	  step_minutes: 30
//	  buffer_minutes: 15
//	vehicles:
//	  veh-7:
//	    min_duration_minutes: 60
//
// Vehicle entries inherit unset fields from default. Minimum durations below
// interval.MinDurationMinutes are raised to it.
func LoadFile(path string) (Provider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg fileConfig
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode policy file %s: %w", path, err)
	}

	base := cfg.Default.withDefaults()
	overrides := make(map[string]Policy, len(cfg.Vehicles))
	for id, v := range cfg.Vehicles {
		overrides[strings.TrimSpace(id)] = inherit(v, base)
	}
	return &staticProvider{base: base, overrides: overrides}, nil
}

// NewProvider loads path when set and falls back to the defaults otherwise.
func NewProvider(logger *slog.Logger, path string) Provider {
	if strings.TrimSpace(path) == "" {
		return NewStaticProvider(Default())
	}
	p, err := LoadFile(path)
	if err != nil {
		logger.Warn("policy file unavailable, using defaults", "path", path, "err", err)
		return NewStaticProvider(Default())
	}
	logger.Info("booking policy loaded", "path", path)
	return p
}

func inherit(v, base Policy) Policy {
	if v.StepMinutes <= 0 {
		v.StepMinutes = base.StepMinutes
	}
	if v.MinDurationMinutes <= 0 {
		v.MinDurationMinutes = base.MinDurationMinutes
	}
	v.MinDurationMinutes = max(v.MinDurationMinutes, interval.MinDurationMinutes)
	if v.BufferMinutes <= 0 {
		v.BufferMinutes = base.BufferMinutes
	}
	if v.HorizonDays <= 0 {
		v.HorizonDays = base.HorizonDays
	}
	if v.ProbeStartEpsilonSeconds <= 0 {
		v.ProbeStartEpsilonSeconds = base.ProbeStartEpsilonSeconds
	}
	if v.ProbeEndEpsilonSeconds <= 0 {
		v.ProbeEndEpsilonSeconds = base.ProbeEndEpsilonSeconds
	}
	if v.AvailabilityCacheTTLSeconds <= 0 {
		v.AvailabilityCacheTTLSeconds = base.AvailabilityCacheTTLSeconds
	}
	return v
}
