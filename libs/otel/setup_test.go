package otelx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("DEPLOY_ENV", "staging")

	cfg := ConfigFromEnv("booking-planner")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 0.25, cfg.SampleRatio)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "staging", cfg.Environment)
}

func TestClampRatio(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0.5: 0.5, 3: 1} {
		assert.Equal(t, want, clampRatio(in), "clampRatio(%v)", in)
	}
}

func TestAttributes(t *testing.T) {
	attrs := attributes(Config{ServiceName: "booking-planner", Version: "1.2.0"})
	require.Len(t, attrs, 2)
	assert.Equal(t, "booking-planner", attrs[0].Value.AsString())
}

func TestSetup_DisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
