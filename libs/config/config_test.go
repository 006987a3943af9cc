package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPort(t *testing.T) {
	t.Setenv("PLANNER_PORT", "70000")
	_, err := Port("PLANNER_PORT", "8086")
	require.Error(t, err)

	t.Setenv("PLANNER_PORT", "")
	p, err := Port("PLANNER_PORT", "8086")
	require.NoError(t, err)
	assert.Equal(t, "8086", p)
}

func TestNumericGetters(t *testing.T) {
	t.Setenv("OUTBOUND_RPS", "2.5")
	t.Setenv("HTTP_CLIENT_TIMEOUT_SECONDS", "-3")
	assert.Equal(t, 2.5, Float("OUTBOUND_RPS", 10))
	assert.Equal(t, 10*time.Second, Seconds("HTTP_CLIENT_TIMEOUT_SECONDS", 10*time.Second), "negative value falls back")
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "off")
	assert.False(t, Bool("OTEL_ENABLED", true))

	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, List("CORS_ALLOWED_ORIGINS", ""))
}
