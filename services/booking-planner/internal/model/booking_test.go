package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority_Ordering(t *testing.T) {
	assert.Less(t, PriorityLow, PriorityNormal)
	assert.Less(t, PriorityNormal, PriorityHigh)
	assert.Less(t, PriorityHigh, PriorityEmergency)
}

func TestPriority_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		P Priority `json:"p"`
	}{PriorityEmergency})
	require.NoError(t, err)
	assert.JSONEq(t, `{"p":"Emergency"}`, string(b))

	var out struct {
		P Priority `json:"p"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"p":"high"}`), &out))
	assert.Equal(t, PriorityHigh, out.P)

	require.Error(t, json.Unmarshal([]byte(`{"p":"urgent"}`), &out))
}

func TestBookingDraft_CanOverrideConflicts(t *testing.T) {
	assert.False(t, BookingDraft{EmergencyAutoCancelConflicts: true}.CanOverrideConflicts())
	assert.False(t, BookingDraft{IsEmergency: true}.CanOverrideConflicts())
	assert.True(t, BookingDraft{IsEmergency: true, EmergencyAutoCancelConflicts: true}.CanOverrideConflicts())
}
