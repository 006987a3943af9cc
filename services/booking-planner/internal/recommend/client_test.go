package recommend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SuggestBookingTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/recommendations/booking-time", r.URL.Path)
		var req Request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "veh-1", req.VehicleID)
		assert.Equal(t, 90, req.DurationMinutes)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"suggestions":[{"start":"2025-06-01T09:15:00Z","end":"2025-06-01T10:45:00Z","confidence":0.82,"reasons":["low demand"]}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client())
	resp, err := c.SuggestBookingTime(context.Background(), Request{VehicleID: "veh-1", DurationMinutes: 90})
	require.NoError(t, err)
	require.Len(t, resp.Suggestions, 1)
	s := resp.Suggestions[0]
	assert.True(t, s.Start.Equal(time.Date(2025, 6, 1, 9, 15, 0, 0, time.UTC)))
	assert.InDelta(t, 0.82, s.Confidence, 1e-9)
	assert.Equal(t, []string{"low demand"}, s.Reasons)
}

func TestClient_NonOKIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", srv.Client()).SuggestBookingTime(context.Background(), Request{VehicleID: "veh-1"})
	require.Error(t, err)
}

func TestNewClient_DisabledWithoutURL(t *testing.T) {
	resp, err := NewClient("  ", "", nil).SuggestBookingTime(context.Background(), Request{})
	require.NoError(t, err)
	assert.Empty(t, resp.Suggestions)
}
