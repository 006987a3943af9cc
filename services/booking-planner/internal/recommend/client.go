package recommend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
)

// Request asks the recommendation service for booking times.
type Request struct {
	VehicleID       string    `json:"vehicle_id"`
	GroupID         string    `json:"group_id,omitempty"`
	UserID          string    `json:"user_id,omitempty"`
	PreferredDate   string    `json:"preferred_date,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	Purpose         string    `json:"purpose,omitempty"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
}

type Response struct {
	Suggestions []model.BookingSuggestionItem `json:"suggestions"`
}

// Suggester is the best-effort recommendation service.
type Suggester interface {
	SuggestBookingTime(ctx context.Context, req Request) (Response, error)
}

type Client struct {
	url   string
	token string
	http  *http.Client
}

// NewClient returns a client for baseURL. An empty baseURL yields a disabled
// suggester that answers with no suggestions and no I/O.
func NewClient(baseURL, token string, hc *http.Client) Suggester {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return disabled{}
	}
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{url: baseURL + "/api/v1/recommendations/booking-time", token: token, http: hc}
}

func (c *Client) SuggestBookingTime(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal suggestion request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build suggestion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("suggestion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Response{}, fmt.Errorf("recommendation service returned %d", resp.StatusCode)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode suggestions: %w", err)
	}
	return out, nil
}

type disabled struct{}

func (disabled) SuggestBookingTime(context.Context, Request) (Response, error) {
	return Response{}, nil
}
