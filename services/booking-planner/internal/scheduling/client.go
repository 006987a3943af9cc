package scheduling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
)

// Provider is the booking API as seen through the platform gateway.
type Provider interface {
	GetAvailability(ctx context.Context, q AvailabilityQuery) ([]model.AvailabilityWindow, error)
	CheckConflicts(ctx context.Context, vehicleID string, start, end time.Time) (model.ConflictCheckResult, error)
	CreateBooking(ctx context.Context, req model.BookingRequest, idempotencyKey string) (model.Booking, error)
	GetVehicleBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error)
}

type AvailabilityQuery struct {
	VehicleID       string
	From            time.Time
	To              time.Time
	DurationMinutes int
	BufferMinutes   int
}

// StatusError is returned for any non-2xx answer from the booking API.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: booking api returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: booking api returned %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsConflict reports whether err is a 409 from the booking API.
func IsConflict(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusConflict
}

type Config struct {
	BaseURL string
	// Token is forwarded as a bearer token when set.
	Token      string
	HTTPClient *http.Client
}

type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

var _ Provider = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid booking api url %q", cfg.BaseURL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: u, token: cfg.Token, http: hc}, nil
}

type windowPayload struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

type availabilityResponse struct {
	Slots []windowPayload `json:"slots"`
}

func (c *Client) GetAvailability(ctx context.Context, q AvailabilityQuery) ([]model.AvailabilityWindow, error) {
	if q.VehicleID == "" {
		return nil, errors.New("vehicle id required")
	}
	params := url.Values{}
	params.Set("from", q.From.UTC().Format(time.RFC3339))
	params.Set("to", q.To.UTC().Format(time.RFC3339))
	params.Set("duration_minutes", strconv.Itoa(q.DurationMinutes))
	params.Set("buffer_minutes", strconv.Itoa(q.BufferMinutes))

	var resp availabilityResponse
	path := "/api/v1/vehicles/" + url.PathEscape(q.VehicleID) + "/availability"
	if err := c.do(ctx, "get availability", http.MethodGet, path, params, nil, "", &resp); err != nil {
		return nil, err
	}

	windows := make([]model.AvailabilityWindow, 0, len(resp.Slots))
	for _, s := range resp.Slots {
		if !s.EndAt.After(s.StartAt) {
			continue
		}
		windows = append(windows, model.AvailabilityWindow{StartAt: s.StartAt.UTC(), EndAt: s.EndAt.UTC()})
	}
	return windows, nil
}

type conflictRequest struct {
	VehicleID string `json:"vehicle_id"`
	StartAt   string `json:"start_at"`
	EndAt     string `json:"end_at"`
}

func (c *Client) CheckConflicts(ctx context.Context, vehicleID string, start, end time.Time) (model.ConflictCheckResult, error) {
	body := conflictRequest{
		VehicleID: vehicleID,
		StartAt:   start.UTC().Format(time.RFC3339),
		EndAt:     end.UTC().Format(time.RFC3339),
	}
	var res model.ConflictCheckResult
	if err := c.do(ctx, "check conflicts", http.MethodPost, "/api/v1/bookings/check-conflicts", nil, body, "", &res); err != nil {
		return model.ConflictCheckResult{}, err
	}
	return res, nil
}

func (c *Client) CreateBooking(ctx context.Context, req model.BookingRequest, idempotencyKey string) (model.Booking, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	var b model.Booking
	if err := c.do(ctx, "create booking", http.MethodPost, "/api/v1/bookings", nil, req, idempotencyKey, &b); err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

func (c *Client) GetVehicleBookings(ctx context.Context, filter model.BookingFilter) ([]model.Booking, error) {
	params := url.Values{}
	if filter.VehicleID != "" {
		params.Set("vehicle_id", filter.VehicleID)
	}
	if !filter.From.IsZero() {
		params.Set("from", filter.From.UTC().Format(time.RFC3339))
	}
	if !filter.To.IsZero() {
		params.Set("to", filter.To.UTC().Format(time.RFC3339))
	}
	if filter.Status != "" {
		params.Set("status", filter.Status)
	}
	var out []model.Booking
	if err := c.do(ctx, "list bookings", http.MethodGet, "/api/v1/bookings", params, nil, "", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// HealthURL is polled by /readyz.
func (c *Client) HealthURL() string {
	return c.baseURL.String() + "/healthz"
}

func (c *Client) do(ctx context.Context, op, method, path string, params url.Values, body any, idempotencyKey string, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
