package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AvailabilityWindow is a contiguous span during which a vehicle is bookable.
type AvailabilityWindow struct {
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
}

// SlotOption is a selectable instant derived from an availability window.
type SlotOption struct {
	Instant time.Time `json:"instant"`
	Label   string    `json:"label"`
}

type Booking struct {
	ID        string    `json:"id"`
	VehicleID string    `json:"vehicle_id"`
	GroupID   string    `json:"group_id,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	Status    string    `json:"status,omitempty"`
	Priority  Priority  `json:"priority,omitempty"`
	Purpose   string    `json:"purpose,omitempty"`
}

type ConflictCheckResult struct {
	HasConflicts        bool      `json:"has_conflicts"`
	ConflictingBookings []Booking `json:"conflicting_bookings"`
}

// BookingSuggestionItem is a recommended interval from the recommendation service.
type BookingSuggestionItem struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons"`
}

// BookingFilter narrows GetVehicleBookings.
type BookingFilter struct {
	VehicleID string
	From      time.Time
	To        time.Time
	Status    string
}

type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityEmergency
)

var priorityNames = [...]string{"Low", "Normal", "High", "Emergency"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityEmergency {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return priorityNames[p]
}

func ParsePriority(s string) (Priority, error) {
	for i, name := range priorityNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return Priority(i), nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

func (p Priority) MarshalJSON() ([]byte, error) {
	if p < PriorityLow || p > PriorityEmergency {
		return nil, fmt.Errorf("invalid priority %d", int(p))
	}
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*p = PriorityNormal
		return nil
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
