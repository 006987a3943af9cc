package model

import "github.com/md-rashed-zaman/evshare/services/booking-planner/internal/localtime"

// BookingRequest is the create payload sent to the booking API. Start and end
// carry the user's own offset so the stored value redisplays unchanged.
type BookingRequest struct {
	VehicleID                    string                         `json:"vehicle_id"`
	GroupID                      string                         `json:"group_id"`
	UserID                       string                         `json:"user_id"`
	StartAt                      localtime.LocalOffsetTimestamp `json:"start_at"`
	EndAt                        localtime.LocalOffsetTimestamp `json:"end_at"`
	Purpose                      string                         `json:"purpose,omitempty"`
	Notes                        string                         `json:"notes,omitempty"`
	Priority                     Priority                       `json:"priority"`
	IsEmergency                  bool                           `json:"is_emergency"`
	EmergencyReason              string                         `json:"emergency_reason,omitempty"`
	EmergencyAutoCancelConflicts bool                           `json:"emergency_auto_cancel_conflicts,omitempty"`
	DistanceKm                   float64                        `json:"distance_km,omitempty"`
}
