package model

// BookingDraft is the mutable form state of one booking session.
// Dates are YYYY-MM-DD and times HH:mm, both in the user's local zone.
type BookingDraft struct {
	VehicleID                    string   `json:"vehicle_id"`
	LocalDate                    string   `json:"local_date"`
	LocalStartTime               string   `json:"local_start_time"`
	LocalEndDate                 string   `json:"local_end_date"`
	LocalEndTime                 string   `json:"local_end_time"`
	Purpose                      string   `json:"purpose"`
	Priority                     Priority `json:"priority"`
	IsEmergency                  bool     `json:"is_emergency"`
	EmergencyReason              string   `json:"emergency_reason,omitempty"`
	EmergencyAutoCancelConflicts bool     `json:"emergency_auto_cancel_conflicts,omitempty"`
	Notes                        string   `json:"notes"`
	DistanceKm                   float64  `json:"distance_km"`
	// DurationMinutes is derived from the start and end fields.
	DurationMinutes int `json:"duration_minutes"`
}

// CanOverrideConflicts reports whether a probe conflict may be forwarded to the
// server for auto-cancellation instead of blocking submission.
func (d BookingDraft) CanOverrideConflicts() bool {
	return d.IsEmergency && d.EmergencyAutoCancelConflicts
}

// Identity carries the ids a booking request needs besides the vehicle.
type Identity struct {
	GroupID string `json:"group_id"`
	UserID  string `json:"user_id"`
}
