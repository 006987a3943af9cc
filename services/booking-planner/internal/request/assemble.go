// Package request turns a finished draft into the booking API create payload.
package request

import (
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/interval"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/localtime"
	"github.com/md-rashed-zaman/evshare/services/booking-planner/internal/model"
)

// FieldError names the draft field that made a draft unusable.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func missing(field string) error {
	return &FieldError{Field: field, Reason: "is required"}
}

// EndDate is the local end date, which defaults to the start date.
func EndDate(d model.BookingDraft) string {
	if strings.TrimSpace(d.LocalEndDate) != "" {
		return d.LocalEndDate
	}
	return d.LocalDate
}

// Interval derives the UTC interval the draft describes.
func Interval(d model.BookingDraft, codec localtime.Codec) (interval.Interval, error) {
	if strings.TrimSpace(d.LocalDate) == "" {
		return interval.Interval{}, missing("local_date")
	}
	if strings.TrimSpace(d.LocalStartTime) == "" {
		return interval.Interval{}, missing("local_start_time")
	}
	if strings.TrimSpace(d.LocalEndTime) == "" {
		return interval.Interval{}, missing("local_end_time")
	}
	start, err := codec.ToUTCInstant(d.LocalDate, d.LocalStartTime)
	if err != nil {
		return interval.Interval{}, &FieldError{Field: "local_start_time", Reason: err.Error()}
	}
	end, err := codec.ToUTCInstant(EndDate(d), d.LocalEndTime)
	if err != nil {
		return interval.Interval{}, &FieldError{Field: "local_end_time", Reason: err.Error()}
	}
	iv := interval.New(start, end)
	if !iv.Valid() {
		return interval.Interval{}, &FieldError{Field: "local_end_time", Reason: "must be after start"}
	}
	return iv, nil
}

// Assemble builds the create payload. Start and end are encoded with the
// codec's local offset, never as UTC. Emergency fields are only carried when
// the draft is flagged as an emergency.
func Assemble(d model.BookingDraft, ids model.Identity, codec localtime.Codec) (model.BookingRequest, error) {
	switch {
	case strings.TrimSpace(d.VehicleID) == "":
		return model.BookingRequest{}, missing("vehicle_id")
	case strings.TrimSpace(ids.GroupID) == "":
		return model.BookingRequest{}, missing("group_id")
	case strings.TrimSpace(ids.UserID) == "":
		return model.BookingRequest{}, missing("user_id")
	case d.IsEmergency && strings.TrimSpace(d.EmergencyReason) == "":
		return model.BookingRequest{}, missing("emergency_reason")
	}
	if _, err := Interval(d, codec); err != nil {
		return model.BookingRequest{}, err
	}

	startAt, err := codec.ToLocalOffsetString(d.LocalDate, d.LocalStartTime)
	if err != nil {
		return model.BookingRequest{}, &FieldError{Field: "local_start_time", Reason: err.Error()}
	}
	endAt, err := codec.ToLocalOffsetString(EndDate(d), d.LocalEndTime)
	if err != nil {
		return model.BookingRequest{}, &FieldError{Field: "local_end_time", Reason: err.Error()}
	}

	req := model.BookingRequest{
		VehicleID:  strings.TrimSpace(d.VehicleID),
		GroupID:    strings.TrimSpace(ids.GroupID),
		UserID:     strings.TrimSpace(ids.UserID),
		StartAt:    startAt,
		EndAt:      endAt,
		Purpose:    strings.TrimSpace(d.Purpose),
		Notes:      strings.TrimSpace(d.Notes),
		Priority:   d.Priority,
		DistanceKm: d.DistanceKm,
	}
	if d.IsEmergency {
		req.IsEmergency = true
		req.Priority = model.PriorityEmergency
		req.EmergencyReason = strings.TrimSpace(d.EmergencyReason)
		req.EmergencyAutoCancelConflicts = d.EmergencyAutoCancelConflicts
	}
	return req, nil
}
