package model

import "time"

// Reason explains the outcome of an availability decision.
type Reason string

const (
	ReasonAvailable            Reason = "available"
	ReasonConfigurationMissing Reason = "configuration_missing"
	ReasonNotAcceptingBookings Reason = "not_accepting_bookings"
	ReasonOutsideLeadWindow    Reason = "outside_lead_window"
	ReasonOutsideWorkingHours  Reason = "outside_working_hours"
	ReasonOnBreak              Reason = "on_break"
	ReasonDateBlocked          Reason = "date_blocked"
	ReasonOccupancyConflict    Reason = "occupancy_conflict"
)

type Slot struct {
	ResourceID string    `json:"resource_id"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	Available  bool      `json:"available"`
	Reason     Reason    `json:"reason,omitempty"`
}

// Service describes what is being booked. Only its timing matters here.
type Service struct {
	ID                  string `json:"id"`
	DurationMinutes     int    `json:"duration_minutes"`
	BufferBeforeMinutes int    `json:"buffer_before_minutes"`
	BufferAfterMinutes  int    `json:"buffer_after_minutes"`
}

// EffectiveDurationMinutes is the duration plus both buffers.
func (s Service) EffectiveDurationMinutes() int {
	return s.DurationMinutes + s.BufferBeforeMinutes + s.BufferAfterMinutes
}
