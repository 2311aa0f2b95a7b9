package model

import "time"

type ScheduleConfiguration struct {
	ID                     int64     `json:"id"`
	ResourceID             string    `json:"resource_id"`
	Timezone               string    `json:"timezone"`
	MinLeadMinutes         int       `json:"min_lead_minutes"`
	MaxLeadMinutes         int       `json:"max_lead_minutes"`
	SlotGranularityMinutes int       `json:"slot_granularity_minutes"`
	AcceptsBookings        bool      `json:"accepts_bookings"`
	IsActive               bool      `json:"is_active"`
	UpdatedAt              time.Time `json:"updated_at"`
}

func (c *ScheduleConfiguration) MinLead() time.Duration {
	return time.Duration(c.MinLeadMinutes) * time.Minute
}

func (c *ScheduleConfiguration) MaxLead() time.Duration {
	return time.Duration(c.MaxLeadMinutes) * time.Minute
}

func (c *ScheduleConfiguration) Granularity() time.Duration {
	return time.Duration(c.SlotGranularityMinutes) * time.Minute
}

// Bookable reports whether the schedule currently takes new bookings at all.
func (c *ScheduleConfiguration) Bookable() bool {
	return c.IsActive && c.AcceptsBookings
}

type WeeklyAvailabilityRule struct {
	ID         int64        `json:"id"`
	ScheduleID int64        `json:"schedule_id"`
	Weekday    time.Weekday `json:"weekday"` // 0-6 (Sunday-Saturday)
	StartTime  TimeOfDay    `json:"start_time"`
	EndTime    TimeOfDay    `json:"end_time"`
	IsActive   bool         `json:"is_active"`
}

type BreakRule struct {
	ID           int64     `json:"id"`
	WeeklyRuleID int64     `json:"weekly_rule_id"`
	StartTime    TimeOfDay `json:"start_time"`
	EndTime      TimeOfDay `json:"end_time"`
	Label        string    `json:"label,omitempty"`
}

type ExceptionKind string

const (
	ExceptionUnavailable  ExceptionKind = "unavailable"
	ExceptionVacation     ExceptionKind = "vacation"
	ExceptionSickLeave    ExceptionKind = "sick_leave"
	ExceptionSpecialHours ExceptionKind = "special_hours"
	ExceptionHoliday      ExceptionKind = "holiday"
)

func (k ExceptionKind) Valid() bool {
	switch k {
	case ExceptionUnavailable, ExceptionVacation, ExceptionSickLeave, ExceptionSpecialHours, ExceptionHoliday:
		return true
	}
	return false
}

// Blocks reports whether the kind removes the whole date from availability.
func (k ExceptionKind) Blocks() bool {
	return k.Valid() && k != ExceptionSpecialHours
}

type DateException struct {
	ID         int64         `json:"id"`
	ScheduleID int64         `json:"schedule_id"`
	Date       Date          `json:"date"`
	Kind       ExceptionKind `json:"kind"`
	StartTime  *TimeOfDay    `json:"start_time,omitempty"` // special_hours only
	EndTime    *TimeOfDay    `json:"end_time,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}
