package model

import (
	"time"

	"slotwise/internal/interval"
)

type OccupancyStatus string

const (
	StatusPending    OccupancyStatus = "pending"
	StatusConfirmed  OccupancyStatus = "confirmed"
	StatusCheckedIn  OccupancyStatus = "checked_in"
	StatusInProgress OccupancyStatus = "in_progress"
	StatusCompleted  OccupancyStatus = "completed"
	StatusCancelled  OccupancyStatus = "cancelled"
	StatusNoShow     OccupancyStatus = "no_show"
)

var activeStatuses = []OccupancyStatus{StatusPending, StatusConfirmed, StatusCheckedIn, StatusInProgress}

// ActiveStatuses returns the statuses that make an occupancy block time.
func ActiveStatuses() []OccupancyStatus {
	out := make([]OccupancyStatus, len(activeStatuses))
	copy(out, activeStatuses)
	return out
}

func (s OccupancyStatus) IsActive() bool {
	for _, a := range activeStatuses {
		if s == a {
			return true
		}
	}
	return false
}

func (s OccupancyStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCheckedIn, StatusInProgress,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// BookingOccupancy is the slice of a booking the engine cares about: which
// resource is held, for which absolute interval, and whether it still counts.
type BookingOccupancy struct {
	ID         string          `json:"id"`
	ResourceID string          `json:"resource_id"`
	StartTime  time.Time       `json:"start_time"`
	EndTime    time.Time       `json:"end_time"`
	Status     OccupancyStatus `json:"status"`
	Reference  string          `json:"reference,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func (b *BookingOccupancy) Interval() interval.Interval {
	return interval.New(b.StartTime, b.EndTime)
}

func (b *BookingOccupancy) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}

func (b *BookingOccupancy) IsActive() bool {
	return b.Status.IsActive()
}

func (b *BookingOccupancy) OverlapsWith(other *BookingOccupancy) bool {
	return b.Interval().Overlaps(other.Interval())
}

func (b *BookingOccupancy) ContainsTime(t time.Time) bool {
	return !t.Before(b.StartTime) && t.Before(b.EndTime)
}

// Blocks reports whether the occupancy is active and overlaps iv.
func (b *BookingOccupancy) Blocks(iv interval.Interval) bool {
	return b.IsActive() && b.Interval().Overlaps(iv)
}
