// Package rules defines the schedule rule model's persistence contracts and
// the validation every write must pass.
package rules

import (
	"context"
	"time"

	"slotwise/internal/model"
)

// Reader is the read side the availability engine depends on.
type Reader interface {
	// ScheduleByResource returns ErrNotFound when the resource has no configuration.
	ScheduleByResource(ctx context.Context, resourceID string) (*model.ScheduleConfiguration, error)
	// WeeklyRules returns the rules for one weekday ordered by start time.
	WeeklyRules(ctx context.Context, scheduleID int64, weekday time.Weekday) ([]model.WeeklyAvailabilityRule, error)
	BreaksByRule(ctx context.Context, ruleIDs []int64) (map[int64][]model.BreakRule, error)
	// DateException returns nil, nil when the date has no exception.
	DateException(ctx context.Context, scheduleID int64, date model.Date) (*model.DateException, error)
	// ResourceIDs lists resources with an active configuration, sorted.
	ResourceIDs(ctx context.Context) ([]string, error)
}

type Writer interface {
	// SaveSchedule inserts or updates the configuration keyed by resource ID
	// and sets cfg.ID.
	SaveSchedule(ctx context.Context, cfg *model.ScheduleConfiguration) error
	AddWeeklyRule(ctx context.Context, rule *model.WeeklyAvailabilityRule) error
	AddBreak(ctx context.Context, br *model.BreakRule) error
	AddDateException(ctx context.Context, exc *model.DateException) error
	DeleteDateException(ctx context.Context, scheduleID int64, date model.Date) error
}

type Store interface {
	Reader
	Writer
}

// OccupancyReader returns active occupancies of a resource overlapping [from, to).
type OccupancyReader interface {
	ActiveOccupancies(ctx context.Context, resourceID string, from, to time.Time) ([]model.BookingOccupancy, error)
}

// OccupancyTx is a serializable unit of work over occupancy records.
type OccupancyTx interface {
	OccupancyReader
	GetOccupancy(ctx context.Context, id string) (*model.BookingOccupancy, error)
	InsertOccupancy(ctx context.Context, occ *model.BookingOccupancy) error
	UpdateOccupancyStatus(ctx context.Context, id string, status model.OccupancyStatus, at time.Time) error
	Commit() error
	Rollback() error
}

type OccupancyStore interface {
	OccupancyReader
	BeginOccupancyTx(ctx context.Context) (OccupancyTx, error)
}
