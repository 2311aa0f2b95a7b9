// Package slots turns schedule rules and occupancies into bookable slots.
package slots

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"slotwise/internal/clock"
	"slotwise/internal/interval"
	"slotwise/internal/metrics"
	"slotwise/internal/model"
	"slotwise/internal/rules"
)

var (
	ErrConfigurationMissing = errors.New("slots: resource has no schedule configuration")
	ErrInvalidDuration      = errors.New("slots: duration must be positive")
	ErrUnknownException     = errors.New("slots: unknown exception kind")
)

// Result is the answer to a point availability query.
type Result struct {
	Available     bool                `json:"available"`
	Reason        model.Reason        `json:"reason"`
	ExceptionKind model.ExceptionKind `json:"exception_kind,omitempty"`
	Detail        string              `json:"detail,omitempty"`
}

func availableResult() Result {
	return Result{Available: true, Reason: model.ReasonAvailable}
}

func unavailable(reason model.Reason) Result {
	return Result{Reason: reason}
}

// Engine computes availability. It holds no state beyond its collaborators
// and is safe for concurrent use.
type Engine struct {
	rules     rules.Reader
	occupancy rules.OccupancyReader
	clock     clock.Clock
	zones     *clock.Zones
	logger    zerolog.Logger
}

func NewEngine(store rules.Reader, occupancy rules.OccupancyReader, c clock.Clock, logger zerolog.Logger) *Engine {
	if c == nil {
		c = clock.System{}
	}
	return &Engine{
		rules:     store,
		occupancy: occupancy,
		clock:     c,
		zones:     clock.NewZones(),
		logger:    logger,
	}
}

// WithOccupancy returns a copy of the engine that reads occupancies from occ,
// typically an open transaction.
func (e *Engine) WithOccupancy(occ rules.OccupancyReader) *Engine {
	cp := *e
	cp.occupancy = occ
	return &cp
}

func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// ResourceIDs lists resources with an active configuration.
func (e *Engine) ResourceIDs(ctx context.Context) ([]string, error) {
	return e.rules.ResourceIDs(ctx)
}

// LocalToday returns the current date in the resource's time zone.
func (e *Engine) LocalToday(ctx context.Context, resourceID string) (model.Date, error) {
	_, loc, err := e.schedule(ctx, resourceID)
	if err != nil {
		return model.Date{}, err
	}
	return model.DateOf(e.clock.Now().In(loc)), nil
}

// ComputeAvailableSlots lists every candidate slot of the given length on the
// resource's local date, each marked available or not. A blocked date yields
// an empty list.
func (e *Engine) ComputeAvailableSlots(ctx context.Context, resourceID string, date model.Date, durationMinutes int) ([]model.Slot, error) {
	started := time.Now()
	defer func() { metrics.ObserveSlotComputation(time.Since(started)) }()

	if durationMinutes <= 0 {
		return nil, ErrInvalidDuration
	}

	cfg, loc, err := e.schedule(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrConfigurationMissing) {
			metrics.IncSlotComputation("missing_config")
		} else {
			metrics.IncSlotComputation("error")
		}
		return nil, err
	}

	day, err := e.resolveDay(ctx, cfg, loc, date)
	if err != nil {
		metrics.IncSlotComputation("error")
		return nil, err
	}

	slots := make([]model.Slot, 0)
	if day.blockedBy != nil {
		e.logger.Debug().
			Str("resource_id", resourceID).
			Str("date", date.String()).
			Str("kind", string(day.blockedBy.Kind)).
			Msg("date blocked by exception")
		metrics.IncSlotComputation("blocked")
		return slots, nil
	}
	if len(day.windows) == 0 {
		metrics.IncSlotComputation("closed")
		return slots, nil
	}

	busy, err := e.busy(ctx, resourceID, day.bounds())
	if err != nil {
		metrics.IncSlotComputation("error")
		return nil, err
	}

	now := e.clock.Now()
	duration := time.Duration(durationMinutes) * time.Minute
	step := cfg.Granularity()

	for _, w := range day.windows {
		for cursor := w.span.Start; !cursor.Add(duration).After(w.span.End); cursor = cursor.Add(step) {
			candidate := interval.Of(cursor, duration)
			reason := admission(cfg, now, cursor)
			if reason == model.ReasonAvailable {
				reason = w.check(candidate, busy)
			}
			slots = append(slots, model.Slot{
				ResourceID: resourceID,
				StartTime:  candidate.Start,
				EndTime:    candidate.End,
				Available:  reason == model.ReasonAvailable,
				Reason:     reason,
			})
		}
	}

	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].StartTime.Before(slots[j].StartTime)
	})

	metrics.IncSlotComputation("ok")
	return slots, nil
}

// IsAvailableAt decides whether [start, start+duration) can be booked. Every
// "no" carries the first reason that applies, checked in this order:
// configuration, booking acceptance, lead window, exceptions, working hours,
// breaks, occupancy.
func (e *Engine) IsAvailableAt(ctx context.Context, resourceID string, start time.Time, durationMinutes int) (Result, error) {
	if durationMinutes <= 0 {
		return Result{}, ErrInvalidDuration
	}

	res, err := e.isAvailableAt(ctx, resourceID, start, time.Duration(durationMinutes)*time.Minute)
	if err != nil {
		return Result{}, err
	}
	metrics.IncAvailabilityCheck(string(res.Reason))
	return res, nil
}

func (e *Engine) isAvailableAt(ctx context.Context, resourceID string, start time.Time, duration time.Duration) (Result, error) {
	cfg, loc, err := e.schedule(ctx, resourceID)
	if errors.Is(err, ErrConfigurationMissing) {
		return unavailable(model.ReasonConfigurationMissing), nil
	}
	if err != nil {
		return Result{}, err
	}

	if reason := admission(cfg, e.clock.Now(), start); reason != model.ReasonAvailable {
		return unavailable(reason), nil
	}

	day, err := e.resolveDay(ctx, cfg, loc, model.DateOf(start.In(loc)))
	if err != nil {
		return Result{}, err
	}
	if day.blockedBy != nil {
		res := unavailable(model.ReasonDateBlocked)
		res.ExceptionKind = day.blockedBy.Kind
		res.Detail = day.blockedBy.Reason
		return res, nil
	}

	candidate := interval.Of(start, duration)
	var containing []window
	for _, w := range day.windows {
		if w.span.Contains(candidate) {
			containing = append(containing, w)
		}
	}
	if len(containing) == 0 {
		return unavailable(model.ReasonOutsideWorkingHours), nil
	}

	free := false
	for _, w := range containing {
		if !interval.OverlapsAny(candidate, w.breaks) {
			free = true
			break
		}
	}
	if !free {
		return unavailable(model.ReasonOnBreak), nil
	}

	busy, err := e.busy(ctx, resourceID, candidate)
	if err != nil {
		return Result{}, err
	}
	if interval.OverlapsAny(candidate, busy) {
		return unavailable(model.ReasonOccupancyConflict), nil
	}
	return availableResult(), nil
}

// admission applies the checks that do not depend on the calendar.
func admission(cfg *model.ScheduleConfiguration, now, start time.Time) model.Reason {
	if !cfg.Bookable() {
		return model.ReasonNotAcceptingBookings
	}
	if start.Before(now.Add(cfg.MinLead())) || start.After(now.Add(cfg.MaxLead())) {
		return model.ReasonOutsideLeadWindow
	}
	return model.ReasonAvailable
}

func (e *Engine) schedule(ctx context.Context, resourceID string) (*model.ScheduleConfiguration, *time.Location, error) {
	cfg, err := e.rules.ScheduleByResource(ctx, resourceID)
	if errors.Is(err, rules.ErrNotFound) {
		return nil, nil, ErrConfigurationMissing
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load schedule for %s: %w", resourceID, err)
	}
	if cfg.SlotGranularityMinutes <= 0 {
		return nil, nil, fmt.Errorf("schedule for %s: non-positive slot granularity", resourceID)
	}

	loc, err := e.zones.Location(cfg.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("schedule for %s: %w", resourceID, err)
	}
	return cfg, loc, nil
}

func (e *Engine) busy(ctx context.Context, resourceID string, span interval.Interval) ([]interval.Interval, error) {
	if e.occupancy == nil {
		return nil, nil
	}
	occupied, err := e.occupancy.ActiveOccupancies(ctx, resourceID, span.Start, span.End)
	if err != nil {
		return nil, fmt.Errorf("load occupancies for %s: %w", resourceID, err)
	}

	busy := make([]interval.Interval, 0, len(occupied))
	for i := range occupied {
		if occupied[i].Blocks(span) {
			busy = append(busy, occupied[i].Interval())
		}
	}
	return busy, nil
}
