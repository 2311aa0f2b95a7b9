// Package aggregate answers availability questions across several resources
// and dates on top of a per-resource slot source.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"slotwise/internal/model"
	"slotwise/internal/slots"
)

var (
	ErrInvalidRange  = errors.New("aggregate: end date before start date")
	ErrRangeTooLarge = errors.New("aggregate: date range exceeds limit")
	ErrInvalidLimit  = errors.New("aggregate: max slots must be positive")
)

// SlotSource computes the slots of one resource on one date. Both
// *slots.Engine and the slot cache satisfy it.
type SlotSource interface {
	ComputeAvailableSlots(ctx context.Context, resourceID string, date model.Date, durationMinutes int) ([]model.Slot, error)
	LocalToday(ctx context.Context, resourceID string) (model.Date, error)
}

// ResourceLister supplies the default resource set.
type ResourceLister interface {
	ResourceIDs(ctx context.Context) ([]string, error)
}

// Limits bound the work of a single call.
type Limits struct {
	DefaultHorizonDays int
	MaxHorizonDays     int
	MaxSummaryDays     int
	Concurrency        int
}

func (l Limits) withDefaults() Limits {
	if l.DefaultHorizonDays <= 0 {
		l.DefaultHorizonDays = 30
	}
	if l.MaxHorizonDays <= 0 {
		l.MaxHorizonDays = 180
	}
	if l.MaxSummaryDays <= 0 {
		l.MaxSummaryDays = 90
	}
	if l.Concurrency <= 0 {
		l.Concurrency = 8
	}
	return l
}

type Engine struct {
	source    SlotSource
	resources ResourceLister
	limits    Limits
	logger    zerolog.Logger
}

func New(source SlotSource, resources ResourceLister, limits Limits, logger zerolog.Logger) *Engine {
	return &Engine{
		source:    source,
		resources: resources,
		limits:    limits.withDefaults(),
		logger:    logger.With().Str("component", "aggregate").Logger(),
	}
}

// GetSlotsForResourceSet computes the slots of every resource on date using
// the service's effective duration. A resource without a configuration maps
// to an empty list; any other failure fails the whole call.
func (e *Engine) GetSlotsForResourceSet(ctx context.Context, resourceIDs []string, date model.Date, service model.Service) (map[string][]model.Slot, error) {
	duration := service.EffectiveDurationMinutes()
	if duration <= 0 {
		return nil, slots.ErrInvalidDuration
	}
	ids, err := e.resolve(ctx, resourceIDs)
	if err != nil {
		return nil, err
	}

	results := make([][]model.Slot, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limits.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			list, err := e.compute(gctx, id, date, duration)
			if err != nil {
				return err
			}
			results[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string][]model.Slot, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}
	return out, nil
}

// GetEarliestSlot returns the earliest available slot across the resources
// within horizonDays of each resource's local today, or nil. Ties go to the
// resource listed first.
func (e *Engine) GetEarliestSlot(ctx context.Context, resourceIDs []string, service model.Service, horizonDays int) (*model.Slot, error) {
	found, err := e.upcoming(ctx, resourceIDs, service, horizonDays, 1)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

// ListUpcomingSlots returns at most maxSlots available slots across the
// resources in start order.
func (e *Engine) ListUpcomingSlots(ctx context.Context, resourceIDs []string, service model.Service, horizonDays, maxSlots int) ([]model.Slot, error) {
	if maxSlots <= 0 {
		return nil, ErrInvalidLimit
	}
	return e.upcoming(ctx, resourceIDs, service, horizonDays, maxSlots)
}

func (e *Engine) upcoming(ctx context.Context, resourceIDs []string, service model.Service, horizonDays, maxSlots int) ([]model.Slot, error) {
	duration := service.EffectiveDurationMinutes()
	if duration <= 0 {
		return nil, slots.ErrInvalidDuration
	}
	horizon := e.horizon(horizonDays)
	ids, err := e.resolve(ctx, resourceIDs)
	if err != nil {
		return nil, err
	}

	perResource := make([][]model.Slot, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limits.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			list, err := e.scan(gctx, id, duration, horizon, maxSlots)
			if err != nil {
				return err
			}
			perResource[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []model.Slot
	for _, list := range perResource {
		merged = append(merged, list...)
	}
	// Stable sort keeps input order for equal start times.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].StartTime.Before(merged[j].StartTime)
	})
	if len(merged) > maxSlots {
		merged = merged[:maxSlots]
	}
	return merged, nil
}

// scan walks dates from the resource's local today and stops as soon as
// limit available slots have been collected.
func (e *Engine) scan(ctx context.Context, resourceID string, duration, horizon, limit int) ([]model.Slot, error) {
	today, err := e.source.LocalToday(ctx, resourceID)
	if errors.Is(err, slots.ErrConfigurationMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var found []model.Slot
	for day := 0; day < horizon && len(found) < limit; day++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list, err := e.compute(ctx, resourceID, today.AddDays(day), duration)
		if err != nil {
			return nil, err
		}
		for _, s := range list {
			if s.Available {
				found = append(found, s)
				if len(found) == limit {
					break
				}
			}
		}
	}
	return found, nil
}

// Counts is the number of candidate and available slots.
type Counts struct {
	Total     int `json:"total"`
	Available int `json:"available"`
}

func (c *Counts) add(o Counts) {
	c.Total += o.Total
	c.Available += o.Available
}

type DaySummary struct {
	Date      model.Date        `json:"date"`
	Resources map[string]Counts `json:"resources"`
	Total     Counts            `json:"total"`
}

// Summary is a calendar-level view of availability.
type Summary struct {
	Service     model.Service `json:"service"`
	Start       model.Date    `json:"start"`
	End         model.Date    `json:"end"`
	ResourceIDs []string      `json:"resource_ids"`
	Days        []DaySummary  `json:"days"`
	Total       Counts        `json:"total"`
}

// GetAvailabilitySummary counts slots per date and resource over the
// inclusive range [start, end].
func (e *Engine) GetAvailabilitySummary(ctx context.Context, resourceIDs []string, service model.Service, start, end model.Date) (*Summary, error) {
	if end.Before(start) {
		return nil, ErrInvalidRange
	}
	days := start.DaysUntil(end) + 1
	if days > e.limits.MaxSummaryDays {
		return nil, fmt.Errorf("%w: %d days, max %d", ErrRangeTooLarge, days, e.limits.MaxSummaryDays)
	}
	ids, err := e.resolve(ctx, resourceIDs)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Service:     service,
		Start:       start,
		End:         end,
		ResourceIDs: ids,
		Days:        make([]DaySummary, 0, days),
	}
	for i := 0; i < days; i++ {
		date := start.AddDays(i)
		bySet, err := e.GetSlotsForResourceSet(ctx, ids, date, service)
		if err != nil {
			return nil, err
		}

		ds := DaySummary{Date: date, Resources: make(map[string]Counts, len(ids))}
		for _, id := range ids {
			c := Counts{Total: len(bySet[id]), Available: slots.CountAvailable(bySet[id])}
			ds.Resources[id] = c
			ds.Total.add(c)
		}
		summary.Total.add(ds.Total)
		summary.Days = append(summary.Days, ds)
	}

	e.logger.Debug().
		Int("resources", len(ids)).
		Int("days", days).
		Int("available", summary.Total.Available).
		Msg("availability summary computed")
	return summary, nil
}

func (e *Engine) compute(ctx context.Context, resourceID string, date model.Date, duration int) ([]model.Slot, error) {
	list, err := e.source.ComputeAvailableSlots(ctx, resourceID, date, duration)
	if errors.Is(err, slots.ErrConfigurationMissing) {
		e.logger.Debug().Str("resource_id", resourceID).Msg("skipping resource without configuration")
		return []model.Slot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("slots for %s on %s: %w", resourceID, date, err)
	}
	return list, nil
}

// resolve returns the explicit resource set, de-duplicated in input order, or
// every active resource when none is given.
func (e *Engine) resolve(ctx context.Context, resourceIDs []string) ([]string, error) {
	if len(resourceIDs) == 0 {
		if e.resources == nil {
			return nil, nil
		}
		ids, err := e.resources.ResourceIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list resources: %w", err)
		}
		return ids, nil
	}

	seen := make(map[string]struct{}, len(resourceIDs))
	out := make([]string, 0, len(resourceIDs))
	for _, id := range resourceIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (e *Engine) horizon(days int) int {
	if days <= 0 {
		return e.limits.DefaultHorizonDays
	}
	if days > e.limits.MaxHorizonDays {
		return e.limits.MaxHorizonDays
	}
	return days
}
