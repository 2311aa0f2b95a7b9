package slots

import (
	"context"
	"fmt"
	"time"

	"slotwise/internal/interval"
	"slotwise/internal/model"
)

// window is one working interval of a day together with its breaks, all
// anchored to absolute instants.
type window struct {
	span   interval.Interval
	breaks []interval.Interval
}

func (w window) check(candidate interval.Interval, busy []interval.Interval) model.Reason {
	if interval.OverlapsAny(candidate, w.breaks) {
		return model.ReasonOnBreak
	}
	if interval.OverlapsAny(candidate, busy) {
		return model.ReasonOccupancyConflict
	}
	return model.ReasonAvailable
}

type day struct {
	date      model.Date
	blockedBy *model.DateException
	windows   []window
}

// bounds spans every window of the day.
func (d *day) bounds() interval.Interval {
	b := d.windows[0].span
	for _, w := range d.windows[1:] {
		if w.span.Start.Before(b.Start) {
			b.Start = w.span.Start
		}
		if w.span.End.After(b.End) {
			b.End = w.span.End
		}
	}
	return b
}

// resolveDay decides which working windows apply on date. A blocking
// exception wins outright and special hours replace the weekly rules and
// their breaks.
func (e *Engine) resolveDay(ctx context.Context, cfg *model.ScheduleConfiguration, loc *time.Location, date model.Date) (*day, error) {
	d := &day{date: date}

	exc, err := e.rules.DateException(ctx, cfg.ID, date)
	if err != nil {
		return nil, fmt.Errorf("load exception for %s on %s: %w", cfg.ResourceID, date, err)
	}
	if exc != nil {
		if !exc.Kind.Valid() {
			return nil, fmt.Errorf("%w %q for %s on %s", ErrUnknownException, exc.Kind, cfg.ResourceID, date)
		}
		if exc.Kind.Blocks() {
			d.blockedBy = exc
			return d, nil
		}
		if exc.Kind == model.ExceptionSpecialHours && exc.StartTime != nil && exc.EndTime != nil {
			span := interval.New(exc.StartTime.On(date, loc), exc.EndTime.On(date, loc))
			if span.Valid() {
				d.windows = []window{{span: span}}
			}
			return d, nil
		}
	}

	weekly, err := e.rules.WeeklyRules(ctx, cfg.ID, date.Weekday())
	if err != nil {
		return nil, fmt.Errorf("load weekly rules for %s: %w", cfg.ResourceID, err)
	}

	active := make([]model.WeeklyAvailabilityRule, 0, len(weekly))
	ids := make([]int64, 0, len(weekly))
	for _, r := range weekly {
		if r.IsActive {
			active = append(active, r)
			ids = append(ids, r.ID)
		}
	}
	if len(active) == 0 {
		return d, nil
	}

	breaks, err := e.rules.BreaksByRule(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load breaks for %s: %w", cfg.ResourceID, err)
	}

	for _, r := range active {
		span := interval.New(r.StartTime.On(date, loc), r.EndTime.On(date, loc))
		if !span.Valid() {
			continue
		}
		w := window{span: span}
		for _, b := range breaks[r.ID] {
			w.breaks = append(w.breaks, interval.New(b.StartTime.On(date, loc), b.EndTime.On(date, loc)))
		}
		d.windows = append(d.windows, w)
	}
	return d, nil
}
