// Package booking writes occupancies at the commit boundary: the final
// availability check and the write happen in one transaction.
package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"slotwise/internal/clock"
	"slotwise/internal/config"
	"slotwise/internal/events"
	"slotwise/internal/metrics"
	"slotwise/internal/model"
	"slotwise/internal/rules"
	"slotwise/internal/slots"
)

var (
	ErrInvalidTransition  = errors.New("booking: status transition not allowed")
	ErrCancellationWindow = errors.New("booking: too late to cancel")
)

// Publisher delivers change notifications. *events.Bus satisfies it.
type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

// Request asks for a new occupancy.
type Request struct {
	ResourceID      string
	Start           time.Time
	DurationMinutes int
	Status          model.OccupancyStatus // defaults to pending
	Reference       string
}

// Outcome reports whether the write happened. When it did not, Result carries
// the reason.
type Outcome struct {
	Committed bool                    `json:"committed"`
	Occupancy *model.BookingOccupancy `json:"occupancy,omitempty"`
	Result    slots.Result            `json:"result"`
}

type Committer struct {
	store  rules.OccupancyStore
	engine *slots.Engine
	clock  clock.Clock
	policy config.BookingPolicy
	events Publisher
	locks  *resourceLocks
	newID  func() string
	logger zerolog.Logger
}

func NewCommitter(
	store rules.OccupancyStore,
	engine *slots.Engine,
	c clock.Clock,
	policy config.BookingPolicy,
	publisher Publisher,
	logger zerolog.Logger,
) *Committer {
	if c == nil {
		c = clock.System{}
	}
	return &Committer{
		store:  store,
		engine: engine,
		clock:  c,
		policy: policy,
		events: publisher,
		locks:  newResourceLocks(),
		newID:  uuid.NewString,
		logger: logger.With().Str("component", "booking").Logger(),
	}
}

// Commit re-validates the requested interval and stores it. A rejected
// request is an Outcome with Committed false, not an error.
func (c *Committer) Commit(ctx context.Context, req Request) (Outcome, error) {
	if req.Status == "" {
		req.Status = model.StatusPending
	}
	if !req.Status.IsActive() {
		return Outcome{}, rules.Invalid("status", fmt.Sprintf("new occupancy must be active, got %q", req.Status))
	}
	if req.DurationMinutes <= 0 {
		return Outcome{}, slots.ErrInvalidDuration
	}

	unlock := c.locks.lock(req.ResourceID)
	defer unlock()

	tx, err := c.store.BeginOccupancyTx(ctx)
	if err != nil {
		metrics.IncCommit("error")
		return Outcome{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := c.engine.WithOccupancy(tx).IsAvailableAt(ctx, req.ResourceID, req.Start, req.DurationMinutes)
	if err != nil {
		metrics.IncCommit("error")
		return Outcome{}, err
	}
	if !res.Available {
		metrics.IncCommit("rejected")
		c.logger.Info().
			Str("resource_id", req.ResourceID).
			Time("start", req.Start).
			Str("reason", string(res.Reason)).
			Msg("commit rejected")
		return Outcome{Result: res}, nil
	}

	now := c.clock.Now()
	occ := &model.BookingOccupancy{
		ID:         c.newID(),
		ResourceID: req.ResourceID,
		StartTime:  req.Start,
		EndTime:    req.Start.Add(time.Duration(req.DurationMinutes) * time.Minute),
		Status:     req.Status,
		Reference:  req.Reference,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Active occupancies of one resource never overlap, whatever the rules say.
	conflict, err := c.overlaps(ctx, tx, occ)
	if err != nil {
		metrics.IncCommit("error")
		return Outcome{}, err
	}
	if conflict {
		metrics.IncCommit("rejected")
		return Outcome{Result: slots.Result{Reason: model.ReasonOccupancyConflict}}, nil
	}

	if err := tx.InsertOccupancy(ctx, occ); err != nil {
		metrics.IncCommit("error")
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		metrics.IncCommit("error")
		return Outcome{}, fmt.Errorf("commit occupancy: %w", err)
	}

	metrics.IncCommit("ok")
	c.logger.Info().
		Str("occupancy_id", occ.ID).
		Str("resource_id", occ.ResourceID).
		Time("start", occ.StartTime).
		Time("end", occ.EndTime).
		Msg("occupancy committed")
	c.publish(occ)

	return Outcome{Committed: true, Occupancy: occ, Result: res}, nil
}

// UpdateStatus moves an occupancy to a new status. Cancelling honours the
// cancellation window; reactivating re-validates the interval.
func (c *Committer) UpdateStatus(ctx context.Context, id string, status model.OccupancyStatus) (Outcome, error) {
	if !status.Valid() {
		return Outcome{}, rules.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	tx, err := c.store.BeginOccupancyTx(ctx)
	if err != nil {
		return Outcome{}, err
	}
	defer func() { _ = tx.Rollback() }()

	occ, err := tx.GetOccupancy(ctx, id)
	if err != nil {
		return Outcome{}, err
	}
	if occ.Status == status {
		return Outcome{Committed: true, Occupancy: occ, Result: slots.Result{Available: true, Reason: model.ReasonAvailable}}, nil
	}
	if !CanTransition(occ.Status, status) {
		return Outcome{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, occ.Status, status)
	}

	now := c.clock.Now()
	if status == model.StatusCancelled && c.policy.CancellationWindowMinutes > 0 {
		if occ.StartTime.Sub(now) < c.policy.CancellationWindow() {
			return Outcome{}, fmt.Errorf("%w: starts at %s", ErrCancellationWindow, occ.StartTime.Format(time.RFC3339))
		}
	}

	res := slots.Result{Available: true, Reason: model.ReasonAvailable}
	if isReactivation(occ.Status, status) {
		minutes := int(occ.Duration() / time.Minute)
		res, err = c.engine.WithOccupancy(tx).IsAvailableAt(ctx, occ.ResourceID, occ.StartTime, minutes)
		if err != nil {
			return Outcome{}, err
		}
		if !res.Available {
			metrics.IncCommit("rejected")
			return Outcome{Occupancy: occ, Result: res}, nil
		}
	}

	if err := tx.UpdateOccupancyStatus(ctx, id, status, now); err != nil {
		return Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, fmt.Errorf("commit status: %w", err)
	}

	occ.Status = status
	occ.UpdatedAt = now
	c.logger.Info().
		Str("occupancy_id", occ.ID).
		Str("status", string(status)).
		Msg("occupancy status updated")
	c.publish(occ)

	return Outcome{Committed: true, Occupancy: occ, Result: res}, nil
}

func (c *Committer) overlaps(ctx context.Context, tx rules.OccupancyTx, occ *model.BookingOccupancy) (bool, error) {
	existing, err := tx.ActiveOccupancies(ctx, occ.ResourceID, occ.StartTime, occ.EndTime)
	if err != nil {
		return false, err
	}
	for i := range existing {
		if existing[i].OverlapsWith(occ) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Committer) publish(occ *model.BookingOccupancy) {
	if c.events == nil {
		return
	}
	err := c.events.PublishJSON(events.OccupancyChanged, events.OccupancyChange{
		OccupancyID: occ.ID,
		ResourceID:  occ.ResourceID,
		StartTime:   occ.StartTime,
		EndTime:     occ.EndTime,
		Status:      occ.Status,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("occupancy_id", occ.ID).Msg("publish occupancy change")
	}
}

// resourceLocks hands out one mutex per resource.
type resourceLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newResourceLocks() *resourceLocks {
	return &resourceLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *resourceLocks) lock(resourceID string) func() {
	l.mu.Lock()
	m, ok := l.locks[resourceID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[resourceID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
