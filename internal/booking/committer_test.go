package booking

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotwise/internal/clock"
	"slotwise/internal/config"
	"slotwise/internal/db"
	"slotwise/internal/events"
	"slotwise/internal/model"
	"slotwise/internal/rules"
	"slotwise/internal/slots"
)

// 2026-03-02 is a Monday.
var monday = model.NewDate(2026, 3, 2)

func at(hhmm string) time.Time {
	t, err := model.ParseTimeOfDay(hhmm)
	if err != nil {
		panic(err)
	}
	return t.On(monday, time.UTC)
}

type scheduleStore interface {
	rules.Store
	rules.OccupancyStore
}

func seed(t *testing.T, store scheduleStore) {
	t.Helper()
	ctx := context.Background()
	cfg := &model.ScheduleConfiguration{
		ResourceID:             "dr-lee",
		Timezone:               "UTC",
		MinLeadMinutes:         60,
		MaxLeadMinutes:         30 * 24 * 60,
		SlotGranularityMinutes: 30,
		AcceptsBookings:        true,
		IsActive:               true,
	}
	require.NoError(t, store.SaveSchedule(ctx, cfg))
	rule := &model.WeeklyAvailabilityRule{ScheduleID: cfg.ID, Weekday: time.Monday, StartTime: 9 * 60, EndTime: 17 * 60, IsActive: true}
	require.NoError(t, store.AddWeeklyRule(ctx, rule))
	require.NoError(t, store.AddBreak(ctx, &model.BreakRule{WeeklyRuleID: rule.ID, StartTime: 12 * 60, EndTime: 13 * 60}))
}

type harness struct {
	store     scheduleStore
	clock     *clock.Manual
	engine    *slots.Engine
	committer *Committer
	published []events.OccupancyChange
}

func newHarness(t *testing.T, store scheduleStore, policy config.BookingPolicy) *harness {
	t.Helper()
	seed(t, store)
	c := clock.NewManual(at("08:00"))
	engine := slots.NewEngine(store, store, c, zerolog.Nop())

	h := &harness{store: store, clock: c, engine: engine}
	bus := events.NewBus(zerolog.Nop())
	bus.Subscribe(events.OccupancyChanged, func(e events.Event) error {
		var change events.OccupancyChange
		if err := e.Decode(&change); err != nil {
			return err
		}
		h.published = append(h.published, change)
		return nil
	})
	h.committer = NewCommitter(store, engine, c, policy, bus, zerolog.Nop())
	return h
}

func request(hhmm string, minutes int) Request {
	return Request{ResourceID: "dr-lee", Start: at(hhmm), DurationMinutes: minutes}
}

func TestCommit(t *testing.T) {
	h := newHarness(t, rules.NewMemoryStore(), config.BookingPolicy{})
	ctx := context.Background()

	out, err := h.committer.Commit(ctx, request("10:00", 60))
	require.NoError(t, err)
	require.True(t, out.Committed)
	assert.Equal(t, model.StatusPending, out.Occupancy.Status)
	assert.True(t, out.Occupancy.EndTime.Equal(at("11:00")))
	assert.NotEmpty(t, out.Occupancy.ID)
	require.Len(t, h.published, 1)
	assert.Equal(t, out.Occupancy.ID, h.published[0].OccupancyID)

	tests := []struct {
		name   string
		req    Request
		reason model.Reason
	}{
		{"overlap", request("10:30", 30), model.ReasonOccupancyConflict},
		{"break", request("11:30", 60), model.ReasonOnBreak},
		{"lead window", request("08:30", 30), model.ReasonOutsideLeadWindow},
		{"after hours", request("16:30", 60), model.ReasonOutsideWorkingHours},
		{"unknown resource", Request{ResourceID: "ghost", Start: at("10:00"), DurationMinutes: 30}, model.ReasonConfigurationMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := h.committer.Commit(ctx, tt.req)
			require.NoError(t, err)
			assert.False(t, out.Committed)
			assert.Nil(t, out.Occupancy)
			assert.Equal(t, tt.reason, out.Result.Reason)
		})
	}

	out, err = h.committer.Commit(ctx, request("11:00", 60))
	require.NoError(t, err)
	assert.True(t, out.Committed, "back-to-back occupancies do not overlap")

	_, err = h.committer.Commit(ctx, Request{ResourceID: "dr-lee", Start: at("14:00"), DurationMinutes: 30, Status: model.StatusCancelled})
	assert.ErrorIs(t, err, rules.ErrInvalidRule)

	_, err = h.committer.Commit(ctx, request("14:00", 0))
	assert.ErrorIs(t, err, slots.ErrInvalidDuration)
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t, rules.NewMemoryStore(), config.BookingPolicy{CancellationWindowMinutes: 120})
	ctx := context.Background()

	first, err := h.committer.Commit(ctx, request("10:00", 60))
	require.NoError(t, err)
	id := first.Occupancy.ID

	out, err := h.committer.UpdateStatus(ctx, id, model.StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, out.Committed)

	_, err = h.committer.UpdateStatus(ctx, id, model.StatusCompleted)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.committer.UpdateStatus(ctx, id, "archived")
	assert.ErrorIs(t, err, rules.ErrInvalidRule)

	_, err = h.committer.UpdateStatus(ctx, "missing", model.StatusCancelled)
	assert.ErrorIs(t, err, rules.ErrNotFound)

	// 08:00 is only two hours before 10:00; move the clock inside the window.
	h.clock.Set(at("08:30"))
	_, err = h.committer.UpdateStatus(ctx, id, model.StatusCancelled)
	assert.ErrorIs(t, err, ErrCancellationWindow)

	h.clock.Set(at("07:00"))
	out, err = h.committer.UpdateStatus(ctx, id, model.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, out.Committed)
	assert.Equal(t, model.StatusCancelled, out.Occupancy.Status)

	// The cancelled interval is free again.
	taken, err := h.committer.Commit(ctx, request("10:30", 30))
	require.NoError(t, err)
	require.True(t, taken.Committed)

	// Reactivation is re-validated against the new occupancy.
	out, err = h.committer.UpdateStatus(ctx, id, model.StatusConfirmed)
	require.NoError(t, err)
	assert.False(t, out.Committed)
	assert.Equal(t, model.ReasonOccupancyConflict, out.Result.Reason)

	_, err = h.committer.UpdateStatus(ctx, taken.Occupancy.ID, model.StatusCancelled)
	require.NoError(t, err)
	out, err = h.committer.UpdateStatus(ctx, id, model.StatusConfirmed)
	require.NoError(t, err)
	assert.True(t, out.Committed)

	assert.Len(t, h.published, 6)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to model.OccupancyStatus
		want     bool
	}{
		{model.StatusPending, model.StatusConfirmed, true},
		{model.StatusConfirmed, model.StatusNoShow, true},
		{model.StatusInProgress, model.StatusCompleted, true},
		{model.StatusCancelled, model.StatusPending, true},
		{model.StatusCompleted, model.StatusPending, false},
		{model.StatusNoShow, model.StatusConfirmed, false},
		{model.StatusPending, model.StatusCompleted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func assertNoOverlap(t *testing.T, list []model.BookingOccupancy) {
	t.Helper()
	for i := range list {
		for j := i + 1; j < len(list); j++ {
			assert.False(t, list[i].OverlapsWith(&list[j]), "%s overlaps %s", list[i].ID, list[j].ID)
		}
	}
}

func commitConcurrently(t *testing.T, c *Committer, reqs []Request) int {
	t.Helper()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for _, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := c.Commit(context.Background(), req)
			assert.NoError(t, err)
			if out.Committed {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return won
}

func overlappingRequests() []Request {
	// Every request overlaps 10:00-10:30, so at most one can win.
	var reqs []Request
	for i := 0; i < 10; i++ {
		reqs = append(reqs, request("10:00", 30))
		reqs = append(reqs, request("09:30", 60))
		reqs = append(reqs, request("10:00", 60))
	}
	return reqs
}

func TestCommit_ConcurrentMemory(t *testing.T) {
	store := rules.NewMemoryStore()
	h := newHarness(t, store, config.BookingPolicy{})

	assert.Equal(t, 1, commitConcurrently(t, h.committer, overlappingRequests()))

	active, err := store.ActiveOccupancies(context.Background(), "dr-lee", at("00:00"), at("23:59"))
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assertNoOverlap(t, active)
}

func TestCommit_ConcurrentSQLite(t *testing.T) {
	logger := zerolog.New(io.Discard)
	store, err := db.NewDB(filepath.Join(t.TempDir(), "commit.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := newHarness(t, store, config.BookingPolicy{})

	// Separate committers share only the database, as separate processes would.
	other := NewCommitter(store, h.engine, h.clock, config.BookingPolicy{}, nil, zerolog.Nop())
	reqs := overlappingRequests()
	var wg sync.WaitGroup
	var won [2]int
	for i, c := range []*Committer{h.committer, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won[i] = commitConcurrently(t, c, reqs)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won[0]+won[1])

	active, err := store.ActiveOccupancies(context.Background(), "dr-lee", at("00:00"), at("23:59"))
	require.NoError(t, err)
	assert.Len(t, active, 1)
	assertNoOverlap(t, active)
}
