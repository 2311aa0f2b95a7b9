package events

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotwise/internal/model"
)

func TestBus_PublishOrderAndErrors(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var calls []string
	bus.Subscribe(RulesChanged, func(Event) error {
		calls = append(calls, "first")
		return errors.New("boom")
	})
	bus.Subscribe(RulesChanged, func(e Event) error {
		calls = append(calls, "second")
		assert.False(t, e.CreatedAt.IsZero())
		return nil
	})
	bus.Subscribe(OccupancyChanged, func(Event) error {
		calls = append(calls, "other")
		return nil
	})

	bus.Publish(Event{Type: RulesChanged})
	assert.Equal(t, []string{"first", "second"}, calls)

	bus.Publish(Event{Type: "unknown"})
	assert.Len(t, calls, 2)
}

func TestBus_PublishJSON(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	var got OccupancyChange
	bus.Subscribe(OccupancyChanged, func(e Event) error {
		return e.Decode(&got)
	})

	want := OccupancyChange{
		OccupancyID: "occ-1",
		ResourceID:  "dr-lee",
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Status:      model.StatusConfirmed,
	}
	require.NoError(t, bus.PublishJSON(OccupancyChanged, want))
	assert.Equal(t, want.ResourceID, got.ResourceID)
	assert.True(t, want.StartTime.Equal(got.StartTime))
	assert.Equal(t, model.StatusConfirmed, got.Status)

	assert.Error(t, bus.PublishJSON(RulesChanged, make(chan int)))
	assert.Error(t, Event{Type: RulesChanged, Payload: []byte("{")}.Decode(&RulesChange{}))
}
