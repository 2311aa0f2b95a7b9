package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"slotwise/internal/clock"
	"slotwise/internal/model"
	"slotwise/internal/rules"
	"slotwise/internal/slots"
)

// 2026-03-01 is a Sunday.
var sunday = model.NewDate(2026, 3, 1)

func tod(s string) model.TimeOfDay {
	t, err := model.ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *rules.MemoryStore
	clock *clock.Manual
	agg   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := rules.NewMemoryStore()
	c := clock.NewManual(tod("08:00").On(sunday, time.UTC))
	engine := slots.NewEngine(store, store, c, zerolog.Nop())
	return &fixture{
		t:     t,
		ctx:   context.Background(),
		store: store,
		clock: c,
		agg:   New(engine, engine, Limits{MaxHorizonDays: 60, MaxSummaryDays: 14, Concurrency: 2}, zerolog.Nop()),
	}
}

// resource creates a UTC schedule open on one weekday.
func (f *fixture) resource(id string, day time.Weekday, start, end string) *model.ScheduleConfiguration {
	f.t.Helper()
	cfg := &model.ScheduleConfiguration{
		ResourceID:             id,
		Timezone:               "UTC",
		MaxLeadMinutes:         60 * 24 * 60,
		SlotGranularityMinutes: 30,
		AcceptsBookings:        true,
		IsActive:               true,
	}
	require.NoError(f.t, f.store.SaveSchedule(f.ctx, cfg))
	require.NoError(f.t, f.store.AddWeeklyRule(f.ctx, &model.WeeklyAvailabilityRule{
		ScheduleID: cfg.ID, Weekday: day, StartTime: tod(start), EndTime: tod(end), IsActive: true,
	}))
	return cfg
}

var hour = model.Service{ID: "consult", DurationMinutes: 60}

func TestGetEarliestSlot_AcrossResources(t *testing.T) {
	f := newFixture(t)
	f.resource("a", time.Tuesday, "10:00", "12:00")
	f.resource("b", time.Monday, "15:00", "17:00")

	got, err := f.agg.GetEarliestSlot(f.ctx, []string{"a", "b"}, hour, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ResourceID)
	assert.True(t, got.StartTime.Equal(tod("15:00").On(sunday.AddDays(1), time.UTC)))
	assert.True(t, got.Available)
}

func TestGetEarliestSlot_TiesAndHorizon(t *testing.T) {
	f := newFixture(t)
	f.resource("a", time.Wednesday, "09:00", "12:00")
	f.resource("b", time.Wednesday, "09:00", "12:00")

	got, err := f.agg.GetEarliestSlot(f.ctx, []string{"b", "a"}, hour, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "b", got.ResourceID, "ties go to the first listed resource")

	// Wednesday is three days out; a two-day horizon covers Sunday and Monday.
	got, err = f.agg.GetEarliestSlot(f.ctx, []string{"a", "b"}, hour, 2)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = f.agg.GetEarliestSlot(f.ctx, []string{"a", "ghost"}, hour, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a", got.ResourceID)
}

func TestGetEarliestSlot_SkipsOccupiedAndPast(t *testing.T) {
	f := newFixture(t)
	f.resource("a", time.Sunday, "07:00", "11:00")

	require.NoError(t, f.store.AddOccupancy(f.ctx, model.BookingOccupancy{
		ID: "occ", ResourceID: "a",
		StartTime: tod("08:00").On(sunday, time.UTC), EndTime: tod("09:30").On(sunday, time.UTC),
		Status: model.StatusConfirmed,
	}))

	got, err := f.agg.GetEarliestSlot(f.ctx, nil, hour, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.StartTime.Equal(tod("09:30").On(sunday, time.UTC)))
}

func TestGetSlotsForResourceSet_EffectiveDuration(t *testing.T) {
	f := newFixture(t)
	f.resource("a", time.Monday, "09:00", "11:00")
	f.resource("b", time.Monday, "09:00", "10:00")
	monday := sunday.AddDays(1)

	svc := model.Service{DurationMinutes: 30, BufferBeforeMinutes: 15, BufferAfterMinutes: 15}
	got, err := f.agg.GetSlotsForResourceSet(f.ctx, []string{"a", "b", "a", "ghost"}, monday, svc)
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.Len(t, got["a"], 3)
	for _, s := range got["a"] {
		assert.Equal(t, time.Hour, s.EndTime.Sub(s.StartTime))
	}
	assert.Len(t, got["b"], 1)
	assert.NotNil(t, got["ghost"])
	assert.Empty(t, got["ghost"])

	_, err = f.agg.GetSlotsForResourceSet(f.ctx, []string{"a"}, monday, model.Service{})
	assert.ErrorIs(t, err, slots.ErrInvalidDuration)
}

func TestGetAvailabilitySummary(t *testing.T) {
	f := newFixture(t)
	f.resource("a", time.Monday, "09:00", "11:00")
	f.resource("b", time.Tuesday, "09:00", "10:00")
	monday := sunday.AddDays(1)

	summary, err := f.agg.GetAvailabilitySummary(f.ctx, nil, hour, sunday, monday.AddDays(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, summary.ResourceIDs)
	require.Len(t, summary.Days, 3)

	assert.Equal(t, Counts{}, summary.Days[0].Total)
	assert.Equal(t, Counts{Total: 3, Available: 3}, summary.Days[1].Resources["a"])
	assert.Equal(t, Counts{}, summary.Days[1].Resources["b"])
	assert.Equal(t, Counts{Total: 1, Available: 1}, summary.Days[2].Resources["b"])
	assert.Equal(t, Counts{Total: 4, Available: 4}, summary.Total)

	_, err = f.agg.GetAvailabilitySummary(f.ctx, nil, hour, monday, sunday)
	assert.ErrorIs(t, err, ErrInvalidRange)

	_, err = f.agg.GetAvailabilitySummary(f.ctx, nil, hour, sunday, sunday.AddDays(14))
	assert.ErrorIs(t, err, ErrRangeTooLarge)
}

func TestListUpcomingSlots(t *testing.T) {
	f := newFixture(t)
	f.resource("a", time.Monday, "09:00", "11:00")
	f.resource("b", time.Monday, "09:30", "10:30")

	got, err := f.agg.ListUpcomingSlots(f.ctx, []string{"a", "b"}, hour, 7, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ResourceID)
	assert.Equal(t, "a", got[1].ResourceID)
	assert.Equal(t, "b", got[2].ResourceID, "equal starts keep input order")
	assert.True(t, got[1].StartTime.Equal(got[2].StartTime))

	_, err = f.agg.ListUpcomingSlots(f.ctx, nil, hour, 7, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) ComputeAvailableSlots(ctx context.Context, resourceID string, date model.Date, durationMinutes int) ([]model.Slot, error) {
	args := m.Called(ctx, resourceID, date, durationMinutes)
	list, _ := args.Get(0).([]model.Slot)
	return list, args.Error(1)
}

func (m *mockSource) LocalToday(ctx context.Context, resourceID string) (model.Date, error) {
	args := m.Called(ctx, resourceID)
	return args.Get(0).(model.Date), args.Error(1)
}

func (m *mockSource) ResourceIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]string)
	return list, args.Error(1)
}

func TestStoreFailuresPropagate(t *testing.T) {
	src := new(mockSource)
	boom := errors.New("store unreachable")
	src.On("ComputeAvailableSlots", mock.Anything, "a", sunday, 60).Return([]model.Slot{}, nil)
	src.On("ComputeAvailableSlots", mock.Anything, "b", sunday, 60).Return(nil, boom)
	src.On("LocalToday", mock.Anything, "a").Return(sunday, nil)
	src.On("LocalToday", mock.Anything, "b").Return(model.Date{}, slots.ErrConfigurationMissing)
	src.On("ResourceIDs", mock.Anything).Return(nil, boom)

	agg := New(src, src, Limits{}, zerolog.Nop())
	ctx := context.Background()

	_, err := agg.GetSlotsForResourceSet(ctx, []string{"a", "b"}, sunday, hour)
	assert.ErrorIs(t, err, boom, "no partial results")

	got, err := agg.GetEarliestSlot(ctx, []string{"b"}, hour, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = agg.GetAvailabilitySummary(ctx, nil, hour, sunday, sunday)
	assert.ErrorIs(t, err, boom)

	src.AssertCalled(t, "LocalToday", mock.Anything, "b")
	src.AssertNotCalled(t, "ComputeAvailableSlots", mock.Anything, "b", sunday.AddDays(1), 60)
}
