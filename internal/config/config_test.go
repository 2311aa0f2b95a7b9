package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotwise/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SLOTWISE_REDIS_PASSWORD", "s3cret")

	path := writeFile(t, dir, "config.yaml", `
database:
  path: `+filepath.Join(dir, "data", "test.db")+`
redis:
  address: localhost:6379
  password: ${SLOTWISE_REDIS_PASSWORD}
policy:
  cancellation_window_minutes: 120
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Redis.Password)
	assert.Equal(t, 2*time.Hour, cfg.Policy.CancellationWindow())
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, 60*time.Second, cfg.CacheTTL())
	assert.Equal(t, 7, cfg.Cache.WarmDays)
	assert.Equal(t, []int{30, 60}, cfg.Cache.WarmDurations)
	assert.Equal(t, 5*time.Minute, cfg.WarmInterval())
	assert.Equal(t, 20, cfg.WarmRate())
	assert.Equal(t, 30, cfg.Engine.DefaultHorizonDays)
	assert.Equal(t, 180, cfg.Engine.MaxHorizonDays)
	assert.Equal(t, 90, cfg.Engine.MaxSummaryDays)
	assert.Equal(t, 8, cfg.Engine.Concurrency)
	assert.Equal(t, "configs/schedules.yaml", cfg.SchedulesConfigPath)
	assert.Equal(t, 30*time.Second, cfg.ScheduleReloadInterval())
	assert.False(t, cfg.Backup.Enabled)
	assert.Equal(t, filepath.Join(dir, "data", "backups"), cfg.Backup.StoragePath)
	assert.Equal(t, 24*time.Hour, cfg.Backup.Interval())

	_, err = os.Stat(filepath.Join(dir, "data"))
	assert.NoError(t, err, "database directory is created")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLogLevel_Fallback(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
	cfg.Log.Level = "loud"
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

const schedulesYAML = `
defaults:
  timezone: Europe/Berlin
  min_lead_minutes: 60
  slot_granularity_minutes: 15
resources:
  - id: dr-lee
    weekly:
      - weekday: 1
        start: "09:00"
        end: "17:00"
        breaks:
          - {start: "12:00", end: "13:00", label: lunch}
      - {weekday: 7, start: "10:00", end: "14:00"}
    exceptions:
      - {date: "2026-03-09", kind: vacation, reason: "ski trip"}
      - {date: "2026-03-10", kind: special_hours, start: "10:00", end: "12:00"}
  - id: room-2
    timezone: UTC
    min_lead_minutes: 0
    accepts_bookings: false
    active: false
    weekly:
      - {weekday: 2, start: "08:00", end: "20:00"}
holidays:
  - {date: "2026-01-01", name: "New Year"}
`

func TestParseSchedulesConfig(t *testing.T) {
	cfg, err := ParseSchedulesConfig([]byte(schedulesYAML))
	require.NoError(t, err)
	require.Len(t, cfg.Resources, 2)

	lee := cfg.GetResourceByID("dr-lee")
	require.NotNil(t, lee)
	sched := lee.Schedule()
	assert.Equal(t, "Europe/Berlin", sched.Timezone)
	assert.Equal(t, 60, sched.MinLeadMinutes)
	assert.Equal(t, 30*24*60, sched.MaxLeadMinutes)
	assert.Equal(t, 15, sched.SlotGranularityMinutes)
	assert.True(t, sched.AcceptsBookings)
	assert.True(t, sched.IsActive)

	rule, breaks, err := lee.Weekly[0].Rule(42)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, rule.Weekday)
	assert.Equal(t, int64(42), rule.ScheduleID)
	require.Len(t, breaks, 1)
	assert.Equal(t, "lunch", breaks[0].Label)

	sunday, _, err := lee.Weekly[1].Rule(42)
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, sunday.Weekday)

	special, err := lee.Exceptions[1].Exception(42)
	require.NoError(t, err)
	assert.Equal(t, model.ExceptionSpecialHours, special.Kind)
	require.NotNil(t, special.StartTime)
	assert.Equal(t, "10:00", special.StartTime.String())

	room := cfg.GetResourceByID("room-2").Schedule()
	assert.Equal(t, 0, room.MinLeadMinutes, "explicit zero overrides the default")
	assert.False(t, room.AcceptsBookings)
	assert.False(t, room.IsActive)

	ok, name := cfg.IsHoliday(model.NewDate(2026, 1, 1))
	assert.True(t, ok)
	assert.Equal(t, "New Year", name)

	assert.Equal(t, "SchedulesConfig: 2 resources (1 active), 1 holidays", cfg.String())
	assert.Nil(t, cfg.GetResourceByID("ghost"))
}

func TestParseSchedulesConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no resources", `resources: []`},
		{"missing id", `resources: [{weekly: []}]`},
		{"duplicate id", `resources: [{id: a}, {id: a}]`},
		{"bad timezone", `resources: [{id: a, timezone: Moon/Base}]`},
		{"bad weekday", `resources: [{id: a, weekly: [{weekday: 9, start: "09:00", end: "10:00"}]}]`},
		{"inverted hours", `resources: [{id: a, weekly: [{weekday: 1, start: "17:00", end: "09:00"}]}]`},
		{"break outside window", `resources: [{id: a, weekly: [{weekday: 1, start: "09:00", end: "12:00", breaks: [{start: "11:30", end: "12:30"}]}]}]`},
		{"unknown exception kind", `resources: [{id: a, exceptions: [{date: "2026-01-01", kind: party}]}]`},
		{"special hours without times", `resources: [{id: a, exceptions: [{date: "2026-01-01", kind: special_hours}]}]`},
		{"duplicate exception date", `resources: [{id: a, exceptions: [{date: "2026-01-01", kind: vacation}, {date: "2026-01-01", kind: holiday}]}]`},
		{"bad holiday", "resources: [{id: a}]\nholidays: [{date: \"01.01.2026\"}]"},
		{"malformed yaml", `resources: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSchedulesConfig([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestWatchSchedules(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "schedules.yaml", `resources: [{id: a}]`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates := make(chan *SchedulesConfig, 4)
	err := WatchSchedules(ctx, path, 10*time.Millisecond, zerolog.Nop(), func(c *SchedulesConfig) {
		updates <- c
	})
	require.NoError(t, err)

	first := <-updates
	assert.Len(t, first.Resources, 1)

	// A broken file is skipped and the watcher keeps going.
	writeFile(t, dir, "schedules.yaml", `resources: [`)
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	writeFile(t, dir, "schedules.yaml", `resources: [{id: a}, {id: b}]`)
	later := future.Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	select {
	case next := <-updates:
		assert.Len(t, next.Resources, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatchSchedules_InitialLoadFails(t *testing.T) {
	err := WatchSchedules(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), time.Second, zerolog.Nop(), nil)
	assert.Error(t, err)
}
