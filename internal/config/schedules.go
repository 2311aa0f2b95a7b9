package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"slotwise/internal/model"
	"slotwise/internal/rules"
)

// BreakConfig is a pause inside a weekly window.
type BreakConfig struct {
	Start string `yaml:"start"` // "12:00"
	End   string `yaml:"end"`   // "13:00"
	Label string `yaml:"label,omitempty"`
}

// WeeklyConfig is one recurring working window.
type WeeklyConfig struct {
	Weekday int           `yaml:"weekday"` // 0=Sun ... 6=Sat, 7 is accepted for Sunday
	Start   string        `yaml:"start"`
	End     string        `yaml:"end"`
	Active  *bool         `yaml:"active,omitempty"`
	Breaks  []BreakConfig `yaml:"breaks,omitempty"`
}

// ExceptionConfig overrides the weekly rules on one date.
type ExceptionConfig struct {
	Date   string `yaml:"date"` // "2026-01-05"
	Kind   string `yaml:"kind"`
	Start  string `yaml:"start,omitempty"` // special_hours only
	End    string `yaml:"end,omitempty"`
	Reason string `yaml:"reason,omitempty"`
}

// ResourceConfig is the schedule of a single bookable resource.
type ResourceConfig struct {
	ID                     string            `yaml:"id"`
	Timezone               string            `yaml:"timezone,omitempty"`
	MinLeadMinutes         *int              `yaml:"min_lead_minutes,omitempty"`
	MaxLeadMinutes         int               `yaml:"max_lead_minutes,omitempty"`
	SlotGranularityMinutes int               `yaml:"slot_granularity_minutes,omitempty"`
	AcceptsBookings        *bool             `yaml:"accepts_bookings,omitempty"`
	Active                 *bool             `yaml:"active,omitempty"`
	Weekly                 []WeeklyConfig    `yaml:"weekly"`
	Exceptions             []ExceptionConfig `yaml:"exceptions,omitempty"`
}

// ScheduleDefaults fill in whatever a resource leaves unset.
type ScheduleDefaults struct {
	Timezone               string `yaml:"timezone"`
	MinLeadMinutes         int    `yaml:"min_lead_minutes"`
	MaxLeadMinutes         int    `yaml:"max_lead_minutes"`
	SlotGranularityMinutes int    `yaml:"slot_granularity_minutes"`
}

// HolidayConfig blocks a date for every resource that has no exception of its own on it.
type HolidayConfig struct {
	Date string `yaml:"date"` // "2026-01-01"
	Name string `yaml:"name"`
}

// SchedulesConfig is the root configuration for schedules.yaml.
type SchedulesConfig struct {
	Defaults  ScheduleDefaults `yaml:"defaults"`
	Resources []ResourceConfig `yaml:"resources"`
	Holidays  []HolidayConfig  `yaml:"holidays"`
}

// LoadSchedulesConfig loads and validates schedules configuration from a YAML file.
func LoadSchedulesConfig(path string) (*SchedulesConfig, error) {
	if path == "" {
		path = "configs/schedules.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedules config: %w", err)
	}
	return ParseSchedulesConfig(data)
}

func ParseSchedulesConfig(data []byte) (*SchedulesConfig, error) {
	var cfg SchedulesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse schedules config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate schedules config: %w", err)
	}
	return &cfg, nil
}

func (c *SchedulesConfig) applyDefaults() {
	if c.Defaults.Timezone == "" {
		c.Defaults.Timezone = "UTC"
	}
	if c.Defaults.MaxLeadMinutes <= 0 {
		c.Defaults.MaxLeadMinutes = 30 * 24 * 60
	}
	if c.Defaults.SlotGranularityMinutes <= 0 {
		c.Defaults.SlotGranularityMinutes = 30
	}

	for i := range c.Resources {
		r := &c.Resources[i]
		if r.Timezone == "" {
			r.Timezone = c.Defaults.Timezone
		}
		if r.MinLeadMinutes == nil {
			v := c.Defaults.MinLeadMinutes
			r.MinLeadMinutes = &v
		}
		if r.MaxLeadMinutes <= 0 {
			r.MaxLeadMinutes = c.Defaults.MaxLeadMinutes
		}
		if r.SlotGranularityMinutes <= 0 {
			r.SlotGranularityMinutes = c.Defaults.SlotGranularityMinutes
		}
		if r.AcceptsBookings == nil {
			r.AcceptsBookings = boolPtr(true)
		}
		if r.Active == nil {
			r.Active = boolPtr(true)
		}
	}
}

// Validate checks the configuration for errors.
func (c *SchedulesConfig) Validate() error {
	if len(c.Resources) == 0 {
		return fmt.Errorf("no resources defined")
	}

	ids := make(map[string]bool)
	for i := range c.Resources {
		r := &c.Resources[i]
		prefix := fmt.Sprintf("resources[%d]", i)

		if r.ID == "" {
			return fmt.Errorf("%s: id is required", prefix)
		}
		if ids[r.ID] {
			return fmt.Errorf("%s: duplicate id '%s'", prefix, r.ID)
		}
		ids[r.ID] = true

		if err := rules.ValidateSchedule(r.Schedule()); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}

		for j, w := range r.Weekly {
			if _, _, err := w.Rule(0); err != nil {
				return fmt.Errorf("%s.weekly[%d]: %w", prefix, j, err)
			}
		}

		dates := make(map[model.Date]bool)
		for j, e := range r.Exceptions {
			exc, err := e.Exception(0)
			if err != nil {
				return fmt.Errorf("%s.exceptions[%d]: %w", prefix, j, err)
			}
			if dates[exc.Date] {
				return fmt.Errorf("%s.exceptions[%d]: duplicate date %s", prefix, j, exc.Date)
			}
			dates[exc.Date] = true
		}
	}

	for i, h := range c.Holidays {
		if h.Date == "" {
			return fmt.Errorf("holiday[%d]: date is required", i)
		}
		if _, err := model.ParseDate(h.Date); err != nil {
			return fmt.Errorf("holiday[%d]: invalid date format '%s', expected YYYY-MM-DD", i, h.Date)
		}
	}

	return nil
}

// Schedule converts the resource into a schedule configuration. Defaults
// must already be applied.
func (r *ResourceConfig) Schedule() *model.ScheduleConfiguration {
	cfg := &model.ScheduleConfiguration{
		ResourceID:             r.ID,
		Timezone:               r.Timezone,
		MaxLeadMinutes:         r.MaxLeadMinutes,
		SlotGranularityMinutes: r.SlotGranularityMinutes,
		AcceptsBookings:        r.AcceptsBookings == nil || *r.AcceptsBookings,
		IsActive:               r.Active == nil || *r.Active,
	}
	if r.MinLeadMinutes != nil {
		cfg.MinLeadMinutes = *r.MinLeadMinutes
	}
	return cfg
}

// Rule converts the window into a weekly rule and its breaks.
func (w WeeklyConfig) Rule(scheduleID int64) (model.WeeklyAvailabilityRule, []model.BreakRule, error) {
	day := w.Weekday
	if day == 7 {
		day = 0
	}
	rule := model.WeeklyAvailabilityRule{
		ScheduleID: scheduleID,
		Weekday:    time.Weekday(day),
		IsActive:   w.Active == nil || *w.Active,
	}

	var err error
	if rule.StartTime, err = model.ParseTimeOfDay(w.Start); err != nil {
		return rule, nil, rules.Invalid("start", err.Error())
	}
	if rule.EndTime, err = model.ParseTimeOfDay(w.End); err != nil {
		return rule, nil, rules.Invalid("end", err.Error())
	}
	if err := rules.ValidateWeeklyRule(&rule); err != nil {
		return rule, nil, err
	}

	breaks := make([]model.BreakRule, 0, len(w.Breaks))
	for i, b := range w.Breaks {
		br := model.BreakRule{Label: b.Label}
		if br.StartTime, err = model.ParseTimeOfDay(b.Start); err != nil {
			return rule, nil, rules.Invalid(fmt.Sprintf("breaks[%d].start", i), err.Error())
		}
		if br.EndTime, err = model.ParseTimeOfDay(b.End); err != nil {
			return rule, nil, rules.Invalid(fmt.Sprintf("breaks[%d].end", i), err.Error())
		}
		// IDs are assigned on insert, so both sides are still zero here.
		if err := rules.ValidateBreak(&br, &rule); err != nil {
			return rule, nil, fmt.Errorf("breaks[%d]: %w", i, err)
		}
		breaks = append(breaks, br)
	}
	return rule, breaks, nil
}

// Exception converts the entry into a date exception.
func (e ExceptionConfig) Exception(scheduleID int64) (model.DateException, error) {
	exc := model.DateException{
		ScheduleID: scheduleID,
		Kind:       model.ExceptionKind(e.Kind),
		Reason:     e.Reason,
	}

	var err error
	if exc.Date, err = model.ParseDate(e.Date); err != nil {
		return exc, rules.Invalid("date", err.Error())
	}
	if e.Start != "" {
		t, err := model.ParseTimeOfDay(e.Start)
		if err != nil {
			return exc, rules.Invalid("start", err.Error())
		}
		exc.StartTime = &t
	}
	if e.End != "" {
		t, err := model.ParseTimeOfDay(e.End)
		if err != nil {
			return exc, rules.Invalid("end", err.Error())
		}
		exc.EndTime = &t
	}
	if err := rules.ValidateDateException(&exc); err != nil {
		return exc, err
	}
	return exc, nil
}

// GetResourceByID returns resource config by ID.
func (c *SchedulesConfig) GetResourceByID(id string) *ResourceConfig {
	for i := range c.Resources {
		if c.Resources[i].ID == id {
			return &c.Resources[i]
		}
	}
	return nil
}

// IsHoliday checks if a date is a configured holiday.
func (c *SchedulesConfig) IsHoliday(date model.Date) (bool, string) {
	for _, h := range c.Holidays {
		if h.Date == date.String() {
			return true, h.Name
		}
	}
	return false, ""
}

// String returns a summary of the configuration.
func (c *SchedulesConfig) String() string {
	active := 0
	for _, r := range c.Resources {
		if r.Active == nil || *r.Active {
			active++
		}
	}
	return fmt.Sprintf("SchedulesConfig: %d resources (%d active), %d holidays",
		len(c.Resources), active, len(c.Holidays))
}

func boolPtr(v bool) *bool { return &v }
