package rules

import (
	"strings"
	"time"

	"slotwise/internal/model"
)

const maxLeadCeiling = 366 * 24 * 60

func ValidateSchedule(cfg *model.ScheduleConfiguration) error {
	v := &ValidationError{}
	if cfg == nil {
		v.add("schedule", "is required")
		return v
	}

	if strings.TrimSpace(cfg.ResourceID) == "" {
		v.add("resource_id", "is required")
	}
	if cfg.Timezone == "" {
		v.add("timezone", "is required")
	} else if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		v.add("timezone", "unknown IANA time zone "+cfg.Timezone)
	}
	if cfg.SlotGranularityMinutes <= 0 {
		v.add("slot_granularity_minutes", "must be positive")
	}
	if cfg.MinLeadMinutes < 0 {
		v.add("min_lead_minutes", "must not be negative")
	}
	if cfg.MaxLeadMinutes < cfg.MinLeadMinutes {
		v.add("max_lead_minutes", "must not be less than min_lead_minutes")
	} else if cfg.MaxLeadMinutes > maxLeadCeiling {
		v.add("max_lead_minutes", "must not exceed one year")
	}
	return v.orNil()
}

func ValidateWeeklyRule(rule *model.WeeklyAvailabilityRule) error {
	v := &ValidationError{}
	if rule == nil {
		v.add("weekly_rule", "is required")
		return v
	}
	if rule.Weekday < time.Sunday || rule.Weekday > time.Saturday {
		v.add("weekday", "must be between 0 (Sunday) and 6 (Saturday)")
	}
	validateRange(v, rule.StartTime, rule.EndTime)
	return v.orNil()
}

// ValidateBreak checks a break against the weekly rule it belongs to.
func ValidateBreak(br *model.BreakRule, parent *model.WeeklyAvailabilityRule) error {
	v := &ValidationError{}
	if br == nil {
		v.add("break", "is required")
		return v
	}
	if parent == nil || parent.ID != br.WeeklyRuleID {
		v.add("weekly_rule_id", "parent weekly rule not found")
		return v
	}
	validateRange(v, br.StartTime, br.EndTime)
	if br.StartTime < parent.StartTime || br.EndTime > parent.EndTime {
		v.add("break", "must lie within "+parent.StartTime.String()+"-"+parent.EndTime.String())
	}
	return v.orNil()
}

func ValidateDateException(exc *model.DateException) error {
	v := &ValidationError{}
	if exc == nil {
		v.add("exception", "is required")
		return v
	}
	if exc.Date.IsZero() {
		v.add("date", "is required")
	}
	if !exc.Kind.Valid() {
		v.add("kind", "unknown exception kind "+string(exc.Kind))
		return v
	}

	if exc.Kind == model.ExceptionSpecialHours {
		if exc.StartTime == nil || exc.EndTime == nil {
			v.add("start_time", "special_hours requires start_time and end_time")
		} else {
			validateRange(v, *exc.StartTime, *exc.EndTime)
		}
	} else if exc.StartTime != nil || exc.EndTime != nil {
		v.add("start_time", "only special_hours exceptions carry times")
	}
	return v.orNil()
}

func validateRange(v *ValidationError, start, end model.TimeOfDay) {
	if start < 0 || start >= model.EndOfDay {
		v.add("start_time", "must be between 00:00 and 23:59")
	}
	if end <= 0 || end > model.EndOfDay {
		v.add("end_time", "must be between 00:01 and 24:00")
	}
	if start >= end {
		v.add("end_time", "must be after start_time")
	}
}
