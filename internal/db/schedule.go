package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"slotwise/internal/model"
	"slotwise/internal/rules"
)

var _ rules.Store = (*DB)(nil)

// ScheduleByResource returns the configuration of a resource.
func (db *DB) ScheduleByResource(ctx context.Context, resourceID string) (*model.ScheduleConfiguration, error) {
	var c model.ScheduleConfiguration
	err := db.QueryRowContext(ctx, `
		SELECT id, resource_id, timezone, min_lead_minutes, max_lead_minutes,
		       slot_granularity_minutes, accepts_bookings, is_active, updated_at
		FROM schedule_configurations
		WHERE resource_id = ?`,
		resourceID,
	).Scan(
		&c.ID, &c.ResourceID, &c.Timezone, &c.MinLeadMinutes, &c.MaxLeadMinutes,
		&c.SlotGranularityMinutes, &c.AcceptsBookings, &c.IsActive, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rules.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", resourceID, err)
	}
	return &c, nil
}

// WeeklyRules returns the rules of one weekday ordered by start time.
func (db *DB) WeeklyRules(ctx context.Context, scheduleID int64, weekday time.Weekday) ([]model.WeeklyAvailabilityRule, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, schedule_id, weekday, start_time, end_time, is_active
		FROM weekly_availability_rules
		WHERE schedule_id = ? AND weekday = ?
		ORDER BY start_time, id`,
		scheduleID, int(weekday),
	)
	if err != nil {
		return nil, fmt.Errorf("list weekly rules: %w", err)
	}
	defer rows.Close()

	var out []model.WeeklyAvailabilityRule
	for rows.Next() {
		var r model.WeeklyAvailabilityRule
		var day int
		if err := rows.Scan(&r.ID, &r.ScheduleID, &day, &r.StartTime, &r.EndTime, &r.IsActive); err != nil {
			return nil, err
		}
		r.Weekday = time.Weekday(day)
		out = append(out, r)
	}
	return out, rows.Err()
}

// BreaksByRule loads the breaks of several weekly rules at once.
func (db *DB) BreaksByRule(ctx context.Context, ruleIDs []int64) (map[int64][]model.BreakRule, error) {
	out := make(map[int64][]model.BreakRule)
	if len(ruleIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(ruleIDs))
	for i, id := range ruleIDs {
		args[i] = id
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, weekly_rule_id, start_time, end_time, label
		FROM break_rules
		WHERE weekly_rule_id IN (`+inClause(len(ruleIDs))+`)
		ORDER BY start_time, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list breaks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b model.BreakRule
		var label sql.NullString
		if err := rows.Scan(&b.ID, &b.WeeklyRuleID, &b.StartTime, &b.EndTime, &label); err != nil {
			return nil, err
		}
		b.Label = label.String
		out[b.WeeklyRuleID] = append(out[b.WeeklyRuleID], b)
	}
	return out, rows.Err()
}

// DateException returns the exception for a date, or nil when there is none.
func (db *DB) DateException(ctx context.Context, scheduleID int64, date model.Date) (*model.DateException, error) {
	var e model.DateException
	var kind string
	var startTime, endTime, reason sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT id, schedule_id, date, kind, start_time, end_time, reason
		FROM date_exceptions
		WHERE schedule_id = ? AND date = ?`,
		scheduleID, date,
	).Scan(&e.ID, &e.ScheduleID, &e.Date, &kind, &startTime, &endTime, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get exception %s: %w", date, err)
	}

	e.Kind = model.ExceptionKind(kind)
	e.Reason = reason.String
	if e.StartTime, err = nullTime(startTime); err != nil {
		return nil, err
	}
	if e.EndTime, err = nullTime(endTime); err != nil {
		return nil, err
	}
	return &e, nil
}

// ResourceIDs lists resources with an active schedule.
func (db *DB) ResourceIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT resource_id FROM schedule_configurations
		WHERE is_active = 1
		ORDER BY resource_id`)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveSchedule creates or updates the configuration keyed by resource ID.
func (db *DB) SaveSchedule(ctx context.Context, cfg *model.ScheduleConfiguration) error {
	if err := rules.ValidateSchedule(cfg); err != nil {
		return err
	}
	return saveSchedule(ctx, db.DB, cfg, time.Now().UTC())
}

func saveSchedule(ctx context.Context, q queryer, cfg *model.ScheduleConfiguration, now time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO schedule_configurations (
			resource_id, timezone, min_lead_minutes, max_lead_minutes,
			slot_granularity_minutes, accepts_bookings, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			timezone = excluded.timezone,
			min_lead_minutes = excluded.min_lead_minutes,
			max_lead_minutes = excluded.max_lead_minutes,
			slot_granularity_minutes = excluded.slot_granularity_minutes,
			accepts_bookings = excluded.accepts_bookings,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		cfg.ResourceID, cfg.Timezone, cfg.MinLeadMinutes, cfg.MaxLeadMinutes,
		cfg.SlotGranularityMinutes, cfg.AcceptsBookings, cfg.IsActive, now, now,
	)
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", cfg.ResourceID, err)
	}

	if err := q.QueryRowContext(ctx,
		"SELECT id FROM schedule_configurations WHERE resource_id = ?", cfg.ResourceID,
	).Scan(&cfg.ID); err != nil {
		return fmt.Errorf("read schedule id %s: %w", cfg.ResourceID, err)
	}
	cfg.UpdatedAt = now
	return nil
}

func scheduleExists(ctx context.Context, q queryer, id int64) (bool, error) {
	var count int
	err := q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schedule_configurations WHERE id = ?", id,
	).Scan(&count)
	return count > 0, err
}

// AddWeeklyRule validates and stores a weekly rule.
func (db *DB) AddWeeklyRule(ctx context.Context, rule *model.WeeklyAvailabilityRule) error {
	if err := rules.ValidateWeeklyRule(rule); err != nil {
		return err
	}
	return addWeeklyRule(ctx, db.DB, rule)
}

func addWeeklyRule(ctx context.Context, q queryer, rule *model.WeeklyAvailabilityRule) error {
	exists, err := scheduleExists(ctx, q, rule.ScheduleID)
	if err != nil {
		return fmt.Errorf("check schedule: %w", err)
	}
	if !exists {
		return rules.Invalid("schedule_id", "schedule not found")
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO weekly_availability_rules (schedule_id, weekday, start_time, end_time, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		rule.ScheduleID, int(rule.Weekday), rule.StartTime, rule.EndTime, rule.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert weekly rule: %w", err)
	}
	rule.ID, err = res.LastInsertId()
	return err
}

func getWeeklyRule(ctx context.Context, q queryer, id int64) (*model.WeeklyAvailabilityRule, error) {
	var r model.WeeklyAvailabilityRule
	var day int
	err := q.QueryRowContext(ctx, `
		SELECT id, schedule_id, weekday, start_time, end_time, is_active
		FROM weekly_availability_rules WHERE id = ?`, id,
	).Scan(&r.ID, &r.ScheduleID, &day, &r.StartTime, &r.EndTime, &r.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Weekday = time.Weekday(day)
	return &r, nil
}

// AddBreak validates the break against its parent rule and stores it.
func (db *DB) AddBreak(ctx context.Context, br *model.BreakRule) error {
	return addBreak(ctx, db.DB, br)
}

func addBreak(ctx context.Context, q queryer, br *model.BreakRule) error {
	parent, err := getWeeklyRule(ctx, q, br.WeeklyRuleID)
	if err != nil {
		return fmt.Errorf("load weekly rule %d: %w", br.WeeklyRuleID, err)
	}
	if err := rules.ValidateBreak(br, parent); err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO break_rules (weekly_rule_id, start_time, end_time, label)
		VALUES (?, ?, ?, ?)`,
		br.WeeklyRuleID, br.StartTime, br.EndTime, br.Label,
	)
	if err != nil {
		return fmt.Errorf("insert break: %w", err)
	}
	br.ID, err = res.LastInsertId()
	return err
}

// AddDateException stores an exception. At most one exception may exist per
// schedule and date.
func (db *DB) AddDateException(ctx context.Context, exc *model.DateException) error {
	if err := rules.ValidateDateException(exc); err != nil {
		return err
	}
	return addDateException(ctx, db.DB, exc)
}

func addDateException(ctx context.Context, q queryer, exc *model.DateException) error {
	exists, err := scheduleExists(ctx, q, exc.ScheduleID)
	if err != nil {
		return fmt.Errorf("check schedule: %w", err)
	}
	if !exists {
		return rules.Invalid("schedule_id", "schedule not found")
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO date_exceptions (schedule_id, date, kind, start_time, end_time, reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		exc.ScheduleID, exc.Date, string(exc.Kind), timeOrNil(exc.StartTime), timeOrNil(exc.EndTime), exc.Reason,
	)
	if isUniqueViolation(err) {
		return rules.Invalid("date", "an exception already exists for "+exc.Date.String())
	}
	if err != nil {
		return fmt.Errorf("insert exception: %w", err)
	}
	exc.ID, err = res.LastInsertId()
	return err
}

// DeleteDateException removes the exception for a date.
func (db *DB) DeleteDateException(ctx context.Context, scheduleID int64, date model.Date) error {
	res, err := db.ExecContext(ctx,
		"DELETE FROM date_exceptions WHERE schedule_id = ? AND date = ?",
		scheduleID, date,
	)
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rules.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func nullTime(s sql.NullString) (*model.TimeOfDay, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := model.ParseTimeOfDay(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func timeOrNil(t *model.TimeOfDay) any {
	if t == nil {
		return nil
	}
	return t.String()
}
