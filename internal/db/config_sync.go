package db

import (
	"context"
	"fmt"
	"time"

	"slotwise/internal/config"
	"slotwise/internal/model"
)

// SyncSchedulesFromConfig applies schedules.yaml to the database.
// It upserts schedules, replaces their weekly rules, breaks and exceptions,
// and marks schedules that disappeared from the file inactive. The whole
// sync runs in one transaction so readers never see a half-applied file.
func (db *DB) SyncSchedulesFromConfig(ctx context.Context, cfg *config.SchedulesConfig) error {
	if cfg == nil {
		return fmt.Errorf("schedules config is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sync: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	seen := make(map[string]struct{}, len(cfg.Resources))

	holidays := make([]model.DateException, 0, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		date, err := model.ParseDate(h.Date)
		if err != nil {
			return fmt.Errorf("parse holiday %s: %w", h.Date, err)
		}
		holidays = append(holidays, model.DateException{Date: date, Kind: model.ExceptionHoliday, Reason: h.Name})
	}

	for i := range cfg.Resources {
		res := &cfg.Resources[i]
		sched := res.Schedule()
		if err := saveSchedule(ctx, tx, sched, now); err != nil {
			return err
		}
		seen[res.ID] = struct{}{}

		if err := db.applyResourceRules(ctx, tx, sched.ID, res, holidays); err != nil {
			return fmt.Errorf("sync resource %s: %w", res.ID, err)
		}
	}

	// Deactivate schedules that disappeared from config.
	rows, err := tx.QueryContext(ctx, `SELECT resource_id FROM schedule_configurations WHERE is_active = 1`)
	if err != nil {
		return err
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx,
			`UPDATE schedule_configurations SET is_active = 0, updated_at = ? WHERE resource_id = ?`, now, id,
		); err != nil {
			return fmt.Errorf("deactivate schedule %s: %w", id, err)
		}
		db.logger.Info().Str("resource_id", id).Msg("Schedule deactivated, missing from config")
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync: %w", err)
	}

	db.logger.Info().
		Int("resources", len(cfg.Resources)).
		Int("deactivated", len(stale)).
		Int("holidays", len(holidays)).
		Msg("Schedules synced from config")
	return nil
}

func (db *DB) applyResourceRules(ctx context.Context, q queryer, scheduleID int64, res *config.ResourceConfig, holidays []model.DateException) error {
	// Breaks cascade with their weekly rule.
	if _, err := q.ExecContext(ctx, `DELETE FROM weekly_availability_rules WHERE schedule_id = ?`, scheduleID); err != nil {
		return fmt.Errorf("clear weekly rules: %w", err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM date_exceptions WHERE schedule_id = ?`, scheduleID); err != nil {
		return fmt.Errorf("clear exceptions: %w", err)
	}

	for j, w := range res.Weekly {
		rule, breaks, err := w.Rule(scheduleID)
		if err != nil {
			return fmt.Errorf("weekly[%d]: %w", j, err)
		}
		if err := addWeeklyRule(ctx, q, &rule); err != nil {
			return fmt.Errorf("weekly[%d]: %w", j, err)
		}
		for k := range breaks {
			breaks[k].WeeklyRuleID = rule.ID
			if err := addBreak(ctx, q, &breaks[k]); err != nil {
				return fmt.Errorf("weekly[%d].breaks[%d]: %w", j, k, err)
			}
		}
	}

	own := make(map[model.Date]struct{}, len(res.Exceptions))
	for j, e := range res.Exceptions {
		exc, err := e.Exception(scheduleID)
		if err != nil {
			return fmt.Errorf("exceptions[%d]: %w", j, err)
		}
		if err := addDateException(ctx, q, &exc); err != nil {
			return fmt.Errorf("exceptions[%d]: %w", j, err)
		}
		own[exc.Date] = struct{}{}
	}

	// A resource's own exception for a date takes precedence over a holiday.
	for _, h := range holidays {
		if _, ok := own[h.Date]; ok {
			continue
		}
		exc := h
		exc.ScheduleID = scheduleID
		if err := addDateException(ctx, q, &exc); err != nil {
			return fmt.Errorf("holiday %s: %w", h.Date, err)
		}
	}
	return nil
}
