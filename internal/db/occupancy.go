package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotwise/internal/model"
	"slotwise/internal/rules"
)

var (
	_ rules.OccupancyStore = (*DB)(nil)
	_ rules.OccupancyTx    = (*occupancyTx)(nil)
)

const occupancyColumns = `id, resource_id, start_at, end_at, status, reference, created_at, updated_at`

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

type scanner interface {
	Scan(dest ...any) error
}

func scanOccupancy(row scanner) (*model.BookingOccupancy, error) {
	var o model.BookingOccupancy
	var start, end, created, updated int64
	var status string
	var reference sql.NullString
	if err := row.Scan(&o.ID, &o.ResourceID, &start, &end, &status, &reference, &created, &updated); err != nil {
		return nil, err
	}
	o.StartTime = fromMillis(start)
	o.EndTime = fromMillis(end)
	o.Status = model.OccupancyStatus(status)
	o.Reference = reference.String
	o.CreatedAt = fromMillis(created)
	o.UpdatedAt = fromMillis(updated)
	return &o, nil
}

// ActiveOccupancies returns active occupancies overlapping [from, to).
func (db *DB) ActiveOccupancies(ctx context.Context, resourceID string, from, to time.Time) ([]model.BookingOccupancy, error) {
	return activeOccupancies(ctx, db.DB, resourceID, from, to)
}

func activeOccupancies(ctx context.Context, q queryer, resourceID string, from, to time.Time) ([]model.BookingOccupancy, error) {
	statuses := model.ActiveStatuses()
	args := []any{resourceID, millis(to), millis(from)}
	for _, s := range statuses {
		args = append(args, string(s))
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+occupancyColumns+`
		FROM booking_occupancies
		WHERE resource_id = ?
		AND start_at < ? AND end_at > ?
		AND status IN (`+inClause(len(statuses))+`)
		ORDER BY start_at`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list occupancies: %w", err)
	}
	defer rows.Close()

	var out []model.BookingOccupancy
	for rows.Next() {
		o, err := scanOccupancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// GetOccupancy returns a single occupancy by ID.
func (db *DB) GetOccupancy(ctx context.Context, id string) (*model.BookingOccupancy, error) {
	return getOccupancy(ctx, db.DB, id)
}

func getOccupancy(ctx context.Context, q queryer, id string) (*model.BookingOccupancy, error) {
	o, err := scanOccupancy(q.QueryRowContext(ctx,
		"SELECT "+occupancyColumns+" FROM booking_occupancies WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rules.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get occupancy %s: %w", id, err)
	}
	return o, nil
}

// ListOccupancies returns every occupancy of a resource overlapping [from, to)
// regardless of status.
func (db *DB) ListOccupancies(ctx context.Context, resourceID string, from, to time.Time) ([]model.BookingOccupancy, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+occupancyColumns+`
		FROM booking_occupancies
		WHERE resource_id = ? AND start_at < ? AND end_at > ?
		ORDER BY start_at`,
		resourceID, millis(to), millis(from),
	)
	if err != nil {
		return nil, fmt.Errorf("list occupancies: %w", err)
	}
	defer rows.Close()

	var out []model.BookingOccupancy
	for rows.Next() {
		o, err := scanOccupancy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// BeginOccupancyTx opens an immediate transaction. It holds the database
// write lock until Commit or Rollback.
func (db *DB) BeginOccupancyTx(ctx context.Context) (rules.OccupancyTx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &occupancyTx{tx: tx}, nil
}

type occupancyTx struct {
	tx *sql.Tx
}

func (t *occupancyTx) ActiveOccupancies(ctx context.Context, resourceID string, from, to time.Time) ([]model.BookingOccupancy, error) {
	return activeOccupancies(ctx, t.tx, resourceID, from, to)
}

func (t *occupancyTx) GetOccupancy(ctx context.Context, id string) (*model.BookingOccupancy, error) {
	return getOccupancy(ctx, t.tx, id)
}

func (t *occupancyTx) InsertOccupancy(ctx context.Context, o *model.BookingOccupancy) error {
	if !o.StartTime.Before(o.EndTime) {
		return rules.Invalid("end_time", "must be after start_time")
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO booking_occupancies (`+occupancyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ResourceID, millis(o.StartTime), millis(o.EndTime), string(o.Status),
		o.Reference, millis(o.CreatedAt), millis(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert occupancy: %w", err)
	}
	return nil
}

func (t *occupancyTx) UpdateOccupancyStatus(ctx context.Context, id string, status model.OccupancyStatus, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE booking_occupancies SET status = ?, updated_at = ? WHERE id = ?",
		string(status), millis(at), id,
	)
	if err != nil {
		return fmt.Errorf("update occupancy %s: %w", id, err)
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

func (t *occupancyTx) Commit() error {
	return t.tx.Commit()
}

// Rollback is safe to call after Commit.
func (t *occupancyTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
