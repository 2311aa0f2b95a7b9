// Package slotcache keeps computed slots in Redis. Entries are derived data:
// they are only ever written from a fresh computation and can be dropped at
// any time.
package slotcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"slotwise/internal/clock"
	"slotwise/internal/events"
	"slotwise/internal/metrics"
	"slotwise/internal/model"
)

const (
	keyPrefix = "slotcache"
	metaField = "_meta"
)

// Source computes slots on a cache miss. *slots.Engine satisfies it.
type Source interface {
	ComputeAvailableSlots(ctx context.Context, resourceID string, date model.Date, durationMinutes int) ([]model.Slot, error)
	LocalToday(ctx context.Context, resourceID string) (model.Date, error)
}

// Record is one cached slot. Overlapping shifts can yield two records with the
// same start time, so hash fields are positions in the computed list.
type Record struct {
	ResourceID    string       `json:"resource_id"`
	Date          model.Date   `json:"date"`
	StartTime     time.Time    `json:"start_time"`
	Available     bool         `json:"available"`
	BlockedReason model.Reason `json:"blocked_reason,omitempty"`
}

type meta struct {
	Timezone   string    `json:"timezone"`
	Count      int       `json:"count"`
	ComputedAt time.Time `json:"computed_at"`
}

type Cache struct {
	rdb    *redis.Client
	source Source
	ttl    time.Duration
	zones  *clock.Zones
	logger zerolog.Logger
}

func New(rdb *redis.Client, source Source, ttl time.Duration, logger zerolog.Logger) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{
		rdb:    rdb,
		source: source,
		ttl:    ttl,
		zones:  clock.NewZones(),
		logger: logger.With().Str("component", "slotcache").Logger(),
	}
}

func Key(resourceID string, date model.Date, durationMinutes int) string {
	return fmt.Sprintf("%s:%s:%s:%d", keyPrefix, resourceID, date, durationMinutes)
}

// ComputeAvailableSlots serves slots from Redis, computing and storing them
// on a miss. Redis failures fall back to the source.
func (c *Cache) ComputeAvailableSlots(ctx context.Context, resourceID string, date model.Date, durationMinutes int) ([]model.Slot, error) {
	key := Key(resourceID, date, durationMinutes)

	cached, ok, err := c.read(ctx, key, durationMinutes)
	switch {
	case err != nil:
		metrics.IncCacheRequest("error")
		c.logger.Warn().Err(err).Str("key", key).Msg("read slot cache")
		return c.source.ComputeAvailableSlots(ctx, resourceID, date, durationMinutes)
	case ok:
		metrics.IncCacheRequest("hit")
		return cached, nil
	}

	metrics.IncCacheRequest("miss")
	return c.Rebuild(ctx, resourceID, date, durationMinutes)
}

// LocalToday delegates to the source.
func (c *Cache) LocalToday(ctx context.Context, resourceID string) (model.Date, error) {
	return c.source.LocalToday(ctx, resourceID)
}

// Rebuild recomputes one entry and replaces it. A failed write is logged and
// the computed slots are still returned.
func (c *Cache) Rebuild(ctx context.Context, resourceID string, date model.Date, durationMinutes int) ([]model.Slot, error) {
	list, err := c.source.ComputeAvailableSlots(ctx, resourceID, date, durationMinutes)
	if err != nil {
		return nil, err
	}
	if err := c.write(ctx, resourceID, date, durationMinutes, list); err != nil {
		c.logger.Warn().Err(err).Str("resource_id", resourceID).Str("date", date.String()).Msg("write slot cache")
	}
	return list, nil
}

func (c *Cache) write(ctx context.Context, resourceID string, date model.Date, durationMinutes int, list []model.Slot) error {
	m := meta{Timezone: "UTC", Count: len(list), ComputedAt: time.Now().UTC()}
	if len(list) > 0 {
		m.Timezone = list[0].StartTime.Location().String()
	}
	metaJSON, err := json.Marshal(m)
	if err != nil {
		return err
	}

	fields := make([]any, 0, 2*len(list)+2)
	fields = append(fields, metaField, string(metaJSON))
	for i, s := range list {
		rec := Record{
			ResourceID: s.ResourceID,
			Date:       date,
			StartTime:  s.StartTime,
			Available:  s.Available,
		}
		if !s.Available {
			rec.BlockedReason = s.Reason
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		fields = append(fields, recordField(i), string(data))
	}

	key := Key(resourceID, date, durationMinutes)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields...)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	return err
}

func (c *Cache) read(ctx context.Context, key string, durationMinutes int) ([]model.Slot, bool, error) {
	raw, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, false, err
	}
	metaJSON, ok := raw[metaField]
	if !ok {
		return nil, false, nil
	}

	var m meta
	if err := json.Unmarshal([]byte(metaJSON), &m); err != nil {
		return nil, false, fmt.Errorf("decode meta: %w", err)
	}
	if len(raw)-1 != m.Count {
		// Partially expired or foreign data; treat as a miss.
		return nil, false, nil
	}
	loc, err := c.zones.Location(m.Timezone)
	if err != nil {
		loc = time.UTC
	}

	records, err := decodeRecords(raw)
	if err != nil {
		return nil, false, err
	}

	duration := time.Duration(durationMinutes) * time.Minute
	list := make([]model.Slot, 0, m.Count)
	for _, rec := range records {
		start := rec.StartTime.In(loc)
		s := model.Slot{
			ResourceID: rec.ResourceID,
			StartTime:  start,
			EndTime:    start.Add(duration),
			Available:  rec.Available,
			Reason:     model.ReasonAvailable,
		}
		if !rec.Available {
			s.Reason = rec.BlockedReason
		}
		list = append(list, s)
	}
	return list, true, nil
}

func recordField(i int) string {
	return fmt.Sprintf("%05d", i)
}

// decodeRecords returns the records of one hash in stored order.
func decodeRecords(raw map[string]string) ([]Record, error) {
	fields := make([]string, 0, len(raw))
	for field := range raw {
		if field != metaField {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)

	out := make([]Record, 0, len(fields))
	for _, field := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(raw[field]), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", field, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Records returns the raw cached records of one entry in start order.
func (c *Cache) Records(ctx context.Context, resourceID string, date model.Date, durationMinutes int) ([]Record, error) {
	raw, err := c.rdb.HGetAll(ctx, Key(resourceID, date, durationMinutes)).Result()
	if err != nil {
		return nil, err
	}
	return decodeRecords(raw)
}

// Verify reports whether the cached entry matches a fresh computation. A
// missing entry counts as consistent.
func (c *Cache) Verify(ctx context.Context, resourceID string, date model.Date, durationMinutes int) (bool, error) {
	cached, ok, err := c.read(ctx, Key(resourceID, date, durationMinutes), durationMinutes)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	fresh, err := c.source.ComputeAvailableSlots(ctx, resourceID, date, durationMinutes)
	if err != nil {
		return false, err
	}
	if len(fresh) != len(cached) {
		return false, nil
	}
	for i := range fresh {
		f, g := fresh[i], cached[i]
		if f.ResourceID != g.ResourceID || !f.StartTime.Equal(g.StartTime) || !f.EndTime.Equal(g.EndTime) ||
			f.Available != g.Available || f.Reason != g.Reason {
			return false, nil
		}
	}
	return true, nil
}

// Invalidate drops every duration cached for one resource and date.
func (c *Cache) Invalidate(ctx context.Context, resourceID string, date model.Date) (int, error) {
	return c.deletePattern(ctx, fmt.Sprintf("%s:%s:%s:*", keyPrefix, resourceID, date))
}

// InvalidateResource drops every entry of one resource.
func (c *Cache) InvalidateResource(ctx context.Context, resourceID string) (int, error) {
	return c.deletePattern(ctx, fmt.Sprintf("%s:%s:*", keyPrefix, resourceID))
}

// InvalidateAll drops the whole cache.
func (c *Cache) InvalidateAll(ctx context.Context) (int, error) {
	return c.deletePattern(ctx, keyPrefix+":*")
}

func (c *Cache) deletePattern(ctx context.Context, pattern string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("delete %s: %w", pattern, err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// Subscribe drops affected entries whenever occupancies or rules change.
func (c *Cache) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.OccupancyChanged, func(e events.Event) error {
		var change events.OccupancyChange
		if err := e.Decode(&change); err != nil {
			return err
		}
		_, err := c.InvalidateResource(context.Background(), change.ResourceID)
		return err
	})

	bus.Subscribe(events.RulesChanged, func(e events.Event) error {
		var change events.RulesChange
		if len(e.Payload) > 0 {
			if err := e.Decode(&change); err != nil {
				return err
			}
		}
		ctx := context.Background()
		if len(change.ResourceIDs) == 0 {
			n, err := c.InvalidateAll(ctx)
			c.logger.Info().Int("keys", n).Msg("slot cache cleared after rules change")
			return err
		}
		var errs []error
		for _, id := range change.ResourceIDs {
			if _, err := c.InvalidateResource(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
