package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"slotwise/internal/model"
)

type exceptionKey struct {
	scheduleID int64
	date       model.Date
}

// MemoryStore keeps rules and occupancies in process memory. It implements
// Store and OccupancyStore and is used by the CLI's fixture mode and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	nextID      int64
	schedules   map[string]*model.ScheduleConfiguration
	weekly      map[int64]model.WeeklyAvailabilityRule
	breaks      map[int64]model.BreakRule
	exceptions  map[exceptionKey]model.DateException
	occupancies map[string][]model.BookingOccupancy
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		schedules:   make(map[string]*model.ScheduleConfiguration),
		weekly:      make(map[int64]model.WeeklyAvailabilityRule),
		breaks:      make(map[int64]model.BreakRule),
		exceptions:  make(map[exceptionKey]model.DateException),
		occupancies: make(map[string][]model.BookingOccupancy),
	}
}

func (s *MemoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) ScheduleByResource(_ context.Context, resourceID string) (*model.ScheduleConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.schedules[resourceID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (s *MemoryStore) WeeklyRules(_ context.Context, scheduleID int64, weekday time.Weekday) ([]model.WeeklyAvailabilityRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.WeeklyAvailabilityRule
	for _, r := range s.weekly {
		if r.ScheduleID == scheduleID && r.Weekday == weekday {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) BreaksByRule(_ context.Context, ruleIDs []int64) (map[int64][]model.BreakRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[int64]bool, len(ruleIDs))
	for _, id := range ruleIDs {
		wanted[id] = true
	}
	out := make(map[int64][]model.BreakRule)
	for _, b := range s.breaks {
		if wanted[b.WeeklyRuleID] {
			out[b.WeeklyRuleID] = append(out[b.WeeklyRuleID], b)
		}
	}
	for id := range out {
		list := out[id]
		sort.Slice(list, func(i, j int) bool { return list[i].StartTime < list[j].StartTime })
	}
	return out, nil
}

func (s *MemoryStore) DateException(_ context.Context, scheduleID int64, date model.Date) (*model.DateException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exc, ok := s.exceptions[exceptionKey{scheduleID, date}]
	if !ok {
		return nil, nil
	}
	return &exc, nil
}

func (s *MemoryStore) ResourceIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.schedules))
	for id, cfg := range s.schedules {
		if cfg.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) SaveSchedule(_ context.Context, cfg *model.ScheduleConfiguration) error {
	if err := ValidateSchedule(cfg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.schedules[cfg.ResourceID]; ok {
		cfg.ID = existing.ID
	} else {
		cfg.ID = s.id()
	}
	cp := *cfg
	s.schedules[cfg.ResourceID] = &cp
	return nil
}

func (s *MemoryStore) scheduleExists(id int64) bool {
	for _, cfg := range s.schedules {
		if cfg.ID == id {
			return true
		}
	}
	return false
}

func (s *MemoryStore) AddWeeklyRule(_ context.Context, rule *model.WeeklyAvailabilityRule) error {
	if err := ValidateWeeklyRule(rule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scheduleExists(rule.ScheduleID) {
		return Invalid("schedule_id", "schedule not found")
	}
	rule.ID = s.id()
	s.weekly[rule.ID] = *rule
	return nil
}

func (s *MemoryStore) AddBreak(_ context.Context, br *model.BreakRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var parent *model.WeeklyAvailabilityRule
	if r, ok := s.weekly[br.WeeklyRuleID]; ok {
		parent = &r
	}
	if err := ValidateBreak(br, parent); err != nil {
		return err
	}
	br.ID = s.id()
	s.breaks[br.ID] = *br
	return nil
}

func (s *MemoryStore) AddDateException(_ context.Context, exc *model.DateException) error {
	if err := ValidateDateException(exc); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scheduleExists(exc.ScheduleID) {
		return Invalid("schedule_id", "schedule not found")
	}
	key := exceptionKey{exc.ScheduleID, exc.Date}
	if _, dup := s.exceptions[key]; dup {
		return Invalid("date", "an exception already exists for "+exc.Date.String())
	}
	exc.ID = s.id()
	s.exceptions[key] = *exc
	return nil
}

func (s *MemoryStore) DeleteDateException(_ context.Context, scheduleID int64, date model.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := exceptionKey{scheduleID, date}
	if _, ok := s.exceptions[key]; !ok {
		return ErrNotFound
	}
	delete(s.exceptions, key)
	return nil
}

// AddOccupancy records an occupancy directly, as an external booking system would.
func (s *MemoryStore) AddOccupancy(_ context.Context, occ model.BookingOccupancy) error {
	if !occ.StartTime.Before(occ.EndTime) {
		return Invalid("end_time", "must be after start_time")
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.occupancies[occ.ResourceID] = append(s.occupancies[occ.ResourceID], occ)
	return nil
}

func (s *MemoryStore) ActiveOccupancies(_ context.Context, resourceID string, from, to time.Time) ([]model.BookingOccupancy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterActive(s.occupancies[resourceID], from, to), nil
}

func filterActive(list []model.BookingOccupancy, from, to time.Time) []model.BookingOccupancy {
	var out []model.BookingOccupancy
	for _, o := range list {
		if o.IsActive() && o.StartTime.Before(to) && o.EndTime.After(from) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// BeginOccupancyTx serializes with every other transaction on the store.
// Writes are staged and only become visible on Commit.
func (s *MemoryStore) BeginOccupancyTx(ctx context.Context) (OccupancyTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.txMu.Lock()

	s.mu.RLock()
	staged := make(map[string][]model.BookingOccupancy, len(s.occupancies))
	for k, v := range s.occupancies {
		staged[k] = append([]model.BookingOccupancy(nil), v...)
	}
	s.mu.RUnlock()

	return &memoryTx{store: s, staged: staged}, nil
}

type memoryTx struct {
	store  *MemoryStore
	staged map[string][]model.BookingOccupancy
	done   bool
}

func (t *memoryTx) ActiveOccupancies(_ context.Context, resourceID string, from, to time.Time) ([]model.BookingOccupancy, error) {
	return filterActive(t.staged[resourceID], from, to), nil
}

func (t *memoryTx) GetOccupancy(_ context.Context, id string) (*model.BookingOccupancy, error) {
	for _, list := range t.staged {
		for _, o := range list {
			if o.ID == id {
				cp := o
				return &cp, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (t *memoryTx) InsertOccupancy(_ context.Context, occ *model.BookingOccupancy) error {
	if !occ.StartTime.Before(occ.EndTime) {
		return Invalid("end_time", "must be after start_time")
	}
	t.staged[occ.ResourceID] = append(t.staged[occ.ResourceID], *occ)
	return nil
}

func (t *memoryTx) UpdateOccupancyStatus(_ context.Context, id string, status model.OccupancyStatus, at time.Time) error {
	for k, list := range t.staged {
		for i := range list {
			if list[i].ID == id {
				t.staged[k][i].Status = status
				t.staged[k][i].UpdatedAt = at
				return nil
			}
		}
	}
	return ErrNotFound
}

func (t *memoryTx) Commit() error {
	if t.done {
		return nil
	}
	t.store.mu.Lock()
	t.store.occupancies = t.staged
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *memoryTx) Rollback() error {
	if !t.done {
		t.finish()
	}
	return nil
}

func (t *memoryTx) finish() {
	t.done = true
	t.store.txMu.Unlock()
}
