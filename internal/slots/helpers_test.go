package slots

import (
	"testing"
	"time"

	"slotwise/internal/model"
)

func TestFindConsecutive(t *testing.T) {
	base := monday.In(time.UTC)
	half := func(n int) time.Time { return base.Add(9*time.Hour + time.Duration(n)*30*time.Minute) }

	tests := []struct {
		name     string
		slots    []model.Slot
		expected int // number of consecutive groups
	}{
		{
			name: "all available - one group",
			slots: []model.Slot{
				{StartTime: half(0), EndTime: half(1), Available: true},
				{StartTime: half(1), EndTime: half(2), Available: true},
				{StartTime: half(2), EndTime: half(3), Available: true},
			},
			expected: 1,
		},
		{
			name: "gap in middle - two groups",
			slots: []model.Slot{
				{StartTime: half(0), EndTime: half(1), Available: true},
				{StartTime: half(1), EndTime: half(2), Available: false},
				{StartTime: half(2), EndTime: half(3), Available: true},
			},
			expected: 2,
		},
		{
			name: "overlapping starts are not chained",
			slots: []model.Slot{
				{StartTime: half(0), EndTime: half(2), Available: true},
				{StartTime: half(1), EndTime: half(3), Available: true},
			},
			expected: 2,
		},
		{
			name:     "empty slots",
			slots:    nil,
			expected: 0,
		},
		{
			name: "all unavailable",
			slots: []model.Slot{
				{StartTime: half(0), EndTime: half(1), Available: false},
				{StartTime: half(1), EndTime: half(2), Available: false},
			},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := FindConsecutive(tt.slots)

			if len(groups) != tt.expected {
				t.Errorf("expected %d groups, got %d", tt.expected, len(groups))
			}
		})
	}
}

func TestToSlotInfo(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, loc)
	info := ToSlotInfo([]model.Slot{
		{StartTime: start, EndTime: start.Add(30 * time.Minute), Available: false, Reason: model.ReasonOnBreak},
	})

	if len(info) != 1 {
		t.Fatalf("expected 1 slot info, got %d", len(info))
	}
	if info[0].Start != "10:00" || info[0].End != "10:30" {
		t.Errorf("unexpected times %s-%s", info[0].Start, info[0].End)
	}
	if info[0].Available || info[0].Reason != model.ReasonOnBreak {
		t.Errorf("unexpected availability %+v", info[0])
	}
}

func TestAvailableOnly(t *testing.T) {
	base := monday.In(time.UTC)
	slots := []model.Slot{
		{StartTime: base, Available: true},
		{StartTime: base.Add(time.Hour), Available: false},
		{StartTime: base.Add(2 * time.Hour), Available: true},
	}

	if got := len(AvailableOnly(slots)); got != 2 {
		t.Errorf("expected 2 available slots, got %d", got)
	}
	if got := CountAvailable(slots); got != 2 {
		t.Errorf("expected count 2, got %d", got)
	}
	if AvailableOnly(nil) != nil {
		t.Error("expected nil for no slots")
	}
}
