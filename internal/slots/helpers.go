package slots

import (
	"sort"

	"slotwise/internal/model"
)

// SlotInfo is the flattened form printed by the CLI.
type SlotInfo struct {
	Start     string       `json:"start"` // "10:00"
	End       string       `json:"end"`   // "10:30"
	Available bool         `json:"available"`
	Reason    model.Reason `json:"reason,omitempty"`
}

// ToSlotInfo renders slot times in each slot's own location.
func ToSlotInfo(slots []model.Slot) []SlotInfo {
	result := make([]SlotInfo, len(slots))
	for i, s := range slots {
		result[i] = SlotInfo{
			Start:     s.StartTime.Format("15:04"),
			End:       s.EndTime.Format("15:04"),
			Available: s.Available,
			Reason:    s.Reason,
		}
	}
	return result
}

// AvailableOnly returns only available slots.
func AvailableOnly(slots []model.Slot) []model.Slot {
	var available []model.Slot
	for _, s := range slots {
		if s.Available {
			available = append(available, s)
		}
	}
	return available
}

func CountAvailable(slots []model.Slot) int {
	n := 0
	for _, s := range slots {
		if s.Available {
			n++
		}
	}
	return n
}

// FindConsecutive groups available slots whose intervals chain end-to-start.
func FindConsecutive(slots []model.Slot) [][]model.Slot {
	available := AvailableOnly(slots)
	if len(available) == 0 {
		return nil
	}

	sort.Slice(available, func(i, j int) bool {
		return available[i].StartTime.Before(available[j].StartTime)
	})

	var groups [][]model.Slot
	current := []model.Slot{available[0]}

	for i := 1; i < len(available); i++ {
		if available[i].StartTime.Equal(current[len(current)-1].EndTime) {
			current = append(current, available[i])
		} else {
			groups = append(groups, current)
			current = []model.Slot{available[i]}
		}
	}
	groups = append(groups, current)

	return groups
}
