package booking

import "slotwise/internal/model"

// transitions lists the statuses an occupancy may move to from each status.
// Moving from an inactive status back to an active one is a reactivation and
// is re-validated like a new commit.
var transitions = map[model.OccupancyStatus][]model.OccupancyStatus{
	model.StatusPending:    {model.StatusConfirmed, model.StatusCheckedIn, model.StatusCancelled},
	model.StatusConfirmed:  {model.StatusPending, model.StatusCheckedIn, model.StatusCancelled, model.StatusNoShow},
	model.StatusCheckedIn:  {model.StatusInProgress, model.StatusCancelled, model.StatusNoShow},
	model.StatusInProgress: {model.StatusCompleted},
	model.StatusCancelled:  {model.StatusPending, model.StatusConfirmed},
	model.StatusCompleted:  nil,
	model.StatusNoShow:     nil,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to model.OccupancyStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func isReactivation(from, to model.OccupancyStatus) bool {
	return !from.IsActive() && to.IsActive()
}
