package game

import (
	"time"

	"nightroad.app/internal/sim/state"
)

// Toast categories.
const (
	catStart   = "start"
	catReward  = "reward"
	catChest   = "chest"
	catMission = "mission"
	catWorld   = "world"
	catCasino  = "casino"
	catEnergy  = "energy"
	catNotice  = "notice"
	catError   = "error"
)

const (
	iconReward    = "item_reward"
	iconPromotion = "item_promotion"
)

// toast returns a UI patch carrying s's toasts plus a new one, trimmed to the
// newest ToastCap entries.
func (r *Rules) toast(s state.WorldState, now time.Time, category, msg string) *state.UIPatch {
	list := append([]state.Toast{}, s.UI.Toasts...)
	list = append(list, state.Toast{
		ID:       r.nextID("toast", now),
		Category: category,
		Message:  msg,
	})
	if limit := r.tun.ToastCap; limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return &state.UIPatch{Toasts: state.List(list)}
}
