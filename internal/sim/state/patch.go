package state

import (
	"encoding/json"
	"fmt"
	"time"

	"nightroad.app/internal/sim/patch"
)

// Patch is a typed partial update of WorldState. A nil field is absent from
// the encoded patch and leaves the target untouched; nested structs merge and
// lists replace wholesale, following patch.Merge.
type Patch struct {
	Narrative *Narrative     `json:"narrative,omitempty"`
	Economy   *Economy       `json:"economy,omitempty"`
	Player    *PlayerPatch   `json:"player,omitempty"`
	World     *WorldPatch    `json:"world,omitempty"`
	Missions  *MissionsPatch `json:"missions,omitempty"`
	UI        *UIPatch       `json:"ui,omitempty"`
}

type PlayerPatch struct {
	ID              *string         `json:"id,omitempty"`
	Name            *string         `json:"name,omitempty"`
	Level           *int            `json:"level,omitempty"`
	XP              *int            `json:"xp,omitempty"`
	Currency        *int            `json:"currency,omitempty"`
	Energy          *int            `json:"energy,omitempty"`
	EnergyMax       *int            `json:"energyMax,omitempty"`
	EnergyUpdatedAt *time.Time      `json:"energyUpdatedAt,omitempty"`
	CurrentStage    *int            `json:"currentStage,omitempty"`
	Position        *Position       `json:"position,omitempty"`
	Inventory       *InventoryPatch `json:"inventory,omitempty"`
	DailyChallenge  *DailyChallenge `json:"dailyChallenge,omitempty"`
}

type InventoryPatch struct {
	Rewards    *[]Item `json:"rewards,omitempty"`
	Promotions *[]Item `json:"promotions,omitempty"`
}

type WorldPatch struct {
	ID              *string  `json:"id,omitempty"`
	Stages          *[]Stage `json:"stages,omitempty"`
	CurrentStage    *int     `json:"currentStage,omitempty"`
	StageInProgress *bool    `json:"stageInProgress,omitempty"`
	Casino          *Casino  `json:"casino,omitempty"`
}

type MissionsPatch struct {
	Active *[]Mission `json:"active,omitempty"`
}

type UIPatch struct {
	Popup  *Popup   `json:"popup,omitempty"`
	Toasts *[]Toast `json:"toasts,omitempty"`
}

// Ptr returns a pointer to v, for filling Patch fields.
func Ptr[T any](v T) *T { return &v }

// List returns a pointer to a copy of xs that is never nil, so an emptied
// list still encodes as [] instead of being dropped or sent as null.
func List[T any](xs []T) *[]T {
	out := make([]T, len(xs))
	copy(out, xs)
	return &out
}

// IsEmpty reports whether the patch carries no fields.
func (p Patch) IsEmpty() bool {
	return p.Narrative == nil && p.Economy == nil && p.Player == nil &&
		p.World == nil && p.Missions == nil && p.UI == nil
}

// Full returns a patch that sets every field of s.
func Full(s WorldState) Patch {
	narrative := s.Narrative
	economy := s.Economy
	player := s.Player
	world := s.World
	return Patch{
		Narrative: &narrative,
		Economy:   &economy,
		Player: &PlayerPatch{
			ID:              Ptr(player.ID),
			Name:            Ptr(player.Name),
			Level:           Ptr(player.Level),
			XP:              Ptr(player.XP),
			Currency:        Ptr(player.Currency),
			Energy:          Ptr(player.Energy),
			EnergyMax:       Ptr(player.EnergyMax),
			EnergyUpdatedAt: Ptr(player.EnergyUpdatedAt),
			CurrentStage:    Ptr(player.CurrentStage),
			Position:        Ptr(player.Position),
			Inventory: &InventoryPatch{
				Rewards:    List(player.Inventory.Rewards),
				Promotions: List(player.Inventory.Promotions),
			},
			DailyChallenge: Ptr(player.DailyChallenge),
		},
		World: &WorldPatch{
			ID:              Ptr(world.ID),
			Stages:          List(world.Stages),
			CurrentStage:    Ptr(world.CurrentStage),
			StageInProgress: Ptr(world.StageInProgress),
			Casino:          Ptr(world.Casino),
		},
		Missions: &MissionsPatch{Active: List(s.Missions.Active)},
		UI: &UIPatch{
			Popup:  Ptr(s.UI.Popup),
			Toasts: List(s.UI.Toasts),
		},
	}
}

// Apply merges p into s and returns a freshly decoded WorldState. s is not
// modified.
func Apply(s WorldState, p Patch) (WorldState, error) {
	pv, err := ToValue(p)
	if err != nil {
		return WorldState{}, fmt.Errorf("encode patch: %w", err)
	}
	return ApplyValue(s, pv)
}

// ApplyValue merges an untyped JSON patch into s.
func ApplyValue(s WorldState, pv any) (WorldState, error) {
	base, err := ToValue(s)
	if err != nil {
		return WorldState{}, fmt.Errorf("encode state: %w", err)
	}
	return FromValue(patch.Merge(base, pv))
}

// ToValue converts v to its generic JSON representation.
func ToValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromValue decodes a generic JSON value into a WorldState.
func FromValue(v any) (WorldState, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return WorldState{}, fmt.Errorf("encode merged state: %w", err)
	}
	var s WorldState
	if err := json.Unmarshal(b, &s); err != nil {
		return WorldState{}, fmt.Errorf("decode merged state: %w", err)
	}
	s.normalize()
	return s, nil
}

func (s *WorldState) normalize() {
	if s.Player.Inventory.Rewards == nil {
		s.Player.Inventory.Rewards = []Item{}
	}
	if s.Player.Inventory.Promotions == nil {
		s.Player.Inventory.Promotions = []Item{}
	}
	if s.World.Stages == nil {
		s.World.Stages = []Stage{}
	}
	if s.Missions.Active == nil {
		s.Missions.Active = []Mission{}
	}
	if s.UI.Toasts == nil {
		s.UI.Toasts = []Toast{}
	}
}
