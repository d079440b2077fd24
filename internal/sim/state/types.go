package state

import (
	"encoding/json"
	"time"
)

type StageStatus string

const (
	StageLocked    StageStatus = "locked"
	StageUnlocked  StageStatus = "unlocked"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed"
)

type ChestStatus string

const (
	ChestNone   ChestStatus = "none"
	ChestClosed ChestStatus = "closed"
	ChestOpen   ChestStatus = "open"
)

type CasinoStatus string

const (
	CasinoLocked   CasinoStatus = "locked"
	CasinoUnlocked CasinoStatus = "unlocked"
)

type Rarity string

const (
	RarityCommon Rarity = "common"
	RarityRare   Rarity = "rare"
	RarityEpic   Rarity = "epic"
)

// Effect tags a consumable item. Consumables are removed from the inventory
// when applied.
type Effect string

const (
	EffectNone          Effect = ""
	EffectDoubleReward  Effect = "doubleReward"
	EffectStartDiscount Effect = "startDiscount"
)

// Popup is the UI's focused modal. PopupNone encodes as JSON null.
type Popup string

const (
	PopupNone      Popup = ""
	PopupInventory Popup = "inventory"
	PopupMissions  Popup = "missions"
	PopupEvents    Popup = "events"
)

func (p Popup) Valid() bool {
	switch p {
	case PopupInventory, PopupMissions, PopupEvents:
		return true
	}
	return false
}

func (p Popup) MarshalJSON() ([]byte, error) {
	if p == PopupNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(p))
}

func (p *Popup) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = PopupNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*p = Popup(s)
	return nil
}

// WorldState is the single canonical game state. Values handed out by the
// Store are shared snapshots and must not be modified in place.
type WorldState struct {
	Narrative Narrative `json:"narrative"`
	Economy   Economy   `json:"economy"`
	Player    Player    `json:"player"`
	World     World     `json:"world"`
	Missions  Missions  `json:"missions"`
	UI        UI        `json:"ui"`
}

type Narrative struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Theme string `json:"theme"`
}

type Economy struct {
	CurrencyName       string      `json:"currencyName"`
	StartStageCost     int         `json:"startStageCost"`
	ChestCost          int         `json:"chestCost"`
	EnergyCost         int         `json:"energyCost"`
	EnergyMax          int         `json:"energyMax"`
	EnergyRegenSeconds int         `json:"energyRegenSeconds"`
	StageRewardRange   RewardRange `json:"stageRewardRange"`
}

type RewardRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type Player struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Level           int            `json:"level"`
	XP              int            `json:"xp"`
	Currency        int            `json:"currency"`
	Energy          int            `json:"energy"`
	EnergyMax       int            `json:"energyMax,omitempty"`
	EnergyUpdatedAt time.Time      `json:"energyUpdatedAt"`
	CurrentStage    int            `json:"currentStage"`
	Position        Position       `json:"position"`
	Inventory       Inventory      `json:"inventory"`
	DailyChallenge  DailyChallenge `json:"dailyChallenge"`
}

type Position struct {
	StageID int `json:"stageId"`
}

type Inventory struct {
	Rewards    []Item `json:"rewards"`
	Promotions []Item `json:"promotions"`
}

type Item struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Rarity Rarity `json:"rarity"`
	Icon   string `json:"icon,omitempty"`
	Effect Effect `json:"effect,omitempty"`
}

type DailyChallenge struct {
	Description string `json:"description"`
	Progress    int    `json:"progress"`
	Total       int    `json:"total"`
	Claimed     bool   `json:"claimed"`
}

type World struct {
	ID              string  `json:"id"`
	Stages          []Stage `json:"stages"`
	CurrentStage    int     `json:"currentStage"`
	StageInProgress bool    `json:"stageInProgress"`
	Casino          Casino  `json:"casino"`
}

type Stage struct {
	ID         int         `json:"id"`
	X          int         `json:"x"`
	Y          int         `json:"y"`
	Status     StageStatus `json:"status"`
	Kind       string      `json:"kind,omitempty"`
	InProgress bool        `json:"inProgress"`
	Chest      ChestStatus `json:"chest"`
}

type Casino struct {
	X      int          `json:"x"`
	Y      int          `json:"y"`
	Status CasinoStatus `json:"status"`
}

type Missions struct {
	Active []Mission `json:"active"`
}

type Mission struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Progress    int    `json:"progress"`
	Total       int    `json:"total"`
	Claimed     bool   `json:"claimed"`
}

type UI struct {
	Popup  Popup   `json:"popup"`
	Toasts []Toast `json:"toasts"`
}

// Toast is informational only; logic never reads it back.
type Toast struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// FindStage returns the stage with the given id in the current world.
func (s WorldState) FindStage(id int) (Stage, bool) {
	for _, st := range s.World.Stages {
		if st.ID == id {
			return st, true
		}
	}
	return Stage{}, false
}

func (s WorldState) FindMission(id string) (Mission, bool) {
	for _, m := range s.Missions.Active {
		if m.ID == id {
			return m, true
		}
	}
	return Mission{}, false
}

// EnergyCap prefers the player's own cap and falls back to the economy's.
func (s WorldState) EnergyCap() int {
	if s.Player.EnergyMax > 0 {
		return s.Player.EnergyMax
	}
	return s.Economy.EnergyMax
}
