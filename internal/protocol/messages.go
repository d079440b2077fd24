package protocol

import "encoding/json"

// Action names accepted by POST /action and websocket action messages.
const (
	ActionStartStage    = "startStage"
	ActionCompleteStage = "completeStage"
	ActionOpenChest     = "openChest"
	ActionTogglePopup   = "togglePopup"
	ActionClaimMission  = "claimMission"
	ActionEnterCasino   = "enterCasino"
	ActionResetGame     = "resetGame"
)

// Actions lists the full action vocabulary.
var Actions = []string{
	ActionStartStage,
	ActionCompleteStage,
	ActionOpenChest,
	ActionTogglePopup,
	ActionClaimMission,
	ActionEnterCasino,
	ActionResetGame,
}

// Domain event names carried by EventMsg.
const (
	EventStageStarted   = "stageStarted"
	EventStageCompleted = "stageCompleted"
	EventChestOpened    = "chestOpened"
	EventEnergySpent    = "energySpent"
	EventEnergyRegen    = "energyRegen"
	EventCoinsEarned    = "coinsEarned"
	EventCasinoUnlocked = "casinoUnlocked"
	EventWorldChanged   = "worldChanged"
)

// ActionReq is the body of POST /action.
type ActionReq struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ActionResp answers an action. Soft rejections have OK=false and a patch;
// hard errors carry Code and Error and no patch.
type ActionResp struct {
	OK    bool   `json:"ok"`
	Patch any    `json:"patch,omitempty"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// ConnectedMsg is the first message on every stream connection.
type ConnectedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
}

type PatchMsg struct {
	Type  string `json:"type"`
	Patch any    `json:"patch"`
}

type EventMsg struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Data any    `json:"data"`
}

func NewPatchMsg(patch any) PatchMsg { return PatchMsg{Type: TypePatch, Patch: patch} }

func NewEventMsg(name string, data any) EventMsg {
	return EventMsg{Type: TypeEvent, Name: name, Data: data}
}

// WSActionMsg (client -> server, websocket only).
type WSActionMsg struct {
	Type    string          `json:"type"`
	ReqID   string          `json:"reqId,omitempty"`
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSResultMsg (server -> client, websocket only).
type WSResultMsg struct {
	Type  string `json:"type"`
	ReqID string `json:"reqId,omitempty"`
	ActionResp
}

// Event payloads.

type EnergySpentData struct {
	Amount int `json:"amount"`
}

type EnergyRegenData struct {
	Amount int `json:"amount"`
}

type StageStartedData struct {
	StageID int `json:"stageId"`
	Cost    int `json:"cost"`
}

type StageCompletedData struct {
	StageID int `json:"stageId"`
}

type CoinsEarnedData struct {
	Amount    int `json:"amount"`
	FromStage int `json:"fromStage"`
}

type CasinoUnlockedData struct {
	WorldID string `json:"worldId"`
}

type ChestOpenedData struct {
	StageID int `json:"stageId"`
}

type WorldChangedData struct {
	WorldID string `json:"worldId"`
	Reset   bool   `json:"reset,omitempty"`
}
