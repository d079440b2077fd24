package game

import (
	"bytes"
	"encoding/json"
	"time"

	"nightroad.app/internal/protocol"
	"nightroad.app/internal/sim/state"
)

// Request is a decoded action with the dispatch time attached.
type Request struct {
	Action    string
	StageID   int
	MissionID string
	Target    state.Popup
	Now       time.Time
}

type rawPayload struct {
	StageID   *int   `json:"stageId"`
	MissionID string `json:"missionId"`
	Target    string `json:"target"`
}

// ParseRequest decodes the payload fields an action needs. Schema validation
// is expected to have run already; this only guards the fields rules read.
func ParseRequest(in protocol.ActionReq) (Request, error) {
	req := Request{Action: in.Action}

	var p rawPayload
	if b := bytes.TrimSpace(in.Payload); len(b) > 0 && !bytes.Equal(b, []byte("null")) {
		if err := json.Unmarshal(b, &p); err != nil {
			return req, hardf(protocol.ErrBadRequest, "invalid %s payload: %v", in.Action, err)
		}
	}

	switch in.Action {
	case protocol.ActionStartStage, protocol.ActionCompleteStage, protocol.ActionOpenChest:
		if p.StageID == nil {
			return req, hardf(protocol.ErrBadRequest, "%s requires stageId", in.Action)
		}
		req.StageID = *p.StageID
	case protocol.ActionTogglePopup:
		target := state.Popup(p.Target)
		if !target.Valid() {
			return req, hardf(protocol.ErrBadRequest, "togglePopup target must be inventory, missions or events")
		}
		req.Target = target
	case protocol.ActionClaimMission:
		if p.MissionID == "" {
			return req, hardf(protocol.ErrBadRequest, "claimMission requires missionId")
		}
		req.MissionID = p.MissionID
	case protocol.ActionEnterCasino, protocol.ActionResetGame:
	default:
		return req, errUnsupported(in.Action)
	}
	return req, nil
}
