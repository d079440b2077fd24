package protocol

import "encoding/json"

const Version = "1.0"

// Stream message types.
const (
	TypeConnected = "connected"
	TypePatch     = "patch"
	TypeEvent     = "event"

	// Websocket only.
	TypeAction = "action"
	TypeResult = "result"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type string `json:"type"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
