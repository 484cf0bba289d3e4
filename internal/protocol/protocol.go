package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeAct     = "ACT"
	TypeAck     = "ACK"
	TypeEvent   = "EVENT"
)

// Actions carried by ACT messages.
const (
	ActMove          = "MOVE"
	ActBuildStart    = "BUILD_START"
	ActBuildContinue = "BUILD_CONTINUE"
	ActBuildCancel   = "BUILD_CANCEL"
	ActBuildStatus   = "BUILD_STATUS"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
