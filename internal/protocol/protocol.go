package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello        = "HELLO"
	TypeWelcome      = "WELCOME"
	TypeCmd          = "CMD"
	TypeResult       = "RESULT"
	TypeMessage      = "MESSAGE"
	TypeNotification = "NOTIFICATION"
	TypePrivate      = "PRIVATE"
)

// CMD operations.
const (
	OpJoinRoom        = "JOIN_ROOM"
	OpLeaveRoom       = "LEAVE_ROOM"
	OpSubscribeRoom   = "SUBSCRIBE_ROOM"
	OpUnsubscribeRoom = "UNSUBSCRIBE_ROOM"
	OpSay             = "SAY"
	OpWhisper         = "WHISPER"
	OpSetLevel        = "SET_LEVEL"
	OpJoinChain       = "JOIN_CHAIN"
	OpProgress        = "PROGRESS"
	OpCompleteTask    = "COMPLETE_TASK"
	OpClaim           = "CLAIM"
	OpReset           = "RESET"
	OpRewards         = "REWARDS"
	OpInfo            = "INFO"
	OpRoomInfo        = "ROOM_INFO"
	OpRoster          = "ROSTER"
	OpHistory         = "HISTORY"
	OpChainProgress   = "CHAIN_PROGRESS"
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
