package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	PlayerID        string `json:"player_id"`
	Name            string `json:"name,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	PlayerID        string `json:"player_id"`
	Name            string `json:"name"`
	Level           int    `json:"level"`
}

// CMD (client -> server). Which fields matter depends on Op.
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Op              string `json:"op"`

	RoomID   string `json:"room_id,omitempty"`
	ChainID  string `json:"chain_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	Text     string `json:"text,omitempty"`
	Level    int    `json:"level,omitempty"`
	TaskID   int    `json:"task_id,omitempty"`
	// Event and Count are used by PROGRESS; Count defaults to 1.
	Event string `json:"event,omitempty"`
	Count int    `json:"count,omitempty"`
}

// RESULT (server -> client), one per CMD.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Ref             string `json:"ref"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Data            any    `json:"data,omitempty"`
}

// MESSAGE (server -> client): a room chat line.
type MessageMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RoomID          string `json:"room_id"`
	Text            string `json:"text"`
}

// NOTIFICATION (server -> client). RoomID is empty for player-level notices.
type NotificationMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RoomID          string `json:"room_id,omitempty"`
	Text            string `json:"text"`
}

// PRIVATE (server -> client)
type PrivateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	FromID          string `json:"from_id"`
	FromName        string `json:"from_name"`
	Text            string `json:"text"`
}
