package models

// Realtime event types sent from the server to connected clients.
const (
	EventConnected      = "connected"
	EventMessageCreated = "message_created"
	EventMessageAck     = "message_ack"
	EventTyping         = "typing"
	EventStopTyping     = "stop_typing"
	EventRoomJoined     = "room_joined"
	EventRoomLeft       = "room_left"
	EventError          = "error"
	EventPong           = "pong"
)

// Realtime command types sent from clients to the server.
const (
	CommandJoinRoom    = "join_room"
	CommandLeaveRoom   = "leave_room"
	CommandTyping      = "typing"
	CommandStopTyping  = "stop_typing"
	CommandSendMessage = "send_message"
	CommandPing        = "ping"
)

type Event struct {
	Type      string       `json:"type"`
	ChatID    int64        `json:"chat_id,omitempty"`
	Message   *Message     `json:"message,omitempty"`
	TempID    string       `json:"temp_id,omitempty"`
	User      *Participant `json:"user,omitempty"`
	UserID    int64        `json:"user_id,omitempty"`
	Error     string       `json:"error,omitempty"`
	Timestamp string       `json:"timestamp"`
}

type Command struct {
	Type    string `json:"type"`
	ChatID  int64  `json:"chat_id,omitempty"`
	Content string `json:"content,omitempty"`
	TempID  string `json:"temp_id,omitempty"`
}
