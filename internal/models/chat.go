package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Chat struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	IsGroup         bool      `json:"is_group"`
	LatestMessageID *int64    `json:"latest_message_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Participant struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Message is shared by the server and the client sync engine. TempID only
// travels with a locally authored message until the server assigns ID; it is
// never persisted.
type Message struct {
	ID        int64     `json:"id,omitempty"`
	ChatID    int64     `json:"chat_id,omitempty"`
	Chat      *ChatRef  `json:"chat,omitempty"`
	SenderID  int64     `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Delivered bool      `json:"delivered"`
	TempID    string    `json:"temp_id,omitempty"`
}

// ResolvedChatID returns the chat id from whichever chat reference the
// message carries. An embedded chat object wins over the bare id.
func (m *Message) ResolvedChatID() int64 {
	if m.Chat != nil && m.Chat.ID > 0 {
		return m.Chat.ID
	}
	return m.ChatID
}

// ChatRef decodes a chat reference that is either a bare id (number or
// numeric string) or an embedded chat object.
type ChatRef struct {
	ID      int64  `json:"id"`
	Name    string `json:"name,omitempty"`
	IsGroup bool   `json:"is_group,omitempty"`
}

func (r *ChatRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	switch data[0] {
	case '{':
		type plain ChatRef
		var decoded plain
		if err := json.Unmarshal(data, &decoded); err != nil {
			return err
		}
		*r = ChatRef(decoded)
		return nil
	case '"':
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("chat reference %q is not an id: %w", raw, err)
		}
		*r = ChatRef{ID: id}
		return nil
	default:
		var id int64
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("chat reference: %w", err)
		}
		*r = ChatRef{ID: id}
		return nil
	}
}

type ChatSummary struct {
	Chat
	Members          []Participant `json:"members"`
	LatestMessage    *Message      `json:"latest_message,omitempty"`
	UnreadMessageIDs []int64       `json:"unread_message_ids"`
}

// HistoryPage is the response of a history fetch: the caller's full unread
// slice for the chat plus one page of already-seen history.
type HistoryPage struct {
	RegularMessages []Message `json:"regular_messages"`
	UnreadMessages  []Message `json:"unread_messages"`
	HasMore         bool      `json:"has_more"`
}
