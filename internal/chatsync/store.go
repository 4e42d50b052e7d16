// Package chatsync keeps a client's view of its chats consistent while
// history fetches, optimistic sends and realtime pushes race each other.
//
// A Store is not safe for concurrent use. It is meant to be owned by a single
// event loop that applies one event at a time.
package chatsync

import (
	"slices"

	"github.com/Billboah/ChatApp-sub000/internal/models"
)

// Buffer is the client-side cache of one chat's messages. Regular holds
// messages the user has seen, Unread the ones not yet viewed. The two never
// share an id.
type Buffer struct {
	ChatID         int64
	Regular        Timeline
	Unread         Timeline
	HasMoreHistory bool
	OldestLoadedID int64
}

// BufferView is a read-only copy of a Buffer.
type BufferView struct {
	ChatID         int64
	Regular        []models.Message
	Unread         []models.Message
	HasMoreHistory bool
	OldestLoadedID int64
}

type Store struct {
	selfID     int64
	chats      []models.ChatSummary
	buffers    map[int64]*Buffer
	selected   int64
	autoScroll bool
	// failed marks optimistic sends whose request failed, keyed by temp id.
	failed map[string]error
	typing map[int64]map[int64]models.Participant
}

// NewStore returns an empty store for the user selfID. Messages authored by
// selfID never count as unread.
func NewStore(selfID int64) *Store {
	return &Store{
		selfID:  selfID,
		buffers: make(map[int64]*Buffer),
		failed:  make(map[string]error),
		typing:  make(map[int64]map[int64]models.Participant),
	}
}

// SetChats replaces the chat list, typically with the server's list on
// startup. Buffers are left alone.
func (s *Store) SetChats(chats []models.ChatSummary) {
	s.chats = make([]models.ChatSummary, 0, len(chats))
	for _, chat := range chats {
		chat.UnreadMessageIDs = slices.Clone(chat.UnreadMessageIDs)
		if chat.ID == s.selected {
			chat.UnreadMessageIDs = nil
		}
		s.chats = append(s.chats, chat)
	}
}

// Chats returns the chat list in display order, most recently active first.
func (s *Store) Chats() []models.ChatSummary {
	out := make([]models.ChatSummary, len(s.chats))
	for i, chat := range s.chats {
		chat.UnreadMessageIDs = slices.Clone(chat.UnreadMessageIDs)
		out[i] = chat
	}
	return out
}

func (s *Store) Chat(chatID int64) (models.ChatSummary, bool) {
	i := s.chatIndex(chatID)
	if i < 0 {
		return models.ChatSummary{}, false
	}
	chat := s.chats[i]
	chat.UnreadMessageIDs = slices.Clone(chat.UnreadMessageIDs)
	return chat, true
}

func (s *Store) UnreadCount(chatID int64) int {
	i := s.chatIndex(chatID)
	if i < 0 {
		return 0
	}
	return len(s.chats[i].UnreadMessageIDs)
}

func (s *Store) HasBuffer(chatID int64) bool {
	_, ok := s.buffers[chatID]
	return ok
}

func (s *Store) Buffer(chatID int64) (BufferView, bool) {
	buf, ok := s.buffers[chatID]
	if !ok {
		return BufferView{}, false
	}
	return BufferView{
		ChatID:         buf.ChatID,
		Regular:        buf.Regular.Messages(),
		Unread:         buf.Unread.Messages(),
		HasMoreHistory: buf.HasMoreHistory,
		OldestLoadedID: buf.OldestLoadedID,
	}, true
}

// Selected returns the selected chat id, or false when nothing is selected.
func (s *Store) Selected() (int64, bool) {
	return s.selected, s.selected != 0
}

// SelectChat makes chatID the selected chat, moves its unread messages into
// the regular timeline and clears its unread badge. Selecting the chat that
// is already selected does nothing.
func (s *Store) SelectChat(chatID int64) {
	if chatID <= 0 || s.selected == chatID {
		return
	}
	s.selected = chatID

	if buf, ok := s.buffers[chatID]; ok {
		for _, message := range buf.Unread.Drain() {
			buf.Regular.Insert(message)
		}
	}
	if i := s.chatIndex(chatID); i >= 0 {
		s.chats[i].UnreadMessageIDs = nil
	}
}

// DeselectChat clears the selection. Messages are not marked read.
func (s *Store) DeselectChat() {
	s.selected = 0
	s.autoScroll = false
}

// PromoteChatToTop moves the chat to the head of the chat list.
func (s *Store) PromoteChatToTop(chatID int64) {
	i := s.chatIndex(chatID)
	if i <= 0 {
		return
	}
	chat := s.chats[i]
	copy(s.chats[1:i+1], s.chats[:i])
	s.chats[0] = chat
}

// ConsumeAutoScroll reports whether the selected chat received a new message
// since the last call, and resets the signal.
func (s *Store) ConsumeAutoScroll() bool {
	scroll := s.autoScroll
	s.autoScroll = false
	return scroll
}

// MarkFailed flags a pending optimistic message as failed. The message stays
// in its buffer.
func (s *Store) MarkFailed(tempID string, err error) {
	if tempID == "" || err == nil {
		return
	}
	s.failed[tempID] = err
}

func (s *Store) ClearFailed(tempID string) {
	delete(s.failed, tempID)
}

// Failure returns the send error recorded for a pending message, or nil.
func (s *Store) Failure(tempID string) error {
	return s.failed[tempID]
}

// Pending returns the optimistic message with the given temp id, if it has
// not been confirmed yet.
func (s *Store) Pending(tempID string) (models.Message, bool) {
	if tempID == "" {
		return models.Message{}, false
	}
	for _, buf := range s.buffers {
		if i := buf.Regular.Find(0, tempID); i >= 0 {
			return buf.Regular.At(i), true
		}
		if i := buf.Unread.Find(0, tempID); i >= 0 {
			return buf.Unread.At(i), true
		}
	}
	return models.Message{}, false
}

// SetTyping records that user is typing in the chat.
func (s *Store) SetTyping(chatID int64, user models.Participant) {
	if chatID <= 0 || user.ID <= 0 || user.ID == s.selfID {
		return
	}
	typers, ok := s.typing[chatID]
	if !ok {
		typers = make(map[int64]models.Participant)
		s.typing[chatID] = typers
	}
	typers[user.ID] = user
}

func (s *Store) ClearTyping(chatID int64, userID int64) {
	typers, ok := s.typing[chatID]
	if !ok {
		return
	}
	delete(typers, userID)
	if len(typers) == 0 {
		delete(s.typing, chatID)
	}
}

// Typing returns the users currently typing in the chat, ordered by id.
func (s *Store) Typing(chatID int64) []models.Participant {
	typers := s.typing[chatID]
	out := make([]models.Participant, 0, len(typers))
	for _, user := range typers {
		out = append(out, user)
	}
	slices.SortFunc(out, func(a, b models.Participant) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

func (s *Store) chatIndex(chatID int64) int {
	return slices.IndexFunc(s.chats, func(chat models.ChatSummary) bool {
		return chat.ID == chatID
	})
}
