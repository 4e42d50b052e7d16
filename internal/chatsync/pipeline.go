package chatsync

import (
	"slices"
	"strings"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/google/uuid"
)

// Source identifies where an ingested message came from.
type Source int

const (
	SourceFetch Source = iota
	SourcePush
	SourceOptimistic
	SourceConfirm
	SourceBackfill
)

func (s Source) String() string {
	switch s {
	case SourceFetch:
		return "fetch"
	case SourcePush:
		return "push"
	case SourceOptimistic:
		return "optimistic"
	case SourceConfirm:
		return "confirm"
	case SourceBackfill:
		return "backfill"
	default:
		return "unknown"
	}
}

// Outcome reports what Ingest did with a message.
type Outcome int

const (
	// OutcomeDropped means nothing changed.
	OutcomeDropped Outcome = iota
	// OutcomeInserted means the message was added to its chat's buffer.
	OutcomeInserted
	// OutcomeReplaced means an existing entry for the same message was updated.
	OutcomeReplaced
	// OutcomeSummaryOnly means the chat has no buffer yet; only its chat-list
	// entry was updated.
	OutcomeSummaryOnly
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDropped:
		return "dropped"
	case OutcomeInserted:
		return "inserted"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeSummaryOnly:
		return "summary_only"
	default:
		return "unknown"
	}
}

// Incoming is one message entering the store.
type Incoming struct {
	Message models.Message
	Source  Source
	// TempID links a server confirmation to the optimistic entry it replaces.
	TempID string
	// Seen places a new message in the regular timeline even when its chat is
	// not selected. History pages are seen by definition.
	Seen bool
}

// Ingest merges one message into the store. It is the only path through which
// messages enter a buffer.
//
// A chat's buffer is only ever created by ApplyFetch. Messages for a chat
// without a buffer are dropped, except backfilled unread messages which still
// update the chat-list entry.
func (s *Store) Ingest(in Incoming) Outcome {
	message := in.Message
	chatID := message.ResolvedChatID()
	if chatID <= 0 {
		return OutcomeDropped
	}
	ref := message.Chat
	message.ChatID = chatID
	message.Chat = nil

	tempID := in.TempID
	if tempID == "" {
		tempID = message.TempID
	}
	if message.ID == 0 && tempID == "" {
		return OutcomeDropped
	}
	if message.ID != 0 {
		message.TempID = ""
	} else {
		message.TempID = tempID
	}

	own := in.Source == SourceOptimistic || in.Source == SourceConfirm ||
		(s.selfID != 0 && message.SenderID == s.selfID)
	selected := s.selected == chatID
	seen := in.Seen || own || selected

	buf, ok := s.buffers[chatID]
	if !ok {
		if in.Source != SourceBackfill || message.ID == 0 {
			return OutcomeDropped
		}
		s.updateSummary(chatID, ref, message, tempID, !seen)
		return OutcomeSummaryOnly
	}

	outcome := OutcomeInserted
	unread := false
	if replacedIn := s.replaceExisting(buf, message, tempID); replacedIn != nil {
		outcome = OutcomeReplaced
		unread = replacedIn == &buf.Unread
	} else if seen {
		buf.Regular.Insert(message)
	} else {
		buf.Unread.Insert(message)
		unread = true
	}

	if message.ID != 0 && tempID != "" {
		s.ClearFailed(tempID)
	}

	s.updateSummary(chatID, ref, message, tempID, unread)

	if selected && outcome == OutcomeInserted && in.Source != SourceFetch {
		s.autoScroll = true
	}
	return outcome
}

// replaceExisting updates the entry for message in place and returns the
// timeline holding it, or nil when the message is new. When both a pending
// entry and its confirmed copy are present they collapse into one.
func (s *Store) replaceExisting(buf *Buffer, message models.Message, tempID string) *Timeline {
	for _, line := range []*Timeline{&buf.Regular, &buf.Unread} {
		i := line.Find(message.ID, tempID)
		if i < 0 {
			continue
		}
		if line.At(i).Delivered && message.ID != 0 {
			message.Delivered = true
		}
		buf.Regular.RemoveMatching(message.ID, tempID)
		buf.Unread.RemoveMatching(message.ID, tempID)
		line.Insert(message)
		return line
	}
	return nil
}

// updateSummary keeps the chat-list entry in step with an ingested message:
// latest message, unread badge and list position.
func (s *Store) updateSummary(chatID int64, ref *models.ChatRef, message models.Message, tempID string, unread bool) {
	i := s.chatIndex(chatID)
	if i < 0 {
		summary := models.ChatSummary{Chat: models.Chat{ID: chatID}}
		if ref != nil {
			summary.Name = ref.Name
			summary.IsGroup = ref.IsGroup
		}
		s.chats = append([]models.ChatSummary{summary}, s.chats...)
		i = 0
	}
	chat := &s.chats[i]

	if unread && message.ID != 0 && !slices.Contains(chat.UnreadMessageIDs, message.ID) {
		chat.UnreadMessageIDs = append(chat.UnreadMessageIDs, message.ID)
	}

	latest := chat.LatestMessage
	same := latest != nil && matches(*latest, message.ID, tempID)
	if latest != nil && !same && compareMessages(message, *latest) <= 0 {
		return
	}

	stored := message
	chat.LatestMessage = &stored
	if message.ID != 0 {
		id := message.ID
		chat.LatestMessageID = &id
	}
	if !same {
		s.PromoteChatToTop(chatID)
	}
}

// ApplyFetch merges a history page for chatID, creating the chat's buffer if
// this is its first fetch. before is the cursor the page was requested with,
// 0 for the newest page.
func (s *Store) ApplyFetch(chatID int64, page models.HistoryPage, before int64) (inserted, replaced int) {
	if chatID <= 0 {
		return 0, 0
	}

	buf, existed := s.buffers[chatID]
	if !existed {
		buf = &Buffer{ChatID: chatID}
		s.buffers[chatID] = buf
	}

	count := func(outcome Outcome) {
		switch outcome {
		case OutcomeInserted:
			inserted++
		case OutcomeReplaced:
			replaced++
		}
	}

	for _, message := range page.RegularMessages {
		if !belongsTo(&message, chatID) {
			continue
		}
		count(s.Ingest(Incoming{Message: message, Source: SourceFetch, Seen: true}))
	}
	for _, message := range page.UnreadMessages {
		if !belongsTo(&message, chatID) {
			continue
		}
		count(s.Ingest(Incoming{Message: message, Source: SourceFetch}))
	}

	oldest := (&Timeline{items: page.RegularMessages}).OldestID()
	switch {
	case before != 0:
		buf.HasMoreHistory = page.HasMore
		if oldest != 0 && (buf.OldestLoadedID == 0 || oldest < buf.OldestLoadedID) {
			buf.OldestLoadedID = oldest
		}
	case !existed || buf.OldestLoadedID == 0:
		buf.HasMoreHistory = page.HasMore
		buf.OldestLoadedID = oldest
	}

	if s.selected == chatID && before == 0 && buf.Regular.Len() > 0 {
		s.autoScroll = true
	}
	return inserted, replaced
}

// SendLocal inserts an optimistic message authored by the store's user and
// returns it with its generated temp id. The chat must already have a buffer.
func (s *Store) SendLocal(chatID int64, content string, now time.Time) (models.Message, bool) {
	content = strings.TrimSpace(content)
	if chatID <= 0 || content == "" || !s.HasBuffer(chatID) {
		return models.Message{}, false
	}

	message := models.Message{
		ChatID:    chatID,
		SenderID:  s.selfID,
		Content:   content,
		CreatedAt: now.UTC(),
		TempID:    uuid.NewString(),
	}
	if s.Ingest(Incoming{Message: message, Source: SourceOptimistic}) == OutcomeDropped {
		return models.Message{}, false
	}
	return message, true
}

// Confirm replaces the optimistic entry tempID with the server's copy.
func (s *Store) Confirm(message models.Message, tempID string) Outcome {
	message.Delivered = true
	return s.Ingest(Incoming{Message: message, Source: SourceConfirm, TempID: tempID, Seen: true})
}

// belongsTo fills in a missing chat reference and rejects messages that name
// a different chat.
func belongsTo(message *models.Message, chatID int64) bool {
	resolved := message.ResolvedChatID()
	if resolved == 0 {
		message.ChatID = chatID
		return true
	}
	return resolved == chatID
}
