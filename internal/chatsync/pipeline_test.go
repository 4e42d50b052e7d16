package chatsync

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/Billboah/ChatApp-sub000/internal/models"
)

const self = int64(1)

func openedStore(t *testing.T, chatID int64, regular ...models.Message) *Store {
	t.Helper()
	store := NewStore(self)
	store.SetChats([]models.ChatSummary{
		{Chat: models.Chat{ID: 20}},
		{Chat: models.Chat{ID: chatID}},
	})
	store.ApplyFetch(chatID, models.HistoryPage{RegularMessages: regular}, 0)
	return store
}

func assertPartition(t *testing.T, view BufferView) {
	t.Helper()
	seen := make(map[int64]bool)
	for _, message := range append(view.Regular, view.Unread...) {
		if message.ID == 0 {
			continue
		}
		if seen[message.ID] {
			t.Fatalf("message %d present twice: regular=%v unread=%v", message.ID, ids(view.Regular), ids(view.Unread))
		}
		seen[message.ID] = true
	}
}

func assertOrdered(t *testing.T, messages []models.Message) {
	t.Helper()
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Fatalf("messages out of order at %d: %v", i, ids(messages))
		}
	}
}

func TestPushForSelectedChatAppendsToRegularAndScrolls(t *testing.T) {
	store := openedStore(t, 10, msg(1, 10, 1), msg(2, 10, 2))
	store.SelectChat(10)
	store.ConsumeAutoScroll()

	outcome := store.Ingest(Incoming{Message: msg(3, 10, 3), Source: SourcePush})
	if outcome != OutcomeInserted {
		t.Fatalf("expected inserted, got %s", outcome)
	}

	view, _ := store.Buffer(10)
	if !equalIDs(ids(view.Regular), 1, 2, 3) || len(view.Unread) != 0 {
		t.Fatalf("unexpected buffer: regular=%v unread=%v", ids(view.Regular), ids(view.Unread))
	}
	if !store.ConsumeAutoScroll() {
		t.Fatalf("expected autoScroll after push to selected chat")
	}
	if store.ConsumeAutoScroll() {
		t.Fatalf("autoScroll must reset once consumed")
	}
}

func TestPushForUnselectedChatGoesUnreadAndPromotes(t *testing.T) {
	store := openedStore(t, 10, msg(1, 10, 1))

	outcome := store.Ingest(Incoming{Message: msg(4, 10, 4), Source: SourcePush})
	if outcome != OutcomeInserted {
		t.Fatalf("expected inserted, got %s", outcome)
	}

	view, _ := store.Buffer(10)
	if !equalIDs(ids(view.Unread), 4) || !equalIDs(ids(view.Regular), 1) {
		t.Fatalf("unexpected buffer: regular=%v unread=%v", ids(view.Regular), ids(view.Unread))
	}
	chats := store.Chats()
	if chats[0].ID != 10 {
		t.Fatalf("expected chat 10 promoted, got order %d,%d", chats[0].ID, chats[1].ID)
	}
	if !equalIDs(chats[0].UnreadMessageIDs, 4) {
		t.Fatalf("unexpected unread ids: %v", chats[0].UnreadMessageIDs)
	}
	if chats[0].LatestMessage == nil || chats[0].LatestMessage.ID != 4 {
		t.Fatalf("unexpected latest message: %+v", chats[0].LatestMessage)
	}
	if store.ConsumeAutoScroll() {
		t.Fatalf("no autoScroll for unselected chat")
	}
}

func TestPushWithoutBufferIsDropped(t *testing.T) {
	store := NewStore(self)
	store.SetChats([]models.ChatSummary{{Chat: models.Chat{ID: 10}}})

	if outcome := store.Ingest(Incoming{Message: msg(5, 10, 5), Source: SourcePush}); outcome != OutcomeDropped {
		t.Fatalf("expected dropped, got %s", outcome)
	}
	if store.HasBuffer(10) {
		t.Fatalf("push must not create a buffer")
	}
	if chat, _ := store.Chat(10); chat.LatestMessage != nil || len(chat.UnreadMessageIDs) != 0 {
		t.Fatalf("dropped push must not touch the summary: %+v", chat)
	}
}

func TestBackfillWithoutBufferUpdatesSummaryOnly(t *testing.T) {
	store := NewStore(self)
	store.SetChats([]models.ChatSummary{{Chat: models.Chat{ID: 20}}, {Chat: models.Chat{ID: 10}}})

	if outcome := store.Ingest(Incoming{Message: msg(5, 10, 5), Source: SourceBackfill}); outcome != OutcomeSummaryOnly {
		t.Fatalf("expected summary only, got %s", outcome)
	}
	if store.HasBuffer(10) {
		t.Fatalf("backfill must not create a buffer")
	}
	chats := store.Chats()
	if chats[0].ID != 10 || !equalIDs(chats[0].UnreadMessageIDs, 5) {
		t.Fatalf("unexpected summary: %+v", chats[0])
	}
}

func TestOptimisticSendThenConfirmLeavesOneDeliveredEntry(t *testing.T) {
	store := openedStore(t, 10, msg(1, 10, 1), msg(2, 10, 9))
	store.SelectChat(10)

	pending, ok := store.SendLocal(10, " hello ", at(5))
	if !ok {
		t.Fatalf("SendLocal rejected message")
	}
	if pending.TempID == "" || pending.Delivered || pending.Content != "hello" {
		t.Fatalf("unexpected pending message: %+v", pending)
	}

	view, _ := store.Buffer(10)
	if len(view.Regular) != 3 || view.Regular[1].TempID != pending.TempID {
		t.Fatalf("pending message not at its sorted position: %+v", view.Regular)
	}

	confirmed := models.Message{ID: 5, ChatID: 10, SenderID: self, Content: "hello", CreatedAt: at(5)}
	if outcome := store.Confirm(confirmed, pending.TempID); outcome != OutcomeReplaced {
		t.Fatalf("expected replaced, got %s", outcome)
	}

	view, _ = store.Buffer(10)
	if !equalIDs(ids(view.Regular), 1, 5, 2) {
		t.Fatalf("unexpected order: %v", ids(view.Regular))
	}
	entry := view.Regular[1]
	if !entry.Delivered || entry.TempID != "" {
		t.Fatalf("confirmed entry must be delivered and lose its temp id: %+v", entry)
	}
	if _, ok := store.Pending(pending.TempID); ok {
		t.Fatalf("temp id must not resolve after confirmation")
	}
}

func TestConfirmAfterPushOfSameIDDoesNotDuplicate(t *testing.T) {
	store := openedStore(t, 10, msg(1, 10, 1))
	store.SelectChat(10)

	pending, _ := store.SendLocal(10, "hi", at(2))
	echoed := models.Message{ID: 7, ChatID: 10, SenderID: self, Content: "hi", CreatedAt: at(2), Delivered: true}
	store.Ingest(Incoming{Message: echoed, Source: SourceFetch, Seen: true})
	store.Confirm(echoed, pending.TempID)
	store.Ingest(Incoming{Message: echoed, Source: SourcePush})

	view, _ := store.Buffer(10)
	if !equalIDs(ids(view.Regular), 1, 7) {
		t.Fatalf("expected a single entry for 7, got %v", ids(view.Regular))
	}
	assertPartition(t, view)
}

func TestNoDuplicationAcrossSources(t *testing.T) {
	store := openedStore(t, 10)

	message := msg(8, 10, 8)
	store.Ingest(Incoming{Message: message, Source: SourcePush})
	store.ApplyFetch(10, models.HistoryPage{UnreadMessages: []models.Message{message}}, 0)
	store.Ingest(Incoming{Message: message, Source: SourceBackfill})
	store.ApplyFetch(10, models.HistoryPage{RegularMessages: []models.Message{message}}, 0)

	view, _ := store.Buffer(10)
	total := 0
	for _, entry := range append(view.Regular, view.Unread...) {
		if entry.ID == 8 {
			total++
		}
	}
	if total != 1 {
		t.Fatalf("expected exactly one entry with id 8, got %d", total)
	}
	if chat, _ := store.Chat(10); !equalIDs(chat.UnreadMessageIDs, 8) {
		t.Fatalf("unread ids must be a set: %v", chat.UnreadMessageIDs)
	}
}

func TestOutOfOrderArrivalsEndSorted(t *testing.T) {
	store := openedStore(t, 10)
	store.SelectChat(10)

	store.Ingest(Incoming{Message: msg(6, 10, 6), Source: SourcePush})
	store.ApplyFetch(10, models.HistoryPage{RegularMessages: []models.Message{msg(2, 10, 2), msg(4, 10, 4)}}, 0)
	store.Ingest(Incoming{Message: msg(5, 10, 5), Source: SourcePush})
	store.ApplyFetch(10, models.HistoryPage{RegularMessages: []models.Message{msg(1, 10, 1)}}, 2)

	view, _ := store.Buffer(10)
	assertOrdered(t, view.Regular)
	if !equalIDs(ids(view.Regular), 1, 2, 4, 5, 6) {
		t.Fatalf("unexpected order: %v", ids(view.Regular))
	}
}

func TestSelectChatDrainsUnreadInOrder(t *testing.T) {
	store := openedStore(t, 10, msg(1, 10, 1))
	store.Ingest(Incoming{Message: msg(4, 10, 4), Source: SourcePush})
	store.Ingest(Incoming{Message: msg(2, 10, 2), Source: SourcePush})
	store.Ingest(Incoming{Message: msg(3, 10, 3), Source: SourcePush})

	if count := store.UnreadCount(10); count != 3 {
		t.Fatalf("expected 3 unread, got %d", count)
	}

	store.SelectChat(10)

	view, _ := store.Buffer(10)
	if len(view.Unread) != 0 || !equalIDs(ids(view.Regular), 1, 2, 3, 4) {
		t.Fatalf("unexpected buffer after select: regular=%v unread=%v", ids(view.Regular), ids(view.Unread))
	}
	if count := store.UnreadCount(10); count != 0 {
		t.Fatalf("expected badge cleared, got %d", count)
	}

	store.Ingest(Incoming{Message: msg(9, 10, 9), Source: SourcePush})
	view, _ = store.Buffer(10)
	if len(view.Unread) != 0 || store.UnreadCount(10) != 0 {
		t.Fatalf("selected chat must not gather unread messages")
	}
}

func TestSelectChatTwiceIsNoOp(t *testing.T) {
	store := openedStore(t, 10, msg(1, 10, 1))
	store.SelectChat(10)
	store.Ingest(Incoming{Message: msg(2, 10, 2), Source: SourcePush})
	store.SelectChat(10)

	if !store.ConsumeAutoScroll() {
		t.Fatalf("reselecting must not reset the scroll signal")
	}
}

func TestDeselectDoesNotMarkRead(t *testing.T) {
	store := openedStore(t, 10, msg(1, 10, 1))
	store.SelectChat(10)
	store.DeselectChat()

	store.Ingest(Incoming{Message: msg(2, 10, 2), Source: SourcePush})

	if _, ok := store.Selected(); ok {
		t.Fatalf("expected no selection")
	}
	view, _ := store.Buffer(10)
	if !equalIDs(ids(view.Unread), 2) {
		t.Fatalf("expected message 2 unread after deselect, got %v", ids(view.Unread))
	}
}

func TestOwnMessagesFromOtherDevicesAreNotUnread(t *testing.T) {
	store := openedStore(t, 10, msg(1, 10, 1))

	own := msg(2, 10, 2)
	own.SenderID = self
	store.Ingest(Incoming{Message: own, Source: SourcePush})

	view, _ := store.Buffer(10)
	if len(view.Unread) != 0 || store.UnreadCount(10) != 0 {
		t.Fatalf("own message must not count as unread")
	}
}

func TestLateFetchForUnselectedChatStillMerges(t *testing.T) {
	store := NewStore(self)
	store.SetChats([]models.ChatSummary{{Chat: models.Chat{ID: 10}}, {Chat: models.Chat{ID: 11}}})
	store.SelectChat(10)
	store.SelectChat(11)

	store.ApplyFetch(10, models.HistoryPage{
		RegularMessages: []models.Message{msg(1, 10, 1)},
		UnreadMessages:  []models.Message{msg(2, 10, 2)},
		HasMore:         true,
	}, 0)

	view, ok := store.Buffer(10)
	if !ok {
		t.Fatalf("late fetch must create the buffer")
	}
	if !equalIDs(ids(view.Regular), 1) || !equalIDs(ids(view.Unread), 2) {
		t.Fatalf("unexpected buffer: regular=%v unread=%v", ids(view.Regular), ids(view.Unread))
	}
	if !view.HasMoreHistory || view.OldestLoadedID != 1 {
		t.Fatalf("unexpected cursor state: %+v", view)
	}
	if store.ConsumeAutoScroll() {
		t.Fatalf("late fetch must not scroll the selected chat")
	}
}

func TestApplyFetchCursorPagesUpdateCursor(t *testing.T) {
	store := NewStore(self)
	store.ApplyFetch(10, models.HistoryPage{RegularMessages: []models.Message{msg(21, 10, 21), msg(22, 10, 22)}, HasMore: true}, 0)
	store.ApplyFetch(10, models.HistoryPage{RegularMessages: []models.Message{msg(19, 10, 19), msg(20, 10, 20)}, HasMore: false}, 21)

	view, _ := store.Buffer(10)
	if view.HasMoreHistory || view.OldestLoadedID != 19 {
		t.Fatalf("unexpected cursor state: more=%v oldest=%d", view.HasMoreHistory, view.OldestLoadedID)
	}

	store.ApplyFetch(10, models.HistoryPage{RegularMessages: []models.Message{msg(22, 10, 22), msg(23, 10, 23)}, HasMore: true}, 0)
	view, _ = store.Buffer(10)
	if view.HasMoreHistory || view.OldestLoadedID != 19 {
		t.Fatalf("refresh must not move the cursor: more=%v oldest=%d", view.HasMoreHistory, view.OldestLoadedID)
	}
}

func TestApplyFetchSkipsMessagesOfOtherChats(t *testing.T) {
	store := NewStore(self)
	stray := msg(3, 99, 3)
	inserted, _ := store.ApplyFetch(10, models.HistoryPage{RegularMessages: []models.Message{msg(1, 10, 1), stray}}, 0)

	if inserted != 1 {
		t.Fatalf("expected one inserted message, got %d", inserted)
	}
	if store.HasBuffer(99) {
		t.Fatalf("stray message must not create a buffer")
	}
}

func TestEmbeddedAndBareChatReferencesResolveToSameChat(t *testing.T) {
	store := openedStore(t, 10)

	var embedded, bare models.Message
	if err := json.Unmarshal([]byte(`{"id":4,"chat":{"id":10,"name":"team"},"sender_id":2,"content":"a","created_at":"2026-03-01T09:04:00Z"}`), &embedded); err != nil {
		t.Fatalf("Unmarshal embedded: %v", err)
	}
	if err := json.Unmarshal([]byte(`{"id":4,"chat":"10","sender_id":2,"content":"a","created_at":"2026-03-01T09:04:00Z"}`), &bare); err != nil {
		t.Fatalf("Unmarshal bare: %v", err)
	}

	if outcome := store.Ingest(Incoming{Message: embedded, Source: SourcePush}); outcome != OutcomeInserted {
		t.Fatalf("expected inserted, got %s", outcome)
	}
	if outcome := store.Ingest(Incoming{Message: bare, Source: SourcePush}); outcome != OutcomeReplaced {
		t.Fatalf("expected replaced, got %s", outcome)
	}

	view, _ := store.Buffer(10)
	if len(view.Unread) != 1 || view.Unread[0].Chat != nil || view.Unread[0].ChatID != 10 {
		t.Fatalf("expected one normalized entry, got %+v", view.Unread)
	}
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	store := openedStore(t, 10)

	cases := []models.Message{
		{ID: 1, CreatedAt: at(1)},
		{ChatID: 10, CreatedAt: at(1)},
	}
	for _, message := range cases {
		if outcome := store.Ingest(Incoming{Message: message, Source: SourcePush}); outcome != OutcomeDropped {
			t.Fatalf("expected dropped for %+v, got %s", message, outcome)
		}
	}
}

func TestFailedSendStaysVisibleUntilConfirmed(t *testing.T) {
	store := openedStore(t, 10)
	store.SelectChat(10)

	pending, _ := store.SendLocal(10, "retry me", at(3))
	store.MarkFailed(pending.TempID, errors.New("network down"))

	if store.Failure(pending.TempID) == nil {
		t.Fatalf("expected failure marker")
	}
	if _, ok := store.Pending(pending.TempID); !ok {
		t.Fatalf("failed message must stay in the buffer")
	}

	store.Confirm(models.Message{ID: 11, ChatID: 10, SenderID: self, Content: "retry me", CreatedAt: at(3)}, pending.TempID)
	if store.Failure(pending.TempID) != nil {
		t.Fatalf("confirmation must clear the failure marker")
	}
}

func TestSendLocalValidatesBeforeMutating(t *testing.T) {
	store := openedStore(t, 10)

	if _, ok := store.SendLocal(10, "   ", at(1)); ok {
		t.Fatalf("empty content must be rejected")
	}
	if _, ok := store.SendLocal(0, "hi", at(1)); ok {
		t.Fatalf("missing chat id must be rejected")
	}
	if _, ok := store.SendLocal(77, "hi", at(1)); ok {
		t.Fatalf("unopened chat must be rejected")
	}
	view, _ := store.Buffer(10)
	if len(view.Regular) != 0 {
		t.Fatalf("rejected sends must not touch the buffer")
	}
}

func TestTypingState(t *testing.T) {
	store := NewStore(self)
	store.SetTyping(10, models.Participant{ID: 3, Name: "c"})
	store.SetTyping(10, models.Participant{ID: 2, Name: "b"})
	store.SetTyping(10, models.Participant{ID: self, Name: "me"})

	typers := store.Typing(10)
	if len(typers) != 2 || typers[0].ID != 2 || typers[1].ID != 3 {
		t.Fatalf("unexpected typers: %+v", typers)
	}

	store.ClearTyping(10, 2)
	store.ClearTyping(10, 3)
	if len(store.Typing(10)) != 0 {
		t.Fatalf("expected nobody typing")
	}
}
