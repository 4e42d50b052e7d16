package chatclient

import (
	"context"
	"strings"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/chatsync"
	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultTypingWindow = 3 * time.Second
	commandTimeout      = 5 * time.Second
)

var (
	ErrEmptyContent  = errors.New("chatclient: message content is empty")
	ErrInvalidChat   = errors.New("chatclient: invalid chat id")
	ErrChatNotOpen   = errors.New("chatclient: chat has not been opened")
	ErrNotPending    = errors.New("chatclient: no failed message with that temp id")
	ErrSessionClosed = errors.New("chatclient: session closed")
)

// ChatAPI is the REST surface the Session needs. *API implements it.
type ChatAPI interface {
	ListChats(ctx context.Context) ([]models.ChatSummary, error)
	FetchMessages(ctx context.Context, chatID int64, lastMessageID int64) (*models.HistoryPage, error)
	SendMessage(ctx context.Context, chatID int64, content string) (*models.Message, error)
	Unread(ctx context.Context, chatID int64) ([]models.Message, error)
}

// Transport is the realtime surface the Session needs. *Realtime implements it.
type Transport interface {
	Events() <-chan models.Event
	Reconnects() <-chan struct{}
	Send(ctx context.Context, cmd models.Command) error
}

// Session owns a chatsync.Store and applies every change to it on the
// goroutine running Run. Network calls happen on the caller's goroutine and
// only their results are handed to the loop.
type Session struct {
	store     *chatsync.Store
	api       ChatAPI
	transport Transport
	logger    zerolog.Logger
	now       func() time.Time

	ops     chan func()
	done    chan struct{}
	changes chan struct{}
	outbox  chan models.Command

	// Loop-owned state.
	joined       map[int64]bool
	typingWindow time.Duration
	typingChat   int64
	typingTimer  *time.Timer
	typingGen    int
}

type SessionOption func(*Session)

func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithTypingWindow sets how long after the last keystroke stop_typing is sent.
func WithTypingWindow(window time.Duration) SessionOption {
	return func(s *Session) {
		if window > 0 {
			s.typingWindow = window
		}
	}
}

func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

func NewSession(selfID int64, api ChatAPI, transport Transport, opts ...SessionOption) *Session {
	s := &Session{
		store:        chatsync.NewStore(selfID),
		api:          api,
		transport:    transport,
		logger:       zerolog.Nop(),
		now:          time.Now,
		ops:          make(chan func()),
		done:         make(chan struct{}),
		changes:      make(chan struct{}, 1),
		outbox:       make(chan models.Command, 16),
		joined:       make(map[int64]bool),
		typingWindow: DefaultTypingWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Changes receives a value after the store changes. Consecutive changes may
// be coalesced into one notification.
func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

// Run applies operations and realtime events until ctx is done.
func (s *Session) Run(ctx context.Context) {
	defer close(s.done)
	defer s.stopTypingTimer()

	go s.drainOutbox(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.ops:
			fn()
		case event, ok := <-s.transport.Events():
			if !ok {
				return
			}
			s.handleEvent(event)
		case <-s.transport.Reconnects():
			s.handleReconnect(ctx)
		}
	}
}

// do runs fn on the loop and waits for it to finish.
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}

	select {
	case s.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	}
	<-done
	return nil
}

// submit queues fn without waiting. Used from timers and background repairs.
func (s *Session) submit(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.done:
	}
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// sendAsync queues a fire-and-forget command. Queued commands are sent in
// order.
func (s *Session) sendAsync(cmd models.Command) {
	select {
	case s.outbox <- cmd:
	default:
		s.logger.Warn().Str("type", cmd.Type).Int64("chat_id", cmd.ChatID).Msg("realtime outbox full")
	}
}

func (s *Session) drainOutbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.outbox:
			sendCtx, cancel := context.WithTimeout(ctx, commandTimeout)
			err := s.transport.Send(sendCtx, cmd)
			cancel()
			if err != nil {
				s.logger.Debug().Err(err).Str("type", cmd.Type).Int64("chat_id", cmd.ChatID).Msg("realtime command not sent")
			}
		}
	}
}

// Start loads the chat list.
func (s *Session) Start(ctx context.Context) error {
	chats, err := s.api.ListChats(ctx)
	if err != nil {
		return errors.Wrap(err, "list chats")
	}
	return s.do(ctx, func() {
		s.store.SetChats(chats)
		s.notify()
	})
}

// OpenChat selects the chat, fetches its newest page and joins its room once
// the page is merged. When the fetch fails the chat stays selected and its
// buffer is left as it was.
func (s *Session) OpenChat(ctx context.Context, chatID int64) error {
	if chatID <= 0 {
		return ErrInvalidChat
	}

	if err := s.do(ctx, func() {
		s.store.SelectChat(chatID)
		s.notify()
	}); err != nil {
		return err
	}

	page, err := s.api.FetchMessages(ctx, chatID, 0)
	if err != nil {
		return errors.Wrapf(err, "fetch chat %d", chatID)
	}

	var join bool
	if err := s.do(ctx, func() {
		inserted, replaced := s.store.ApplyFetch(chatID, *page, 0)
		s.logger.Debug().Int64("chat_id", chatID).Int("inserted", inserted).Int("replaced", replaced).Msg("history merged")
		join = !s.joined[chatID]
		s.joined[chatID] = true
		s.notify()
	}); err != nil {
		return err
	}

	if join {
		// The room stays marked joined on failure so a reconnect retries it.
		if err := s.transport.Send(ctx, models.Command{Type: models.CommandJoinRoom, ChatID: chatID}); err != nil {
			s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("join room failed")
		}
	}
	return nil
}

// CloseChat leaves the chat's room and deselects it if it is selected. The
// buffer is kept.
func (s *Session) CloseChat(ctx context.Context, chatID int64) error {
	var leave bool
	if err := s.do(ctx, func() {
		if selected, ok := s.store.Selected(); ok && selected == chatID {
			s.store.DeselectChat()
		}
		if s.typingChat == chatID {
			s.stopTyping()
		}
		leave = s.joined[chatID]
		delete(s.joined, chatID)
		s.notify()
	}); err != nil {
		return err
	}

	if leave {
		return s.transport.Send(ctx, models.Command{Type: models.CommandLeaveRoom, ChatID: chatID})
	}
	return nil
}

// SendMessage shows the message immediately as pending, posts it and then
// replaces the pending entry with the server's copy. On failure the pending
// entry stays, flagged as failed, and is returned along with the error.
func (s *Session) SendMessage(ctx context.Context, chatID int64, content string) (models.Message, error) {
	if chatID <= 0 {
		return models.Message{}, ErrInvalidChat
	}
	if strings.TrimSpace(content) == "" {
		return models.Message{}, ErrEmptyContent
	}

	var (
		pending models.Message
		ok      bool
	)
	if err := s.do(ctx, func() {
		pending, ok = s.store.SendLocal(chatID, content, s.now())
		if !ok {
			return
		}
		if s.typingChat == chatID {
			s.stopTyping()
		}
		s.notify()
	}); err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, ErrChatNotOpen
	}

	return s.deliver(ctx, pending)
}

// Retry re-sends a failed pending message.
func (s *Session) Retry(ctx context.Context, tempID string) (models.Message, error) {
	var (
		pending models.Message
		ok      bool
	)
	if err := s.do(ctx, func() {
		if s.store.Failure(tempID) == nil {
			return
		}
		pending, ok = s.store.Pending(tempID)
		if ok {
			s.store.ClearFailed(tempID)
			s.notify()
		}
	}); err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, ErrNotPending
	}

	return s.deliver(ctx, pending)
}

func (s *Session) deliver(ctx context.Context, pending models.Message) (models.Message, error) {
	created, err := s.api.SendMessage(ctx, pending.ChatID, pending.Content)
	if err != nil {
		sendErr := errors.Wrap(err, "send message")
		_ = s.do(context.WithoutCancel(ctx), func() {
			s.store.MarkFailed(pending.TempID, sendErr)
			s.notify()
		})
		return pending, sendErr
	}

	confirmed := *created
	if err := s.do(context.WithoutCancel(ctx), func() {
		s.store.Confirm(confirmed, pending.TempID)
		s.notify()
	}); err != nil {
		return confirmed, err
	}
	confirmed.Delivered = true
	return confirmed, nil
}

// LoadOlder fetches the page before the oldest loaded message. It reports
// whether even older history remains.
func (s *Session) LoadOlder(ctx context.Context, chatID int64) (bool, error) {
	var (
		cursor int64
		more   bool
		open   bool
	)
	if err := s.do(ctx, func() {
		var view chatsync.BufferView
		view, open = s.store.Buffer(chatID)
		more = view.HasMoreHistory
		cursor = view.OldestLoadedID
	}); err != nil {
		return false, err
	}
	if !open {
		return false, ErrChatNotOpen
	}
	if !more || cursor == 0 {
		return false, nil
	}

	page, err := s.api.FetchMessages(ctx, chatID, cursor)
	if err != nil {
		return true, errors.Wrapf(err, "fetch chat %d before %d", chatID, cursor)
	}

	if err := s.do(ctx, func() {
		s.store.ApplyFetch(chatID, *page, cursor)
		s.notify()
	}); err != nil {
		return false, err
	}
	return page.HasMore, nil
}

// BackfillUnread pulls the chat's unread messages without a history fetch.
// Chats without a buffer only get their chat-list entry updated.
func (s *Session) BackfillUnread(ctx context.Context, chatID int64) error {
	if chatID <= 0 {
		return ErrInvalidChat
	}

	messages, err := s.api.Unread(ctx, chatID)
	if err != nil {
		return errors.Wrapf(err, "unread for chat %d", chatID)
	}

	return s.do(ctx, func() {
		for _, message := range messages {
			switch message.ResolvedChatID() {
			case 0:
				message.ChatID = chatID
			case chatID:
			default:
				continue
			}
			s.store.Ingest(chatsync.Incoming{Message: message, Source: chatsync.SourceBackfill})
		}
		s.notify()
	})
}

// KeyPressed announces typing in the chat and schedules stop_typing once no
// key has been pressed for the typing window.
func (s *Session) KeyPressed(ctx context.Context, chatID int64) error {
	if chatID <= 0 {
		return ErrInvalidChat
	}

	return s.do(ctx, func() {
		if s.typingChat != 0 && s.typingChat != chatID {
			s.stopTyping()
		}
		if s.typingChat != chatID {
			s.typingChat = chatID
			s.sendAsync(models.Command{Type: models.CommandTyping, ChatID: chatID})
		}

		s.stopTypingTimer()
		s.typingGen++
		gen := s.typingGen
		s.typingTimer = time.AfterFunc(s.typingWindow, func() {
			s.submit(func() {
				if s.typingGen == gen && s.typingChat == chatID {
					s.stopTyping()
				}
			})
		})
	})
}

// stopTyping must run on the loop.
func (s *Session) stopTyping() {
	if s.typingChat == 0 {
		return
	}
	s.stopTypingTimer()
	s.typingGen++
	s.sendAsync(models.Command{Type: models.CommandStopTyping, ChatID: s.typingChat})
	s.typingChat = 0
}

func (s *Session) stopTypingTimer() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

func (s *Session) handleEvent(event models.Event) {
	switch event.Type {
	case models.EventMessageCreated:
		if event.Message == nil {
			return
		}
		outcome := s.store.Ingest(chatsync.Incoming{Message: *event.Message, Source: chatsync.SourcePush})
		s.store.ClearTyping(event.Message.ResolvedChatID(), event.Message.SenderID)
		s.logger.Debug().Int64("message_id", event.Message.ID).Stringer("outcome", outcome).Msg("push applied")
	case models.EventMessageAck:
		if event.Message == nil {
			return
		}
		s.store.Confirm(*event.Message, event.TempID)
	case models.EventTyping:
		if event.User == nil {
			return
		}
		s.store.SetTyping(event.ChatID, *event.User)
	case models.EventStopTyping:
		s.store.ClearTyping(event.ChatID, event.UserID)
	case models.EventError:
		if event.TempID != "" {
			s.store.MarkFailed(event.TempID, errors.New(event.Error))
		} else {
			s.logger.Warn().Int64("chat_id", event.ChatID).Str("error", event.Error).Msg("realtime error")
			return
		}
	default:
		return
	}
	s.notify()
}

// handleReconnect rejoins every joined room and refetches the selected chat.
// Events missed while disconnected are only recovered by that refetch.
func (s *Session) handleReconnect(ctx context.Context) {
	rooms := make([]int64, 0, len(s.joined))
	for chatID := range s.joined {
		rooms = append(rooms, chatID)
	}
	selected, hasSelected := s.store.Selected()

	s.logger.Info().Int("rooms", len(rooms)).Msg("realtime reconnected")

	go func() {
		for _, chatID := range rooms {
			sendCtx, cancel := context.WithTimeout(ctx, commandTimeout)
			err := s.transport.Send(sendCtx, models.Command{Type: models.CommandJoinRoom, ChatID: chatID})
			cancel()
			if err != nil {
				s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("rejoin room failed")
			}
		}
		if !hasSelected {
			return
		}

		page, err := s.api.FetchMessages(ctx, selected, 0)
		if err != nil {
			s.logger.Warn().Err(err).Int64("chat_id", selected).Msg("refetch after reconnect failed")
			return
		}
		s.submit(func() {
			s.store.ApplyFetch(selected, *page, 0)
			s.notify()
		})
	}()
}

func (s *Session) Chats(ctx context.Context) ([]models.ChatSummary, error) {
	var chats []models.ChatSummary
	err := s.do(ctx, func() { chats = s.store.Chats() })
	return chats, err
}

func (s *Session) Buffer(ctx context.Context, chatID int64) (chatsync.BufferView, bool, error) {
	var (
		view chatsync.BufferView
		ok   bool
	)
	err := s.do(ctx, func() { view, ok = s.store.Buffer(chatID) })
	return view, ok, err
}

func (s *Session) Typing(ctx context.Context, chatID int64) ([]models.Participant, error) {
	var users []models.Participant
	err := s.do(ctx, func() { users = s.store.Typing(chatID) })
	return users, err
}

// SendFailed reports whether the pending message with tempID failed to send.
func (s *Session) SendFailed(ctx context.Context, tempID string) (bool, error) {
	var failed bool
	err := s.do(ctx, func() { failed = s.store.Failure(tempID) != nil })
	return failed, err
}

func (s *Session) ConsumeAutoScroll(ctx context.Context) (bool, error) {
	var scroll bool
	err := s.do(ctx, func() { scroll = s.store.ConsumeAutoScroll() })
	return scroll, err
}
