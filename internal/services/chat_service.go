package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/Billboah/ChatApp-sub000/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultHistoryPageSize = 20

type userReader interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type ChatService struct {
	db          *pgxpool.Pool
	chatRepo    *repository.ChatRepository
	messageRepo *repository.MessageRepository
	unreadRepo  *repository.UnreadRepository
	userRepo    userReader
	pageSize    int
}

// ChatDelivery is the outcome of a persisted send: the stored message and the
// members whose unread sets now contain it.
type ChatDelivery struct {
	Chat         *models.Chat
	Message      *models.Message
	RecipientIDs []int64
}

func NewChatService(
	db *pgxpool.Pool,
	chatRepo *repository.ChatRepository,
	messageRepo *repository.MessageRepository,
	unreadRepo *repository.UnreadRepository,
	userRepo userReader,
	pageSize int,
) *ChatService {
	if pageSize <= 0 {
		pageSize = DefaultHistoryPageSize
	}
	return &ChatService{
		db:          db,
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		unreadRepo:  unreadRepo,
		userRepo:    userRepo,
		pageSize:    pageSize,
	}
}

func (s *ChatService) ListChats(ctx context.Context, actorID int64) ([]models.ChatSummary, error) {
	if actorID <= 0 {
		return nil, ErrInvalidInput
	}

	summaries, err := s.chatRepo.ListForParticipant(ctx, actorID)
	if err != nil {
		return nil, err
	}

	chatIDs := make([]int64, 0, len(summaries))
	for _, summary := range summaries {
		chatIDs = append(chatIDs, summary.ID)
	}
	members, err := s.chatRepo.ListMembers(ctx, chatIDs)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		if list, ok := members[summaries[i].ID]; ok {
			summaries[i].Members = list
		}
	}

	return summaries, nil
}

// FetchMessages returns every unread message the actor has in the chat plus
// one page of older, already-seen history. The returned unread ids are
// removed from the actor's unread set in the same transaction.
func (s *ChatService) FetchMessages(
	ctx context.Context,
	actorID int64,
	chatID int64,
	lastMessageID int64,
) (*models.HistoryPage, error) {
	if actorID <= 0 || chatID <= 0 || lastMessageID < 0 {
		return nil, ErrInvalidInput
	}

	if err := s.requireMember(ctx, chatID, actorID); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txUnreadRepo := repository.NewUnreadRepository(tx)
	txMessageRepo := repository.NewMessageRepository(tx)

	unread, err := txUnreadRepo.TakeForChat(ctx, actorID, chatID)
	if err != nil {
		return nil, err
	}

	unreadIDs := make([]int64, 0, len(unread))
	for _, message := range unread {
		unreadIDs = append(unreadIDs, message.ID)
	}

	page, err := txMessageRepo.ListPage(ctx, chatID, lastMessageID, s.pageSize+1, unreadIDs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return buildHistoryPage(page, unread, s.pageSize), nil
}

// UnreadMessages drains the actor's unread slice for the chat without loading
// a history page.
func (s *ChatService) UnreadMessages(ctx context.Context, actorID int64, chatID int64) ([]models.Message, error) {
	if actorID <= 0 || chatID <= 0 {
		return nil, ErrInvalidInput
	}

	if err := s.requireMember(ctx, chatID, actorID); err != nil {
		return nil, err
	}

	return s.unreadRepo.TakeForChat(ctx, actorID, chatID)
}

func (s *ChatService) SendMessage(
	ctx context.Context,
	actorID int64,
	chatID int64,
	content string,
) (*ChatDelivery, error) {
	if actorID <= 0 || chatID <= 0 {
		return nil, ErrInvalidInput
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ErrInvalidInput
	}

	chat, err := s.chatRepo.GetByIDForParticipant(ctx, chatID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txMessageRepo := repository.NewMessageRepository(tx)
	txUnreadRepo := repository.NewUnreadRepository(tx)
	txChatRepo := repository.NewChatRepository(tx)

	if err := txChatRepo.LockForSend(ctx, chatID); err != nil {
		return nil, err
	}

	message, err := txMessageRepo.Create(ctx, chatID, actorID, trimmed)
	if err != nil {
		return nil, err
	}

	recipients, err := txUnreadRepo.AddForRecipients(ctx, chatID, message.ID, actorID)
	if err != nil {
		return nil, err
	}

	if err := txChatRepo.SetLatestMessage(ctx, chatID, message.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	message.Chat = &models.ChatRef{ID: chat.ID, Name: chat.Name, IsGroup: chat.IsGroup}

	return &ChatDelivery{
		Chat:         chat,
		Message:      message,
		RecipientIDs: recipients,
	}, nil
}

func (s *ChatService) IsMember(ctx context.Context, chatID int64, userID int64) (bool, error) {
	if chatID <= 0 || userID <= 0 {
		return false, nil
	}
	return s.chatRepo.IsMember(ctx, chatID, userID)
}

func (s *ChatService) MemberIDs(ctx context.Context, actorID int64, chatID int64) ([]int64, error) {
	if err := s.requireMember(ctx, chatID, actorID); err != nil {
		return nil, err
	}
	return s.chatRepo.ListMemberIDs(ctx, chatID)
}

func (s *ChatService) Participant(ctx context.Context, userID int64) (*models.Participant, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.Participant{ID: user.ID, Name: user.Name}, nil
}

func (s *ChatService) requireMember(ctx context.Context, chatID int64, actorID int64) error {
	_, err := s.chatRepo.GetByIDForParticipant(ctx, chatID, actorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChatNotFound
		}
		return err
	}
	return nil
}

// buildHistoryPage trims the newest-first page fetched with one extra row,
// reports whether older history remains, and returns both slices ascending.
func buildHistoryPage(newestFirst []models.Message, unread []models.Message, pageSize int) *models.HistoryPage {
	hasMore := len(newestFirst) > pageSize
	if hasMore {
		newestFirst = newestFirst[:pageSize]
	}

	regular := make([]models.Message, len(newestFirst))
	for i, message := range newestFirst {
		regular[len(newestFirst)-1-i] = message
	}

	if unread == nil {
		unread = make([]models.Message, 0)
	}

	return &models.HistoryPage{
		RegularMessages: regular,
		UnreadMessages:  unread,
		HasMore:         hasMore,
	}
}

func FormatChatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
