package repository

import (
	"context"
	"database/sql"

	"github.com/Billboah/ChatApp-sub000/internal/models"
)

type ChatRepository struct {
	db DBTX
}

func NewChatRepository(db DBTX) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) Create(ctx context.Context, name string, isGroup bool, memberIDs []int64) (*models.Chat, error) {
	query := `
		INSERT INTO chats (name, is_group)
		VALUES ($1, $2)
		RETURNING id, name, is_group, latest_message_id, created_at, updated_at
	`

	var chat models.Chat
	err := r.db.QueryRow(ctx, query, name, isGroup).Scan(
		&chat.ID,
		&chat.Name,
		&chat.IsGroup,
		&chat.LatestMessageID,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(memberIDs) > 0 {
		_, err = r.db.Exec(ctx, `
			INSERT INTO chat_members (chat_id, user_id)
			SELECT $1, unnest($2::bigint[])
			ON CONFLICT DO NOTHING
		`, chat.ID, memberIDs)
		if err != nil {
			return nil, err
		}
	}

	return &chat, nil
}

func (r *ChatRepository) GetByIDForParticipant(
	ctx context.Context,
	chatID int64,
	participantID int64,
) (*models.Chat, error) {
	query := `
		SELECT c.id, c.name, c.is_group, c.latest_message_id, c.created_at, c.updated_at
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id
		WHERE c.id = $1 AND cm.user_id = $2
	`

	var chat models.Chat
	err := r.db.QueryRow(ctx, query, chatID, participantID).Scan(
		&chat.ID,
		&chat.Name,
		&chat.IsGroup,
		&chat.LatestMessageID,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &chat, nil
}

func (r *ChatRepository) IsMember(ctx context.Context, chatID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2
		)
	`, chatID, userID).Scan(&exists)
	return exists, err
}

func (r *ChatRepository) ListMemberIDs(ctx context.Context, chatID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT user_id
		FROM chat_members
		WHERE chat_id = $1
		ORDER BY user_id
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func (r *ChatRepository) ListForParticipant(
	ctx context.Context,
	participantID int64,
) ([]models.ChatSummary, error) {
	query := `
		SELECT
			c.id,
			c.name,
			c.is_group,
			c.latest_message_id,
			c.created_at,
			c.updated_at,
			lm.id,
			lm.chat_id,
			lm.sender_id,
			lm.content,
			lm.created_at,
			COALESCE(ur.ids, '{}'::bigint[])
		FROM chats c
		JOIN chat_members cm ON cm.chat_id = c.id AND cm.user_id = $1
		LEFT JOIN messages lm ON lm.id = c.latest_message_id
		LEFT JOIN LATERAL (
			SELECT array_agg(message_id ORDER BY message_id) AS ids
			FROM unread_messages
			WHERE user_id = $1 AND chat_id = c.id
		) ur ON TRUE
		ORDER BY COALESCE(lm.created_at, c.updated_at, c.created_at) DESC, c.id DESC
	`

	rows, err := r.db.Query(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := make([]models.ChatSummary, 0)
	for rows.Next() {
		var summary models.ChatSummary
		var messageID sql.NullInt64
		var messageChatID sql.NullInt64
		var messageSenderID sql.NullInt64
		var messageContent sql.NullString
		var messageCreatedAt sql.NullTime

		if err := rows.Scan(
			&summary.ID,
			&summary.Name,
			&summary.IsGroup,
			&summary.LatestMessageID,
			&summary.CreatedAt,
			&summary.UpdatedAt,
			&messageID,
			&messageChatID,
			&messageSenderID,
			&messageContent,
			&messageCreatedAt,
			&summary.UnreadMessageIDs,
		); err != nil {
			return nil, err
		}

		if messageID.Valid {
			summary.LatestMessage = &models.Message{
				ID:        messageID.Int64,
				ChatID:    messageChatID.Int64,
				SenderID:  messageSenderID.Int64,
				Content:   messageContent.String,
				CreatedAt: messageCreatedAt.Time,
				Delivered: true,
			}
		}
		summary.Members = make([]models.Participant, 0)

		summaries = append(summaries, summary)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return summaries, nil
}

// ListMembers returns the participants of every given chat keyed by chat id.
func (r *ChatRepository) ListMembers(ctx context.Context, chatIDs []int64) (map[int64][]models.Participant, error) {
	members := make(map[int64][]models.Participant, len(chatIDs))
	if len(chatIDs) == 0 {
		return members, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT cm.chat_id, u.id, u.name
		FROM chat_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.chat_id = ANY($1)
		ORDER BY cm.chat_id, u.id
	`, chatIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var chatID int64
		var participant models.Participant
		if err := rows.Scan(&chatID, &participant.ID, &participant.Name); err != nil {
			return nil, err
		}
		members[chatID] = append(members[chatID], participant)
	}

	return members, rows.Err()
}

// SetLatestMessage moves the chat's denormalized latest message pointer,
// never backwards.
func (r *ChatRepository) SetLatestMessage(ctx context.Context, chatID int64, messageID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE chats
		SET latest_message_id = $2, updated_at = NOW()
		WHERE id = $1
		  AND (latest_message_id IS NULL OR latest_message_id < $2)
	`, chatID, messageID)
	return err
}

// LockForSend takes the chat row lock for the rest of the transaction so
// sends to one chat insert one at a time and ids follow created_at.
func (r *ChatRepository) LockForSend(ctx context.Context, chatID int64) error {
	var id int64
	return r.db.QueryRow(ctx, `SELECT id FROM chats WHERE id = $1 FOR UPDATE`, chatID).Scan(&id)
}
