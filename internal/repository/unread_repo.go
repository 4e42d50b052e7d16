package repository

import (
	"context"
	"sort"

	"github.com/Billboah/ChatApp-sub000/internal/models"
)

// UnreadRepository maintains the per-user unread sets. Every mutation is a
// single statement so concurrent pushes and pulls for the same user never
// lose updates.
type UnreadRepository struct {
	db DBTX
}

func NewUnreadRepository(db DBTX) *UnreadRepository {
	return &UnreadRepository{db: db}
}

// AddForRecipients marks the message unread for every chat member except the
// sender and returns the recipients.
func (r *UnreadRepository) AddForRecipients(
	ctx context.Context,
	chatID int64,
	messageID int64,
	senderID int64,
) ([]int64, error) {
	rows, err := r.db.Query(ctx, `
		INSERT INTO unread_messages (user_id, message_id, chat_id)
		SELECT cm.user_id, $2, $1
		FROM chat_members cm
		WHERE cm.chat_id = $1 AND cm.user_id <> $3
		ON CONFLICT (user_id, message_id) DO NOTHING
		RETURNING user_id
	`, chatID, messageID, senderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := make([]int64, 0)
	for rows.Next() {
		var userID int64
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		recipients = append(recipients, userID)
	}

	return recipients, rows.Err()
}

// TakeForChat removes the user's unread entries for the chat and returns the
// corresponding messages in ascending id order. A second call returns nothing
// until new messages arrive.
func (r *UnreadRepository) TakeForChat(ctx context.Context, userID int64, chatID int64) ([]models.Message, error) {
	rows, err := r.db.Query(ctx, `
		DELETE FROM unread_messages u
		USING messages m
		WHERE u.user_id = $1
		  AND u.chat_id = $2
		  AND m.id = u.message_id
		RETURNING m.id, m.chat_id, m.sender_id, m.content, m.created_at
	`, userID, chatID)
	if err != nil {
		return nil, err
	}

	messages, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}

	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	return messages, nil
}
