package repository

import (
	"context"

	"github.com/Billboah/ChatApp-sub000/internal/models"
	"github.com/jackc/pgx/v5"
)

type MessageRepository struct {
	db DBTX
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Create(
	ctx context.Context,
	chatID int64,
	senderID int64,
	content string,
) (*models.Message, error) {
	query := `
		INSERT INTO messages (chat_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, chat_id, sender_id, content, created_at
	`

	message, err := scanMessage(r.db.QueryRow(ctx, query, chatID, senderID, content))
	if err != nil {
		return nil, err
	}

	return message, nil
}

// ListPage returns up to limit messages of the chat older than before
// (exclusive, 0 means newest), skipping the excluded ids, newest first.
func (r *MessageRepository) ListPage(
	ctx context.Context,
	chatID int64,
	before int64,
	limit int,
	exclude []int64,
) ([]models.Message, error) {
	if exclude == nil {
		exclude = []int64{}
	}

	query := `
		SELECT id, chat_id, sender_id, content, created_at
		FROM messages
		WHERE chat_id = $1
		  AND ($2::bigint = 0 OR id < $2)
		  AND NOT (id = ANY($3::bigint[]))
		ORDER BY id DESC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query, chatID, before, exclude, limit)
	if err != nil {
		return nil, err
	}

	return collectMessages(rows)
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var message models.Message
	if err := row.Scan(
		&message.ID,
		&message.ChatID,
		&message.SenderID,
		&message.Content,
		&message.CreatedAt,
	); err != nil {
		return nil, err
	}
	message.Delivered = true
	return &message, nil
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return messages, nil
}
