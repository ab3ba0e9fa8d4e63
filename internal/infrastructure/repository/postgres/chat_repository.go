package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/multimodal-rag/internal/core/domain"
)

type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) CreateChat(ctx context.Context, chat *domain.Chat) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO chats (id, project_id, user_id, title, created_at)
VALUES ($1,$2,$3,$4,$5)
`, chat.ID, chat.ProjectID, chat.UserID, chat.Title, chat.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (r *ChatRepository) GetChat(ctx context.Context, chatID string) (*domain.Chat, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, project_id, user_id, title, created_at
FROM chats
WHERE id = $1
`, chatID)

	var chat domain.Chat
	if err := row.Scan(&chat.ID, &chat.ProjectID, &chat.UserID, &chat.Title, &chat.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get chat", fmt.Errorf("chat %s", chatID))
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

// DeleteChat removes the chat; messages go with it through the foreign key.
func (r *ChatRepository) DeleteChat(ctx context.Context, chatID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete chat rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "delete chat", fmt.Errorf("chat %s", chatID))
	}
	return nil
}

func (r *ChatRepository) InsertMessage(ctx context.Context, message *domain.Message) error {
	citations := message.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO messages (id, chat_id, user_id, role, content, citations, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, message.ID, message.ChatID, message.UserID, string(message.Role), message.Content, citationsJSON, message.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *ChatRepository) ListMessages(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, chat_id, user_id, role, content, citations, created_at
FROM messages
WHERE chat_id = $1
ORDER BY created_at ASC
`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListRecentMessages returns the last limit messages in chronological order.
func (r *ChatRepository) ListRecentMessages(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, chat_id, user_id, role, content, citations, created_at
FROM messages
WHERE chat_id = $1
ORDER BY created_at DESC
LIMIT $2
`, chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	out, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	out := make([]domain.Message, 0)
	for rows.Next() {
		var msg domain.Message
		var role string
		var citationsRaw []byte
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &role, &msg.Content, &citationsRaw, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = domain.Role(role)
		if len(citationsRaw) > 0 {
			if err := json.Unmarshal(citationsRaw, &msg.Citations); err != nil {
				return nil, fmt.Errorf("unmarshal citations: %w", err)
			}
		}
		if len(msg.Citations) == 0 {
			msg.Citations = nil
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}
