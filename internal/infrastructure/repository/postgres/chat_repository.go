package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

type ChatRepository struct {
	db *sql.DB
}

func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

func (r *ChatRepository) CreateChat(ctx context.Context, chat *domain.Chat) error {
	if chat.ID == "" {
		chat.ID = uuid.NewString()
	}
	if chat.FlowType == "" {
		chat.FlowType = domain.ChatFlowDefault
	}
	now := time.Now().UTC()
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = now
	}
	chat.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
INSERT INTO chats (id, user_id, engine_name, flow_type, title, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, chat.ID, chat.UserID, chat.EngineName, string(chat.FlowType), chat.Title, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

// MustGetChat returns the chat only when it belongs to userID.
func (r *ChatRepository) MustGetChat(ctx context.Context, chatID, userID string) (*domain.Chat, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_id, engine_name, flow_type, title, created_at, updated_at
FROM chats
WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL
`, chatID, userID)

	var chat domain.Chat
	var flow string
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.EngineName, &flow, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get chat", fmt.Errorf("chat %s", chatID))
		}
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	chat.FlowType = domain.ChatFlowType(flow)
	return &chat, nil
}

const messageColumns = `id, chat_id, ordinal, role, content, sources, graph_data, trace_id, post_verification_url, created_at, updated_at, finished_at`

// GetMessages returns the latest limit messages in ordinal order. A
// non-positive limit returns the whole chat.
func (r *ChatRepository) GetMessages(ctx context.Context, chatID string, limit int) ([]domain.ChatMessage, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, `
SELECT `+messageColumns+` FROM (
	SELECT `+messageColumns+`
	FROM chat_messages
	WHERE chat_id = $1
	ORDER BY ordinal DESC
	LIMIT $2
) latest
ORDER BY ordinal ASC
`, chatID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
SELECT `+messageColumns+`
FROM chat_messages
WHERE chat_id = $1
ORDER BY ordinal ASC
`, chatID)
	}
	if err != nil {
		return nil, fmt.Errorf("query chat messages: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ChatMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}
	return out, nil
}

func (r *ChatRepository) GetMessage(ctx context.Context, messageID string) (*domain.ChatMessage, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM chat_messages WHERE id = $1`, messageID)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get chat message", fmt.Errorf("message %s", messageID))
		}
		return nil, err
	}
	return msg, nil
}

// CreateMessage assigns the id and the next ordinal of the chat.
func (r *ChatRepository) CreateMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = now
	}
	sources, graph, err := encodeMessagePayload(msg)
	if err != nil {
		return err
	}

	row := r.db.QueryRowContext(ctx, `
INSERT INTO chat_messages (id, chat_id, ordinal, role, content, sources, graph_data, trace_id, post_verification_url, created_at, updated_at, finished_at)
SELECT $1, $2, COALESCE(MAX(ordinal), 0) + 1, $3, $4, $5, $6, $7, $8, $9, $10, $11
FROM chat_messages
WHERE chat_id = $2
RETURNING ordinal
`, msg.ID, msg.ChatID, string(msg.Role), msg.Content, sources, graph, msg.TraceID, msg.PostVerificationURL,
		msg.CreatedAt, msg.UpdatedAt, nullableTime(msg.FinishedAt))
	if err := row.Scan(&msg.Ordinal); err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (r *ChatRepository) SaveMessage(ctx context.Context, msg *domain.ChatMessage) error {
	sources, graph, err := encodeMessagePayload(msg)
	if err != nil {
		return err
	}
	msg.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
UPDATE chat_messages
SET content = $2, sources = $3, graph_data = $4, trace_id = $5, post_verification_url = $6, updated_at = $7, finished_at = $8
WHERE id = $1
`, msg.ID, msg.Content, sources, graph, msg.TraceID, msg.PostVerificationURL, msg.UpdatedAt, nullableTime(msg.FinishedAt))
	if err != nil {
		return fmt.Errorf("update chat message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update chat message rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "save chat message", fmt.Errorf("message %s", msg.ID))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.ChatMessage, error) {
	var (
		msg        domain.ChatMessage
		role       string
		sourcesRaw []byte
		graphRaw   []byte
		finishedAt sql.NullTime
	)
	if err := row.Scan(&msg.ID, &msg.ChatID, &msg.Ordinal, &role, &msg.Content, &sourcesRaw, &graphRaw,
		&msg.TraceID, &msg.PostVerificationURL, &msg.CreatedAt, &msg.UpdatedAt, &finishedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan chat message: %w", err)
	}
	msg.Role = domain.MessageRole(role)
	if len(sourcesRaw) > 0 {
		if err := json.Unmarshal(sourcesRaw, &msg.Sources); err != nil {
			return nil, fmt.Errorf("unmarshal sources: %w", err)
		}
	}
	if len(graphRaw) > 0 && string(graphRaw) != "null" {
		var graph domain.StoredGraph
		if err := json.Unmarshal(graphRaw, &graph); err != nil {
			return nil, fmt.Errorf("unmarshal graph data: %w", err)
		}
		msg.GraphData = &graph
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		msg.FinishedAt = &t
	}
	return &msg, nil
}

func encodeMessagePayload(msg *domain.ChatMessage) ([]byte, any, error) {
	sources := msg.Sources
	if sources == nil {
		sources = []domain.DocumentRef{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal sources: %w", err)
	}
	if msg.GraphData == nil {
		return sourcesJSON, nil, nil
	}
	graphJSON, err := json.Marshal(msg.GraphData)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal graph data: %w", err)
	}
	return sourcesJSON, graphJSON, nil
}
