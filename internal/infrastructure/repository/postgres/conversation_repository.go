package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

type ConversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// GetHistory returns up to limit most recent turns, oldest first. An unknown
// conversation yields domain.ErrConversationNotFound.
func (r *ConversationRepository) GetHistory(ctx context.Context, conversationID string, limit int) ([]domain.Turn, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get history", fmt.Errorf("conversation id is required"))
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM conversations WHERE conversation_id = $1)
`, conversationID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return nil, domain.WrapError(domain.ErrConversationNotFound, "get history", fmt.Errorf("conversation %s", conversationID))
	}
	if limit <= 0 {
		return []domain.Turn{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT role, content
FROM conversation_messages
WHERE conversation_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Turn, 0, limit)
	for rows.Next() {
		var turn domain.Turn
		if err := rows.Scan(&turn.Role, &turn.Text); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	// Returned in descending order from SQL; reverse to keep chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// AppendTurns creates the conversation when needed and stores turns in order.
func (r *ConversationRepository) AppendTurns(ctx context.Context, conversationID string, turns ...domain.Turn) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "append turns", fmt.Errorf("conversation id is required"))
	}
	if len(turns) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO conversations (conversation_id, created_at, updated_at)
VALUES ($1, $2, $2)
ON CONFLICT (conversation_id) DO UPDATE SET updated_at = EXCLUDED.updated_at
`, conversationID, now); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	for i, turn := range turns {
		// Microsecond offsets keep turns of one call ordered under equal clocks.
		createdAt := now.Add(time.Duration(i) * time.Microsecond)
		if _, err := tx.ExecContext(ctx, `
INSERT INTO conversation_messages (conversation_id, role, content, created_at)
VALUES ($1, $2, $3, $4)
`, conversationID, turn.Role, turn.Text, createdAt); err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}
