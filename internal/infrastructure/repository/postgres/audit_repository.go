package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// SaveAudit inserts the audit once. Redelivered audits with a known id are
// ignored.
func (r *AuditRepository) SaveAudit(ctx context.Context, audit domain.AnswerAudit) error {
	if strings.TrimSpace(audit.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save audit", fmt.Errorf("audit id is required"))
	}
	completedAt := audit.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO answer_audits (
	id, request_id, conversation_id, query, expanded_query, query_type, retrieved, citations,
	used_fallback, fallback_cached, failed, elapsed_ms, completed_at, stored_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (id) DO NOTHING
`,
		audit.ID, nullableString(audit.RequestID), nullableString(audit.ConversationID), audit.Query, audit.ExpandedQuery,
		string(audit.QueryType), audit.Retrieved, audit.Citations, audit.UsedFallback, audit.FallbackCached,
		audit.Failed, audit.ElapsedMS, completedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}
