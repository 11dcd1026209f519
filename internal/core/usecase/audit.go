package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
)

// AuditRecordObserver receives worker-side persistence outcomes.
type AuditRecordObserver interface {
	ObserveAuditRecorded(queryType domain.QueryType, err error)
}

// AuditRecorder validates completed-answer audits and persists them.
type AuditRecorder struct {
	repo     ports.AuditRepository
	observer AuditRecordObserver
	logger   *slog.Logger
}

func NewAuditRecorder(repo ports.AuditRepository, observer AuditRecordObserver, logger *slog.Logger) *AuditRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditRecorder{repo: repo, observer: observer, logger: logger}
}

func (r *AuditRecorder) Record(ctx context.Context, audit domain.AnswerAudit) error {
	err := r.record(ctx, audit)
	if r.observer != nil {
		r.observer.ObserveAuditRecorded(audit.QueryType, err)
	}
	if err != nil {
		r.logger.Warn("answer_audit_record_failed", "audit_id", audit.ID, "request_id", audit.RequestID, "error", err)
		return err
	}
	r.logger.Debug("answer_audit_recorded",
		"audit_id", audit.ID,
		"request_id", audit.RequestID,
		"query_type", audit.QueryType,
		"elapsed_ms", audit.ElapsedMS,
	)
	return nil
}

func (r *AuditRecorder) record(ctx context.Context, audit domain.AnswerAudit) error {
	if strings.TrimSpace(audit.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record audit", fmt.Errorf("audit id is required"))
	}
	if _, ok := domain.ParseQueryType(string(audit.QueryType)); !ok {
		return domain.WrapError(domain.ErrInvalidInput, "record audit", fmt.Errorf("unknown query type %q", audit.QueryType))
	}
	if audit.ElapsedMS < 0 || audit.Citations < 0 || audit.Retrieved < 0 {
		return domain.WrapError(domain.ErrInvalidInput, "record audit", fmt.Errorf("negative counters"))
	}
	if err := r.repo.SaveAudit(ctx, audit); err != nil {
		return fmt.Errorf("save audit: %w", err)
	}
	return nil
}
