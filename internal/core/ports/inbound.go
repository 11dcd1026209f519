package ports

import (
	"context"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

// AnswerService is the inbound contract for streamed, grounded answers. The
// returned channel is closed after the End event.
type AnswerService interface {
	Answer(ctx context.Context, req domain.AnswerRequest) <-chan domain.StreamEvent
}

// AuditRecorder is the inbound contract for persisting completed-answer audits.
type AuditRecorder interface {
	Record(ctx context.Context, audit domain.AnswerAudit) error
}
