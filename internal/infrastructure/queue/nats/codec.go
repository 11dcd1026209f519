package nats

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

const (
	headerAuditID   = "Nats-Msg-Id"
	headerRequestID = "X-Request-ID"
)

func encodeAudit(subject string, audit domain.AnswerAudit) (*nats.Msg, error) {
	data, err := json.Marshal(audit)
	if err != nil {
		return nil, fmt.Errorf("encode audit: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	if audit.ID != "" {
		msg.Header.Set(headerAuditID, audit.ID)
	}
	if audit.RequestID != "" {
		msg.Header.Set(headerRequestID, audit.RequestID)
	}
	return msg, nil
}

func decodeAudit(msg *nats.Msg) (domain.AnswerAudit, error) {
	var audit domain.AnswerAudit
	if err := json.Unmarshal(msg.Data, &audit); err != nil {
		return domain.AnswerAudit{}, fmt.Errorf("decode audit: %w", err)
	}
	if audit.ID == "" {
		audit.ID = msg.Header.Get(headerAuditID)
	}
	if audit.ID == "" {
		return domain.AnswerAudit{}, fmt.Errorf("decode audit: missing id")
	}
	return audit, nil
}
