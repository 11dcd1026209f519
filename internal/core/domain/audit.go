package domain

import "time"

// AnswerAudit summarizes one completed answer for offline analysis.
type AnswerAudit struct {
	ID             string    `json:"id"`
	RequestID      string    `json:"request_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Query          string    `json:"query"`
	ExpandedQuery  string    `json:"expanded_query"`
	QueryType      QueryType `json:"query_type"`
	Retrieved      int       `json:"retrieved"`
	Citations      int       `json:"citations"`
	UsedFallback   bool      `json:"used_fallback"`
	FallbackCached bool      `json:"fallback_cached"`
	Failed         bool      `json:"failed"`
	ElapsedMS      int64     `json:"elapsed_ms"`
	CompletedAt    time.Time `json:"completed_at"`
}

type AnswerRequest struct {
	Query          Query  `json:"query"`
	ConversationID string `json:"conversation_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}
