package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/observability/logging"
)

const maxRequestBodyBytes = 1 << 20

type answerRequestBody struct {
	Question       string        `json:"question"`
	History        []domain.Turn `json:"history,omitempty"`
	Scope          domain.Scope  `json:"scope"`
	ConversationID string        `json:"conversation_id,omitempty"`
}

func (rt *Router) postAnswer(w http.ResponseWriter, r *http.Request) {
	var body answerRequestBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, domain.WrapError(domain.ErrInvalidInput, "decode answer request", err))
		return
	}
	rt.streamAnswer(w, r, body)
}

// getAnswerStream serves EventSource clients, which cannot send a body.
func (rt *Router) getAnswerStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rt.streamAnswer(w, r, answerRequestBody{
		Question:       q.Get("q"),
		ConversationID: q.Get("conversation_id"),
		Scope: domain.Scope{
			DocumentIDs: q["document_id"],
			Sources:     q["source"],
		},
	})
}

func (rt *Router) streamAnswer(w http.ResponseWriter, r *http.Request, body answerRequestBody) {
	req, err := rt.buildAnswerRequest(r.Context(), body)
	if err != nil {
		writeError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if rt.opts.AnswerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.opts.AnswerTimeout)
		defer cancel()
	}

	logger := logging.FromContext(ctx, rt.logger)
	writable := true
	for ev := range rt.answers.Answer(ctx, req) {
		if !writable {
			continue
		}
		if err := sse.write(ev); err != nil {
			logger.Warn("answer_stream_write_failed", "event", ev.Type, "error", err)
			writable = false
		}
	}
}

func (rt *Router) buildAnswerRequest(ctx context.Context, body answerRequestBody) (domain.AnswerRequest, error) {
	question := strings.TrimSpace(body.Question)
	if question == "" {
		return domain.AnswerRequest{}, domain.WrapError(domain.ErrInvalidInput, "validate answer request", fmt.Errorf("question is required"))
	}
	if n := utf8.RuneCountInString(question); n > rt.opts.MaxQuestionChars {
		return domain.AnswerRequest{}, domain.WrapError(domain.ErrInvalidInput, "validate answer request",
			fmt.Errorf("question has %d characters, limit is %d", n, rt.opts.MaxQuestionChars))
	}
	for i, turn := range body.History {
		switch turn.Role {
		case "user", "assistant":
		default:
			return domain.AnswerRequest{}, domain.WrapError(domain.ErrInvalidInput, "validate answer request",
				fmt.Errorf("history[%d]: role must be user or assistant", i))
		}
	}

	return domain.AnswerRequest{
		Query: domain.Query{
			Text:    question,
			History: body.History,
			Scope:   cleanScope(body.Scope),
		},
		ConversationID: strings.TrimSpace(body.ConversationID),
		RequestID:      logging.RequestID(ctx),
	}, nil
}

func cleanScope(scope domain.Scope) domain.Scope {
	return domain.Scope{
		DocumentIDs: compactStrings(scope.DocumentIDs),
		Sources:     compactStrings(scope.Sources),
	}
}

func compactStrings(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
