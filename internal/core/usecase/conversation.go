package usecase

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
)

const conversationWriteTimeout = 5 * time.Second

// ConversationalAnswerer loads stored history for requests that name a
// conversation and appends the finished exchange afterwards. Requests
// without a conversation id pass straight through.
type ConversationalAnswerer struct {
	next         ports.AnswerService
	store        ports.ConversationStore
	historyTurns int
	logger       *slog.Logger
}

func NewConversationalAnswerer(next ports.AnswerService, store ports.ConversationStore, historyTurns int, logger *slog.Logger) *ConversationalAnswerer {
	if logger == nil {
		logger = slog.Default()
	}
	if historyTurns <= 0 {
		historyTurns = defaultClassifierHistoryTurns
	}
	return &ConversationalAnswerer{next: next, store: store, historyTurns: historyTurns, logger: logger}
}

func (a *ConversationalAnswerer) Answer(ctx context.Context, req domain.AnswerRequest) <-chan domain.StreamEvent {
	conversationID := strings.TrimSpace(req.ConversationID)
	if a.store == nil || conversationID == "" {
		return a.next.Answer(ctx, req)
	}

	if len(req.Query.History) == 0 {
		history, err := a.store.GetHistory(ctx, conversationID, a.historyTurns)
		switch {
		case err == nil:
			req.Query.History = history
		case domain.IsKind(err, domain.ErrConversationNotFound):
			// First message of a new conversation.
		default:
			a.logger.Warn("conversation_history_failed", "conversation_id", conversationID, "error", err)
		}
	}

	upstream := a.next.Answer(ctx, req)
	out := make(chan domain.StreamEvent, cap(upstream))
	go func() {
		defer close(out)
		var answer strings.Builder
		completed := false
		for ev := range upstream {
			switch ev.Type {
			case domain.EventContent:
				answer.WriteString(ev.Content.Delta)
			case domain.EventEnd:
				completed = true
			}
			deliver(ctx, out, ev)
		}
		if completed {
			a.appendExchange(ctx, conversationID, req.Query.Text, answer.String())
		}
	}()
	return out
}

func (a *ConversationalAnswerer) appendExchange(ctx context.Context, conversationID, question, answer string) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), conversationWriteTimeout)
	defer cancel()
	turns := []domain.Turn{{Role: "user", Text: question}}
	if strings.TrimSpace(answer) != "" {
		turns = append(turns, domain.Turn{Role: "assistant", Text: answer})
	}
	if err := a.store.AppendTurns(writeCtx, conversationID, turns...); err != nil {
		a.logger.Warn("conversation_append_failed", "conversation_id", conversationID, "error", err)
	}
}
