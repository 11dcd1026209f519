package usecase

import (
	"context"
	"errors"
	"iter"
	"log/slog"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
	"github.com/kirillkom/doc-qa-assistant/internal/core/ports"
)

// quotaAwareGenerator rotates credentials on ErrQuotaExceeded and retries up
// to the number of available credentials.
type quotaAwareGenerator struct {
	next    ports.Generator
	rotator ports.CredentialRotator
	logger  *slog.Logger
}

func newQuotaAwareGenerator(next ports.Generator, logger *slog.Logger) *quotaAwareGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	rotator, _ := next.(ports.CredentialRotator)
	return &quotaAwareGenerator{next: next, rotator: rotator, logger: logger}
}

func (g *quotaAwareGenerator) attempts() int {
	if g.rotator == nil {
		return 1
	}
	if n := g.rotator.CredentialCount(); n > 1 {
		return n
	}
	return 1
}

func (g *quotaAwareGenerator) rotate(attempt int, err error) bool {
	if g.rotator == nil || !errors.Is(err, domain.ErrQuotaExceeded) || attempt+1 >= g.attempts() {
		return false
	}
	g.logger.Warn("generation_quota_rotate", "attempt", attempt+1, "max_attempts", g.attempts(), "error", err)
	g.rotator.RotateCredential()
	return true
}

func (g *quotaAwareGenerator) Invoke(ctx context.Context, prompt string) (string, error) {
	for attempt := 0; ; attempt++ {
		out, err := g.next.Invoke(ctx, prompt)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil || !g.rotate(attempt, err) {
			return "", err
		}
	}
}

// Stream retries only while no delta has been yielded yet; once text reached
// the caller the stream cannot be replayed.
func (g *quotaAwareGenerator) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for attempt := 0; ; attempt++ {
			emitted := false
			var streamErr error
			for delta, err := range g.next.Stream(ctx, prompt) {
				if err != nil {
					streamErr = err
					break
				}
				emitted = true
				if !yield(delta, nil) {
					return
				}
			}
			if streamErr == nil {
				return
			}
			if emitted || ctx.Err() != nil || !g.rotate(attempt, streamErr) {
				yield("", streamErr)
				return
			}
		}
	}
}
