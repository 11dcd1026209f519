package resilience

import (
	"strings"
	"time"
)

// Config holds retry and circuit-breaker settings shared by every remote
// dependency of the answer pipeline.
type Config struct {
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration
	RetryMultiplier     float64

	// OperationAttempts overrides RetryMaxAttempts per operation. Keys are
	// either a full operation name ("ollama.generate_stream") or its family
	// prefix ("websearch"); the full name wins.
	OperationAttempts map[string]int

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

func (c Config) normalize() Config {
	def := DefaultConfig()
	out := c

	out.RetryMaxAttempts = positiveOr(out.RetryMaxAttempts, def.RetryMaxAttempts)
	out.RetryInitialBackoff = positiveOr(out.RetryInitialBackoff, def.RetryInitialBackoff)
	if out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = max(def.RetryMaxBackoff, out.RetryInitialBackoff)
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}

	attempts := make(map[string]int, len(c.OperationAttempts))
	for op, n := range c.OperationAttempts {
		if op = strings.TrimSpace(op); op != "" && n > 0 {
			attempts[op] = n
		}
	}
	out.OperationAttempts = attempts

	out.BreakerMinRequests = positiveOr(out.BreakerMinRequests, def.BreakerMinRequests)
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	out.BreakerOpenTimeout = positiveOr(out.BreakerOpenTimeout, def.BreakerOpenTimeout)
	out.BreakerHalfOpenMaxCalls = positiveOr(out.BreakerHalfOpenMaxCalls, def.BreakerHalfOpenMaxCalls)
	return out
}

// attemptsFor resolves the retry budget of one operation.
func (c Config) attemptsFor(operation string) int {
	if n, ok := c.OperationAttempts[operation]; ok {
		return n
	}
	if family, _, found := strings.Cut(operation, "."); found {
		if n, ok := c.OperationAttempts[family]; ok {
			return n
		}
	}
	return c.RetryMaxAttempts
}

// backoffAt returns the wait before the given retry (1-based).
func (c Config) backoffAt(retry int) time.Duration {
	wait := c.RetryInitialBackoff
	for i := 1; i < retry; i++ {
		wait = time.Duration(float64(wait) * c.RetryMultiplier)
		if wait >= c.RetryMaxBackoff {
			return c.RetryMaxBackoff
		}
	}
	return min(wait, c.RetryMaxBackoff)
}

func positiveOr[T int | uint32 | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}
