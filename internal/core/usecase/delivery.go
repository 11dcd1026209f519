package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/kirillkom/doc-qa-assistant/internal/core/domain"
)

// deadlineDeliveryWait bounds each send once the request deadline has passed.
// The consumer is still reading at that point; only a cancelled caller is gone.
const deadlineDeliveryWait = 2 * time.Second

// deliver sends ev on out. A cancelled ctx drops the event. An expired
// deadline does not: the timeout explanation and End still have to reach the
// consumer, so the send continues detached for a short while.
func deliver(ctx context.Context, out chan<- domain.StreamEvent, ev domain.StreamEvent) bool {
	if ctx.Err() == nil {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
		}
	}
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false
	}

	timer := time.NewTimer(deadlineDeliveryWait)
	defer timer.Stop()
	select {
	case out <- ev:
		return true
	case <-timer.C:
		return false
	}
}

func deadlineExpired(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
