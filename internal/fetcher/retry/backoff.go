package retry

import (
	"context"
	"time"
)

// Pauser waits between attempts.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Delay returns the linear backoff before attempt (1-based).
func Delay(base time.Duration, attempt int, delayFirst bool) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	if delayFirst {
		return base * time.Duration(attempt)
	}
	return base * time.Duration(attempt-1)
}
