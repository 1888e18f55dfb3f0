// Package retrypolicy implements the bounded-retry contract spec §5 places
// on L2 and Artifact Store operations: "SHOULD be implemented with bounded
// internal retries on transient I/O errors (<=3 attempts, total budget
// <=500 ms) before surfacing an error." Adapted from the teacher's
// internal/drivers/retry.go exponential-backoff-with-jitter policy, trimmed
// to the fixed attempt/budget shape this spec calls for and with the
// context dependency dropped (L2/artifact calls here are not
// context-cancellable at the core boundary per spec §5).
package retrypolicy

import (
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy bounds retries by attempt count and total elapsed time.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	TotalBudget  time.Duration
	Logger       *zap.Logger
}

// Default returns the spec-mandated policy: up to 3 attempts, starting at
// 20ms backoff, never spending more than 500ms total on retries.
func Default(logger *zap.Logger) Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 20 * time.Millisecond,
		TotalBudget:  500 * time.Millisecond,
		Logger:       logger,
	}
}

// Execute runs fn, retrying on a non-nil error up to MaxAttempts times or
// until TotalBudget has elapsed, whichever comes first. It returns the last
// error observed (nil if fn eventually succeeded).
func (p Policy) Execute(op string, fn func() error) error {
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := fn(); err == nil {
			if attempt > 0 {
				p.Logger.Debug("retry succeeded", zap.String("op", op), zap.Int("attempt", attempt+1))
			}
			return nil
		} else {
			lastErr = err
		}

		if attempt == p.MaxAttempts-1 {
			break
		}
		if time.Since(start) >= p.TotalBudget {
			break
		}

		delay := p.delayFor(attempt)
		if time.Since(start)+delay > p.TotalBudget {
			delay = p.TotalBudget - time.Since(start)
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	p.Logger.Warn("operation failed after bounded retries",
		zap.String("op", op), zap.Int("max_attempts", p.MaxAttempts), zap.Error(lastErr))
	return lastErr
}

func (p Policy) delayFor(attempt int) time.Duration {
	base := float64(p.InitialDelay) * math.Pow(2, float64(attempt))
	jitter := 0.5 + rand.Float64() // 0.5x - 1.5x
	return time.Duration(base * jitter)
}
