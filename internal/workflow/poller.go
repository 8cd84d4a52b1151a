package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollLimit is returned when status polling exceeds its attempt budget or deadline.
var ErrPollLimit = errors.New("processing did not finish in time")

// Poller runs a check on a fixed interval until it reports done, fails, or
// the context ends. The ticker is always stopped on return.
type Poller struct {
	Interval    time.Duration
	MaxAttempts int
	Deadline    time.Duration
}

// Check reports whether polling can stop. A non-nil error stops it too.
type Check func(ctx context.Context) (done bool, err error)

// Run waits one interval before the first check.
func (p Poller) Run(ctx context.Context, check Check) (int, error) {
	parent := ctx
	if p.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Deadline)
		defer cancel()
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			if parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return attempt - 1, fmt.Errorf("%w: deadline of %s exceeded", ErrPollLimit, p.Deadline)
			}
			return attempt - 1, ctx.Err()
		case <-ticker.C:
		}

		done, err := check(ctx)
		if err != nil && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return attempt, fmt.Errorf("%w: deadline of %s exceeded", ErrPollLimit, p.Deadline)
		}
		if err != nil || done {
			return attempt, err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return attempt, fmt.Errorf("%w after %d status checks", ErrPollLimit, attempt)
		}
	}
}
