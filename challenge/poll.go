package challenge

import (
	"context"
	"time"
)

// PollOutcome reports how a poll loop ended.
type PollOutcome int

const (
	PollResolved PollOutcome = iota
	PollTimeout
)

// Poll invokes fn on a fixed interval until it reports done, the deadline
// elapses, or the context is cancelled. A zero deadline polls forever. The
// first invocation happens immediately, not after one interval.
//
// Poll carries no retry counting of its own; callers that want bounded
// retries layer them on top. It is shared by the verification Waiter and by
// redirect resolution in capture.
func Poll(ctx context.Context, interval, deadline time.Duration, fn func(ctx context.Context) (bool, error)) (PollOutcome, error) {
	var timeout <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeout = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			return PollTimeout, err
		}
		if done {
			return PollResolved, nil
		}

		select {
		case <-ctx.Done():
			return PollTimeout, ctx.Err()
		case <-timeout:
			return PollTimeout, nil
		case <-ticker.C:
		}
	}
}
