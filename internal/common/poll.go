package common

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollExhausted is matched by every PollExhaustedError
var ErrPollExhausted = errors.New("poll bound exceeded")

// PollPolicy names the bounds of one polling loop.
// At least one of Timeout or MaxAttempts should be set; with neither the predicate runs once.
type PollPolicy struct {
	Name        string
	Interval    time.Duration // wait between attempts
	MaxInterval time.Duration // when > Interval, the wait grows by Multiplier up to this cap
	Multiplier  float64
	Timeout     time.Duration
	MaxAttempts int
}

// PollExhaustedError reports which bound stopped a poll
type PollExhaustedError struct {
	Policy   string
	Attempts int
	Elapsed  time.Duration
}

func (e *PollExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts in %s", e.Policy, e.Attempts, e.Elapsed)
}

func (e *PollExhaustedError) Is(target error) bool {
	return target == ErrPollExhausted
}

// Predicate is one poll attempt. A non-nil error aborts the poll immediately.
type Predicate func(ctx context.Context, attempt int) (bool, error)

// PollUntil runs pred until it reports true, the policy is exhausted, or ctx is done.
// It returns the number of attempts made.
func PollUntil(ctx context.Context, clock Clock, policy PollPolicy, pred Predicate) (int, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	interval := policy.Interval
	if interval <= 0 {
		interval = time.Second
	}

	start := clock.Now()
	deadline := start.Add(policy.Timeout)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		done, err := pred(ctx, attempt)
		if err != nil {
			return attempt, err
		}
		if done {
			return attempt, nil
		}

		now := clock.Now()
		exhausted := policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts
		if policy.Timeout > 0 && !now.Before(deadline) {
			exhausted = true
		}
		if policy.Timeout <= 0 && policy.MaxAttempts <= 0 {
			exhausted = true
		}
		if exhausted {
			return attempt, &PollExhaustedError{Policy: policy.Name, Attempts: attempt, Elapsed: now.Sub(start)}
		}

		wait := interval
		if policy.Timeout > 0 {
			if remaining := deadline.Sub(now); remaining < wait {
				wait = remaining
			}
		}
		if err := clock.Sleep(ctx, wait); err != nil {
			return attempt, err
		}

		if policy.MaxInterval > interval {
			multiplier := policy.Multiplier
			if multiplier <= 1 {
				multiplier = 2
			}
			interval = time.Duration(float64(interval) * multiplier)
			if interval > policy.MaxInterval {
				interval = policy.MaxInterval
			}
		}
	}
}
