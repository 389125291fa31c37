package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollUntil_SucceedsOnLaterAttempt(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	policy := PollPolicy{Name: "confirm", Interval: time.Second, Timeout: time.Minute}

	attempts, err := PollUntil(context.Background(), clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		return attempt == 4, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, clock.Sleeps())
}

func TestPollUntil_TimeoutBound(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	policy := PollPolicy{Name: "confirm", Interval: time.Second, Timeout: 60 * time.Second}

	attempts, err := PollUntil(context.Background(), clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		return false, nil
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollExhausted))
	assert.Equal(t, 61, attempts)

	var exhausted *PollExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "confirm", exhausted.Policy)
	assert.Equal(t, 60*time.Second, exhausted.Elapsed)
}

func TestPollUntil_AttemptBound(t *testing.T) {
	clock := NewFakeClock(time.Now())
	policy := PollPolicy{Name: "search", Interval: 10 * time.Second, MaxAttempts: 5}

	attempts, err := PollUntil(context.Background(), clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		return false, nil
	})

	assert.ErrorIs(t, err, ErrPollExhausted)
	assert.Equal(t, 5, attempts)
	assert.Len(t, clock.Sleeps(), 4)
}

func TestPollUntil_GrowingInterval(t *testing.T) {
	clock := NewFakeClock(time.Now())
	policy := PollPolicy{Name: "readiness", Interval: 2 * time.Second, MaxInterval: 10 * time.Second, Multiplier: 2, Timeout: 60 * time.Second}

	_, err := PollUntil(context.Background(), clock, policy, func(ctx context.Context, attempt int) (bool, error) {
		return attempt == 5, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second}, clock.Sleeps())
}

func TestPollUntil_PredicateErrorAborts(t *testing.T) {
	boom := errors.New("page closed")
	_, err := PollUntil(context.Background(), NewFakeClock(time.Now()), PollPolicy{Timeout: time.Minute}, func(ctx context.Context, attempt int) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestPollUntil_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PollUntil(ctx, NewFakeClock(time.Now()), PollPolicy{Timeout: time.Minute}, func(ctx context.Context, attempt int) (bool, error) {
		t.Fatal("predicate should not run after cancellation")
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
