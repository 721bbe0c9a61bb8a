package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3}, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), Policy{Attempts: 4}, func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls)
}

func TestRetryIfStopsEarly(t *testing.T) {
	calls := 0
	fatal := errors.New("fatal")
	err := Do(context.Background(), Policy{
		Attempts: 5,
		RetryIf:  func(err error) bool { return !errors.Is(err, fatal) },
	}, func() error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestPermanentStopsNotPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, RetryIf: NotPermanent}, func() error {
		calls++
		return Permanent(errors.New("bad input"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var pe *PermanentError
	assert.True(t, errors.As(err, &pe))
}

func TestContextCancelStopsBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 10, Delay: 50 * time.Millisecond}, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	v, err := DoWithResult(context.Background(), Policy{Attempts: 3}, func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestOnRetryCallback(t *testing.T) {
	var seen []int
	_ = Do(context.Background(), Policy{
		Attempts: 3,
		OnRetry:  func(attempt int, err error) { seen = append(seen, attempt) },
	}, func() error { return errors.New("x") })
	assert.Equal(t, []int{1, 2}, seen)
}
