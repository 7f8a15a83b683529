package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_RetriesConflictsOnly(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}

	calls := 0
	err := p.Run(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return Conflict("commit", errors.New("tx aborted"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = p.Run(context.Background(), func(context.Context) error {
		calls++
		return reject(ErrSlotFull, "full")
	})
	assert.ErrorIs(t, err, ErrSlotFull)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_GivesUpWithLastConflict(t *testing.T) {
	p := RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond}

	calls := 0
	err := p.Run(context.Background(), func(context.Context) error {
		calls++
		return Conflict("commit", errors.New("tx aborted"))
	})
	assert.ErrorIs(t, err, ErrTransactionConflict)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{Attempts: 10, BaseDelay: time.Hour}

	calls := 0
	err := p.Run(ctx, func(context.Context) error {
		calls++
		cancel()
		return Conflict("commit", errors.New("tx aborted"))
	})
	assert.ErrorIs(t, err, ErrTransactionConflict)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_BackoffIsCapped(t *testing.T) {
	p := RetryPolicy{BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}
	for attempt := 0; attempt < 20; attempt++ {
		d := p.backoff(attempt)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 60*time.Millisecond)
	}
}
