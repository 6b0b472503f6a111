package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryReplaysConflicts(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), 5, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, fmt.Errorf("borrow: %w", ErrConflict)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, err := Retry(context.Background(), 5, func() (struct{}, error) {
		calls++
		return struct{}{}, boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryGivesUpAfterMaxTries(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), 3, func() (int, error) {
		calls++
		return 0, ErrConflict
	})

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 3, calls)
}
