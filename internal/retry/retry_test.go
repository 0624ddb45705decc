package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Retry(3, time.Microsecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("always fails")
	err := Retry(3, time.Microsecond, func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestRetryRecoversPartway(t *testing.T) {
	calls := 0
	err := Retry(5, time.Microsecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestIfErrorIsStopsOnNonMatchingError(t *testing.T) {
	target := errors.New("retry-me")
	other := errors.New("do-not-retry")
	calls := 0
	err := IfErrorIs(5, time.Microsecond, func() error {
		calls++
		return other
	}, target)
	assert.ErrorIs(t, err, other)
	assert.Equal(t, 1, calls, "a non-matching error must not be retried")
}

func TestIfErrorIsRetriesMatchingError(t *testing.T) {
	target := errors.New("retry-me")
	calls := 0
	err := IfErrorIs(3, time.Microsecond, func() error {
		calls++
		return target
	}, target)
	assert.ErrorIs(t, err, target)
	assert.Equal(t, 3, calls)
}

func TestIfCustomPredicate(t *testing.T) {
	calls := 0
	err := If(4, time.Microsecond, func() error {
		calls++
		return errors.New("fail")
	}, func(err error) bool {
		return calls < 2
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls, "predicate false on 2nd call must stop retrying")
}
