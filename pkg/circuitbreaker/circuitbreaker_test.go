package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errDown = errors.New("service down")

func alwaysFail() error { return errDown }
func alwaysOK() error   { return nil }

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(alwaysFail, nil), errDown)
	}
	assert.Equal(t, StateOpen, cb.State())

	// Open breaker short-circuits without calling fn.
	called := false
	err := cb.Execute(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestFallbackWhenOpen(t *testing.T) {
	cb := New(1, time.Minute)
	assert.Error(t, cb.Execute(alwaysFail, nil))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Execute(alwaysFail, func() error { return nil })
	assert.NoError(t, err)
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := New(1, 10*time.Millisecond)
	assert.Error(t, cb.Execute(alwaysFail, nil))
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)

	// Probe succeeds, breaker closes again.
	assert.NoError(t, cb.Execute(alwaysOK, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenReopensOnFailure(t *testing.T) {
	cb := New(1, 10*time.Millisecond)
	assert.Error(t, cb.Execute(alwaysFail, nil))

	time.Sleep(15 * time.Millisecond)

	assert.ErrorIs(t, cb.Execute(alwaysFail, nil), errDown)
	assert.Equal(t, StateOpen, cb.State())
}

func TestStaysClosedOnSuccess(t *testing.T) {
	cb := New(2, time.Minute)
	for i := 0; i < 10; i++ {
		assert.NoError(t, cb.Execute(alwaysOK, nil))
	}
	assert.Equal(t, StateClosed, cb.State())
}
