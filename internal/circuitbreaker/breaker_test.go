package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClosedAllowsRequests(t *testing.T) {
	b := New(3, time.Minute)
	assert.True(t, b.Allow("k"))
	assert.Equal(t, StateClosed, b.StateOf("k"))
}

func TestTripsOpenAfterThreshold(t *testing.T) {
	b := New(3, time.Minute)

	b.Failure("k")
	b.Failure("k")
	assert.True(t, b.Allow("k"), "below threshold stays closed")

	b.Failure("k")
	assert.Equal(t, StateOpen, b.StateOf("k"))
	assert.False(t, b.Allow("k"))
}

func TestHalfOpenProbeAfterOpenDuration(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.Failure("k")
	assert.False(t, b.Allow("k"))

	time.Sleep(20 * time.Millisecond)

	assert.True(t, b.Allow("k"), "first probe allowed")
	assert.Equal(t, StateHalfOpen, b.StateOf("k"))
	assert.False(t, b.Allow("k"), "second caller waits for probe outcome")
}

func TestHalfOpenSuccessCloses(t *testing.T) {
	b := New(1, 10*time.Millisecond)
	b.Failure("k")
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow("k"))

	b.Success("k")
	assert.Equal(t, StateClosed, b.StateOf("k"))
	assert.True(t, b.Allow("k"))
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := New(5, 10*time.Millisecond)
	for i := 0; i < 5; i++ {
		b.Failure("k")
	}
	time.Sleep(20 * time.Millisecond)
	assert.True(t, b.Allow("k"))

	b.Failure("k")
	assert.Equal(t, StateOpen, b.StateOf("k"))
	assert.False(t, b.Allow("k"))
}

func TestKeysAreIndependent(t *testing.T) {
	b := New(1, time.Minute)
	b.Failure("a")
	assert.False(t, b.Allow("a"))
	assert.True(t, b.Allow("b"))
}
