package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(cooloff time.Duration) *CircuitBreaker {
	return NewCircuitBreaker("test", CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooloff:          cooloff,
	}, nil)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := testBreaker(time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Allow())
		cb.Mark(fmt.Errorf("fail %d", i))
	}

	assert.Equal(t, StateOpen, cb.State())
	err := cb.Allow()
	require.Error(t, err)

	var open *CircuitOpenError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, "test", open.Name)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := testBreaker(time.Minute)

	cb.Mark(fmt.Errorf("one"))
	cb.Mark(fmt.Errorf("two"))
	cb.Mark(nil)
	cb.Mark(fmt.Errorf("three"))
	cb.Mark(fmt.Errorf("four"))

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	cb := testBreaker(time.Millisecond)

	for i := 0; i < 3; i++ {
		cb.Mark(fmt.Errorf("fail"))
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(5 * time.Millisecond)

	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.Mark(nil)
	cb.Mark(nil)
	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := testBreaker(time.Millisecond)

	for i := 0; i < 3; i++ {
		cb.Mark(fmt.Errorf("fail"))
	}
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, cb.Allow())

	cb.Mark(fmt.Errorf("probe failed"))
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerSetReusesInstances(t *testing.T) {
	set := NewCircuitBreakerSet(DefaultCircuitBreakerConfig(), nil)
	a := set.Get("llm")
	b := set.Get("llm")
	c := set.Get("search")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
