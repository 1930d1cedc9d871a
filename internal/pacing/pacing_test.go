package pacing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextDelayWithinBounds(t *testing.T) {
	p, err := NewPolicyWithRand(1000*time.Millisecond, 3000*time.Millisecond, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	seen := make(map[time.Duration]struct{})
	for i := 0; i < 5000; i++ {
		d := p.NextDelay()
		require.GreaterOrEqual(t, d, 1000*time.Millisecond)
		require.LessOrEqual(t, d, 3000*time.Millisecond)
		seen[d] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "delays must not be constant")
}

func TestNextDelayNotConstantOverTwentyDraws(t *testing.T) {
	p, err := NewPolicyWithRand(10*time.Millisecond, 20*time.Millisecond, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	first := p.NextDelay()
	varied := false
	for i := 0; i < 20; i++ {
		if p.NextDelay() != first {
			varied = true
			break
		}
	}
	assert.True(t, varied)
}

func TestNextDelayDegenerateInterval(t *testing.T) {
	p, err := NewPolicy(2*time.Second, 2*time.Second)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		assert.Equal(t, 2*time.Second, p.NextDelay())
	}
}

func TestNewPolicyRejectsBadBounds(t *testing.T) {
	_, err := NewPolicy(3*time.Second, time.Second)
	assert.Error(t, err)

	_, err = NewPolicy(-time.Second, time.Second)
	assert.Error(t, err)
}

func TestSetBounds(t *testing.T) {
	p := Default()
	min, max := p.Bounds()
	assert.Equal(t, DefaultMin, min)
	assert.Equal(t, DefaultMax, max)

	require.NoError(t, p.SetBounds(0, 5*time.Millisecond))
	for i := 0; i < 100; i++ {
		assert.LessOrEqual(t, p.NextDelay(), 5*time.Millisecond)
	}

	assert.Error(t, p.SetBounds(time.Second, 0))
	min, max = p.Bounds()
	assert.Equal(t, time.Duration(0), min)
	assert.Equal(t, 5*time.Millisecond, max)
}
