package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayGrowth(t *testing.T) {
	p := &Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 1*time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	// Attempts below 1 clamp to the first retry.
	assert.Equal(t, 1*time.Second, p.Delay(0))
}

func TestDelayCap(t *testing.T) {
	p := &Policy{InitialDelay: 1 * time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0}
	assert.Equal(t, 5*time.Second, p.Delay(10))
}

func TestDelayJitterBounds(t *testing.T) {
	p := &Policy{InitialDelay: 1 * time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0, Jitter: true}
	for i := 0; i < 200; i++ {
		d := p.Delay(3)
		// 4s ±25%, floored at the initial delay.
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
	}
	for i := 0; i < 200; i++ {
		// Jitter never drops a delay below the initial delay.
		assert.GreaterOrEqual(t, p.Delay(1), 1*time.Second)
	}
}

func TestNormalize(t *testing.T) {
	p := (&Policy{MaxRetries: -1, Multiplier: 0.5}).Normalize()
	assert.Equal(t, 0, p.MaxRetries)
	assert.Equal(t, 1*time.Second, p.InitialDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.Equal(t, 2.0, p.Multiplier)
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 1*time.Second, p.InitialDelay)
	assert.Equal(t, 30*time.Second, p.MaxDelay)
	assert.True(t, p.Jitter)
}
