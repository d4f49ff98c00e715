// Package retry provides the backoff policy shared by the request
// executor and the image downloader.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy configures bounded retry with exponential backoff.
type Policy struct {
	MaxRetries   int           // retries after the first attempt; 0 disables retry
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // backoff cap
	Multiplier   float64       // exponential growth factor
	Jitter       bool          // add ±25% random jitter
}

// DefaultPolicy matches the provider-call defaults: up to 3 retries,
// 1s initial delay doubling to a 30s cap.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Normalize clamps nonsensical settings to workable values.
func (p *Policy) Normalize() *Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay returns the backoff before retry number attempt (1-based):
// initial * multiplier^(attempt-1), capped at MaxDelay, floored at
// InitialDelay after jitter.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(p.InitialDelay) {
		delay = float64(p.InitialDelay)
	}
	return time.Duration(delay)
}
