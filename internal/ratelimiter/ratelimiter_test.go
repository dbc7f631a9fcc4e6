package ratelimiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowWithinBurst(t *testing.T) {
	l := New(10, 5)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(), "request %d should pass within burst", i)
	}
	assert.False(t, l.Allow(), "burst exhausted")
}

func TestZeroRateIsUnlimited(t *testing.T) {
	l := New(0, 0)
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow())
	}
}

func TestPerKeyIsolation(t *testing.T) {
	p := NewPerKey(10, 2)

	assert.True(t, p.Allow("alice"))
	assert.True(t, p.Allow("alice"))
	assert.False(t, p.Allow("alice"), "alice's burst exhausted")

	// Bob has his own bucket.
	assert.True(t, p.Allow("bob"))
}
