package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBurstThenThrottle(t *testing.T) {
	l := NewLimiter(60, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("u1"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("u1"), "burst exhausted")
}

func TestUsersAreIsolated(t *testing.T) {
	l := NewLimiter(60, 1)

	assert.True(t, l.Allow("u1"))
	assert.False(t, l.Allow("u1"))
	assert.True(t, l.Allow("u2"), "one user's burst must not starve another")
}

func TestTokens(t *testing.T) {
	l := NewLimiter(60, 2)

	assert.InDelta(t, 2, l.Tokens("u1"), 0.1)
	l.Allow("u1")
	assert.InDelta(t, 1, l.Tokens("u1"), 0.1)
}
