package rate_test

import (
	"testing"
	"time"

	"github.com/amarcoder01/typemaster-race/internal/rate"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestLimiterAllow(t *testing.T) {
	mock := clock.NewMock()
	limiter := rate.NewLimiterWithClock(time.Second, 3, mock)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow())
	}
	assert.False(t, limiter.Allow())
	assert.Equal(t, 0, limiter.Slots())
}

func TestLimiterSlides(t *testing.T) {
	mock := clock.NewMock()
	limiter := rate.NewLimiterWithClock(time.Second, 2, mock)

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	// The first two requests fall out of the window.
	mock.Add(1001 * time.Millisecond)

	assert.Equal(t, 2, limiter.Slots())
	assert.True(t, limiter.Allow())
}

func TestLimiterPartialSlide(t *testing.T) {
	mock := clock.NewMock()
	limiter := rate.NewLimiterWithClock(time.Second, 2, mock)

	assert.True(t, limiter.Allow())
	mock.Add(600 * time.Millisecond)
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())

	// Only the oldest request expired.
	mock.Add(500 * time.Millisecond)
	assert.Equal(t, 1, limiter.Slots())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())
}
