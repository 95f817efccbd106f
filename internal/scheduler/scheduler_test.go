package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestEveryFiresOnInterval(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	defer s.Stop()

	var c counter
	s.Every(time.Minute, c.inc)

	// Give the tick goroutine a chance to install its ticker.
	time.Sleep(10 * time.Millisecond)

	mock.Add(3 * time.Minute)
	assert.Eventually(t, func() bool { return c.get() == 3 }, time.Second, 5*time.Millisecond)
}

func TestCancelStopsTicks(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)
	defer s.Stop()

	var c counter
	cancel := s.Every(time.Minute, c.inc)
	time.Sleep(10 * time.Millisecond)

	mock.Add(time.Minute)
	require.Eventually(t, func() bool { return c.get() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	mock.Add(5 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.get())

	// Cancelling twice is harmless.
	assert.NotPanics(t, cancel)
}

func TestStopWaitsAndBlocksNewWork(t *testing.T) {
	mock := clock.NewMock()
	s := New(mock)

	var c counter
	s.Every(time.Minute, c.inc)
	s.Stop()

	// After Stop, scheduling is a no-op.
	cancel := s.Every(time.Minute, c.inc)
	assert.NotPanics(t, cancel)

	mock.Add(10 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.get())

	assert.NotPanics(t, s.Stop)
}
