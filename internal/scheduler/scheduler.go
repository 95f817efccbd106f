// Package scheduler wraps periodic timers behind an injectable clock so
// tick-driven behavior is testable with a mock clock.
package scheduler

import (
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Scheduler runs callbacks on fixed intervals.
type Scheduler interface {
	// Every invokes fn each interval until the returned cancel function is
	// called or the scheduler stops.
	Every(interval time.Duration, fn func()) (cancel func())

	// Stop cancels all scheduled callbacks and waits for running ones.
	Stop()
}

// ClockScheduler is the default Scheduler implementation
type ClockScheduler struct {
	clk     clock.Clock
	mu      sync.Mutex
	stops   map[int]chan struct{}
	nextID  int
	wg      sync.WaitGroup
	stopped bool
}

// New creates a scheduler. A nil clock gets the real one; tests pass
// clock.NewMock().
func New(clk clock.Clock) *ClockScheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &ClockScheduler{
		clk:   clk,
		stops: make(map[int]chan struct{}),
	}
}

// Every schedules fn on the interval.
func (s *ClockScheduler) Every(interval time.Duration, fn func()) func() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return func() {}
	}
	id := s.nextID
	s.nextID++
	stop := make(chan struct{})
	s.stops[id] = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := s.clk.Ticker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()

	return func() { s.cancel(id) }
}

func (s *ClockScheduler) cancel(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.stops[id]; ok {
		delete(s.stops, id)
		close(stop)
	}
}

// Stop cancels everything and waits for tick goroutines to exit.
func (s *ClockScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for id, stop := range s.stops {
		delete(s.stops, id)
		close(stop)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

var _ Scheduler = (*ClockScheduler)(nil)
