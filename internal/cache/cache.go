// Package cache keeps the most recent system metrics snapshots so the
// executor can measure before/after effect without calling back into the
// monitor. An optional Redis backend shares snapshots across processes.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jordanhubbard/mend/pkg/models"
)

// DefaultHistory is how many snapshots the in-memory ring retains.
const DefaultHistory = 100

// Backend is the interface for snapshot storage backends
type Backend interface {
	SetLatest(ctx context.Context, m models.SystemMetrics) error
	Latest(ctx context.Context) (models.SystemMetrics, bool, error)
}

// MetricsCache stores the latest snapshot and a bounded history. Writes go
// to both the in-memory ring and the optional backend; reads prefer the
// backend and fall back to memory when it is unavailable.
type MetricsCache struct {
	mu      sync.RWMutex
	history []models.SystemMetrics
	max     int
	backend Backend
}

// New creates a metrics cache. backend may be nil for memory-only operation.
func New(backend Backend) *MetricsCache {
	return &MetricsCache{
		max:     DefaultHistory,
		backend: backend,
	}
}

// Record stores a new snapshot.
func (c *MetricsCache) Record(ctx context.Context, m models.SystemMetrics) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	c.mu.Lock()
	c.history = append(c.history, m)
	if len(c.history) > c.max {
		c.history = c.history[len(c.history)-c.max:]
	}
	c.mu.Unlock()

	if c.backend != nil {
		// Backend loss degrades to memory-only; nothing to escalate.
		_ = c.backend.SetLatest(ctx, m)
	}
}

// Snapshot returns the most recent metrics observation. Implements the
// executor's MetricsSource.
func (c *MetricsCache) Snapshot(ctx context.Context) (models.SystemMetrics, error) {
	if c.backend != nil {
		if m, ok, err := c.backend.Latest(ctx); err == nil && ok {
			return m, nil
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return models.SystemMetrics{}, fmt.Errorf("no metrics observed yet")
	}
	return c.history[len(c.history)-1], nil
}

// History returns up to n most recent snapshots, oldest first.
func (c *MetricsCache) History(n int) []models.SystemMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := len(c.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.SystemMetrics, len(c.history)-start)
	copy(out, c.history[start:])
	return out
}
