package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/mend/pkg/models"
)

type fakeBackend struct {
	latest models.SystemMetrics
	have   bool
	err    error
	sets   int
}

func (b *fakeBackend) SetLatest(_ context.Context, m models.SystemMetrics) error {
	if b.err != nil {
		return b.err
	}
	b.latest, b.have = m, true
	b.sets++
	return nil
}

func (b *fakeBackend) Latest(_ context.Context) (models.SystemMetrics, bool, error) {
	return b.latest, b.have, b.err
}

func TestSnapshotReturnsLatest(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	_, err := c.Snapshot(ctx)
	assert.Error(t, err, "empty cache has nothing to report")

	c.Record(ctx, models.SystemMetrics{CPU: 40})
	c.Record(ctx, models.SystemMetrics{CPU: 75})

	m, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75.0, m.CPU)
	assert.False(t, m.Timestamp.IsZero(), "recording stamps missing timestamps")
}

func TestHistoryBoundedRing(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	for i := 0; i < DefaultHistory+20; i++ {
		c.Record(ctx, models.SystemMetrics{CPU: float64(i)})
	}

	all := c.History(DefaultHistory * 2)
	require.Len(t, all, DefaultHistory)
	assert.Equal(t, 20.0, all[0].CPU, "oldest entries roll off")
	assert.Equal(t, float64(DefaultHistory+19), all[len(all)-1].CPU)

	last3 := c.History(3)
	require.Len(t, last3, 3)
	assert.Equal(t, float64(DefaultHistory+17), last3[0].CPU)
}

func TestBackendPreferredForReads(t *testing.T) {
	b := &fakeBackend{}
	c := New(b)
	ctx := context.Background()

	c.Record(ctx, models.SystemMetrics{CPU: 60})
	assert.Equal(t, 1, b.sets)

	m, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60.0, m.CPU)
}

func TestBackendFailureFallsBackToMemory(t *testing.T) {
	b := &fakeBackend{err: errors.New("connection refused")}
	c := New(b)
	ctx := context.Background()

	c.Record(ctx, models.SystemMetrics{CPU: 55})

	m, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 55.0, m.CPU)
}
