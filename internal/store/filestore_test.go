package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/mend/pkg/models"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFileStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ch := models.NewChallenge(models.ChallengeTypePerformance, models.SeverityHigh, "cpu spiking", models.ChallengeContext{CPU: 92}, models.OriginAutomatic)
	require.NoError(t, s.Save(ctx, CategoryChallenges, ch.ID, ch))

	var loaded models.Challenge
	require.NoError(t, s.Load(ctx, CategoryChallenges, ch.ID, &loaded))
	assert.Equal(t, ch.ID, loaded.ID)
	assert.Equal(t, 92.0, loaded.Context.CPU)
}

func TestFileStore_LoadMissing(t *testing.T) {
	s := newTestStore(t)
	var out models.Challenge
	err := s.Load(context.Background(), CategoryChallenges, "ch-missing", &out)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStore_SaveReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := models.NewPattern("scale out", models.ChallengeTypePerformance, models.TriggerCondition{}, models.SolutionTemplate{}, 0.5)
	require.NoError(t, s.Save(ctx, CategoryPatterns, p.ID, p))
	p.SuccessRate = 0.8
	require.NoError(t, s.Save(ctx, CategoryPatterns, p.ID, p))

	var loaded models.Pattern
	require.NoError(t, s.Load(ctx, CategoryPatterns, p.ID, &loaded))
	assert.Equal(t, 0.8, loaded.SuccessRate)
}

func TestFileStore_List(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids, err := s.List(ctx, CategoryLearnings)
	require.NoError(t, err)
	assert.Empty(t, ids, "missing category lists empty")

	require.NoError(t, s.Save(ctx, CategoryLearnings, "lrn-a", map[string]string{"id": "lrn-a"}))
	require.NoError(t, s.Save(ctx, CategoryLearnings, "lrn-b", map[string]string{"id": "lrn-b"}))

	ids, err = s.List(ctx, CategoryLearnings)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"lrn-a", "lrn-b"}, ids)
}

func TestFileStore_Delete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, CategorySolutions, "sol-1", map[string]string{"id": "sol-1"}))
	require.NoError(t, s.Delete(ctx, CategorySolutions, "sol-1"))
	require.NoError(t, s.Delete(ctx, CategorySolutions, "sol-1"), "deleting a missing doc is not an error")

	var out map[string]string
	assert.True(t, errors.Is(s.Load(ctx, CategorySolutions, "sol-1", &out), ErrNotFound))
}

func TestFileStore_SanitizesIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, CategoryChallenges, "ch-a/b", map[string]string{"id": "ch-a/b"}))

	// The document lands inside the category directory, not a subdirectory.
	entries, err := os.ReadDir(filepath.Join(s.root, CategoryChallenges))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ch-a_b.json", entries[0].Name())
}

func TestFileStore_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Save(ctx, CategoryChallenges, "ch-1", map[string]string{}))
	_, err := s.List(ctx, CategoryChallenges)
	assert.Error(t, err)
}
