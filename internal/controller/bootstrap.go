package controller

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/internal/store"
	"github.com/jordanhubbard/mend/pkg/models"
)

// Rehydrate loads persisted knowledge back into the in-memory repository
// and pattern library at startup. Individual broken documents are skipped
// with a log line so one corrupt record never blocks startup.
func Rehydrate(ctx context.Context, st store.Store, repo *repository.Repository, lib *patterns.Library) error {
	if st == nil {
		return nil
	}

	if err := loadEach(ctx, st, store.CategoryChallenges, func() *models.Challenge { return &models.Challenge{} },
		func(ch *models.Challenge) error { return repo.CreateChallenge(ch) }); err != nil {
		return err
	}
	if err := loadEach(ctx, st, store.CategorySolutions, func() *models.Solution { return &models.Solution{} },
		func(sol *models.Solution) error { return repo.AddSolution(sol) }); err != nil {
		return err
	}

	// Learnings keep their chronological order across restarts.
	var learnings []*models.Learning
	if err := loadEach(ctx, st, store.CategoryLearnings, func() *models.Learning { return &models.Learning{} },
		func(l *models.Learning) error { learnings = append(learnings, l); return nil }); err != nil {
		return err
	}
	sort.Slice(learnings, func(i, j int) bool { return learnings[i].CreatedAt.Before(learnings[j].CreatedAt) })
	for _, l := range learnings {
		if err := repo.AppendLearning(l); err != nil {
			log.Printf("[Controller] Skipping learning %s: %v", l.ID, err)
		}
	}

	if err := loadEach(ctx, st, store.CategoryPatterns, func() *models.Pattern { return &models.Pattern{} },
		func(p *models.Pattern) error { return lib.Register(p) }); err != nil {
		return err
	}

	log.Printf("[Controller] Rehydrated %d learnings from the knowledge store", len(learnings))
	return nil
}

func loadEach[T any](ctx context.Context, st store.Store, category string, alloc func() T, apply func(T) error) error {
	ids, err := st.List(ctx, category)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", category, err)
	}
	for _, id := range ids {
		rec := alloc()
		if err := st.Load(ctx, category, id, rec); err != nil {
			log.Printf("[Controller] Skipping %s/%s: %v", category, id, err)
			continue
		}
		if err := apply(rec); err != nil {
			log.Printf("[Controller] Skipping %s/%s: %v", category, id, err)
		}
	}
	return nil
}
