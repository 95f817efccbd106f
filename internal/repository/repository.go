package repository

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jordanhubbard/mend/pkg/models"
)

// Repository provides owned, indexed in-memory storage for the controller's
// records. All access goes through the mutex, and every record crossing the
// boundary is deep-copied, so callers never share struct memory with the
// store or with each other. Field changes go through MutateChallenge.
type Repository struct {
	mu         sync.RWMutex
	challenges map[string]*models.Challenge
	solutions  map[string]*models.Solution
	learnings  map[string]*models.Learning
	patterns   map[string]*models.Pattern

	// learningOrder preserves append order for "most recent N" queries
	learningOrder []string

	// byTypeOpen indexes non-resolved challenges by type for deduplication.
	// Failed challenges stay in the index: fresh detections still dedup
	// against them, and only a non-duplicate detection opens a new record.
	byTypeOpen map[models.ChallengeType]map[string]bool
}

// New creates an empty repository.
func New() *Repository {
	return &Repository{
		challenges: make(map[string]*models.Challenge),
		solutions:  make(map[string]*models.Solution),
		learnings:  make(map[string]*models.Learning),
		patterns:   make(map[string]*models.Pattern),
		byTypeOpen: make(map[models.ChallengeType]map[string]bool),
	}
}

// Challenge operations

// CreateChallenge stores a new challenge.
func (r *Repository) CreateChallenge(ch *models.Challenge) error {
	if ch == nil {
		return fmt.Errorf("challenge cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.challenges[ch.ID]; exists {
		return fmt.Errorf("challenge %s already exists", ch.ID)
	}
	cp := ch.Copy()
	r.challenges[cp.ID] = cp
	r.indexChallenge(cp)
	return nil
}

// GetChallenge looks up a challenge by id. The result is a detached copy.
func (r *Repository) GetChallenge(id string) (*models.Challenge, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
	}
	return ch.Copy(), nil
}

// UpdateChallenge replaces a stored challenge wholesale and re-indexes it.
func (r *Repository) UpdateChallenge(ch *models.Challenge) error {
	if ch == nil {
		return fmt.Errorf("challenge cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.challenges[ch.ID]; !exists {
		return fmt.Errorf("challenge %s: %w", ch.ID, ErrNotFound)
	}
	cp := ch.Copy()
	r.challenges[cp.ID] = cp
	r.indexChallenge(cp)
	return nil
}

// MutateChallenge applies fn to a copy of the stored record under the write
// lock, swapping it in and re-indexing only when fn succeeds. Returns a
// detached copy of the updated record.
func (r *Repository) MutateChallenge(id string, fn func(*models.Challenge) error) (*models.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.challenges[id]
	if !ok {
		return nil, fmt.Errorf("challenge %s: %w", id, ErrNotFound)
	}
	next := cur.Copy()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.challenges[id] = next
	r.indexChallenge(next)
	return next.Copy(), nil
}

// NonResolvedByType returns all non-resolved challenges of the given type,
// the candidate set for deduplication.
func (r *Repository) NonResolvedByType(ctype models.ChallengeType) []*models.Challenge {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byTypeOpen[ctype]
	out := make([]*models.Challenge, 0, len(ids))
	for id := range ids {
		if ch, ok := r.challenges[id]; ok {
			out = append(out, ch.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// ListChallenges returns all challenges, optionally filtered by status.
func (r *Repository) ListChallenges(status models.ChallengeStatus) []*models.Challenge {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Challenge, 0, len(r.challenges))
	for _, ch := range r.challenges {
		if status != "" && ch.Status != status {
			continue
		}
		out = append(out, ch.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out
}

// CountChallenges returns totals by lifecycle status.
func (r *Repository) CountChallenges() map[models.ChallengeStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.ChallengeStatus]int)
	for _, ch := range r.challenges {
		counts[ch.Status]++
	}
	return counts
}

// indexChallenge maintains the open-by-type index. Caller holds the lock.
func (r *Repository) indexChallenge(ch *models.Challenge) {
	idx := r.byTypeOpen[ch.Type]
	if idx == nil {
		idx = make(map[string]bool)
		r.byTypeOpen[ch.Type] = idx
	}
	if ch.Status == models.ChallengeStatusResolved {
		delete(idx, ch.ID)
	} else {
		idx[ch.ID] = true
	}
}

// Solution operations

// AddSolution stores a solution, replacing any existing record with the
// same id.
func (r *Repository) AddSolution(sol *models.Solution) error {
	if sol == nil {
		return fmt.Errorf("solution cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.solutions[sol.ID] = sol.Copy()
	return nil
}

// GetSolution looks up a solution by id. The result is a detached copy.
func (r *Repository) GetSolution(id string) (*models.Solution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sol, ok := r.solutions[id]
	if !ok {
		return nil, fmt.Errorf("solution %s: %w", id, ErrNotFound)
	}
	return sol.Copy(), nil
}

// SolutionsByChallenge returns all stored solutions for a challenge.
func (r *Repository) SolutionsByChallenge(challengeID string) []*models.Solution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*models.Solution
	for _, sol := range r.solutions {
		if sol.ChallengeID == challengeID {
			out = append(out, sol.Copy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// Learning operations

// AppendLearning stores a learning record. Learnings are append-only: an
// existing id is an error, and there is no update path.
func (r *Repository) AppendLearning(l *models.Learning) error {
	if l == nil {
		return fmt.Errorf("learning cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.learnings[l.ID]; exists {
		return fmt.Errorf("learning %s already recorded", l.ID)
	}
	r.learnings[l.ID] = l.Copy()
	r.learningOrder = append(r.learningOrder, l.ID)
	return nil
}

// GetLearning looks up a learning by id.
func (r *Repository) GetLearning(id string) (*models.Learning, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	l, ok := r.learnings[id]
	if !ok {
		return nil, fmt.Errorf("learning %s: %w", id, ErrNotFound)
	}
	return l.Copy(), nil
}

// Learnings returns all learnings in append order.
func (r *Repository) Learnings() []*models.Learning {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Learning, 0, len(r.learningOrder))
	for _, id := range r.learningOrder {
		if l, ok := r.learnings[id]; ok {
			out = append(out, l.Copy())
		}
	}
	return out
}

// RecentLearnings returns the most recent n learnings in append order.
func (r *Repository) RecentLearnings(n int) []*models.Learning {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := len(r.learningOrder) - n
	if start < 0 {
		start = 0
	}
	out := make([]*models.Learning, 0, len(r.learningOrder)-start)
	for _, id := range r.learningOrder[start:] {
		if l, ok := r.learnings[id]; ok {
			out = append(out, l.Copy())
		}
	}
	return out
}

// LearningCount returns the number of recorded learnings.
func (r *Repository) LearningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.learningOrder)
}

// Pattern operations

// UpsertPattern stores or replaces a pattern.
func (r *Repository) UpsertPattern(p *models.Pattern) error {
	if p == nil {
		return fmt.Errorf("pattern cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns[p.ID] = p.Copy()
	return nil
}

// GetPattern looks up a pattern by id. The result is a detached copy.
func (r *Repository) GetPattern(id string) (*models.Pattern, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.patterns[id]
	if !ok {
		return nil, fmt.Errorf("pattern %s: %w", id, ErrNotFound)
	}
	return p.Copy(), nil
}

// Patterns returns all patterns.
func (r *Repository) Patterns() []*models.Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.Pattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, p.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuccessRate > out[j].SuccessRate })
	return out
}
