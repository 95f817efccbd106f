// Package patterns holds the remediation knowledge the generator draws from:
// learned patterns with a promotion gate, a static template table, and the
// heuristic catalog.
package patterns

import (
	"strings"

	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/pkg/models"
)

const (
	// PromotionSuccessRate is the minimum success rate for a pattern to be
	// active in the library.
	PromotionSuccessRate = 0.7

	// PromotionMinUsage is the minimum number of observations behind a
	// pattern before it is trusted.
	PromotionMinUsage = 3
)

// Library provides access to learned patterns. Pattern records are owned by
// the learning engine; the library is the read/registration surface backed by
// the shared repository.
type Library struct {
	repo *repository.Repository
}

// NewLibrary creates a pattern library over the repository.
func NewLibrary(repo *repository.Repository) *Library {
	return &Library{repo: repo}
}

// Register inserts or replaces a pattern.
func (l *Library) Register(p *models.Pattern) error {
	return l.repo.UpsertPattern(p)
}

// Get looks up a pattern by id.
func (l *Library) Get(id string) (*models.Pattern, error) {
	return l.repo.GetPattern(id)
}

// All returns every registered pattern, promoted or not.
func (l *Library) All() []*models.Pattern {
	return l.repo.Patterns()
}

// Active returns the patterns that clear the promotion gate.
func (l *Library) Active() []*models.Pattern {
	var out []*models.Pattern
	for _, p := range l.repo.Patterns() {
		if Promoted(p) {
			out = append(out, p)
		}
	}
	return out
}

// Matching returns the active patterns whose trigger condition matches the
// observed metrics.
func (l *Library) Matching(metrics map[string]float64) []*models.Pattern {
	var out []*models.Pattern
	for _, p := range l.Active() {
		if p.Trigger.Matches(metrics) {
			out = append(out, p)
		}
	}
	return out
}

// FindSimilar returns an existing pattern covering the same challenge type
// with a near-identical template, or nil. Used to merge instead of duplicate
// when extraction or transfer produces an already-known pattern.
func (l *Library) FindSimilar(candidate *models.Pattern) *models.Pattern {
	for _, p := range l.repo.Patterns() {
		if p.ID == candidate.ID {
			return p
		}
		if p.ChallengeType != candidate.ChallengeType {
			continue
		}
		if strings.EqualFold(p.Name, candidate.Name) {
			return p
		}
		if stepOverlap(p.Template.Steps, candidate.Template.Steps) >= 0.8 {
			return p
		}
	}
	return nil
}

// Promoted reports whether a pattern clears the promotion gate.
func Promoted(p *models.Pattern) bool {
	return p.SuccessRate >= PromotionSuccessRate && p.UsageCount >= PromotionMinUsage
}

// stepOverlap computes the fraction of shared step names between two
// templates, relative to the larger one.
func stepOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[strings.ToLower(s)] = true
	}
	shared := 0
	for _, s := range b {
		if set[strings.ToLower(s)] {
			shared++
		}
	}
	max := len(a)
	if len(b) > max {
		max = len(b)
	}
	return float64(shared) / float64(max)
}
