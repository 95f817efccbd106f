// Package evaluator recomputes candidate confidence from execution history
// and risk, replacing whatever the generator seeded.
package evaluator

import (
	"sort"
	"strings"

	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/pkg/models"
)

const (
	historyWeight = 0.7
	riskWeight    = 0.3

	// defaultHistoricalSuccess is used when no history and no overlapping
	// patterns exist for a candidate.
	defaultHistoricalSuccess = 0.5

	// patternOverlapThreshold is the minimum fraction of shared step names
	// for a pattern to inform the history fallback.
	patternOverlapThreshold = 0.5
)

// Evaluator ranks candidate solutions by recomputed confidence
type Evaluator struct {
	library *patterns.Library
	repo    *repository.Repository
}

// New creates an evaluator over the pattern library. The repository resolves
// the solutions behind historical learnings.
func New(library *patterns.Library, repo *repository.Repository) *Evaluator {
	return &Evaluator{library: library, repo: repo}
}

// Rank recomputes every candidate's confidence and re-sorts the list, best
// first. The generator-assigned confidence is discarded.
func (e *Evaluator) Rank(candidates []*models.Solution, history []*models.Learning) []*models.Solution {
	for _, sol := range candidates {
		sol.Confidence = e.Confidence(sol, history)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates
}

// Confidence computes 0.7*historicalSuccess + 0.3*(1-riskScore).
func (e *Evaluator) Confidence(sol *models.Solution, history []*models.Learning) float64 {
	return historyWeight*e.historicalSuccess(sol, history) + riskWeight*(1-riskScore(sol.Risks))
}

// historicalSuccess is the mean outcome score of past learnings whose
// executed solution shares at least half its step names with the candidate,
// so history discriminates between candidates instead of shifting every
// score by the same amount. Without a matching learning it falls back to the
// average success rate of overlapping patterns, and to 0.5 when nothing
// matches.
func (e *Evaluator) historicalSuccess(sol *models.Solution, history []*models.Learning) float64 {
	names := sol.StepNames()

	var total float64
	var count int
	for _, l := range history {
		past, err := e.repo.GetSolution(l.SolutionID)
		if err != nil {
			continue
		}
		if stepNameOverlap(names, past.StepNames()) < patternOverlapThreshold {
			continue
		}
		total += l.Outcome.Score()
		count++
	}
	if count > 0 {
		return total / float64(count)
	}

	var sum float64
	count = 0
	for _, p := range e.library.All() {
		if stepNameOverlap(names, p.Template.Steps) >= patternOverlapThreshold {
			sum += p.SuccessRate
			count++
		}
	}
	if count == 0 {
		return defaultHistoricalSuccess
	}
	return sum / float64(count)
}

// riskScore averages probability-weighted risk impact over all risks,
// clamped to [0,1]. A solution without identified risks scores zero.
func riskScore(risks []models.Risk) float64 {
	if len(risks) == 0 {
		return 0
	}
	var sum float64
	for _, r := range risks {
		sum += r.Probability * r.Impact.Weight()
	}
	score := sum / float64(len(risks))
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// stepNameOverlap is the fraction of the candidate's step names found in the
// pattern's template, relative to the candidate.
func stepNameOverlap(candidate, pattern []string) float64 {
	if len(candidate) == 0 || len(pattern) == 0 {
		return 0
	}
	set := make(map[string]bool, len(pattern))
	for _, s := range pattern {
		set[strings.ToLower(s)] = true
	}
	shared := 0
	for _, s := range candidate {
		if set[strings.ToLower(s)] {
			shared++
		}
	}
	return float64(shared) / float64(len(candidate))
}
