// Package learning turns execution outcomes into reusable knowledge:
// relevance lookups for the generator, pattern extraction from repeated
// successes, and running success-rate bookkeeping.
package learning

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/pkg/models"
)

const (
	// contextSimilarityMin is the minimum weighted context overlap for a
	// past learning to count as relevant to a new challenge.
	contextSimilarityMin = 0.6

	// ewmaWeight is the learning rate applied when folding an outcome into
	// a pattern's running success rate.
	ewmaWeight = 0.1

	// extractEvery triggers a pattern-extraction pass after this many
	// recorded learnings.
	extractEvery = 10

	// extractWindow bounds the extraction pass to the most recent learnings.
	extractWindow = 50

	// minGroupSize is the repetition count required before a group of
	// successes is distilled into a pattern.
	minGroupSize = 3

	// registerMinSuccess is the success-rate floor for registering a newly
	// extracted pattern.
	registerMinSuccess = 0.7

	// scorePerMember normalizes a group's total positive improvement into a
	// success rate.
	scorePerMember = 50.0
)

// Engine owns pattern records and the learning history
type Engine struct {
	repo    *repository.Repository
	library *patterns.Library
}

// New creates a learning engine over the repository and pattern library.
func New(repo *repository.Repository, library *patterns.Library) *Engine {
	return &Engine{repo: repo, library: library}
}

// Record appends a learning and folds it into the knowledge base. Every
// extractEvery-th learning also re-runs pattern extraction over the recent
// window. Returns any newly registered patterns.
func (e *Engine) Record(l *models.Learning) ([]*models.Pattern, error) {
	if err := e.repo.AppendLearning(l); err != nil {
		return nil, fmt.Errorf("failed to record learning: %w", err)
	}
	e.updateKnowledge(l)

	if e.repo.LearningCount()%extractEvery == 0 {
		return e.ExtractPatterns(e.repo.RecentLearnings(extractWindow)), nil
	}
	return nil, nil
}

// FindRelevantSolutions returns previously executed solutions for challenges
// of the same type with sufficiently similar context, ranked by empirical
// success rate among the matching learnings.
func (e *Engine) FindRelevantSolutions(ch *models.Challenge) []*models.Solution {
	relevant := e.RelevantLearnings(ch)
	if len(relevant) == 0 {
		return nil
	}

	// Aggregate outcome scores per solution.
	type tally struct {
		sum   float64
		count int
	}
	scores := make(map[string]*tally)
	for _, l := range relevant {
		t := scores[l.SolutionID]
		if t == nil {
			t = &tally{}
			scores[l.SolutionID] = t
		}
		t.sum += l.Outcome.Score()
		t.count++
	}

	var out []*models.Solution
	rates := make(map[string]float64, len(scores))
	for id, t := range scores {
		sol, err := e.repo.GetSolution(id)
		if err != nil {
			// Transferred learnings can reference solutions we never stored.
			continue
		}
		rates[id] = t.sum / float64(t.count)
		out = append(out, sol)
	}
	sort.SliceStable(out, func(i, j int) bool { return rates[out[i].ID] > rates[out[j].ID] })
	return out
}

// RelevantLearnings filters the history to learnings whose parent challenge
// shares the type and at least 0.6 context similarity.
func (e *Engine) RelevantLearnings(ch *models.Challenge) []*models.Learning {
	var out []*models.Learning
	for _, l := range e.repo.Learnings() {
		if l.ChallengeType != ch.Type {
			continue
		}
		if ContextSimilarity(l.Context, ch.Context) >= contextSimilarityMin {
			out = append(out, l)
		}
	}
	return out
}

// updateKnowledge folds one learning's outcome into every pattern whose
// trigger matches the originating challenge context.
func (e *Engine) updateKnowledge(l *models.Learning) {
	metrics := l.Context.Metrics()
	score := l.Outcome.Score()
	for _, p := range e.library.All() {
		if !p.Trigger.Matches(metrics) {
			continue
		}
		p.Observe(score, ewmaWeight)
		if err := e.library.Register(p); err != nil {
			log.Printf("[Learning] Failed to update pattern %s: %v", p.ID, err)
		}
	}
}

// ExtractPatterns distills groups of repeated successful learnings into new
// patterns. A group needs at least minGroupSize members and a normalized
// success rate of registerMinSuccess to be registered.
func (e *Engine) ExtractPatterns(learnings []*models.Learning) []*models.Pattern {
	groups := make(map[string][]*models.Learning)
	for _, l := range learnings {
		if l.Outcome != models.OutcomeSuccess {
			continue
		}
		key := string(l.ChallengeType) + "|" + string(l.Severity) + "|" + string(l.Outcome)
		groups[key] = append(groups[key], l)
	}

	var registered []*models.Pattern
	for _, group := range groups {
		if len(group) < minGroupSize {
			continue
		}
		p := e.distill(group)
		if p == nil || p.SuccessRate < registerMinSuccess {
			continue
		}
		if existing := e.library.FindSimilar(p); existing != nil {
			existing.Observe(p.SuccessRate, ewmaWeight)
			if err := e.library.Register(existing); err != nil {
				log.Printf("[Learning] Failed to merge pattern %s: %v", existing.ID, err)
			}
			continue
		}
		if err := e.library.Register(p); err != nil {
			log.Printf("[Learning] Failed to register pattern %s: %v", p.ID, err)
			continue
		}
		log.Printf("[Learning] Extracted pattern %q (success rate %.2f from %d learnings)", p.Name, p.SuccessRate, len(group))
		registered = append(registered, p)
	}
	return registered
}

// distill builds one pattern from a group of successful learnings of the
// same type and severity.
func (e *Engine) distill(group []*models.Learning) *models.Pattern {
	// Trigger: 80% of the average observed value per numeric context metric.
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, l := range group {
		for metric, value := range l.Context.Metrics() {
			sums[metric] += value
			counts[metric]++
		}
	}
	var conditions []models.MetricCondition
	for metric, sum := range sums {
		avg := sum / float64(counts[metric])
		conditions = append(conditions, models.MetricCondition{
			Metric:   metric,
			Operator: models.OperatorGTE,
			Value:    avg * 0.8,
		})
	}
	if len(conditions) == 0 {
		return nil
	}
	sort.Slice(conditions, func(i, j int) bool { return conditions[i].Metric < conditions[j].Metric })

	// Template: step names from the member with the largest total improvement.
	best := group[0]
	bestScore := totalImprovement(best)
	for _, l := range group[1:] {
		if s := totalImprovement(l); s > bestScore {
			best, bestScore = l, s
		}
	}
	var steps []string
	var params map[string]string
	if sol, err := e.repo.GetSolution(best.SolutionID); err == nil {
		steps = sol.StepNames()
		if len(sol.Implementation.Steps) > 0 {
			params = sol.Implementation.Steps[0].Params
		}
	}
	if len(steps) == 0 {
		steps = []string{"apply-remediation"}
	}

	// Success rate: total positive improvement across the group, normalized
	// per member and clamped.
	var total float64
	for _, l := range group {
		total += totalImprovement(l)
	}
	rate := total / (scorePerMember * float64(len(group)))
	if rate > 1 {
		rate = 1
	}
	if rate < 0 {
		rate = 0
	}

	ctype := group[0].ChallengeType
	p := models.NewPattern(
		fmt.Sprintf("%s-%s-remediation", ctype, group[0].Severity),
		ctype,
		models.TriggerCondition{Logic: models.LogicAnd, Conditions: conditions},
		models.SolutionTemplate{
			Title:           fmt.Sprintf("Learned %s remediation", ctype),
			Steps:           steps,
			Params:          params,
			ExpectedOutcome: fmt.Sprintf("resolve %s challenges at %s severity", ctype, group[0].Severity),
		},
		rate,
	)
	p.UsageCount = len(group)
	p.Description = fmt.Sprintf("Distilled from %d successful remediations", len(group))
	return p
}

// totalImprovement sums the positive improvement metrics of one learning.
func totalImprovement(l *models.Learning) float64 {
	var total float64
	for _, v := range l.Improvements {
		if v > 0 {
			total += v
		}
	}
	return total
}

// ContextSimilarity computes the weighted overlap of two contexts over their
// common keys: numeric fields contribute the min/max ratio, string fields
// contribute exact-match. No common keys means no similarity.
func ContextSimilarity(a, b models.ChallengeContext) float64 {
	am, bm := a.Metrics(), b.Metrics()

	var sum float64
	var count int
	for key, av := range am {
		bv, ok := bm[key]
		if !ok {
			continue
		}
		sum += numericRatio(av, bv)
		count++
	}

	if a.Component != "" && b.Component != "" {
		if strings.EqualFold(a.Component, b.Component) {
			sum++
		}
		count++
	}
	for key, av := range a.Extra {
		bv, ok := b.Extra[key]
		if !ok {
			continue
		}
		if av == bv {
			sum++
		}
		count++
	}

	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func numericRatio(a, b float64) float64 {
	if a == b {
		return 1
	}
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	if a > b {
		a, b = b, a
	}
	if b == 0 {
		return 0
	}
	return a / b
}
