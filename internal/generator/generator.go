// Package generator produces candidate solutions for a challenge by running
// four independent strategies and deduplicating the combined result.
package generator

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/pkg/models"
)

// AdaptationPenalty discounts the confidence of a historical solution cloned
// into a new context.
const AdaptationPenalty = 0.9

// maxAdaptations bounds how many historical solutions are cloned per challenge.
const maxAdaptations = 3

// Generator produces ranked candidate solutions
type Generator struct {
	library *patterns.Library
}

// New creates a generator over the pattern library.
func New(library *patterns.Library) *Generator {
	return &Generator{library: library}
}

// Generate runs all four strategies against the challenge. historical holds
// previously-successful solutions for similar challenges, supplied by the
// learning engine. The result is deduplicated and sorted by confidence,
// best first.
func (g *Generator) Generate(ch *models.Challenge, historical []*models.Solution) []*models.Solution {
	var candidates []*models.Solution
	candidates = append(candidates, g.fromPatterns(ch)...)
	candidates = append(candidates, g.fromTemplates(ch)...)
	candidates = append(candidates, g.fromHistory(ch, historical)...)
	candidates = append(candidates, g.fromHeuristics(ch)...)
	return dedupe(candidates)
}

// fromPatterns derives one solution from every active pattern whose trigger
// matches the challenge's context metrics.
func (g *Generator) fromPatterns(ch *models.Challenge) []*models.Solution {
	var out []*models.Solution
	for _, p := range g.library.Matching(ch.Context.Metrics()) {
		impl := implementationFromTemplate(p.Template, ch)
		sol := models.NewSolution(ch.ID, p.Template.Title,
			"Derived from pattern "+p.Name+": "+p.Template.ExpectedOutcome, impl, p.SuccessRate)
		out = append(out, sol)
	}
	return out
}

// fromTemplates consults the static lookup table keyed by type:metric with a
// bare-type fallback.
func (g *Generator) fromTemplates(ch *models.Challenge) []*models.Solution {
	var out []*models.Solution
	for _, tpl := range patterns.LookupTemplates(ch.Type, ch.Context.Metrics()) {
		sol := models.NewSolution(ch.ID, tpl.Title, tpl.Description, tpl.Impl, patterns.TemplateConfidence)
		out = append(out, sol)
	}
	return out
}

// fromHistory clones up to three previously-successful solutions, retitled
// as adaptations, with confidence discounted for the new context.
func (g *Generator) fromHistory(ch *models.Challenge, historical []*models.Solution) []*models.Solution {
	var out []*models.Solution
	for _, prev := range historical {
		if prev.Confidence <= 0.7 {
			continue
		}
		adapted := prev.Clone(ch.ID)
		adapted.Title = "Adapted: " + prev.Title
		adapted.Description = "Adaptation of a previously successful remediation"
		adapted.Confidence = prev.Confidence * AdaptationPenalty
		out = append(out, adapted)
		if len(out) == maxAdaptations {
			break
		}
	}
	return out
}

// fromHeuristics pulls the hand-authored catalog entries for the challenge
// type.
func (g *Generator) fromHeuristics(ch *models.Challenge) []*models.Solution {
	var out []*models.Solution
	for _, h := range patterns.Heuristics(ch.Type) {
		sol := models.NewSolution(ch.ID, h.Title, h.Description, h.Impl, h.Confidence)
		sol.Impact = h.Impact
		sol.Risks = append([]models.Risk(nil), h.Risks...)
		out = append(out, sol)
	}
	return out
}

// dedupe keys candidates by a hash of (title, implementation type), keeping
// the higher-confidence candidate on collision, then sorts by confidence
// descending.
func dedupe(candidates []*models.Solution) []*models.Solution {
	best := make(map[string]*models.Solution, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, sol := range candidates {
		key := candidateKey(sol)
		if existing, ok := best[key]; ok {
			if sol.Confidence > existing.Confidence {
				best[key] = sol
			}
			continue
		}
		best[key] = sol
		order = append(order, key)
	}

	out := make([]*models.Solution, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

func candidateKey(sol *models.Solution) string {
	sum := sha256.Sum256([]byte(strings.ToLower(sol.Title) + "|" + sol.Implementation.Type))
	return hex.EncodeToString(sum[:8])
}

// implementationFromTemplate expands a solution template's step names into
// executable steps targeted at the challenge's component.
func implementationFromTemplate(tpl models.SolutionTemplate, ch *models.Challenge) models.Implementation {
	target := ch.Context.Component
	if target == "" {
		target = "app"
	}

	steps := make([]models.ExecutionStep, 0, len(tpl.Steps))
	for i, name := range tpl.Steps {
		steps = append(steps, models.ExecutionStep{
			Order:  i + 1,
			Name:   name,
			Action: "apply",
			Target: target,
			Params: tpl.Params,
		})
	}
	return models.Implementation{
		Type:  "pattern",
		Steps: steps,
		Rollback: []models.ExecutionStep{
			{Order: 1, Name: "restore-previous-state", Action: "rollback", Target: target},
		},
		EstimatedDuration: time.Duration(len(steps)) * 2 * time.Minute,
	}
}
