package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/pkg/models"
)

func setup(t *testing.T) (*Evaluator, *patterns.Library, *repository.Repository) {
	t.Helper()
	repo := repository.New()
	lib := patterns.NewLibrary(repo)
	return New(lib, repo), lib, repo
}

// storedSolution puts a solution with the given step names into the
// repository so learnings referencing it resolve during scoring.
func storedSolution(t *testing.T, repo *repository.Repository, title string, steps ...string) *models.Solution {
	t.Helper()
	impl := models.Implementation{}
	for i, name := range steps {
		impl.Steps = append(impl.Steps, models.ExecutionStep{Order: i + 1, Name: name})
	}
	sol := models.NewSolution("ch-past", title, "", impl, 0.5)
	require.NoError(t, repo.AddSolution(sol))
	return sol
}

func learningFor(sol *models.Solution, outcome models.Outcome) *models.Learning {
	ch := models.NewChallenge(models.ChallengeTypeError, models.SeverityMedium, "timeouts", models.ChallengeContext{}, models.OriginAutomatic)
	return models.NewLearning(ch, sol, outcome)
}

func TestConfidence_NoHistoryNoRisks(t *testing.T) {
	eval, _, _ := setup(t)
	sol := models.NewSolution("ch-1", "restart", "", models.Implementation{}, 0.2)

	// 0.7*0.5 (default history) + 0.3*(1-0) = 0.65
	assert.InDelta(t, 0.65, eval.Confidence(sol, nil), 1e-9)
}

func TestConfidence_UsesOutcomeHistory(t *testing.T) {
	eval, _, repo := setup(t)
	past := storedSolution(t, repo, "rolling restart", "drain", "restart")
	sol := models.NewSolution("ch-1", "restart", "", models.Implementation{
		Steps: []models.ExecutionStep{{Order: 1, Name: "drain"}, {Order: 2, Name: "restart"}},
	}, 0.2)

	history := []*models.Learning{
		learningFor(past, models.OutcomeSuccess),
		learningFor(past, models.OutcomeSuccess),
		learningFor(past, models.OutcomePartial),
		learningFor(past, models.OutcomeFailure),
	}
	// mean score = (1+1+0.5+0)/4 = 0.625 -> 0.7*0.625 + 0.3 = 0.7375
	assert.InDelta(t, 0.7375, eval.Confidence(sol, history), 1e-9)
}

func TestConfidence_HistoryFiltersBySolutionSimilarity(t *testing.T) {
	eval, _, repo := setup(t)

	flaky := storedSolution(t, repo, "restart pods", "restart-pods")
	steady := storedSolution(t, repo, "scale out", "provision-instance", "verify-load")

	history := []*models.Learning{
		learningFor(flaky, models.OutcomeFailure),
		learningFor(flaky, models.OutcomeFailure),
		learningFor(steady, models.OutcomeSuccess),
	}

	restart := models.NewSolution("ch-1", "restart the pods", "", models.Implementation{
		Steps: []models.ExecutionStep{{Order: 1, Name: "restart-pods"}},
	}, 0.5)
	scale := models.NewSolution("ch-1", "scale the pool", "", models.Implementation{
		Steps: []models.ExecutionStep{{Order: 1, Name: "provision-instance"}, {Order: 2, Name: "verify-load"}},
	}, 0.5)

	// Each candidate is scored only against learnings for solutions sharing
	// its steps, so the failures drag down the restart but not the scale-out.
	assert.InDelta(t, 0.7*0.0+0.3, eval.Confidence(restart, history), 1e-9)
	assert.InDelta(t, 0.7*1.0+0.3, eval.Confidence(scale, history), 1e-9)

	ranked := eval.Rank([]*models.Solution{restart, scale}, history)
	assert.Equal(t, "scale the pool", ranked[0].Title)
}

func TestConfidence_UnresolvableHistoryFallsBack(t *testing.T) {
	eval, _, _ := setup(t)

	ghost := models.NewSolution("ch-past", "gone", "", models.Implementation{}, 0.5)
	history := []*models.Learning{learningFor(ghost, models.OutcomeFailure)}

	sol := models.NewSolution("ch-1", "restart", "", models.Implementation{}, 0.2)
	// Learnings whose solution was never stored cannot inform the score.
	assert.InDelta(t, 0.65, eval.Confidence(sol, history), 1e-9)
}

func TestConfidence_RiskLowersScore(t *testing.T) {
	eval, _, _ := setup(t)
	risky := models.NewSolution("ch-1", "rewrite storage engine", "", models.Implementation{}, 0.2)
	risky.Risks = []models.Risk{
		{Description: "data loss", Probability: 0.5, Impact: models.RiskImpactHigh},
		{Description: "downtime", Probability: 0.4, Impact: models.RiskImpactMedium},
	}
	safe := models.NewSolution("ch-1", "add read replica", "", models.Implementation{}, 0.2)

	// riskScore = (0.5*1.0 + 0.4*0.5)/2 = 0.35
	assert.InDelta(t, 0.7*0.5+0.3*0.65, eval.Confidence(risky, nil), 1e-9)
	assert.Greater(t, eval.Confidence(safe, nil), eval.Confidence(risky, nil))
}

func TestConfidence_PatternFallback(t *testing.T) {
	eval, lib, _ := setup(t)

	p := models.NewPattern("restart workers", models.ChallengeTypeError,
		models.TriggerCondition{}, models.SolutionTemplate{Steps: []string{"drain", "restart"}}, 0.9)
	require.NoError(t, lib.Register(p))

	sol := models.NewSolution("ch-1", "rolling restart", "", models.Implementation{
		Steps: []models.ExecutionStep{{Order: 1, Name: "drain"}, {Order: 2, Name: "restart"}},
	}, 0.2)

	// Full step overlap: history fallback uses the pattern's success rate.
	assert.InDelta(t, 0.7*0.9+0.3, eval.Confidence(sol, nil), 1e-9)
}

func TestRank_ReordersByRecomputedConfidence(t *testing.T) {
	eval, _, _ := setup(t)

	risky := models.NewSolution("ch-1", "risky fix", "", models.Implementation{}, 0.99)
	risky.Risks = []models.Risk{{Probability: 0.9, Impact: models.RiskImpactHigh}}
	safe := models.NewSolution("ch-1", "safe fix", "", models.Implementation{}, 0.01)

	ranked := eval.Rank([]*models.Solution{risky, safe}, nil)
	require.Len(t, ranked, 2)
	assert.Equal(t, "safe fix", ranked[0].Title, "generator-seeded confidence is discarded")
	assert.Greater(t, ranked[0].Confidence, ranked[1].Confidence)
}
