package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/pkg/models"
)

func setup(t *testing.T) (*Engine, *repository.Repository, *patterns.Library) {
	t.Helper()
	repo := repository.New()
	lib := patterns.NewLibrary(repo)
	return New(repo, lib), repo, lib
}

// successLearning builds a resolved high-cpu learning with its backing
// challenge and solution stored.
func successLearning(t *testing.T, repo *repository.Repository, desc string, cpu, improvement float64) *models.Learning {
	t.Helper()
	ch := models.NewChallenge(models.ChallengeTypePerformance, models.SeverityHigh, desc,
		models.ChallengeContext{CPU: cpu, Component: "api"}, models.OriginAutomatic)
	sol := models.NewSolution(ch.ID, "scale out", "", models.Implementation{
		Steps: []models.ExecutionStep{{Order: 1, Name: "provision-instance", Target: "pool"}},
	}, 0.8)
	require.NoError(t, repo.AddSolution(sol))

	l := models.NewLearning(ch, sol, models.OutcomeSuccess)
	l.Improvements = map[string]float64{"cpuImprovement": improvement}
	return l
}

func TestContextSimilarity(t *testing.T) {
	a := models.ChallengeContext{CPU: 90, Memory: 50, Component: "api"}
	b := models.ChallengeContext{CPU: 90, Memory: 50, Component: "API"}
	assert.InDelta(t, 1.0, ContextSimilarity(a, b), 1e-9)

	// Half the cpu: ratio 0.5 on cpu, 1.0 on memory, 1.0 on component.
	c := models.ChallengeContext{CPU: 45, Memory: 50, Component: "api"}
	assert.InDelta(t, 2.5/3.0, ContextSimilarity(a, c), 1e-9)

	// Nothing in common.
	assert.Equal(t, 0.0, ContextSimilarity(models.ChallengeContext{CPU: 90}, models.ChallengeContext{Memory: 50}))

	// Extra keys compare exactly.
	d := models.ChallengeContext{Extra: map[string]string{"region": "us-east"}}
	e := models.ChallengeContext{Extra: map[string]string{"region": "us-west"}}
	assert.Equal(t, 0.0, ContextSimilarity(d, e))
}

func TestRelevantLearnings_TypeAndSimilarityGate(t *testing.T) {
	eng, repo, _ := setup(t)

	match := successLearning(t, repo, "cpu high in api", 90, 40)
	require.NoError(t, repo.AppendLearning(match))

	otherType := successLearning(t, repo, "memory leak", 90, 40)
	otherType.ChallengeType = models.ChallengeTypeResource
	require.NoError(t, repo.AppendLearning(otherType))

	farContext := successLearning(t, repo, "cpu mildly elevated", 10, 40)
	farContext.Context.Component = "batch"
	require.NoError(t, repo.AppendLearning(farContext))

	ch := models.NewChallenge(models.ChallengeTypePerformance, models.SeverityHigh, "cpu again",
		models.ChallengeContext{CPU: 88, Component: "api"}, models.OriginAutomatic)

	got := eng.RelevantLearnings(ch)
	require.Len(t, got, 1)
	assert.Equal(t, match.ID, got[0].ID)
}

func TestFindRelevantSolutions_RankedByEmpiricalRate(t *testing.T) {
	eng, repo, _ := setup(t)

	ch := models.NewChallenge(models.ChallengeTypePerformance, models.SeverityHigh, "cpu high",
		models.ChallengeContext{CPU: 90, Component: "api"}, models.OriginAutomatic)

	good := models.NewSolution(ch.ID, "good fix", "", models.Implementation{}, 0.8)
	flaky := models.NewSolution(ch.ID, "flaky fix", "", models.Implementation{}, 0.8)
	require.NoError(t, repo.AddSolution(good))
	require.NoError(t, repo.AddSolution(flaky))

	appendOutcome := func(sol *models.Solution, outcome models.Outcome) {
		l := models.NewLearning(ch, sol, outcome)
		require.NoError(t, repo.AppendLearning(l))
	}
	appendOutcome(good, models.OutcomeSuccess)
	appendOutcome(good, models.OutcomeSuccess)
	appendOutcome(flaky, models.OutcomeSuccess)
	appendOutcome(flaky, models.OutcomeFailure)

	got := eng.FindRelevantSolutions(ch)
	require.Len(t, got, 2)
	assert.Equal(t, "good fix", got[0].Title)
}

func TestFindRelevantSolutions_SkipsUnknownSolutions(t *testing.T) {
	eng, repo, _ := setup(t)

	ch := models.NewChallenge(models.ChallengeTypeError, models.SeverityMedium, "timeouts",
		models.ChallengeContext{ErrorRate: 8}, models.OriginAutomatic)
	ghost := models.NewSolution(ch.ID, "from a peer", "", models.Implementation{}, 0.8)
	l := models.NewLearning(ch, ghost, models.OutcomeSuccess)
	l.Transferred = true
	require.NoError(t, repo.AppendLearning(l))

	assert.Empty(t, eng.FindRelevantSolutions(ch))
}

func TestRecord_UpdatesMatchingPatterns(t *testing.T) {
	eng, repo, lib := setup(t)

	p := models.NewPattern("cpu pattern", models.ChallengeTypePerformance,
		models.TriggerCondition{
			Logic:      models.LogicAnd,
			Conditions: []models.MetricCondition{{Metric: "cpu", Operator: models.OperatorGT, Value: 80}},
		}, models.SolutionTemplate{Steps: []string{"provision-instance"}}, 0.5)
	require.NoError(t, lib.Register(p))

	l := successLearning(t, repo, "cpu high", 90, 40)
	_, err := eng.Record(l)
	require.NoError(t, err)

	updated, err := lib.Get(p.ID)
	require.NoError(t, err)
	// EWMA: 0.5*0.9 + 1.0*0.1 = 0.55
	assert.InDelta(t, 0.55, updated.SuccessRate, 1e-9)
	assert.Equal(t, 2, updated.UsageCount)
}

func TestExtractPatterns_RequiresThreeRepetitions(t *testing.T) {
	eng, repo, _ := setup(t)

	group := []*models.Learning{
		successLearning(t, repo, "cpu a", 90, 40),
		successLearning(t, repo, "cpu b", 85, 35),
	}
	assert.Empty(t, eng.ExtractPatterns(group), "two successes are not a pattern")

	group = append(group, successLearning(t, repo, "cpu c", 95, 38))
	extracted := eng.ExtractPatterns(group)
	require.Len(t, extracted, 1)

	p := extracted[0]
	assert.Equal(t, models.ChallengeTypePerformance, p.ChallengeType)
	assert.Equal(t, 3, p.UsageCount)
	assert.GreaterOrEqual(t, p.SuccessRate, 0.7)
	assert.Equal(t, []string{"provision-instance"}, p.Template.Steps)

	// Trigger is gte 80% of the average observed cpu (avg 90 -> 72).
	require.Len(t, p.Trigger.Conditions, 1)
	cond := p.Trigger.Conditions[0]
	assert.Equal(t, "cpu", cond.Metric)
	assert.Equal(t, models.OperatorGTE, cond.Operator)
	assert.InDelta(t, 72.0, cond.Value, 1e-9)
}

func TestExtractPatterns_WeakImprovementsNotRegistered(t *testing.T) {
	eng, repo, _ := setup(t)

	group := []*models.Learning{
		successLearning(t, repo, "cpu a", 90, 10),
		successLearning(t, repo, "cpu b", 85, 12),
		successLearning(t, repo, "cpu c", 95, 8),
	}
	// Average improvement ~10% normalizes to a 0.2 success rate, under the floor.
	assert.Empty(t, eng.ExtractPatterns(group))
}

func TestExtractPatterns_MergesIntoSimilarPattern(t *testing.T) {
	eng, repo, lib := setup(t)

	existing := models.NewPattern("performance-high-remediation", models.ChallengeTypePerformance,
		models.TriggerCondition{}, models.SolutionTemplate{Steps: []string{"provision-instance"}}, 0.8)
	existing.UsageCount = 4
	require.NoError(t, lib.Register(existing))

	group := []*models.Learning{
		successLearning(t, repo, "cpu a", 90, 40),
		successLearning(t, repo, "cpu b", 85, 38),
		successLearning(t, repo, "cpu c", 95, 42),
	}
	registered := eng.ExtractPatterns(group)

	assert.Empty(t, registered, "similar patterns merge instead of duplicating")
	assert.Len(t, lib.All(), 1)
	merged, err := lib.Get(existing.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, merged.UsageCount)
}

func TestRecord_ExtractsEveryTenth(t *testing.T) {
	eng, repo, lib := setup(t)

	var newPatterns []*models.Pattern
	for i := 0; i < 10; i++ {
		l := successLearning(t, repo, "cpu spike", 90, 40)
		got, err := eng.Record(l)
		require.NoError(t, err)
		if i < 9 {
			assert.Empty(t, got)
		} else {
			newPatterns = got
		}
	}

	require.Len(t, newPatterns, 1)
	assert.NotEmpty(t, lib.All())
}
