// Package executor runs a solution's steps against the target system,
// measures the before/after effect, and decides the outcome.
package executor

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/jordanhubbard/mend/pkg/models"
)

const (
	// successThreshold is the minimum percent improvement on any metric for
	// an execution to count as a success.
	successThreshold = 10.0

	// epsilon floors denominators in improvement calculations.
	epsilon = 1e-6
)

// MetricsSource provides snapshots of the watched system's metrics.
type MetricsSource interface {
	Snapshot(ctx context.Context) (models.SystemMetrics, error)
}

// StepFunc applies one execution step to the target system.
type StepFunc func(ctx context.Context, step models.ExecutionStep) error

// Result is the outcome of one execution run
type Result struct {
	Learning *models.Learning
	Outcome  models.Outcome
	Duration time.Duration
	Err      error // the step error on failure, nil otherwise
}

// Engine executes solutions one at a time
type Engine struct {
	source MetricsSource
	run    StepFunc
}

// New creates an execution engine. A nil step function gets the simulated
// runner, which applies steps as log-only no-ops.
func New(source MetricsSource, run StepFunc) *Engine {
	if run == nil {
		run = SimulatedStep
	}
	return &Engine{source: source, run: run}
}

// Execute runs the solution's steps in ascending order, captures metric
// snapshots around the run, and always returns a learning record. On a step
// error the rollback plan runs best-effort and the outcome is failure.
func (e *Engine) Execute(ctx context.Context, ch *models.Challenge, sol *models.Solution) *Result {
	started := time.Now()
	learning := models.NewLearning(ch, sol, models.OutcomeFailure)

	before, err := e.source.Snapshot(ctx)
	if err != nil {
		log.Printf("[Executor] Before-snapshot failed for %s: %v", ch.ID, err)
	}

	steps := append([]models.ExecutionStep(nil), sol.Implementation.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	var stepErr error
	components := make(map[string]bool)
	for _, step := range steps {
		components[step.Target] = true

		// Validation failures are recorded as lessons but do not block the
		// step. Known weak point: a failed precondition still executes.
		for _, rule := range step.Validation {
			if ok, verr := evaluateRule(rule, before.Map()); verr != nil {
				learning.Lessons = append(learning.Lessons, fmt.Sprintf("validation rule %q on step %s is malformed: %v", rule, step.Name, verr))
			} else if !ok {
				learning.Lessons = append(learning.Lessons, fmt.Sprintf("validation rule %q failed on step %s", rule, step.Name))
			}
		}

		if err := e.run(ctx, step); err != nil {
			stepErr = fmt.Errorf("step %s failed: %w", step.Name, err)
			break
		}
	}

	if stepErr != nil {
		learning.Lessons = append(learning.Lessons, stepErr.Error())
		e.rollback(ctx, sol, learning)
	}

	after, err := e.source.Snapshot(ctx)
	if err != nil {
		log.Printf("[Executor] After-snapshot failed for %s: %v", ch.ID, err)
	}

	learning.Improvements = improvements(before, after)
	for target := range components {
		learning.Components = append(learning.Components, target)
	}
	sort.Strings(learning.Components)

	duration := time.Since(started)
	sol.ExecutionTime = &duration

	learning.Outcome = decide(stepErr, learning.Improvements)
	if learning.Outcome == models.OutcomeSuccess {
		learning.Lessons = append(learning.Lessons, fmt.Sprintf("%s resolved %s challenge", sol.Title, ch.Type))
	}

	return &Result{
		Learning: learning,
		Outcome:  learning.Outcome,
		Duration: duration,
		Err:      stepErr,
	}
}

// rollback applies the solution's rollback plan. Rollback failures become
// lessons, never errors: the challenge is already failing.
func (e *Engine) rollback(ctx context.Context, sol *models.Solution, learning *models.Learning) {
	rollback := append([]models.ExecutionStep(nil), sol.Implementation.Rollback...)
	sort.Slice(rollback, func(i, j int) bool { return rollback[i].Order < rollback[j].Order })
	for _, step := range rollback {
		if err := e.run(ctx, step); err != nil {
			learning.Lessons = append(learning.Lessons, fmt.Sprintf("rollback step %s failed: %v", step.Name, err))
			log.Printf("[Executor] Rollback step %s failed: %v", step.Name, err)
		}
	}
}

// decide maps the run's evidence to an outcome: a step error is failure, an
// improvement above the threshold is success, any positive movement is
// partial, and a clean run that moved nothing is partial as well.
func decide(stepErr error, improvements map[string]float64) models.Outcome {
	if stepErr != nil {
		return models.OutcomeFailure
	}
	for _, v := range improvements {
		if v > successThreshold {
			return models.OutcomeSuccess
		}
	}
	return models.OutcomePartial
}

// improvements computes per-metric percent improvement between snapshots.
// All tracked metrics are lower-is-better, so improvement is
// (before-after)/before*100 with an epsilon floor on the denominator.
func improvements(before, after models.SystemMetrics) map[string]float64 {
	bm, am := before.Map(), after.Map()
	out := make(map[string]float64)
	for _, metric := range []string{"cpu", "memory", "responseTime", "errorRate"} {
		b := bm[metric]
		if b == 0 {
			continue
		}
		denom := b
		if denom < epsilon {
			denom = epsilon
		}
		out[metric+"Improvement"] = (b - am[metric]) / denom * 100
	}
	return out
}

// SimulatedStep is the default step runner: it applies nothing and logs the
// action, for environments without real remediation hooks.
func SimulatedStep(ctx context.Context, step models.ExecutionStep) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Printf("[Executor] %s %s -> %s", step.Action, step.Name, step.Target)
	return nil
}
