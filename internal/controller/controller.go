// Package controller owns the challenge lifecycle: deduplicated intake,
// analysis, the serialized execution queue, and the periodic self-diagnosis
// and learning cycles.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jordanhubbard/mend/internal/cache"
	"github.com/jordanhubbard/mend/internal/events"
	"github.com/jordanhubbard/mend/internal/evaluator"
	"github.com/jordanhubbard/mend/internal/executor"
	"github.com/jordanhubbard/mend/internal/generator"
	"github.com/jordanhubbard/mend/internal/learning"
	"github.com/jordanhubbard/mend/internal/metrics"
	"github.com/jordanhubbard/mend/internal/monitor"
	"github.com/jordanhubbard/mend/internal/patterns"
	"github.com/jordanhubbard/mend/internal/repository"
	"github.com/jordanhubbard/mend/internal/scheduler"
	"github.com/jordanhubbard/mend/internal/store"
	"github.com/jordanhubbard/mend/internal/telemetry"
	"github.com/jordanhubbard/mend/internal/transfer"
	"github.com/jordanhubbard/mend/pkg/messages"
	"github.com/jordanhubbard/mend/pkg/models"
)

// ErrInvalidTransition is returned for lifecycle transitions the state
// machine does not allow.
var ErrInvalidTransition = errors.New("invalid status transition")

const source = "controller"

// Config holds the controller's tunables
type Config struct {
	SystemID              string
	AutoExecThreshold     float64       // confidence gate for automatic execution
	DedupSimilarity       float64       // Jaccard threshold for duplicate detection
	CoolDown              time.Duration // pause between queued executions
	QueueSize             int
	SelfDiagnosisInterval time.Duration
	LearningCycleInterval time.Duration
}

// DefaultConfig returns the standard controller configuration.
func DefaultConfig(systemID string) Config {
	return Config{
		SystemID:              systemID,
		AutoExecThreshold:     0.8,
		DedupSimilarity:       0.8,
		CoolDown:              30 * time.Second,
		QueueSize:             64,
		SelfDiagnosisInterval: time.Hour,
		LearningCycleInterval: 30 * time.Minute,
	}
}

// ChallengeInput is the partial record callers hand to RecordChallenge.
// Missing type and severity get defaults.
type ChallengeInput struct {
	Type        models.ChallengeType
	Severity    models.Severity
	Description string
	Context     models.ChallengeContext
	Origin      models.ChallengeOrigin
}

// Controller orchestrates the autonomic remediation loop
type Controller struct {
	cfg      Config
	repo     *repository.Repository
	library  *patterns.Library
	gen      *generator.Generator
	eval     *evaluator.Evaluator
	exec     *executor.Engine
	learn    *learning.Engine
	transfer *transfer.Manager
	kstore   store.Store
	bus      *events.Bus
	mets     *metrics.Metrics
	sched    scheduler.Scheduler
	clk      clock.Clock
	snaps    *cache.MetricsCache

	queue   chan string
	stopped chan struct{}
	stopOne sync.Once
	wg      sync.WaitGroup

	mu        sync.Mutex // serializes record/analyze/execute state changes
	executing bool
}

// Deps bundles the controller's collaborators.
type Deps struct {
	Repo     *repository.Repository
	Library  *patterns.Library
	Gen      *generator.Generator
	Eval     *evaluator.Evaluator
	Exec     *executor.Engine
	Learn    *learning.Engine
	Transfer *transfer.Manager
	Store    store.Store
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Sched    scheduler.Scheduler
	Clock    clock.Clock
	Snaps    *cache.MetricsCache
}

// New creates a controller. Clock defaults to the real clock.
func New(cfg Config, d Deps) *Controller {
	if cfg.AutoExecThreshold == 0 {
		cfg.AutoExecThreshold = 0.8
	}
	if cfg.DedupSimilarity == 0 {
		cfg.DedupSimilarity = 0.8
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 64
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Controller{
		cfg:      cfg,
		repo:     d.Repo,
		library:  d.Library,
		gen:      d.Gen,
		eval:     d.Eval,
		exec:     d.Exec,
		learn:    d.Learn,
		transfer: d.Transfer,
		kstore:   d.Store,
		bus:      d.Bus,
		mets:     d.Metrics,
		sched:    d.Sched,
		clk:      clk,
		snaps:    d.Snaps,
		queue:    make(chan string, cfg.QueueSize),
		stopped:  make(chan struct{}),
	}
}

// Start launches the queue drain loop and periodic cycles, and subscribes
// to the monitor.
func (c *Controller) Start(ctx context.Context, mon monitor.Monitor) {
	if mon != nil {
		mon.Subscribe(c)
	}

	c.wg.Add(1)
	go c.drainQueue(ctx)

	if c.sched != nil {
		if c.cfg.SelfDiagnosisInterval > 0 {
			c.sched.Every(c.cfg.SelfDiagnosisInterval, c.selfDiagnose)
		}
		if c.cfg.LearningCycleInterval > 0 {
			c.sched.Every(c.cfg.LearningCycleInterval, c.learningCycle)
		}
	}

	log.Printf("[Controller] Started (system %s)", c.cfg.SystemID)
}

// Stop shuts down the queue and timers. In-flight executions run to
// completion; there is no cancellation once a solution starts.
func (c *Controller) Stop() {
	c.stopOne.Do(func() {
		close(c.stopped)
		if c.sched != nil {
			c.sched.Stop()
		}
	})
	c.wg.Wait()
	log.Printf("[Controller] Stopped")
}

// RecordChallenge applies deduplication and either folds the detection into
// an existing challenge or creates a new one and analyzes it. Returns the
// challenge id either way.
func (c *Controller) RecordChallenge(in ChallengeInput) (string, error) {
	if in.Type == "" {
		in.Type = models.ChallengeTypeError
	}
	if in.Severity == "" {
		in.Severity = models.SeverityMedium
	}
	if in.Origin == "" {
		in.Origin = models.OriginAutomatic
	}
	if strings.TrimSpace(in.Description) == "" {
		return "", fmt.Errorf("challenge description cannot be empty")
	}

	c.mu.Lock()
	// Duplicate detection against non-resolved challenges of the same type.
	for _, existing := range c.repo.NonResolvedByType(in.Type) {
		if jaccard(existing.Description, in.Description) > c.cfg.DedupSimilarity {
			updated, err := c.repo.MutateChallenge(existing.ID, func(cur *models.Challenge) error {
				cur.Occurrences++
				cur.LastSeenAt = time.Now()
				return nil
			})
			c.mu.Unlock()
			if err != nil {
				return "", err
			}
			if c.mets != nil {
				c.mets.ChallengesDeduped.Inc()
			}
			c.persist(context.Background(), store.CategoryChallenges, updated.ID, updated)
			log.Printf("[Controller] Duplicate detection folded into %s (%d occurrences)", updated.ID, updated.Occurrences)
			return updated.ID, nil
		}
	}

	ch := models.NewChallenge(in.Type, in.Severity, in.Description, in.Context, in.Origin)
	if _, err := c.repo.GetChallenge(ch.ID); err == nil {
		// A resolved challenge already holds the content-derived id; the
		// fresh detection gets its own record.
		ch.ID = ch.ID + "-" + uuid.New().String()[:8]
	}
	if err := c.repo.CreateChallenge(ch); err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("failed to record challenge: %w", err)
	}
	c.mu.Unlock()

	if c.mets != nil {
		c.mets.ChallengesRecorded.WithLabelValues(string(ch.Type), string(ch.Severity)).Inc()
	}
	c.persist(context.Background(), store.CategoryChallenges, ch.ID, ch)
	c.publish(messages.ChallengeRecorded(ch.ID, source, map[string]interface{}{
		"type":     string(ch.Type),
		"severity": string(ch.Severity),
	}))
	log.Printf("[Controller] Recorded %s challenge %s (%s)", ch.Type, ch.ID, ch.Severity)

	if err := c.AnalyzeChallenge(context.Background(), ch.ID); err != nil {
		log.Printf("[Controller] Analysis of %s failed: %v", ch.ID, err)
	}
	return ch.ID, nil
}

// AnalyzeChallenge generates, ranks, and stores candidate solutions, then
// decides whether the top candidate clears the auto-execution gate. Any
// failure marks the challenge failed; analysis is not retried.
func (c *Controller) AnalyzeChallenge(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "controller.analyze",
		attribute.String("challenge.id", id))
	defer span.End()

	ch, err := c.repo.GetChallenge(id)
	if err != nil {
		return err
	}
	if err := c.transition(ctx, ch, models.ChallengeStatusAnalyzing); err != nil {
		return err
	}
	c.publish(messages.ChallengeAnalyzing(ch.ID, source))

	if err := c.analyze(ctx, ch); err != nil {
		c.fail(ctx, ch, err)
		return fmt.Errorf("analysis failed: %w", err)
	}

	c.publish(messages.ChallengeReady(ch.ID, source, map[string]interface{}{
		"candidates": len(ch.Solutions),
	}))

	top := ch.Solutions[0]
	if c.autoExecutable(ch, top) {
		c.enqueue(ch.ID)
	} else {
		log.Printf("[Controller] Challenge %s requires manual execution (confidence %.2f, severity %s)",
			ch.ID, top.Confidence, ch.Severity)
	}
	return nil
}

// analyze runs generation and ranking, leaving the challenge ready.
func (c *Controller) analyze(ctx context.Context, ch *models.Challenge) error {
	seeds := c.learn.FindRelevantSolutions(ch)
	candidates := c.gen.Generate(ch, seeds)
	if len(candidates) == 0 {
		return fmt.Errorf("no candidate solutions for %s challenge", ch.Type)
	}

	history := c.learn.RelevantLearnings(ch)
	ranked := c.eval.Rank(candidates, history)

	c.mu.Lock()
	for _, sol := range ranked {
		if err := c.repo.AddSolution(sol); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	_, err := c.repo.MutateChallenge(ch.ID, func(cur *models.Challenge) error {
		cur.Solutions = make([]*models.Solution, len(ranked))
		for i, sol := range ranked {
			cur.Solutions[i] = sol.Copy()
		}
		return nil
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	ch.Solutions = ranked

	for _, sol := range ranked {
		c.persist(ctx, store.CategorySolutions, sol.ID, sol)
	}

	return c.transition(ctx, ch, models.ChallengeStatusReady)
}

// autoExecutable applies the gate: confidence above the threshold, severity
// below critical, and no high-impact risk. Critical challenges and risky
// solutions always wait for an external trigger.
func (c *Controller) autoExecutable(ch *models.Challenge, sol *models.Solution) bool {
	return sol.Confidence > c.cfg.AutoExecThreshold &&
		ch.Severity != models.SeverityCritical &&
		!sol.HasHighRisk()
}

// ExecuteSolution runs one solution against its challenge and records the
// outcome. Used directly for manual triggers; the queue drain calls it for
// auto-approved challenges.
func (c *Controller) ExecuteSolution(ctx context.Context, challengeID, solutionID string) error {
	ctx, span := telemetry.StartSpan(ctx, "controller.execute",
		attribute.String("challenge.id", challengeID),
		attribute.String("solution.id", solutionID))
	defer span.End()

	ch, err := c.repo.GetChallenge(challengeID)
	if err != nil {
		return err
	}
	sol, err := c.repo.GetSolution(solutionID)
	if err != nil {
		return err
	}
	if sol.ChallengeID != ch.ID {
		return fmt.Errorf("solution %s does not belong to challenge %s", solutionID, challengeID)
	}

	c.mu.Lock()
	if c.executing {
		c.mu.Unlock()
		return fmt.Errorf("another execution is in flight")
	}
	c.executing = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.executing = false
		c.mu.Unlock()
	}()

	if err := c.transition(ctx, ch, models.ChallengeStatusExecuting); err != nil {
		return err
	}
	c.publish(messages.SolutionExecuting(sol.ID, source, map[string]interface{}{
		"challenge_id": ch.ID,
		"title":        sol.Title,
	}))
	log.Printf("[Controller] Executing %q for challenge %s", sol.Title, ch.ID)

	result := c.exec.Execute(ctx, ch, sol)

	// The learning is appended to history before any completion event fires.
	newPatterns, err := c.learn.Record(result.Learning)
	if err != nil {
		log.Printf("[Controller] Failed to record learning: %v", err)
	} else {
		if _, merr := c.repo.MutateChallenge(ch.ID, func(cur *models.Challenge) error {
			cur.LearningIDs = append(cur.LearningIDs, result.Learning.ID)
			return nil
		}); merr != nil {
			log.Printf("[Controller] Failed to attach learning to %s: %v", ch.ID, merr)
		}
		c.persist(ctx, store.CategoryLearnings, result.Learning.ID, result.Learning)
	}
	for _, p := range newPatterns {
		c.persist(ctx, store.CategoryPatterns, p.ID, p)
		if c.mets != nil {
			c.mets.PatternsExtracted.Inc()
		}
	}

	status := models.ChallengeStatusResolved
	if result.Outcome == models.OutcomeFailure {
		status = models.ChallengeStatusFailed
	}
	if err := c.transition(ctx, ch, status); err != nil {
		log.Printf("[Controller] Transition after execution failed: %v", err)
	}
	// Write the measured execution back before persisting the solution.
	if err := c.repo.AddSolution(sol); err != nil {
		log.Printf("[Controller] Failed to store executed solution: %v", err)
	}
	c.persist(ctx, store.CategorySolutions, sol.ID, sol)

	if c.mets != nil {
		c.mets.ExecutionsTotal.WithLabelValues(string(result.Outcome)).Inc()
		c.mets.ExecutionDuration.WithLabelValues(string(result.Outcome)).Observe(result.Duration.Seconds())
		c.mets.LearningsRecorded.WithLabelValues(string(result.Outcome)).Inc()
	}

	c.publish(messages.LearningCompleted(result.Learning.ID, source, map[string]interface{}{
		"outcome": string(result.Outcome),
	}))
	c.publish(messages.SolutionCompleted(sol.ID, source, map[string]interface{}{
		"challenge_id": ch.ID,
		"outcome":      string(result.Outcome),
		"duration_ms":  result.Duration.Milliseconds(),
	}))

	if result.Outcome == models.OutcomeFailure {
		c.publish(messages.ChallengeFailed(ch.ID, source, fmt.Sprintf("execution failed: %v", result.Err)))
	}
	log.Printf("[Controller] Challenge %s finished with outcome %s", ch.ID, result.Outcome)
	return nil
}

// ShareKnowledge packages and sends accumulated knowledge to a peer.
func (c *Controller) ShareKnowledge(ctx context.Context, target string) error {
	if c.transfer == nil {
		return fmt.Errorf("knowledge transfer is not configured")
	}
	pkg, err := c.transfer.CreatePackage(target)
	if err != nil {
		return fmt.Errorf("failed to create package for %s: %w", target, err)
	}
	if err := c.transfer.SendPackage(ctx, pkg); err != nil {
		return err
	}
	c.publish(messages.KnowledgeShared(pkg.ID, source, target))
	return nil
}

// Health summarizes the loop's state for external callers.
type Health struct {
	TotalChallenges    int     `json:"total_challenges"`
	ResolvedChallenges int     `json:"resolved_challenges"`
	PendingChallenges  int     `json:"pending_challenges"`
	FailedChallenges   int     `json:"failed_challenges"`
	SuccessRate        float64 `json:"success_rate"`
	Learnings          int     `json:"learnings"`
	ActivePatterns     int     `json:"active_patterns"`
	QueueDepth         int     `json:"queue_depth"`
}

// GetSystemHealth returns lifecycle counts and the overall success rate.
func (c *Controller) GetSystemHealth() Health {
	counts := c.repo.CountChallenges()
	total := 0
	for _, n := range counts {
		total += n
	}
	resolved := counts[models.ChallengeStatusResolved]
	failed := counts[models.ChallengeStatusFailed]

	h := Health{
		TotalChallenges:    total,
		ResolvedChallenges: resolved,
		PendingChallenges:  counts[models.ChallengeStatusPending] + counts[models.ChallengeStatusAnalyzing] + counts[models.ChallengeStatusReady],
		FailedChallenges:   failed,
		Learnings:          c.repo.LearningCount(),
		ActivePatterns:     len(c.library.Active()),
		QueueDepth:         len(c.queue),
	}
	if resolved+failed > 0 {
		h.SuccessRate = float64(resolved) / float64(resolved+failed)
	}
	return h
}

// enqueue adds a challenge to the serialized execution queue.
func (c *Controller) enqueue(id string) {
	select {
	case c.queue <- id:
		if c.mets != nil {
			c.mets.QueueDepth.Set(float64(len(c.queue)))
		}
		log.Printf("[Controller] Enqueued %s for automatic execution", id)
	default:
		log.Printf("[Controller] Execution queue full, dropping %s", id)
	}
}

// drainQueue processes one challenge at a time with a cool-down between
// items so remediations never cascade.
func (c *Controller) drainQueue(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopped:
			return
		case <-ctx.Done():
			return
		case id := <-c.queue:
			if c.mets != nil {
				c.mets.QueueDepth.Set(float64(len(c.queue)))
			}
			c.executeTop(ctx, id)
			c.clk.Sleep(c.cfg.CoolDown)
		}
	}
}

// executeTop runs the top-ranked solution of a ready challenge.
func (c *Controller) executeTop(ctx context.Context, id string) {
	ch, err := c.repo.GetChallenge(id)
	if err != nil {
		log.Printf("[Controller] Queued challenge vanished: %v", err)
		return
	}
	if ch.Status != models.ChallengeStatusReady || len(ch.Solutions) == 0 {
		log.Printf("[Controller] Skipping %s: not ready for execution", id)
		return
	}
	if err := c.ExecuteSolution(ctx, ch.ID, ch.Solutions[0].ID); err != nil {
		log.Printf("[Controller] Automatic execution of %s failed: %v", id, err)
	}
}

// transition enforces the lifecycle state machine against the stored record
// and persists the change.
func (c *Controller) transition(ctx context.Context, ch *models.Challenge, to models.ChallengeStatus) error {
	c.mu.Lock()
	updated, err := c.repo.MutateChallenge(ch.ID, func(cur *models.Challenge) error {
		if !validTransition(cur.Status, to) {
			return fmt.Errorf("%s -> %s: %w", cur.Status, to, ErrInvalidTransition)
		}
		cur.Status = to
		return nil
	})
	c.mu.Unlock()
	if err != nil {
		return err
	}
	ch.Status = to

	c.persist(ctx, store.CategoryChallenges, updated.ID, updated)
	if c.mets != nil {
		for status, n := range c.repo.CountChallenges() {
			c.mets.ChallengesByStatus.WithLabelValues(string(status)).Set(float64(n))
		}
	}
	return nil
}

func validTransition(from, to models.ChallengeStatus) bool {
	switch from {
	case models.ChallengeStatusPending:
		return to == models.ChallengeStatusAnalyzing || to == models.ChallengeStatusFailed
	case models.ChallengeStatusAnalyzing:
		return to == models.ChallengeStatusReady || to == models.ChallengeStatusFailed
	case models.ChallengeStatusReady:
		return to == models.ChallengeStatusExecuting || to == models.ChallengeStatusFailed
	case models.ChallengeStatusExecuting:
		return to == models.ChallengeStatusResolved || to == models.ChallengeStatusFailed
	}
	return false
}

// fail marks a challenge failed and reports the error.
func (c *Controller) fail(ctx context.Context, ch *models.Challenge, cause error) {
	if err := c.transition(ctx, ch, models.ChallengeStatusFailed); err != nil {
		log.Printf("[Controller] Could not mark %s failed: %v", ch.ID, err)
	}
	c.publish(messages.ChallengeFailed(ch.ID, source, cause.Error()))
}

// persist writes a record to the knowledge store fire-and-forget. The caller
// context carries trace and identity values but its cancellation is dropped;
// store failures are logged and never block in-memory progress.
func (c *Controller) persist(ctx context.Context, category, id string, record interface{}) {
	if c.kstore == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		saveCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := c.kstore.Save(saveCtx, category, id, record); err != nil {
			log.Printf("[Controller] Persistence of %s/%s failed: %v", category, id, err)
		}
	}()
}

func (c *Controller) publish(ev *messages.EventMessage) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

// jaccard computes word-set similarity between two descriptions.
func jaccard(a, b string) float64 {
	as := wordSet(a)
	bs := wordSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	intersection := 0
	for w := range as {
		if bs[w] {
			intersection++
		}
	}
	union := len(as) + len(bs) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}
