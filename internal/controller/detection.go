package controller

import (
	"context"
	"fmt"
	"log"

	"github.com/jordanhubbard/mend/internal/monitor"
	"github.com/jordanhubbard/mend/internal/store"
	"github.com/jordanhubbard/mend/pkg/models"
)

// Detection thresholds for raw metric observations. Degradation events
// arrive with their own thresholds; these apply to plain metric pushes.
const (
	cpuCriticalThreshold    = 90.0
	cpuHighThreshold        = 75.0
	memoryCriticalThreshold = 90.0
	memoryHighThreshold     = 80.0
	errorRateThreshold      = 5.0
	responseTimeThreshold   = 1000.0
)

// OnMetrics caches the observation and raises challenges for metrics past
// their thresholds.
func (c *Controller) OnMetrics(m models.SystemMetrics) {
	if c.snaps != nil {
		c.snaps.Record(context.Background(), m)
	}

	ctx := m.Context()
	if m.CPU > cpuHighThreshold {
		sev := models.SeverityHigh
		if m.CPU > cpuCriticalThreshold {
			sev = models.SeverityCritical
		}
		c.detect(models.ChallengeTypePerformance, sev,
			fmt.Sprintf("cpu utilization elevated on %s", componentOrSystem(m.Source)), ctx)
	}
	if m.Memory > memoryHighThreshold {
		sev := models.SeverityHigh
		if m.Memory > memoryCriticalThreshold {
			sev = models.SeverityCritical
		}
		c.detect(models.ChallengeTypeResource, sev,
			fmt.Sprintf("memory utilization elevated on %s", componentOrSystem(m.Source)), ctx)
	}
	if m.ErrorRate > errorRateThreshold {
		c.detect(models.ChallengeTypeError, models.SeverityHigh,
			fmt.Sprintf("error rate elevated on %s", componentOrSystem(m.Source)), ctx)
	}
	if m.ResponseTime > responseTimeThreshold {
		c.detect(models.ChallengeTypePerformance, models.SeverityMedium,
			fmt.Sprintf("response time degraded on %s", componentOrSystem(m.Source)), ctx)
	}
}

// OnErrorDetected raises an error challenge for an application error.
func (c *Controller) OnErrorDetected(ev monitor.ErrorEvent) {
	sev := models.SeverityMedium
	if ev.Count > 10 {
		sev = models.SeverityHigh
	}
	ctx := c.currentContext()
	ctx.Component = ev.Component
	c.detect(models.ChallengeTypeError, sev,
		fmt.Sprintf("application error detected: %s", ev.Message), ctx)
}

// OnPerformanceDegraded raises a performance challenge for a metric that
// crossed the monitor's own threshold.
func (c *Controller) OnPerformanceDegraded(ev monitor.DegradationEvent) {
	sev := models.SeverityMedium
	if ev.Threshold > 0 && ev.Value > ev.Threshold*1.2 {
		sev = models.SeverityHigh
	}
	ctx := c.currentContext()
	ctx.Component = ev.Component
	if ctx.Extra == nil {
		ctx.Extra = make(map[string]string)
	}
	ctx.Extra["metric"] = ev.Metric
	c.detect(models.ChallengeTypePerformance, sev,
		fmt.Sprintf("performance degraded: %s at %.1f exceeds %.1f", ev.Metric, ev.Value, ev.Threshold), ctx)
}

// OnProcessingFailed raises an error challenge for a failed domain
// operation.
func (c *Controller) OnProcessingFailed(ev monitor.ProcessingFailure) {
	ctx := c.currentContext()
	ctx.Component = ev.Component
	c.detect(models.ChallengeTypeError, models.SeverityHigh,
		fmt.Sprintf("%s processing failed: %s", ev.Domain, ev.Reason), ctx)
}

// detect records an automatic challenge, logging instead of propagating
// failures so monitor callbacks never block detection.
func (c *Controller) detect(ctype models.ChallengeType, sev models.Severity, desc string, ctx models.ChallengeContext) {
	if _, err := c.RecordChallenge(ChallengeInput{
		Type:        ctype,
		Severity:    sev,
		Description: desc,
		Context:     ctx,
		Origin:      models.OriginAutomatic,
	}); err != nil {
		log.Printf("[Controller] Detection dropped: %v", err)
	}
}

// currentContext builds a challenge context from the latest cached metrics.
func (c *Controller) currentContext() models.ChallengeContext {
	if c.snaps == nil {
		return models.ChallengeContext{}
	}
	m, err := c.snaps.Snapshot(context.Background())
	if err != nil {
		return models.ChallengeContext{}
	}
	return m.Context()
}

// selfDiagnose inspects the loop's own health and raises challenges when
// it is underperforming.
func (c *Controller) selfDiagnose() {
	h := c.GetSystemHealth()
	if h.ResolvedChallenges+h.FailedChallenges >= 5 && h.SuccessRate < 0.5 {
		c.detect(models.ChallengeTypeError, models.SeverityHigh,
			fmt.Sprintf("remediation success rate dropped to %.0f%%", h.SuccessRate*100),
			models.ChallengeContext{Component: "mend"})
	}
	if h.QueueDepth >= c.cfg.QueueSize/2 {
		c.detect(models.ChallengeTypeScalability, models.SeverityMedium,
			fmt.Sprintf("execution queue backlog at %d items", h.QueueDepth),
			models.ChallengeContext{Component: "mend"})
	}
	log.Printf("[Controller] Self-diagnosis: %d challenges, %.0f%% success, %d active patterns",
		h.TotalChallenges, h.SuccessRate*100, h.ActivePatterns)
}

// learningCycle re-runs pattern extraction over recent history so patterns
// emerge even when activity stalls between extraction ticks.
func (c *Controller) learningCycle() {
	extracted := c.learn.ExtractPatterns(c.repo.RecentLearnings(50))
	for _, p := range extracted {
		c.persist(context.Background(), store.CategoryPatterns, p.ID, p)
		if c.mets != nil {
			c.mets.PatternsExtracted.Inc()
		}
	}
	if c.mets != nil {
		c.mets.PatternsActive.Set(float64(len(c.library.Active())))
	}
	if len(extracted) > 0 {
		log.Printf("[Controller] Learning cycle extracted %d patterns", len(extracted))
	}
}

func componentOrSystem(s string) string {
	if s == "" {
		return "system"
	}
	return s
}

var _ monitor.Listener = (*Controller)(nil)
