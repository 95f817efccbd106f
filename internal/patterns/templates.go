package patterns

import (
	"time"

	"github.com/jordanhubbard/mend/pkg/models"
)

// TemplateConfidence is the fixed confidence seeded on template-based
// candidates. The evaluator recomputes it before anything executes.
const TemplateConfidence = 0.6

// Template is a static remediation recipe from the built-in table.
type Template struct {
	Key         string // "type:metric" or bare "type"
	Title       string
	Description string
	Impl        models.Implementation
}

// staticTemplates is the fixed lookup table keyed by "type:contextMetric",
// with bare "type" entries as fallback.
var staticTemplates = map[string]Template{
	"performance:cpu": {
		Title:       "Scale out compute capacity",
		Description: "Add instances to spread CPU-bound load across more workers",
		Impl: implementation("infrastructure", 5*time.Minute,
			step(1, "provision-instance", "scale_out", "compute-pool", map[string]string{"delta": "1"}),
			step(2, "verify-load", "verify", "compute-pool", map[string]string{"metric": "cpu", "below": "75"}),
		),
	},
	"performance:memory": {
		Title:       "Clear application caches",
		Description: "Flush in-process caches to release memory pressure",
		Impl: implementation("configuration", 2*time.Minute,
			step(1, "flush-caches", "clear_cache", "app-cache", nil),
			step(2, "verify-memory", "verify", "app", map[string]string{"metric": "memory", "below": "80"}),
		),
	},
	"performance:responseTime": {
		Title:       "Enable response caching",
		Description: "Cache hot responses to cut request latency",
		Impl: implementation("configuration", 3*time.Minute,
			step(1, "enable-cache", "configure", "response-cache", map[string]string{"ttl": "60s"}),
			step(2, "verify-latency", "verify", "app", map[string]string{"metric": "responseTime", "below": "500"}),
		),
	},
	"error:errorRate": {
		Title:       "Restart failing service",
		Description: "Rolling restart to clear wedged workers driving the error rate",
		Impl: implementation("process", 4*time.Minute,
			step(1, "rolling-restart", "restart", "app", map[string]string{"strategy": "rolling"}),
			step(2, "verify-errors", "verify", "app", map[string]string{"metric": "errorRate", "below": "2"}),
		),
	},
	"resource:memory": {
		Title:       "Reclaim leaked resources",
		Description: "Recycle worker processes to reclaim leaked memory",
		Impl: implementation("process", 3*time.Minute,
			step(1, "recycle-workers", "restart", "worker-pool", map[string]string{"strategy": "recycle"}),
		),
	},
	// Bare-type fallbacks
	"performance": {
		Title:       "Tune resource allocation",
		Description: "Raise resource limits for the hot path",
		Impl: implementation("configuration", 5*time.Minute,
			step(1, "raise-limits", "configure", "app", map[string]string{"cpu_limit": "+25%"}),
		),
	},
	"error": {
		Title:       "Restart with clean state",
		Description: "Restart the service and clear transient state",
		Impl: implementation("process", 3*time.Minute,
			step(1, "restart-service", "restart", "app", nil),
		),
	},
	"scalability": {
		Title:       "Scale out horizontally",
		Description: "Add capacity ahead of the load curve",
		Impl: implementation("infrastructure", 5*time.Minute,
			step(1, "add-instances", "scale_out", "compute-pool", map[string]string{"delta": "2"}),
		),
	},
}

// LookupTemplates returns the static templates applicable to a challenge:
// one per "type:metric" hit, falling back to the bare "type" entry when no
// metric-specific template matched.
func LookupTemplates(ctype models.ChallengeType, metrics map[string]float64) []Template {
	var out []Template
	for metric := range metrics {
		if tpl, ok := staticTemplates[string(ctype)+":"+metric]; ok {
			out = append(out, tpl)
		}
	}
	if len(out) == 0 {
		if tpl, ok := staticTemplates[string(ctype)]; ok {
			out = append(out, tpl)
		}
	}
	return out
}

func implementation(implType string, dur time.Duration, steps ...models.ExecutionStep) models.Implementation {
	rollback := []models.ExecutionStep{
		step(1, "restore-previous-state", "rollback", "app", nil),
	}
	return models.Implementation{
		Type:              implType,
		Steps:             steps,
		Rollback:          rollback,
		EstimatedDuration: dur,
	}
}

func step(order int, name, action, target string, params map[string]string) models.ExecutionStep {
	return models.ExecutionStep{
		Order:  order,
		Name:   name,
		Action: action,
		Target: target,
		Params: params,
	}
}
