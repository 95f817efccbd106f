package patterns

import (
	"time"

	"github.com/jordanhubbard/mend/pkg/models"
)

// Heuristic is one hand-authored domain remediation with estimated impact
// and risks.
type Heuristic struct {
	Title       string
	Description string
	Confidence  float64
	Impact      models.Impact
	Risks       []models.Risk
	Impl        models.Implementation
}

// heuristicCatalog is the fixed set of domain remediations keyed by
// challenge type.
var heuristicCatalog = map[models.ChallengeType][]Heuristic{
	models.ChallengeTypePerformance: {
		{
			Title:       "Introduce caching layer",
			Description: "Put a cache in front of the hottest read path",
			Confidence:  0.65,
			Impact:      models.Impact{Performance: 40, UserExperience: 25, Cost: -10},
			Risks: []models.Risk{
				{Description: "Stale reads during cache warm-up", Probability: 0.3, Impact: models.RiskImpactLow, Mitigation: "short TTL until hit rate stabilizes"},
			},
			Impl: implementation("infrastructure", 10*time.Minute,
				step(1, "deploy-cache", "configure", "cache-layer", map[string]string{"size": "256mb"}),
				step(2, "route-reads", "configure", "router", map[string]string{"cache": "enabled"}),
			),
		},
		{
			Title:       "Offload work to async queue",
			Description: "Move non-critical work off the request path",
			Confidence:  0.6,
			Impact:      models.Impact{Performance: 30, UserExperience: 20, Reliability: 10},
			Risks: []models.Risk{
				{Description: "Queue backlog under sustained load", Probability: 0.25, Impact: models.RiskImpactMedium, Mitigation: "bound queue depth and alert"},
			},
			Impl: implementation("code", 15*time.Minute,
				step(1, "enable-async-path", "configure", "worker-queue", map[string]string{"mode": "async"}),
				step(2, "verify-throughput", "verify", "app", map[string]string{"metric": "responseTime", "below": "400"}),
			),
		},
	},
	models.ChallengeTypeError: {
		{
			Title:       "Add circuit breaker",
			Description: "Fail fast on the broken dependency instead of cascading",
			Confidence:  0.65,
			Impact:      models.Impact{Reliability: 35, UserExperience: 15},
			Risks: []models.Risk{
				{Description: "Breaker trips on transient blips", Probability: 0.2, Impact: models.RiskImpactLow, Mitigation: "tune failure threshold"},
			},
			Impl: implementation("configuration", 5*time.Minute,
				step(1, "enable-breaker", "configure", "dependency-client", map[string]string{"threshold": "5", "window": "30s"}),
			),
		},
		{
			Title:       "Retry with exponential backoff",
			Description: "Absorb transient failures with bounded retries",
			Confidence:  0.6,
			Impact:      models.Impact{Reliability: 25, UserExperience: 10, Performance: -5},
			Risks: []models.Risk{
				{Description: "Retries amplify load on a struggling dependency", Probability: 0.3, Impact: models.RiskImpactMedium, Mitigation: "cap attempts and add jitter"},
			},
			Impl: implementation("configuration", 5*time.Minute,
				step(1, "enable-retries", "configure", "dependency-client", map[string]string{"max_attempts": "3", "backoff": "exponential"}),
			),
		},
	},
	models.ChallengeTypeScalability: {
		{
			Title:       "Enable autoscaling",
			Description: "Scale the pool on load instead of fixed capacity",
			Confidence:  0.65,
			Impact:      models.Impact{Performance: 30, Reliability: 20, Cost: -15},
			Risks: []models.Risk{
				{Description: "Scale-up lag during load spikes", Probability: 0.35, Impact: models.RiskImpactMedium, Mitigation: "pre-warm minimum capacity"},
			},
			Impl: implementation("infrastructure", 10*time.Minute,
				step(1, "configure-autoscaler", "configure", "compute-pool", map[string]string{"min": "2", "max": "10", "target_cpu": "70"}),
			),
		},
		{
			Title:       "Add load balancing",
			Description: "Spread traffic across instances instead of one hot node",
			Confidence:  0.6,
			Impact:      models.Impact{Performance: 25, Reliability: 25},
			Risks: []models.Risk{
				{Description: "Session affinity breaks stateful flows", Probability: 0.25, Impact: models.RiskImpactMedium, Mitigation: "sticky sessions for stateful routes"},
			},
			Impl: implementation("infrastructure", 10*time.Minute,
				step(1, "deploy-balancer", "configure", "load-balancer", map[string]string{"algorithm": "least_conn"}),
				step(2, "verify-distribution", "verify", "compute-pool", map[string]string{"metric": "cpu", "below": "80"}),
			),
		},
	},
	models.ChallengeTypeResource: {
		{
			Title:       "Recycle leaking workers",
			Description: "Periodically recycle workers to bound resource leaks",
			Confidence:  0.55,
			Impact:      models.Impact{Reliability: 20, Performance: 10},
			Risks: []models.Risk{
				{Description: "In-flight work lost during recycle", Probability: 0.2, Impact: models.RiskImpactLow, Mitigation: "drain before recycle"},
			},
			Impl: implementation("process", 5*time.Minute,
				step(1, "schedule-recycle", "configure", "worker-pool", map[string]string{"interval": "6h", "drain": "true"}),
			),
		},
	},
}

// Heuristics returns the catalog entries for a challenge type.
func Heuristics(ctype models.ChallengeType) []Heuristic {
	return heuristicCatalog[ctype]
}
