package models

import (
	"time"

	"github.com/google/uuid"
)

// RiskImpact tiers a risk's blast radius
type RiskImpact string

const (
	RiskImpactLow    RiskImpact = "low"
	RiskImpactMedium RiskImpact = "medium"
	RiskImpactHigh   RiskImpact = "high"
)

// Weight returns the impact weight used in risk scoring.
func (r RiskImpact) Weight() float64 {
	switch r {
	case RiskImpactHigh:
		return 1.0
	case RiskImpactMedium:
		return 0.5
	case RiskImpactLow:
		return 0.2
	}
	return 0.5
}

// Risk describes one identified risk of applying a solution
type Risk struct {
	Description string     `json:"description"`
	Probability float64    `json:"probability"` // 0..1
	Impact      RiskImpact `json:"impact"`
	Mitigation  string     `json:"mitigation,omitempty"`
}

// Impact estimates the signed percentage effect of a solution per dimension.
// Positive values are improvements.
type Impact struct {
	Performance    float64 `json:"performance"`
	Reliability    float64 `json:"reliability"`
	UserExperience float64 `json:"user_experience"`
	Cost           float64 `json:"cost"`
	Security       float64 `json:"security"`
}

// ExecutionStep is one atomic remediation action. Steps run in ascending Order.
type ExecutionStep struct {
	ID         string            `json:"id"`
	Order      int               `json:"order"`
	Name       string            `json:"name"`
	Action     string            `json:"action"` // scale_out, clear_cache, restart, configure, verify
	Target     string            `json:"target"`
	Params     map[string]string `json:"params,omitempty"`
	Validation []string          `json:"validation,omitempty"` // validation rule expressions
}

// Implementation is the executable body of a solution
type Implementation struct {
	Type              string          `json:"type"` // infrastructure, configuration, code, process
	Steps             []ExecutionStep `json:"steps"`
	Rollback          []ExecutionStep `json:"rollback,omitempty"`
	EstimatedDuration time.Duration   `json:"estimated_duration"`
}

// Solution is a proposed remediation tied to exactly one challenge
type Solution struct {
	ID             string         `json:"id"`
	ChallengeID    string         `json:"challenge_id"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Implementation Implementation `json:"implementation"`
	Confidence     float64        `json:"confidence"` // 0..1, recomputed by the evaluator before execution
	Impact         Impact         `json:"impact"`
	Prerequisites  []string       `json:"prerequisites,omitempty"`
	Risks          []Risk         `json:"risks,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ExecutionTime  *time.Duration `json:"execution_time,omitempty"` // measured, set after execution
}

// NewSolution creates a solution with a generated id.
func NewSolution(challengeID, title, description string, impl Implementation, confidence float64) *Solution {
	return &Solution{
		ID:             "sol-" + uuid.New().String(),
		ChallengeID:    challengeID,
		Title:          title,
		Description:    description,
		Implementation: impl,
		Confidence:     confidence,
		CreatedAt:      time.Now(),
	}
}

// HasHighRisk reports whether any risk carries a high impact tier.
func (s *Solution) HasHighRisk() bool {
	for _, r := range s.Risks {
		if r.Impact == RiskImpactHigh {
			return true
		}
	}
	return false
}

// StepNames returns the ordered list of step names.
func (s *Solution) StepNames() []string {
	names := make([]string, 0, len(s.Implementation.Steps))
	for _, step := range s.Implementation.Steps {
		names = append(names, step.Name)
	}
	return names
}

// Clone returns a deep copy of the solution with a fresh id, used when
// adapting a historical solution to a new challenge.
func (s *Solution) Clone(challengeID string) *Solution {
	cp := s.Copy()
	cp.ID = "sol-" + uuid.New().String()
	cp.ChallengeID = challengeID
	cp.CreatedAt = time.Now()
	cp.ExecutionTime = nil
	return cp
}

// Copy returns a deep copy of the solution, identity included.
func (s *Solution) Copy() *Solution {
	cp := *s
	cp.Implementation = s.Implementation.copy()
	cp.Prerequisites = append([]string(nil), s.Prerequisites...)
	cp.Risks = append([]Risk(nil), s.Risks...)
	if s.ExecutionTime != nil {
		d := *s.ExecutionTime
		cp.ExecutionTime = &d
	}
	return &cp
}

func (im Implementation) copy() Implementation {
	cp := im
	cp.Steps = copySteps(im.Steps)
	cp.Rollback = copySteps(im.Rollback)
	return cp
}

func copySteps(steps []ExecutionStep) []ExecutionStep {
	if steps == nil {
		return nil
	}
	out := make([]ExecutionStep, len(steps))
	copy(out, steps)
	for i := range out {
		if steps[i].Params != nil {
			params := make(map[string]string, len(steps[i].Params))
			for k, v := range steps[i].Params {
				params[k] = v
			}
			out[i].Params = params
		}
		out[i].Validation = append([]string(nil), steps[i].Validation...)
	}
	return out
}
