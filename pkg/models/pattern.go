package models

import (
	"time"

	"github.com/google/uuid"
)

// Operator compares an observed metric against a condition value
type Operator string

const (
	OperatorGT  Operator = "gt"
	OperatorLT  Operator = "lt"
	OperatorEQ  Operator = "eq"
	OperatorGTE Operator = "gte"
	OperatorLTE Operator = "lte"
)

// Compare evaluates observed op value.
func (op Operator) Compare(observed, value float64) bool {
	switch op {
	case OperatorGT:
		return observed > value
	case OperatorLT:
		return observed < value
	case OperatorEQ:
		return observed == value
	case OperatorGTE:
		return observed >= value
	case OperatorLTE:
		return observed <= value
	}
	return false
}

// MetricCondition is one metric comparison inside a trigger condition
type MetricCondition struct {
	Metric   string   `json:"metric"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// ConditionLogic combines metric conditions
type ConditionLogic string

const (
	LogicAnd ConditionLogic = "and"
	LogicOr  ConditionLogic = "or"
)

// TriggerCondition is a boolean combination of metric comparisons that
// activates a pattern.
type TriggerCondition struct {
	Logic      ConditionLogic    `json:"logic"`
	Conditions []MetricCondition `json:"conditions"`
}

// Matches evaluates the trigger against observed metrics. Conditions whose
// metric is absent from the observation are treated as not satisfied.
func (tc TriggerCondition) Matches(metrics map[string]float64) bool {
	if len(tc.Conditions) == 0 {
		return false
	}
	for _, cond := range tc.Conditions {
		observed, ok := metrics[cond.Metric]
		satisfied := ok && cond.Operator.Compare(observed, cond.Value)
		if tc.Logic == LogicOr && satisfied {
			return true
		}
		if tc.Logic != LogicOr && !satisfied {
			return false
		}
	}
	return tc.Logic != LogicOr
}

// SolutionTemplate is the reusable remediation half of a pattern
type SolutionTemplate struct {
	Title           string            `json:"title"`
	Steps           []string          `json:"steps"` // step names, in order
	Params          map[string]string `json:"params,omitempty"`
	ExpectedOutcome string            `json:"expected_outcome,omitempty"`
}

// Pattern is a generalized trigger -> solution-template rule distilled from
// repeated successful learnings.
type Pattern struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	ChallengeType ChallengeType    `json:"challenge_type"`
	Trigger       TriggerCondition `json:"trigger"`
	Template      SolutionTemplate `json:"template"`
	SuccessRate   float64          `json:"success_rate"` // running weighted average, 0..1
	UsageCount    int              `json:"usage_count"`  // >= 1
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewPattern creates a pattern with a generated id and one initial observation.
func NewPattern(name string, ctype ChallengeType, trigger TriggerCondition, template SolutionTemplate, successRate float64) *Pattern {
	now := time.Now()
	return &Pattern{
		ID:            "pat-" + uuid.New().String(),
		Name:          name,
		ChallengeType: ctype,
		Trigger:       trigger,
		Template:      template,
		SuccessRate:   successRate,
		UsageCount:    1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Copy returns a deep copy of the pattern.
func (p *Pattern) Copy() *Pattern {
	cp := *p
	cp.Trigger.Conditions = append([]MetricCondition(nil), p.Trigger.Conditions...)
	cp.Template.Steps = append([]string(nil), p.Template.Steps...)
	if p.Template.Params != nil {
		cp.Template.Params = make(map[string]string, len(p.Template.Params))
		for k, v := range p.Template.Params {
			cp.Template.Params[k] = v
		}
	}
	return &cp
}

// Observe folds one outcome score into the running success rate using an
// exponentially weighted moving average and bumps the usage count.
func (p *Pattern) Observe(score, weight float64) {
	p.SuccessRate = p.SuccessRate*(1-weight) + score*weight
	if p.SuccessRate < 0 {
		p.SuccessRate = 0
	}
	if p.SuccessRate > 1 {
		p.SuccessRate = 1
	}
	p.UsageCount++
	p.UpdatedAt = time.Now()
}
