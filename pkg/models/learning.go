package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome tags the result of one solution execution
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePartial Outcome = "partial"
)

// Score maps an outcome to a success weight: success=1, partial=0.5, failure=0.
func (o Outcome) Score() float64 {
	switch o {
	case OutcomeSuccess:
		return 1.0
	case OutcomePartial:
		return 0.5
	}
	return 0.0
}

// Learning records the outcome of executing one solution against one
// challenge. Learnings are append-only: once stored they are never mutated.
type Learning struct {
	ID            string             `json:"id"`
	ChallengeID   string             `json:"challenge_id"`
	SolutionID    string             `json:"solution_id"`
	ChallengeType ChallengeType      `json:"challenge_type"`
	Severity      Severity           `json:"severity"`
	Context       ChallengeContext   `json:"context"` // snapshot at execution time
	Outcome       Outcome            `json:"outcome"`
	Improvements  map[string]float64 `json:"improvements"` // metric name -> percent improvement
	Lessons       []string           `json:"lessons,omitempty"`
	Components    []string           `json:"components,omitempty"`
	Transferred   bool               `json:"transferred,omitempty"` // received from a peer instance
	CreatedAt     time.Time          `json:"created_at"`
}

// Copy returns a deep copy of the learning record.
func (l *Learning) Copy() *Learning {
	cp := *l
	cp.Context = l.Context.copy()
	if l.Improvements != nil {
		cp.Improvements = make(map[string]float64, len(l.Improvements))
		for k, v := range l.Improvements {
			cp.Improvements[k] = v
		}
	}
	cp.Lessons = append([]string(nil), l.Lessons...)
	cp.Components = append([]string(nil), l.Components...)
	return &cp
}

// NewLearning creates a learning record for a challenge/solution pair.
func NewLearning(ch *Challenge, sol *Solution, outcome Outcome) *Learning {
	return &Learning{
		ID:            "lrn-" + uuid.New().String(),
		ChallengeID:   ch.ID,
		SolutionID:    sol.ID,
		ChallengeType: ch.Type,
		Severity:      ch.Severity,
		Context:       ch.Context,
		Outcome:       outcome,
		Improvements:  make(map[string]float64),
		CreatedAt:     time.Now(),
	}
}
