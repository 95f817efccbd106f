package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ChallengeType categorizes the kind of problem a challenge represents
type ChallengeType string

const (
	ChallengeTypePerformance ChallengeType = "performance"
	ChallengeTypeError       ChallengeType = "error"
	ChallengeTypeScalability ChallengeType = "scalability"
	ChallengeTypeSecurity    ChallengeType = "security"
	ChallengeTypeResource    ChallengeType = "resource"
)

// Severity represents challenge severity, ordered low < medium < high < critical
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns the severity's position in the ordering (low=0 .. critical=3).
// Unknown severities rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	}
	return -1
}

// ChallengeStatus represents the lifecycle state of a challenge
type ChallengeStatus string

const (
	ChallengeStatusPending   ChallengeStatus = "pending"
	ChallengeStatusAnalyzing ChallengeStatus = "analyzing"
	ChallengeStatusReady     ChallengeStatus = "ready"
	ChallengeStatusExecuting ChallengeStatus = "executing"
	ChallengeStatusResolved  ChallengeStatus = "resolved"
	ChallengeStatusFailed    ChallengeStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s ChallengeStatus) Terminal() bool {
	return s == ChallengeStatusResolved || s == ChallengeStatusFailed
}

// ChallengeOrigin identifies how a challenge entered the system
type ChallengeOrigin string

const (
	OriginAutomatic ChallengeOrigin = "automatic"
	OriginManual    ChallengeOrigin = "manual"
	OriginMonitor   ChallengeOrigin = "monitor"
)

// ChallengeContext carries the measurements and identifying details captured
// at detection time. The numeric fields form a closed, schema-checked set;
// anything else goes in Extra.
type ChallengeContext struct {
	CPU          float64           `json:"cpu,omitempty"`           // percent utilization
	Memory       float64           `json:"memory,omitempty"`        // percent utilization
	ErrorRate    float64           `json:"error_rate,omitempty"`    // errors per 100 requests
	ResponseTime float64           `json:"response_time,omitempty"` // milliseconds
	RequestRate  float64           `json:"request_rate,omitempty"`  // requests per second
	Component    string            `json:"component,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// Metrics returns the non-zero numeric context fields keyed by metric name.
func (c ChallengeContext) Metrics() map[string]float64 {
	m := make(map[string]float64)
	if c.CPU != 0 {
		m["cpu"] = c.CPU
	}
	if c.Memory != 0 {
		m["memory"] = c.Memory
	}
	if c.ErrorRate != 0 {
		m["errorRate"] = c.ErrorRate
	}
	if c.ResponseTime != 0 {
		m["responseTime"] = c.ResponseTime
	}
	if c.RequestRate != 0 {
		m["requestRate"] = c.RequestRate
	}
	return m
}

// Challenge represents a detected, trackable problem instance
type Challenge struct {
	ID          string           `json:"id"`
	Type        ChallengeType    `json:"type"`
	Severity    Severity         `json:"severity"`
	Description string           `json:"description"`
	DetectedAt  time.Time        `json:"detected_at"`
	LastSeenAt  time.Time        `json:"last_seen_at"`
	Occurrences int              `json:"occurrences"`
	Context     ChallengeContext `json:"context"`
	Solutions   []*Solution      `json:"solutions,omitempty"` // ranked, best first
	Status      ChallengeStatus  `json:"status"`
	LearningIDs []string         `json:"learning_ids,omitempty"`
	Origin      ChallengeOrigin  `json:"origin"`
}

// NewChallenge creates a challenge with a content-derived id so repeated
// detections of the same problem hash to the same identifier.
func NewChallenge(ctype ChallengeType, severity Severity, description string, ctx ChallengeContext, origin ChallengeOrigin) *Challenge {
	now := time.Now()
	return &Challenge{
		ID:          ChallengeID(ctype, description),
		Type:        ctype,
		Severity:    severity,
		Description: description,
		DetectedAt:  now,
		LastSeenAt:  now,
		Occurrences: 1,
		Context:     ctx,
		Status:      ChallengeStatusPending,
		Origin:      origin,
	}
}

// Copy returns a deep copy of the challenge, identity included.
func (ch *Challenge) Copy() *Challenge {
	cp := *ch
	cp.Context = ch.Context.copy()
	if ch.Solutions != nil {
		cp.Solutions = make([]*Solution, len(ch.Solutions))
		for i, sol := range ch.Solutions {
			cp.Solutions[i] = sol.Copy()
		}
	}
	cp.LearningIDs = append([]string(nil), ch.LearningIDs...)
	return &cp
}

func (c ChallengeContext) copy() ChallengeContext {
	cp := c
	if c.Extra != nil {
		cp.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

// ChallengeID derives a stable identifier from a challenge's type and
// normalized description.
func ChallengeID(ctype ChallengeType, description string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(description)), " ")
	sum := sha256.Sum256([]byte(string(ctype) + ":" + norm))
	return "ch-" + hex.EncodeToString(sum[:6])
}
