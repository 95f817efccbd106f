package messages

import "time"

// Event type names emitted by the controller for external observers.
const (
	EventChallengeRecorded  = "challenge.recorded"
	EventChallengeAnalyzing = "challenge.analyzing"
	EventChallengeReady     = "challenge.ready"
	EventChallengeFailed    = "challenge.failed"
	EventSolutionExecuting  = "solution.executing"
	EventSolutionCompleted  = "solution.completed"
	EventLearningCompleted  = "learning.completed"
	EventKnowledgeShared    = "knowledge.shared"
)

// EventMessage represents a system event published on the event bus
type EventMessage struct {
	Type          string                 `json:"type"`   // "challenge.recorded", "solution.completed", etc.
	Source        string                 `json:"source"` // component that generated the event
	EntityID      string                 `json:"entity_id,omitempty"`
	Event         EventData              `json:"event"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// EventData contains the event-specific information
type EventData struct {
	Action      string                 `json:"action"`   // "recorded", "analyzing", "ready", "failed", ...
	Category    string                 `json:"category"` // "challenge", "solution", "learning", "knowledge"
	Description string                 `json:"description,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// ChallengeRecorded creates a challenge.recorded event
func ChallengeRecorded(challengeID, source string, data map[string]interface{}) *EventMessage {
	return newEvent(EventChallengeRecorded, source, challengeID, "recorded", "challenge", data)
}

// ChallengeAnalyzing creates a challenge.analyzing event
func ChallengeAnalyzing(challengeID, source string) *EventMessage {
	return newEvent(EventChallengeAnalyzing, source, challengeID, "analyzing", "challenge", nil)
}

// ChallengeReady creates a challenge.ready event
func ChallengeReady(challengeID, source string, data map[string]interface{}) *EventMessage {
	return newEvent(EventChallengeReady, source, challengeID, "ready", "challenge", data)
}

// ChallengeFailed creates a challenge.failed event
func ChallengeFailed(challengeID, source, reason string) *EventMessage {
	ev := newEvent(EventChallengeFailed, source, challengeID, "failed", "challenge", nil)
	ev.Event.Description = reason
	return ev
}

// SolutionExecuting creates a solution.executing event
func SolutionExecuting(solutionID, source string, data map[string]interface{}) *EventMessage {
	return newEvent(EventSolutionExecuting, source, solutionID, "executing", "solution", data)
}

// SolutionCompleted creates a solution.completed event
func SolutionCompleted(solutionID, source string, data map[string]interface{}) *EventMessage {
	return newEvent(EventSolutionCompleted, source, solutionID, "completed", "solution", data)
}

// LearningCompleted creates a learning.completed event
func LearningCompleted(learningID, source string, data map[string]interface{}) *EventMessage {
	return newEvent(EventLearningCompleted, source, learningID, "completed", "learning", data)
}

// KnowledgeShared creates a knowledge.shared event
func KnowledgeShared(packageID, source, target string) *EventMessage {
	ev := newEvent(EventKnowledgeShared, source, packageID, "shared", "knowledge", nil)
	ev.Event.Description = target
	return ev
}

func newEvent(eventType, source, entityID, action, category string, data map[string]interface{}) *EventMessage {
	return &EventMessage{
		Type:     eventType,
		Source:   source,
		EntityID: entityID,
		Event: EventData{
			Action:   action,
			Category: category,
			Data:     data,
		},
		Timestamp: time.Now(),
	}
}
