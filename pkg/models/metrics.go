package models

import "time"

// SystemMetrics is one observation of the watched application's health,
// pushed by the monitor.
type SystemMetrics struct {
	CPU          float64   `json:"cpu"`           // percent utilization
	Memory       float64   `json:"memory"`        // percent utilization
	ErrorRate    float64   `json:"error_rate"`    // errors per 100 requests
	ResponseTime float64   `json:"response_time"` // milliseconds
	RequestRate  float64   `json:"request_rate"`  // requests per second
	Source       string    `json:"source,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Map returns the metrics keyed by the names used in improvement
// calculations and trigger conditions.
func (m SystemMetrics) Map() map[string]float64 {
	return map[string]float64{
		"cpu":          m.CPU,
		"memory":       m.Memory,
		"errorRate":    m.ErrorRate,
		"responseTime": m.ResponseTime,
		"requestRate":  m.RequestRate,
	}
}

// Context converts the metrics into challenge context form.
func (m SystemMetrics) Context() ChallengeContext {
	return ChallengeContext{
		CPU:          m.CPU,
		Memory:       m.Memory,
		ErrorRate:    m.ErrorRate,
		ResponseTime: m.ResponseTime,
		RequestRate:  m.RequestRate,
		Component:    m.Source,
	}
}
