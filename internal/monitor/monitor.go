// Package monitor defines the boundary to the metric/log collection
// collaborator. The monitor observes the application and pushes typed
// events; anomaly thresholding beyond simple limits lives on the other side
// of this interface.
package monitor

import (
	"sync"

	"github.com/jordanhubbard/mend/pkg/models"
)

// ErrorEvent reports a detected application error.
type ErrorEvent struct {
	Message   string `json:"message"`
	Component string `json:"component,omitempty"`
	Count     int    `json:"count,omitempty"`
}

// DegradationEvent reports a performance metric crossing its threshold.
type DegradationEvent struct {
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Component string  `json:"component,omitempty"`
}

// ProcessingFailure reports a domain operation that failed.
type ProcessingFailure struct {
	Domain    string `json:"domain"`
	Reason    string `json:"reason"`
	Component string `json:"component,omitempty"`
}

// Listener receives the monitor's push events.
type Listener interface {
	OnMetrics(m models.SystemMetrics)
	OnErrorDetected(ev ErrorEvent)
	OnPerformanceDegraded(ev DegradationEvent)
	OnProcessingFailed(ev ProcessingFailure)
}

// Monitor is the collaborator boundary: something that accepts listeners
// and pushes events at them.
type Monitor interface {
	Subscribe(l Listener)
}

// SimMonitor is the built-in monitor implementation used by tests and the
// demo entrypoint: callers push observations, the monitor fans them out.
type SimMonitor struct {
	mu        sync.RWMutex
	listeners []Listener
}

// NewSimMonitor creates an empty simulated monitor.
func NewSimMonitor() *SimMonitor {
	return &SimMonitor{}
}

// Subscribe registers a listener for all event types.
func (m *SimMonitor) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// PushMetrics emits a metrics:collected event.
func (m *SimMonitor) PushMetrics(metrics models.SystemMetrics) {
	for _, l := range m.snapshot() {
		l.OnMetrics(metrics)
	}
}

// PushError emits an error:detected event.
func (m *SimMonitor) PushError(ev ErrorEvent) {
	for _, l := range m.snapshot() {
		l.OnErrorDetected(ev)
	}
}

// PushDegradation emits a performance:degraded event.
func (m *SimMonitor) PushDegradation(ev DegradationEvent) {
	for _, l := range m.snapshot() {
		l.OnPerformanceDegraded(ev)
	}
}

// PushProcessingFailure emits a domain:processing:failed event.
func (m *SimMonitor) PushProcessingFailure(ev ProcessingFailure) {
	for _, l := range m.snapshot() {
		l.OnProcessingFailed(ev)
	}
}

func (m *SimMonitor) snapshot() []Listener {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Listener(nil), m.listeners...)
}

var _ Monitor = (*SimMonitor)(nil)
