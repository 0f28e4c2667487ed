package pbjx

import (
	"time"
)

// TelemetryKind enumerates the runtime activity reported to observers.
type TelemetryKind string

const (
	SendStart       TelemetryKind = "send_start"
	SendDone        TelemetryKind = "send_done"
	PublishStart    TelemetryKind = "publish_start"
	PublishDone     TelemetryKind = "publish_done"
	RequestStart    TelemetryKind = "request_start"
	RequestDone     TelemetryKind = "request_done"
	HandleStart     TelemetryKind = "handle_start"
	HandleDone      TelemetryKind = "handle_done"
	ListenerFailed  TelemetryKind = "listener_failed"
	TransportFailed TelemetryKind = "transport_failed"
)

// Telemetry carries one observation for observers.
type Telemetry struct {
	Kind      TelemetryKind
	Curie     string
	MessageID string
	Transport string
	Duration  time.Duration
	Err       error

	// attached for async dispatch
	observers []Observer
}

// PoolStats returns telemetry about the observer pool.
type PoolStats struct {
	Dropped      uint64 // Observations dropped due to full buffer
	Processed    uint64 // Observations successfully processed
	ActiveEvents int    // Current queue depth
	Workers      int    // Number of dispatch goroutines
	BufferSize   int    // Channel capacity
}

// Metrics is a snapshot of runtime counters.
type Metrics struct {
	Sent                uint64
	Published           uint64
	Requested           uint64
	Handled             uint64
	HandlerFailures     uint64
	ListenerFailures    uint64
	TransportErrors     uint64
	Errors              uint64
	EventsDropped       uint64
	AvgProcessingTimeMs float64
}

// HealthStatus indicates runtime health for Kubernetes probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}
