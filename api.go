package pbjx

import (
	"context"

	"github.com/trickstertwo/pbjx/pbj"
)

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

// API is the caller-facing surface of the runtime.
type API interface {
	Send(ctx context.Context, command *pbj.Message) error
	Publish(ctx context.Context, event *pbj.Message) error
	Request(ctx context.Context, request *pbj.Message) (*pbj.Message, error)
	Trigger(ctx context.Context, msg *pbj.Message, suffix string, event LifecycleEvent, recursive bool) (LifecycleEvent, error)
	TriggerLifecycle(ctx context.Context, msg *pbj.Message, recursive bool) error
	Close(ctx context.Context) error
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
}
