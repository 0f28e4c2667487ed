package eventstore

import "context"

type hintsKey struct{}

// Hints are per-call options carried on the context.
type Hints struct {
	// SkipPublish stops the Publishing decorator from publishing the events
	// of a PutEvents call. Used for backfills and replays.
	SkipPublish bool
	// TableName overrides the backend table for one call, where supported.
	TableName string
}

// WithHints attaches h to ctx, replacing any hints already there.
func WithHints(ctx context.Context, h Hints) context.Context {
	return context.WithValue(ctx, hintsKey{}, h)
}

// HintsFromContext returns the hints on ctx, or the zero value.
func HintsFromContext(ctx context.Context) Hints {
	h, _ := ctx.Value(hintsKey{}).(Hints)
	return h
}

// WithoutPublishing marks ctx so that writes made with it are not published.
func WithoutPublishing(ctx context.Context) context.Context {
	h := HintsFromContext(ctx)
	h.SkipPublish = true
	return WithHints(ctx, h)
}
