package redisstream

import (
	"fmt"

	"github.com/trickstertwo/pbjx"
)

// Use builds a Pbjx on Redis Streams and sets it as the default runtime.
// It panics if the transport cannot be constructed. Consumers are started
// separately with Transport.Consume.
func Use(cfg Config, opts ...Option) *pbjx.Pbjx {
	b := pbjx.NewBuilder().
		WithTransport(TransportName, cfg.toMap())

	for _, o := range opts {
		if o != nil {
			o(b)
		}
	}

	p, err := b.Build()
	if err != nil {
		panic(fmt.Errorf("redisstream.Use: %w", err))
	}

	pbjx.SetDefault(p)
	return p
}
