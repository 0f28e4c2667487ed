package redisstream

import (
	"fmt"

	"github.com/trickstertwo/pbjx"
)

const TransportName = "redis-streams"

func init() {
	if err := pbjx.RegisterTransport(TransportName, func(cfg map[string]any) (pbjx.Transport, error) {
		t, err := NewTransport(ConfigFromMap(cfg))
		if err != nil {
			return nil, err
		}
		return t, nil
	}); err != nil {
		panic(fmt.Errorf("pbjx: failed to register transport %q: %w", TransportName, err))
	}
}
