package pbj

import (
	"errors"
	"fmt"
	"sync"
)

var ErrSchemaNotFound = errors.New("pbj: schema not registered")

var (
	registryMu sync.RWMutex
	byCurie    = map[string]*Schema{}
	byID       = map[string]*Schema{}
)

// Register makes a schema resolvable by its full id and by curie. Registering
// the same curie again replaces the previous schema.
func Register(s *Schema) {
	if s == nil {
		panic("pbj: Register called with nil schema")
	}
	registryMu.Lock()
	byCurie[s.Curie()] = s
	byID[s.ID().String()] = s
	registryMu.Unlock()
}

// Lookup resolves a schema by full id (pbj:...) or by curie.
func Lookup(idOrCurie string) (*Schema, error) {
	registryMu.RLock()
	s, ok := byID[idOrCurie]
	if !ok {
		s, ok = byCurie[idOrCurie]
	}
	registryMu.RUnlock()
	if ok {
		return s, nil
	}
	// Unknown minor/patch of a known curie still decodes.
	if id, err := ParseSchemaID(idOrCurie); err == nil {
		registryMu.RLock()
		s, ok = byCurie[id.Curie()]
		registryMu.RUnlock()
		if ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, idOrCurie)
}
