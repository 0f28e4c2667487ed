package pbjx

import (
	"errors"
	"sync"
)

// TransportFactory constructs transports from a config blob.
type TransportFactory func(cfg map[string]any) (Transport, error)

// SerializerFactory constructs serializers via Factory pattern.
type SerializerFactory func() Serializer

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}

	serializerRegistryMu sync.RWMutex
	serializerRegistry   = map[string]SerializerFactory{
		SerializerJSON: func() Serializer { return JSONSerializer{} },
		SerializerYAML: func() Serializer { return YAMLSerializer{} },
	}
)

// RegisterTransport registers a backend adapter.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("pbjx: transport name must not be empty")
	}
	if factory == nil {
		return errors.New("pbjx: transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownTransport{name: name}
	}
	return f(cfg)
}

// RegisterSerializer registers a serializer factory by name.
func RegisterSerializer(name string, factory SerializerFactory) error {
	if name == "" {
		return errors.New("pbjx: serializer name must not be empty")
	}
	if factory == nil {
		return errors.New("pbjx: serializer factory must not be nil")
	}
	serializerRegistryMu.Lock()
	serializerRegistry[name] = factory
	serializerRegistryMu.Unlock()
	return nil
}

// NewSerializer constructs a serializer by name. "php" is recognised on the
// wire but has no Go implementation.
func NewSerializer(name string) (Serializer, error) {
	if name == SerializerPHP {
		return nil, ErrUnsupportedSerializer
	}
	serializerRegistryMu.RLock()
	f, ok := serializerRegistry[name]
	serializerRegistryMu.RUnlock()
	if !ok {
		return nil, ErrUnknownSerializer{name: name}
	}
	return f(), nil
}
