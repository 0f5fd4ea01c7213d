package vfs

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TransportFactory creates the transport of one mount table entry
type TransportFactory func(ctx context.Context, mc MountConfig, cfg *Config) (Transport, error)

var (
	transportFactories = make(map[string]TransportFactory)
	factoryMutex       sync.RWMutex
)

func init() {
	RegisterTransport("null", func(context.Context, MountConfig, *Config) (Transport, error) {
		return NullTransport{}, nil
	})
}

// RegisterTransport registers a transport factory under kind. Drivers call
// it from init.
func RegisterTransport(kind string, factory TransportFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	transportFactories[kind] = factory
}

// RegisteredTransports returns the registered kinds, sorted
func RegisteredTransports() []string {
	factoryMutex.RLock()
	defer factoryMutex.RUnlock()

	kinds := make([]string, 0, len(transportFactories))
	for k := range transportFactories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// CreateTransport builds the transport of mc
func CreateTransport(ctx context.Context, mc MountConfig, cfg *Config) (Transport, error) {
	factoryMutex.RLock()
	factory, exists := transportFactories[mc.Transport]
	factoryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: transport %q not registered (mount %s)", ErrNotSupported, mc.Transport, mc.Name)
	}
	return factory(ctx, mc, cfg)
}
