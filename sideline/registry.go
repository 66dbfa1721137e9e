package sideline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type (
	// DeserializerFactory builds a fresh deserializer instance.
	DeserializerFactory func() Deserializer

	// RetryPolicyFactory builds a fresh retry policy instance.
	RetryPolicyFactory func() RetryPolicy

	// PersistenceAdapterFactory builds a fresh persistence adapter
	// instance.
	PersistenceAdapterFactory func() PersistenceAdapter
)

// The registries back the *.class configuration keys: implementation
// packages register a factory under a short name and the engine resolves
// the configured name at open time.
var registry = struct {
	sync.RWMutex
	deserializers map[string]DeserializerFactory
	retryPolicies map[string]RetryPolicyFactory
	persistence   map[string]PersistenceAdapterFactory
}{
	deserializers: make(map[string]DeserializerFactory),
	retryPolicies: make(map[string]RetryPolicyFactory),
	persistence:   make(map[string]PersistenceAdapterFactory),
}

// RegisterDeserializer registers a deserializer factory under name,
// replacing any previous registration.
func RegisterDeserializer(name string, factory DeserializerFactory) {
	registry.Lock()
	registry.deserializers[name] = factory
	registry.Unlock()
}

// RegisterRetryPolicy registers a retry policy factory under name,
// replacing any previous registration.
func RegisterRetryPolicy(name string, factory RetryPolicyFactory) {
	registry.Lock()
	registry.retryPolicies[name] = factory
	registry.Unlock()
}

// RegisterPersistenceAdapter registers a persistence adapter factory
// under name, replacing any previous registration.
func RegisterPersistenceAdapter(name string, factory PersistenceAdapterFactory) {
	registry.Lock()
	registry.persistence[name] = factory
	registry.Unlock()
}

// NewDeserializer builds the deserializer registered under name.
func NewDeserializer(name string) (Deserializer, error) {
	registry.RLock()
	factory, ok := registry.deserializers[name]
	registry.RUnlock()
	if !ok {
		return nil, unknownPlugin("deserializer", name, deserializerNames())
	}
	return factory(), nil
}

// NewRetryPolicy builds the retry policy registered under name.
func NewRetryPolicy(name string) (RetryPolicy, error) {
	registry.RLock()
	factory, ok := registry.retryPolicies[name]
	registry.RUnlock()
	if !ok {
		return nil, unknownPlugin("retry policy", name, retryPolicyNames())
	}
	return factory(), nil
}

// NewPersistenceAdapter builds the persistence adapter registered under
// name.
func NewPersistenceAdapter(name string) (PersistenceAdapter, error) {
	registry.RLock()
	factory, ok := registry.persistence[name]
	registry.RUnlock()
	if !ok {
		return nil, unknownPlugin("persistence adapter", name, persistenceNames())
	}
	return factory(), nil
}

func unknownPlugin(kind, name string, known []string) error {
	return fmt.Errorf("no %s registered under %q (registered: %s)", kind, name, strings.Join(known, ", "))
}

func deserializerNames() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.deserializers))
	for name := range registry.deserializers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func retryPolicyNames() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.retryPolicies))
	for name := range registry.retryPolicies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func persistenceNames() []string {
	registry.RLock()
	defer registry.RUnlock()
	names := make([]string, 0, len(registry.persistence))
	for name := range registry.persistence {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
