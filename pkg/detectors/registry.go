package detectors

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a scorer from shared configuration.
type Factory func(cfg Config) Scorer

var (
	registryMu sync.RWMutex
	registry   = make(map[Kind]Factory)
)

// Register makes a scorer kind available by name. It panics on duplicate
// registration, like database/sql drivers.
func Register(kind Kind, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("detectors: Register factory is nil")
	}
	if _, dup := registry[kind]; dup {
		panic("detectors: Register called twice for " + kind.String())
	}
	registry[kind] = f
}

// New builds a registered scorer of the given kind.
func New(kind Kind, cfg Config) (Scorer, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("scorer kind %s is not registered", kind)
	}
	return f(cfg), nil
}

// NewByName builds a registered scorer from its canonical kind name.
func NewByName(name string, cfg Config) (Scorer, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	return New(kind, cfg)
}

// Kinds lists the registered kinds in enumeration order.
func Kinds() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
