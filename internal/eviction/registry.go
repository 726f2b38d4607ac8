package eviction

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownStrategy is returned by GetStrategy for an unregistered name.
var ErrUnknownStrategy = errors.New("unknown eviction strategy")

var (
	strategiesMu sync.RWMutex
	strategies   = make(map[string]func() Strategy)
)

// Register makes a strategy available under name. Registering the same name
// twice panics.
func Register(name string, factory func() Strategy) {
	strategiesMu.Lock()
	defer strategiesMu.Unlock()
	if _, dup := strategies[name]; dup {
		panic("eviction: strategy registered twice: " + name)
	}
	strategies[name] = factory
}

// GetStrategy builds the strategy registered under name. For an unknown name
// the error lists the registered ones.
func GetStrategy(name string) (Strategy, error) {
	strategiesMu.RLock()
	defer strategiesMu.RUnlock()

	factory, ok := strategies[name]
	if !ok {
		known := slices.Sorted(maps.Keys(strategies))
		return nil, fmt.Errorf("%w %q, must be one of %s", ErrUnknownStrategy, name, strings.Join(known, ", "))
	}
	return factory(), nil
}
