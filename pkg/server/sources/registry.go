package sources

import (
	"fmt"
	"sort"
	"sync"
)

// Adapters register themselves at init time under a "type.name" key, so
// wiring a source only requires importing its package for side effects.
var (
	factoryMu sync.RWMutex
	factories = make(map[string]SourceFactory)
)

// Register binds a factory to its "type.name" key. Later registrations for
// the same key win, which lets tests swap in fakes.
func Register(key string, factory SourceFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[key] = factory
}

// Create instantiates a registered source adapter from its config block. The
// error names every registered key so a config typo is obvious in startup
// logs.
func Create(sourceType, name string, config map[string]interface{}) (Source, error) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	key := sourceType + "." + name
	factory, ok := factories[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s (registered: %v)", ErrUnknownSource, key, registeredKeys())
	}
	return factory(config)
}

// registeredKeys returns the sorted key set. Caller holds the read lock.
func registeredKeys() []string {
	keys := make([]string, 0, len(factories))
	for k := range factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
