package multiscale

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry memoizes compiled scorers per instrument. An entry is rebuilt
// when the caller presents a different version for the same key.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	logger  zerolog.Logger
}

type registryEntry struct {
	version string
	scorer  *Scorer
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{entries: make(map[string]registryEntry), logger: logger}
}

// Scorer returns the cached scorer for key at version, compiling def on a
// miss.
func (r *Registry) Scorer(key, version string, def Definition) (*Scorer, error) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok && e.version == version {
		return e.scorer, nil
	}

	s, err := NewScorer(def, r.logger)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.entries[key] = registryEntry{version: version, scorer: s}
	r.mu.Unlock()
	return s, nil
}
