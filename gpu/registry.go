package gpu

import (
	"fmt"
	"sort"
	"sync"
)

// Backend opens a Context. It is called on the render goroutine after the
// goroutine has been locked to its OS thread.
type Backend func(opts Options) (Context, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// Register makes a backend available by name. It is normally called from
// an init function.
func Register(name string, b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if b == nil {
		panic("gpu: Register backend is nil")
	}
	if _, dup := backends[name]; dup {
		panic("gpu: Register called twice for backend " + name)
	}
	backends[name] = b
}

// Open creates a context with the named backend
func Open(name string, opts Options) (Context, error) {
	backendsMu.RLock()
	b, ok := backends[name]
	backendsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, Backends())
	}
	return b(opts)
}

// Backends returns the registered backend names in sorted order
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
