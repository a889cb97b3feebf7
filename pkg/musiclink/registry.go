package musiclink

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	// ErrDuplicateAdapter is returned when an adapter name is registered twice.
	ErrDuplicateAdapter = errors.New("adapter already registered")
	// ErrInvalidAdapter is returned for adapters without a name.
	ErrInvalidAdapter = errors.New("adapter has no name")
)

// Registry holds the ordered set of parsers and services.
// Registration is append-only; the registry is expected to be filled once at startup.
type Registry struct {
	mu       sync.RWMutex
	parsers  []Parser
	services []Service
}

// NewRegistry creates an empty registry, optionally registering the given parsers in order.
func NewRegistry(parsers ...Parser) (*Registry, error) {
	r := &Registry{}
	for _, p := range parsers {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register appends a parser. Parsers that also implement Service are available for
// identifier-based operations.
func (r *Registry) Register(p Parser) error {
	if p == nil || p.Name() == "" {
		return ErrInvalidAdapter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.parsers {
		if existing.Name() == p.Name() {
			return fmt.Errorf("%w: %s", ErrDuplicateAdapter, p.Name())
		}
	}

	r.parsers = append(r.parsers, p)
	if s, ok := p.(Service); ok {
		r.services = append(r.services, s)
	}
	return nil
}

// Service looks up a service by name.
func (r *Registry) Service(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.services {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// Supports reports whether the song's service is registered and declares the song's type.
func (r *Registry) Supports(song Song) bool {
	_, ok := r.guard(song)
	return ok
}

// guard returns the service for song if the type-membership check passes.
func (r *Registry) guard(song Song) (Service, bool) {
	s, ok := r.Service(song.Service)
	if !ok || !slices.Contains(s.Types(), song.Type) {
		return nil, false
	}
	return s, true
}

// ParsersFor returns the parsers claiming host, in registration order.
func (r *Registry) ParsersFor(host string) []Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []Parser
	for _, p := range r.parsers {
		if slices.Contains(p.Hosts(), host) {
			matched = append(matched, p)
		}
	}
	return matched
}

// Label returns the display label of the named service.
func (r *Registry) Label(name string) (string, bool) {
	if s, ok := r.Service(name); ok {
		return s.Label(), true
	}
	return "", false
}

// Parsers returns all parsers in registration order.
func (r *Registry) Parsers() []Parser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.parsers)
}

// Services returns all services in registration order.
func (r *Registry) Services() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.services)
}
