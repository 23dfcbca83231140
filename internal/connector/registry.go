package connector

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry manages connector registration and lookup by name, adapted
// from the teacher's plugin registry down to the single concern C5 needs:
// name-keyed lookup, no type-keyed fan-out.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	logger     *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		logger:     logger.With("component", "connector_registry"),
	}
}

// Register adds a connector. It is an error to register the same name
// twice.
func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if _, exists := r.connectors[name]; exists {
		return fmt.Errorf("connector %q already registered", name)
	}
	r.connectors[name] = c
	r.logger.Info("connector registered", "name", name, "type", c.Type())
	return nil
}

// Get looks up a connector by name.
func (r *Registry) Get(name string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	return c, ok
}

// Unregister removes a connector by name. It is a no-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connectors, name)
}

// List returns every registered connector's current status.
func (r *Registry) List() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c.Status())
	}
	return out
}
