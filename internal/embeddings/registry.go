package embeddings

import (
	"context"
	"fmt"
	"sync"

	"github.com/actionchat/actionchat/internal/config"
	"github.com/rs/zerolog/log"
)

// Registry holds named embedding drivers. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry creates an empty embedding registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers: make(map[string]Driver),
	}
}

// Register adds a driver under the given name. Overwrites if exists.
func (r *Registry) Register(name string, driver Driver) {
	r.mu.Lock()
	r.drivers[name] = driver
	r.mu.Unlock()
	log.Info().Str("name", name).Str("kind", driver.Kind()).Int("dims", driver.Dimensions()).Msg("Embedding driver registered")
}

// Get returns the driver by name, or error if not found.
func (r *Registry) Get(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("embedding driver not found: %s", name)
	}
	return d, nil
}

// List returns all registered driver names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	return names
}

// HealthCheckAll pings every registered driver and returns errors keyed by name.
func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]Driver, len(r.drivers))
	for k, v := range r.drivers {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(snapshot))
	for name, driver := range snapshot {
		results[name] = driver.HealthCheck(ctx)
	}
	return results
}

// FromConfig builds the deployment's embedding driver. Unknown providers
// fall back to OpenAI.
func FromConfig(cfg config.EmbeddingConfig) Driver {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaDriver(cfg.Endpoint, cfg.Model)
	default:
		return NewOpenAIDriver(cfg.APIKey, cfg.Model, cfg.Endpoint)
	}
}
