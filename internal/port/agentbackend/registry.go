package agentbackend

import (
	"fmt"
	"sync"
)

// Config holds the provider-specific settings passed to a Factory.
type Config struct {
	Name    string // agent name, unique per deployment
	Model   string // provider model identifier
	BaseURL string
	APIKey  string
}

// Factory is a constructor function that creates a new Backend instance.
type Factory func(cfg Config) (Backend, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a backend factory available by provider name.
// It is typically called from an init() function in the adapter package.
func Register(provider string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[provider]; exists {
		panic(fmt.Sprintf("agentbackend: duplicate registration for %q", provider))
	}
	factories[provider] = factory
}

// New creates a new Backend for the given provider using the registered
// factory.
func New(provider string, cfg Config) (Backend, error) {
	mu.RLock()
	factory, ok := factories[provider]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("agentbackend: unknown provider %q", provider)
	}
	return factory(cfg)
}

// Available returns the names of all registered providers.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
