package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redstone-dev/redstone/internal/agents"
)

// Backend defines the interface that all backend adapters must implement.
type Backend interface {
	// Send invokes the model and returns its complete response.
	Send(ctx context.Context, req Request) (Response, error)

	// Close releases any resources held by the adapter.
	Close() error
}

// New creates a new backend based on the provided configuration.
func New(cfg Config, pm *ProcessManager) (Backend, error) {
	switch cfg.Type {
	case "anthropic":
		return NewAnthropicAdapter(cfg)
	case "openai":
		return NewOpenAIAdapter(cfg)
	case "cli":
		return NewCLIAdapter(cfg, pm)
	case "echo":
		return Echo(), nil
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}

// Router dispatches requests to the backend registered for their provider.
type Router struct {
	mu       sync.RWMutex
	backends map[agents.Provider]Backend
	fallback Backend
}

// NewRouter creates a Router. fallback serves providers with no registered
// backend and may be nil.
func NewRouter(fallback Backend) *Router {
	return &Router{
		backends: make(map[agents.Provider]Backend),
		fallback: fallback,
	}
}

// Register binds a backend to a provider, replacing any previous one.
func (r *Router) Register(provider agents.Provider, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[provider] = b
}

// Send routes req by req.Provider.
func (r *Router) Send(ctx context.Context, req Request) (Response, error) {
	r.mu.RLock()
	b, ok := r.backends[req.Provider]
	if !ok {
		b = r.fallback
	}
	r.mu.RUnlock()

	if b == nil {
		return Response{}, fmt.Errorf("%w %q", ErrNoBackend, req.Provider)
	}
	return b.Send(ctx, req)
}

// Close closes every registered backend and the fallback.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, b := range r.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.fallback != nil {
		if err := r.fallback.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
