package providers

import (
	"fmt"
	"sync"

	"github.com/promptgrid/promptgrid/internal/limiter"
	"github.com/promptgrid/promptgrid/internal/models"
)

// Factory builds a concrete provider for a spec, sharing the family limiter.
type Factory func(spec models.ProviderSpec, lim *limiter.Limiter) (Provider, error)

// Manager resolves provider specs into concrete instances. Instances are
// cached by (id, config) so repeated lookups are idempotent and share
// rate-limit state; config equality is structural, not pointer-based.
type Manager struct {
	mu        sync.Mutex
	factories map[string]Factory
	limiters  *limiter.Registry
	cache     []cacheEntry
}

type cacheEntry struct {
	id       string
	config   map[string]any
	provider Provider
}

// NewManager creates a manager with the built-in provider families
// registered. The limiter registry is injected so tests can isolate
// instances instead of sharing process-wide state.
func NewManager(limiters *limiter.Registry) *Manager {
	m := &Manager{
		factories: make(map[string]Factory),
		limiters:  limiters,
	}
	m.Register("openai", newChatProvider)
	m.Register("chat", newChatProvider)
	m.Register("responses", newResponsesProvider)
	m.Register("openai-responses", newResponsesProvider)
	return m
}

// Register adds or replaces the factory for a provider family.
func (m *Manager) Register(kind string, f Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[kind] = f
}

// Get resolves a spec to a provider instance, reusing a cached instance when
// the id and config match structurally. Unknown families are configuration
// errors.
func (m *Manager) Get(spec models.ProviderSpec) (Provider, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.cache {
		if e.id == spec.ID && equalValue(anyMap(e.config), anyMap(spec.Config)) {
			return e.provider, nil
		}
	}

	factory, ok := m.factories[spec.Kind()]
	if !ok {
		return nil, fmt.Errorf("unknown provider kind %q in %q", spec.Kind(), spec.ID)
	}

	p, err := factory(spec, m.limiters.For(spec.Kind()))
	if err != nil {
		return nil, err
	}

	m.cache = append(m.cache, cacheEntry{id: spec.ID, config: spec.Config, provider: p})
	return p, nil
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
