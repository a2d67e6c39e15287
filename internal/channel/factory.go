package channel

import (
	"fmt"
	"sync"

	"nudge/internal/config"
)

// Registry resolves the configured provider for a channel. Providers are
// built lazily and cached for the lifetime of the registry.
type Registry struct {
	mu        sync.RWMutex
	providers map[Channel]Provider

	providerCfg config.ProvidersConfig
	breakerCfg  config.CircuitBreakerConfig
}

func NewRegistry(providerCfg config.ProvidersConfig, breakerCfg config.CircuitBreakerConfig) *Registry {
	return &Registry{
		providers:   make(map[Channel]Provider),
		providerCfg: providerCfg,
		breakerCfg:  breakerCfg,
	}
}

// Register replaces the provider for a channel. Used by tests and by
// deployments with custom gateways.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Channel()] = p
}

func (r *Registry) Resolve(ch Channel) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[ch]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[ch]; ok {
		return p, nil
	}

	built, err := r.build(ch)
	if err != nil {
		return nil, err
	}
	r.providers[ch] = built
	return built, nil
}

func (r *Registry) build(ch Channel) (Provider, error) {
	var inner Provider
	switch ch {
	case Email:
		inner = NewEmailProvider(r.providerCfg.Email)
	case SMS:
		inner = NewSMSProvider(r.providerCfg.SMS)
	case WhatsApp:
		inner = NewWhatsAppProvider(r.providerCfg.WhatsApp)
	default:
		return nil, fmt.Errorf("no provider registered for channel %q", ch)
	}

	if r.breakerCfg.Enabled {
		return NewBreakerProvider(inner, r.breakerCfg), nil
	}
	return inner, nil
}
