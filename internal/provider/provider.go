// Package provider hosts the pluggable LLM providers used for prompt
// scoring: a local model server, a hosted key-router, and a cloud SaaS API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devark-ai/devark/internal/config"
)

// DefaultTimeout bounds a single generate call.
const DefaultTimeout = 60 * time.Second

// Recognized provider ids.
const (
	IDOllama     = "ollama"
	IDOpenRouter = "openrouter"
	IDAnthropic  = "anthropic"
)

// ErrUnknownProvider is returned for ids outside the recognized set.
var ErrUnknownProvider = errors.New("unknown provider")

// GenerateRequest is a single completion call.
type GenerateRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// GenerateResult is the provider's reply.
type GenerateResult struct {
	Text       string
	TokensUsed int
}

// Detection reports whether a provider can serve requests right now.
type Detection struct {
	Available bool
	Reason    string
}

// Provider is one LLM backend.
type Provider interface {
	ID() string
	Detect(ctx context.Context) Detection
	ListModels(ctx context.Context) ([]string, error)
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// SecretSource resolves apiKeyRef values. The vault satisfies it.
type SecretSource interface {
	GetSecret(ref string) (string, bool)
}

// Registry holds the recognized providers and persists the active selection
// plus per-provider settings through the config store.
type Registry struct {
	cfg     *config.Store
	secrets SecretSource

	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
}

// NewRegistry builds a registry with the three standard providers wired to
// the given config and secret source.
func NewRegistry(cfg *config.Store, secrets SecretSource) *Registry {
	r := &Registry{
		cfg:       cfg,
		secrets:   secrets,
		providers: map[string]Provider{},
	}
	r.Register(newOllama(cfg))
	r.Register(newOpenRouter(cfg, secrets))
	r.Register(newAnthropic(cfg, secrets))
	return r
}

// Register adds a provider, idempotent by id.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[p.ID()]; ok {
		return
	}
	r.providers[p.ID()] = p
	r.order = append(r.order, p.ID())
}

// Get returns the provider with the given id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// IDs lists the registered provider ids in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Active returns the provider selected in config.
func (r *Registry) Active() (Provider, error) {
	id := r.cfg.ActiveProvider()
	p, ok := r.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// SetActive persists the active provider id.
func (r *Registry) SetActive(id string) error {
	if _, ok := r.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return r.cfg.SetActiveProvider(id)
}

// Configure persists per-provider settings. Providers read their settings at
// call time, so the change takes effect immediately.
func (r *Registry) Configure(id string, pc config.ProviderConfig) error {
	if _, ok := r.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return r.cfg.SetProvider(id, pc)
}

// Generate runs one completion through the active provider with the default
// timeout applied when the caller set no deadline.
func (r *Registry) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	p, err := r.Active()
	if err != nil {
		return GenerateResult{}, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}
	return p.Generate(ctx, req)
}
