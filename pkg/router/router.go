// Package router resolves the configured model chain into provider-bound routes.
package router

import (
	"fmt"

	"github.com/pario-ai/costgate/pkg/config"
	"github.com/pario-ai/costgate/pkg/models"
)

// Route represents a resolved provider and model to try.
type Route struct {
	Provider config.ProviderConfig
	Model    string
	Tier     models.Tier
}

// Chain is the primary route followed by the ordered fallback routes.
type Chain struct {
	Primary   Route
	Fallbacks []Route
}

// Router resolves model targets to provider-bound routes.
type Router struct {
	cfg *config.Config
}

// New creates a Router from the given configuration.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// Chain resolves the configured primary model and fallback list. A fallback
// naming an unknown provider is skipped; an unknown primary provider is an error.
func (r *Router) Chain() (Chain, error) {
	if len(r.cfg.Providers) == 0 {
		return Chain{}, fmt.Errorf("no providers configured")
	}

	// Build provider index by name
	providerIndex := make(map[string]config.ProviderConfig, len(r.cfg.Providers))
	for _, p := range r.cfg.Providers {
		providerIndex[p.Name] = p
	}

	primary, ok := r.resolve(providerIndex, r.cfg.Models.Primary)
	if !ok {
		return Chain{}, fmt.Errorf("primary model %q: unknown provider %q", r.cfg.Models.Primary.Model, r.cfg.Models.Primary.Provider)
	}
	primary.Tier = models.TierPrimary

	chain := Chain{Primary: primary}
	for _, target := range r.cfg.Models.Fallbacks {
		route, ok := r.resolve(providerIndex, target)
		if !ok {
			continue // skip unknown providers
		}
		route.Tier = models.TierFallback
		chain.Fallbacks = append(chain.Fallbacks, route)
	}
	return chain, nil
}

func (r *Router) resolve(index map[string]config.ProviderConfig, target config.ModelTarget) (Route, bool) {
	if target.Provider == "" {
		return Route{Provider: r.cfg.Providers[0], Model: target.Model}, true
	}
	p, ok := index[target.Provider]
	if !ok {
		return Route{}, false
	}
	return Route{Provider: p, Model: target.Model}, true
}
