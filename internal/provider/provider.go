package provider

import (
	"context"
	"fmt"

	"fx-price-feeder/internal/pricing"
)

// Provider is the uniform capability every price source implements. A nil
// sample with a nil error means the source has no data for the symbol; an
// error means infrastructure failure (timeout, malformed response).
type Provider interface {
	Name() string
	Get(ctx context.Context, symbol string) (*pricing.PriceSample, error)
}

// Kind enumerates the closed set of known provider implementations. Chains
// are resolved from Kind values so an unknown provider name is a config
// error at load time, not a runtime surprise.
type Kind int

const (
	KindMarket Kind = iota
	KindBackup
	KindGold
	KindCache
)

// String returns the wire/config name of the kind.
func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindBackup:
		return "backup"
	case KindGold:
		return "gold"
	case KindCache:
		return "cache"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a configured provider name onto the closed Kind set.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "market":
		return KindMarket, nil
	case "backup":
		return KindBackup, nil
	case "gold":
		return KindGold, nil
	case "cache":
		return KindCache, nil
	}
	return 0, fmt.Errorf("provider: unknown provider %q", name)
}

// Registry resolves Kind values to constructed provider instances. One
// registry exists per daemon instance; there is no package-level state.
type Registry struct {
	providers map[Kind]Provider
}

// NewRegistry builds a registry over the given instances.
func NewRegistry(providers map[Kind]Provider) *Registry {
	return &Registry{providers: providers}
}

// Lookup returns the provider registered for the kind.
func (r *Registry) Lookup(kind Kind) (Provider, error) {
	p, ok := r.providers[kind]
	if !ok {
		return nil, fmt.Errorf("provider: no instance registered for %s", kind)
	}
	return p, nil
}

// Resolve maps an ordered kind list to an ordered provider list.
func (r *Registry) Resolve(kinds []Kind) ([]Provider, error) {
	resolved := make([]Provider, 0, len(kinds))
	for _, kind := range kinds {
		p, err := r.Lookup(kind)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, p)
	}
	return resolved, nil
}
