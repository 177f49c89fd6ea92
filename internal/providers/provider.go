// Package providers adapts third-party OAuth exchanges into uniform provider
// assertions. Adapters only report identity facts; resolution happens in users.
package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/leaflog/leaf-log/backend/internal/users"
)

var (
	ErrUnknownProvider = errors.New("providers: unknown provider")
	ErrExchangeFailed  = errors.New("providers: exchange failed")
)

// Exchanger completes an authorization code exchange for one provider.
type Exchanger interface {
	// Name is the provider tag stored on identities created through it.
	Name() string
	// AuthCodeURL builds the authorize redirect carrying state and the PKCE challenge for verifier.
	AuthCodeURL(state, verifier string) string
	// Exchange trades the authorization code for a verified profile assertion.
	Exchange(ctx context.Context, code, verifier string) (users.ProviderAssertion, error)
}

// Registry holds the configured exchangers keyed by name.
type Registry struct {
	exchangers map[string]Exchanger
}

// NewRegistry registers exchangers; nil entries are skipped and names must be unique.
func NewRegistry(exchangers ...Exchanger) (*Registry, error) {
	registered := make(map[string]Exchanger, len(exchangers))
	for _, exchanger := range exchangers {
		if exchanger == nil {
			continue
		}
		name := exchanger.Name()
		if _, exists := registered[name]; exists {
			return nil, fmt.Errorf("providers: duplicate provider %q", name)
		}
		registered[name] = exchanger
	}
	return &Registry{exchangers: registered}, nil
}

// Get returns the exchanger registered under name.
func (r *Registry) Get(name string) (Exchanger, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	exchanger, ok := r.exchangers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return exchanger, nil
}

// Names lists registered providers in lexical order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.exchangers))
	for name := range r.exchangers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
