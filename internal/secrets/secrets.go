// Package secrets resolves secret references found in configuration values.
// A reference names where the secret lives ("env://OPENAI_KEY",
// "vault://secret/data/ruhusa/smtp#password") so the config file never
// carries the secret itself.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a reference cannot be resolved.
var ErrNotFound = errors.New("secret not found")

// ErrUnsupportedScheme is returned for references whose scheme has no provider.
var ErrUnsupportedScheme = errors.New("unsupported secret scheme")

// Provider resolves references for one scheme. Implementations must be safe
// for concurrent use.
type Provider interface {
	// Scheme is the reference prefix without "://", e.g. "env".
	Scheme() string
	// Resolve returns the secret for a reference of this provider's scheme.
	Resolve(ctx context.Context, ref string) (string, error)
}

// Resolver dispatches references to the provider registered for their scheme.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a Resolver. Later providers replace earlier ones with
// the same scheme.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Scheme()] = p
	}
	return r
}

// Schemes lists the registered schemes.
func (r *Resolver) Schemes() []string {
	out := make([]string, 0, len(r.providers))
	for s := range r.providers {
		out = append(out, s)
	}
	return out
}

// IsReference reports whether v looks like "scheme://rest".
func IsReference(v string) bool {
	scheme, rest, ok := strings.Cut(v, "://")
	if !ok || scheme == "" || rest == "" {
		return false
	}
	for _, c := range scheme {
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

// Resolve returns v unchanged when it is not a reference, and the resolved
// secret otherwise. http:// and https:// values are never references.
func (r *Resolver) Resolve(ctx context.Context, v string) (string, error) {
	if !IsReference(v) {
		return v, nil
	}
	scheme, _, _ := strings.Cut(v, "://")
	if scheme == "http" || scheme == "https" {
		return v, nil
	}
	p, ok := r.providers[scheme]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}
	return p.Resolve(ctx, v)
}
