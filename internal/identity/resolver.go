// Package identity is the SSO boundary. The platform trusts an upstream
// identity provider; this package only maps an already-verified assertion
// to the triple the guard consumes. Protocol validation happens upstream.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Identity is the verified caller.
type Identity struct {
	UserID   string
	TenantID snowflake.ID
	Roles    []string
}

// Resolver maps an opaque assertion to an Identity.
type Resolver interface {
	Resolve(ctx context.Context, assertion string) (Identity, error)
}

var ErrUnknownAssertion = errors.New("unknown_assertion")

// StaticResolver holds a fixed assertion table. Used in development and
// tests; production wires a resolver backed by the real IdP.
type StaticResolver struct {
	mu         sync.RWMutex
	identities map[string]Identity
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{identities: make(map[string]Identity)}
}

func (r *StaticResolver) Add(assertion string, identity Identity) {
	assertion = strings.TrimSpace(assertion)
	if assertion == "" {
		return
	}
	r.mu.Lock()
	r.identities[assertion] = identity
	r.mu.Unlock()
}

func (r *StaticResolver) Resolve(ctx context.Context, assertion string) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.identities[strings.TrimSpace(assertion)]
	if !ok {
		return Identity{}, ErrUnknownAssertion
	}
	return identity, nil
}
