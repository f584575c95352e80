package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// Scheme is the address scheme of in-process agents.
const Scheme = "local://"

// Address returns the local address of the agent named name.
func Address(name string) string {
	return Scheme + strings.ToLower(strings.TrimSpace(name))
}

// Compile-time check.
var _ core.Dialer = (*Registry)(nil)

// Registry resolves local:// addresses to Local agents.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Local
}

// NewRegistry returns a registry holding agents.
func NewRegistry(agents ...*Local) *Registry {
	r := &Registry{agents: make(map[string]*Local)}
	for _, a := range agents {
		r.Register(a)
	}
	return r
}

// Register adds a, replacing any agent of the same name.
func (r *Registry) Register(a *Local) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[Address(a.Name())] = a
}

// Addresses returns the addresses of all registered agents, sorted.
func (r *Registry) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for addr := range r.agents {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the agent registered under name.
func (r *Registry) Lookup(name string) (*Local, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[Address(name)]
	return a, ok
}

// Dial implements core.Dialer for local:// addresses.
func (r *Registry) Dial(_ context.Context, address string) (core.RemoteAgent, error) {
	key := strings.TrimRight(strings.ToLower(strings.TrimSpace(address)), "/")
	if !strings.HasPrefix(key, Scheme) {
		return nil, fmt.Errorf("dial %q: not a %s address", address, Scheme)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[key]
	if !ok {
		return nil, fmt.Errorf("dial %q: no local agent", address)
	}
	return a, nil
}

// Dialer returns a dialer serving local:// addresses from r and every other
// address from next. A nil next rejects non-local addresses.
func (r *Registry) Dialer(next core.Dialer) core.Dialer {
	return core.DialerFunc(func(ctx context.Context, address string) (core.RemoteAgent, error) {
		if next == nil || strings.HasPrefix(strings.ToLower(strings.TrimSpace(address)), Scheme) {
			return r.Dial(ctx, address)
		}
		return next.Dial(ctx, address)
	})
}
