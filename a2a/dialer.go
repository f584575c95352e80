package a2a

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hupe1980/agentrelay/core"
)

// Compile-time check.
var _ core.Dialer = (*Dialer)(nil)

// DialerOptions configures a Dialer.
type DialerOptions struct {
	// CacheSize bounds the number of cached clients. Defaults to 128.
	CacheSize int
	// Client configures every client the dialer creates.
	Client []func(o *Options)
}

// Dialer creates Clients for http(s) addresses and reuses them per address.
type Dialer struct {
	clients    *lru.Cache[string, *Client]
	clientOpts []func(o *Options)
}

// NewDialer returns a Dialer.
func NewDialer(optFns ...func(o *DialerOptions)) *Dialer {
	opts := DialerOptions{CacheSize: 128}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}

	// lru.New only fails for non-positive sizes.
	clients, _ := lru.New[string, *Client](opts.CacheSize)

	return &Dialer{clients: clients, clientOpts: opts.Client}
}

// Dial implements core.Dialer. Dialing does not touch the network.
func (d *Dialer) Dial(_ context.Context, address string) (core.RemoteAgent, error) {
	u, err := url.Parse(strings.TrimSpace(address))
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", address, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("dial %q: unsupported address, want http(s)://host", address)
	}

	key := strings.TrimRight(u.String(), "/")
	if c, ok := d.clients.Get(key); ok {
		return c, nil
	}

	c := NewClient(key, d.clientOpts...)
	if prev, ok, _ := d.clients.PeekOrAdd(key, c); ok {
		return prev, nil
	}
	return c, nil
}

// Len returns the number of cached clients.
func (d *Dialer) Len() int { return d.clients.Len() }
