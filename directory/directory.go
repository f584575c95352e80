package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
)

// Options configures a Directory.
type Options struct {
	// Dialer creates clients for registered addresses. Required.
	Dialer core.Dialer
	// Logger receives registration and health probe diagnostics.
	Logger logging.Logger
	// Registerer receives the directory gauge. A private registry is used when nil.
	Registerer prometheus.Registerer
	// ProbeTimeout bounds each health probe. Zero leaves probes unbounded.
	ProbeTimeout time.Duration
}

type entry struct {
	agent  core.ManagedAgent
	client core.RemoteAgent
}

// Directory holds the known remote agents, their capabilities and their
// reachability. It is safe for concurrent use.
//
// Contract:
//   - Agents are kept in registration order; every list it returns uses that order
//   - The capability index always mirrors the registered agents, regardless of status
//   - Status changes never touch the index, only lookup filtering
type Directory struct {
	mu      sync.RWMutex
	agents  map[string]*entry
	order   []string
	index   map[string]map[string]struct{} // capability -> agent ids
	dialer  core.Dialer
	logger  *logging.RelayLogger
	metrics *metrics
	timeout time.Duration
	now     func() time.Time
}

// New constructs an empty Directory.
func New(optFns ...func(o *Options)) *Directory {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Directory{
		agents:  make(map[string]*entry),
		index:   make(map[string]map[string]struct{}),
		dialer:  opts.Dialer,
		logger:  logging.NewRelayLogger(opts.Logger).WithComponent("directory"),
		metrics: newMetrics(opts.Registerer),
		timeout: opts.ProbeTimeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// AgentID derives the stable identifier of the agent served at address.
func AgentID(address string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(NormalizeAddress(address))).String()
}

// NormalizeAddress trims whitespace and trailing slashes and lower-cases the
// scheme and host so equivalent spellings map to one agent.
func NormalizeAddress(address string) string {
	a := strings.TrimRight(strings.TrimSpace(address), "/")
	scheme, rest, ok := strings.Cut(a, "://")
	if !ok {
		return a
	}
	host, path, hasPath := strings.Cut(rest, "/")
	a = strings.ToLower(scheme) + "://" + strings.ToLower(host)
	if hasPath {
		a += "/" + path
	}
	return a
}

// Register fetches the descriptor of the agent at address and stores it as
// active. It never returns an error: failures are logged and yield nil.
// Registering an address again replaces the previous entry in place.
func (d *Directory) Register(ctx context.Context, address string) *core.ManagedAgent {
	if d.dialer == nil {
		d.logger.Error("No dialer configured, cannot register agent", "address", address)
		return nil
	}
	client, desc, err := d.describe(ctx, address)
	if err != nil {
		d.logger.Warn("Agent descriptor unavailable", "address", address, "error", err.Error())
		return nil
	}
	if strings.TrimSpace(desc.Name) == "" {
		d.logger.Warn("Agent descriptor malformed: missing name", "address", address)
		return nil
	}

	agent := core.ManagedAgent{
		ID:           AgentID(address),
		Name:         desc.Name,
		Description:  desc.Description,
		Address:      NormalizeAddress(address),
		Skills:       append([]core.Skill(nil), desc.Skills...),
		Capabilities: ExtractCapabilities(desc),
		Status:       core.AgentStatusActive,
		LastChecked:  d.now(),
	}

	d.mu.Lock()
	if old, ok := d.agents[agent.ID]; ok {
		d.unindexLocked(old.agent)
	} else {
		d.order = append(d.order, agent.ID)
	}
	d.agents[agent.ID] = &entry{agent: agent, client: client}
	d.indexLocked(agent)
	d.refreshGaugeLocked()
	d.mu.Unlock()

	d.logger.Info("Agent registered", "agent", agent.Name, "agent_id", agent.ID, "address", agent.Address, "capabilities", len(agent.Capabilities))
	c := agent.Clone()
	return &c
}

// Remove deletes an agent and its index entries. It reports whether the
// agent existed.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.agents[id]
	if !ok {
		return false
	}
	d.unindexLocked(e.agent)
	delete(d.agents, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	d.refreshGaugeLocked()
	return true
}

// Get returns the agent with the given id.
func (d *Directory) Get(id string) (core.ManagedAgent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.agents[id]
	if !ok {
		return core.ManagedAgent{}, false
	}
	return e.agent.Clone(), true
}

// All returns every registered agent in registration order.
func (d *Directory) All() []core.ManagedAgent {
	return d.filter(func(core.ManagedAgent) bool { return true })
}

// Active returns the active agents in registration order.
func (d *Directory) Active() []core.ManagedAgent {
	return d.filter(core.ManagedAgent.IsActive)
}

// SetStatus overrides an agent's status. It reports whether the agent exists.
func (d *Directory) SetStatus(id string, status core.AgentStatus) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.agents[id]
	if !ok {
		return false
	}
	e.agent.Status = status
	e.agent.LastChecked = d.now()
	d.refreshGaugeLocked()
	return true
}

// FindByCapabilities returns the active agents holding any indexed
// capability that contains one of tokens (case-insensitive substring).
func (d *Directory) FindByCapabilities(tokens []string) []core.ManagedAgent {
	needles := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			needles = append(needles, t)
		}
	}
	if len(needles) == 0 {
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	matched := make(map[string]struct{})
	for capability, ids := range d.index {
		for _, n := range needles {
			if strings.Contains(capability, n) {
				for id := range ids {
					matched[id] = struct{}{}
				}
				break
			}
		}
	}

	var out []core.ManagedAgent
	for _, id := range d.order {
		if _, ok := matched[id]; !ok {
			continue
		}
		if a := d.agents[id].agent; a.IsActive() {
			out = append(out, a.Clone())
		}
	}
	return out
}

// FindByName returns the first agent in registration order whose name
// contains partial (case-insensitive).
func (d *Directory) FindByName(partial string) (core.ManagedAgent, bool) {
	e, ok := d.findByName(partial)
	if !ok {
		return core.ManagedAgent{}, false
	}
	return e.agent.Clone(), true
}

// Resolve maps a planner supplied agent name to the agent and its client.
// An exact case-insensitive match wins over a substring match.
func (d *Directory) Resolve(name string) (core.ManagedAgent, core.RemoteAgent, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.ManagedAgent{}, nil, false
	}
	d.mu.RLock()
	for _, id := range d.order {
		if e := d.agents[id]; strings.EqualFold(e.agent.Name, name) {
			d.mu.RUnlock()
			return e.agent.Clone(), e.client, true
		}
	}
	d.mu.RUnlock()

	e, ok := d.findByName(name)
	if !ok {
		return core.ManagedAgent{}, nil, false
	}
	return e.agent.Clone(), e.client, true
}

// Capabilities returns the sorted list of indexed capability tokens.
func (d *Directory) Capabilities() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.index))
	for c := range d.index {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HealthCheck probes every registered agent concurrently and updates each
// one's status and last-checked time independently. It returns once every
// probe resolved, with the resulting snapshot in registration order.
func (d *Directory) HealthCheck(ctx context.Context) []core.ManagedAgent {
	type target struct {
		id, name, address string
		client            core.RemoteAgent
	}
	d.mu.RLock()
	targets := make([]target, 0, len(d.order))
	for _, id := range d.order {
		e := d.agents[id]
		targets = append(targets, target{id: id, name: e.agent.Name, address: e.agent.Address, client: e.client})
	}
	d.mu.RUnlock()

	// Probes never return an error so one failure cannot cancel the others.
	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			start := time.Now()
			err := d.probe(ctx, t.client)
			d.logger.LogHealthProbe(t.name, t.address, time.Since(start), err)
			status := core.AgentStatusActive
			if err != nil {
				status = core.AgentStatusUnreachable
			}
			d.SetStatus(t.id, status)
			return nil
		})
	}
	_ = g.Wait()

	return d.All()
}

// Monitor runs HealthCheck every interval until ctx is done.
func (d *Directory) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.HealthCheck(ctx)
		}
	}
}

var errUnreachable = errors.New("agent reported unreachable")

// describe dials address and fetches its descriptor. A panicking dialer or
// client is reported as an error.
func (d *Directory) describe(ctx context.Context, address string) (client core.RemoteAgent, desc core.AgentDescriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			client, err = nil, fmt.Errorf("describe panicked: %v", r)
		}
	}()
	client, err = d.dialer.Dial(ctx, address)
	if err != nil {
		return nil, desc, fmt.Errorf("dial: %w", err)
	}
	desc, err = client.Describe(ctx)
	if err != nil {
		return nil, desc, err
	}
	return client, desc, nil
}

func (d *Directory) probe(ctx context.Context, client core.RemoteAgent) (err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()
	desc, err := client.Describe(ctx)
	if err != nil {
		return err
	}
	if !desc.Reachable {
		return errUnreachable
	}
	return nil
}

func (d *Directory) findByName(partial string) (*entry, bool) {
	needle := strings.ToLower(strings.TrimSpace(partial))
	if needle == "" {
		return nil, false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, id := range d.order {
		if e := d.agents[id]; strings.Contains(strings.ToLower(e.agent.Name), needle) {
			return e, true
		}
	}
	return nil, false
}

func (d *Directory) filter(keep func(core.ManagedAgent) bool) []core.ManagedAgent {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]core.ManagedAgent, 0, len(d.order))
	for _, id := range d.order {
		if a := d.agents[id].agent; keep(a) {
			out = append(out, a.Clone())
		}
	}
	return out
}

func (d *Directory) indexLocked(a core.ManagedAgent) {
	for _, c := range a.Capabilities {
		ids, ok := d.index[c]
		if !ok {
			ids = make(map[string]struct{})
			d.index[c] = ids
		}
		ids[a.ID] = struct{}{}
	}
}

func (d *Directory) unindexLocked(a core.ManagedAgent) {
	for _, c := range a.Capabilities {
		if ids, ok := d.index[c]; ok {
			delete(ids, a.ID)
			if len(ids) == 0 {
				delete(d.index, c)
			}
		}
	}
}

func (d *Directory) refreshGaugeLocked() {
	var active, unreachable int
	for _, e := range d.agents {
		if e.agent.IsActive() {
			active++
		} else {
			unreachable++
		}
	}
	d.metrics.agents.WithLabelValues(string(core.AgentStatusActive)).Set(float64(active))
	d.metrics.agents.WithLabelValues(string(core.AgentStatusUnreachable)).Set(float64(unreachable))
}

// ExtractCapabilities derives the capability tokens of a descriptor: skill
// ids, names and tags lower-cased, plus keyword tokens from the agent and
// skill descriptions.
func ExtractCapabilities(desc core.AgentDescriptor) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	texts := []string{desc.Description}
	for _, s := range desc.Skills {
		add(s.ID)
		add(s.Name)
		for _, tag := range s.Tags {
			add(tag)
		}
		texts = append(texts, s.Description)
	}
	for _, text := range texts {
		for _, kw := range util.Keywords(text) {
			add(kw)
		}
	}
	return out
}
