package engine

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// Source is one dispatched sub-task stream fed into a Multiplexer.
type Source struct {
	AgentName string
	SubTaskID string
	Stream    core.TaskStream
}

// Outcome is how a source left the live set.
type Outcome string

const (
	// OutcomeTerminal means the source yielded a terminal status.
	OutcomeTerminal Outcome = "terminal"
	// OutcomeSuspended means the source asked for user input and was abandoned.
	OutcomeSuspended Outcome = "suspended"
	// OutcomeEnded means the stream ended without a terminal status.
	OutcomeEnded Outcome = "ended"
	// OutcomeFailed means Recv failed mid-stream.
	OutcomeFailed Outcome = "failed"
	// OutcomeAbandoned means the multiplexer was stopped while the source was live.
	OutcomeAbandoned Outcome = "abandoned"
)

// Concluded reports whether the sub-task ended on its own, so that its
// final record is worth looking up.
func (o Outcome) Concluded() bool {
	return o == OutcomeTerminal || o == OutcomeEnded || o == OutcomeFailed
}

// Multiplexer merges several task streams into one channel of tagged events.
//
// Each source gets one forwarding goroutine which calls Recv strictly
// sequentially, so there is never more than one outstanding pull per
// stream. The shared output channel therefore carries events in arrival
// order. Per delivered event:
//
//   - input-required: forwarded, then the stream is closed without draining
//   - terminal status: forwarded, then the stream is removed
//   - io.EOF: the stream is removed without output
//   - any other Recv error: a synthesized failed status is forwarded
//
// The output channel closes once the live set is empty.
type Multiplexer struct {
	bufferSize int

	mu       sync.Mutex
	sources  []Source
	live     map[string]Source
	outcomes map[string]Outcome
	started  bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMultiplexer creates a multiplexer whose output channel has the given
// buffer size.
func NewMultiplexer(bufferSize int, sources ...Source) *Multiplexer {
	if bufferSize < 0 {
		bufferSize = 0
	}
	m := &Multiplexer{
		bufferSize: bufferSize,
		live:       make(map[string]Source),
		outcomes:   make(map[string]Outcome),
		stop:       make(chan struct{}),
	}
	for _, s := range sources {
		m.Add(s)
	}
	return m
}

// Add registers a source. It panics when called after Run.
func (m *Multiplexer) Add(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		panic("engine: Multiplexer.Add after Run")
	}
	m.sources = append(m.sources, s)
	m.live[s.AgentName] = s
}

// Run starts one forwarder per source and returns the merged channel.
func (m *Multiplexer) Run() <-chan core.AgentEvent {
	m.mu.Lock()
	m.started = true
	sources := append([]Source(nil), m.sources...)
	m.mu.Unlock()

	out := make(chan core.AgentEvent, m.bufferSize)
	m.wg.Add(len(sources))
	for _, s := range sources {
		go m.forward(s, out)
	}
	go func() {
		m.wg.Wait()
		close(out)
	}()
	return out
}

// Live returns the agent names whose streams are still open, sorted.
func (m *Multiplexer) Live() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.live))
	for n := range m.live {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Outcomes returns how each source left the live set, keyed by agent name.
func (m *Multiplexer) Outcomes() map[string]Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Outcome, len(m.outcomes))
	for k, v := range m.outcomes {
		out[k] = v
	}
	return out
}

// Stop abandons every live source. Their outcomes are recorded as abandoned
// right away. Forwarders stop pulling and close their streams; nothing is
// sent to the remote agents. Stop does not wait for a pending Recv.
func (m *Multiplexer) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
		m.mu.Lock()
		live := make([]Source, 0, len(m.live))
		for _, s := range m.live {
			live = append(live, s)
			m.outcomes[s.AgentName] = OutcomeAbandoned
		}
		m.mu.Unlock()
		// Close unblocks a Recv that is waiting on the transport.
		for _, s := range live {
			_ = s.Stream.Close()
		}
	})
}

func (m *Multiplexer) stopped() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

func (m *Multiplexer) forward(s Source, out chan<- core.AgentEvent) {
	outcome := OutcomeAbandoned
	defer func() {
		_ = s.Stream.Close()
		m.mu.Lock()
		delete(m.live, s.AgentName)
		m.outcomes[s.AgentName] = outcome
		m.mu.Unlock()
		m.wg.Done()
	}()

	for {
		if m.stopped() {
			return
		}
		ev, err := s.Stream.Recv()
		if m.stopped() {
			return
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				outcome = OutcomeEnded
				return
			}
			failed := core.NewStatusUpdate(s.SubTaskID, core.TaskStateFailed,
				fmt.Sprintf("agent %s stream failed: %v", s.AgentName, err))
			if m.send(out, core.NewAgentEvent(s.AgentName, s.SubTaskID, failed)) {
				outcome = OutcomeFailed
			}
			return
		}
		if ev == nil {
			continue
		}

		tagged := core.NewAgentEvent(s.AgentName, s.SubTaskID, ev)
		if !m.send(out, tagged) {
			return
		}
		switch {
		case tagged.IsInputRequired():
			outcome = OutcomeSuspended
			return
		case tagged.IsTerminal():
			outcome = OutcomeTerminal
			return
		}
	}
}

func (m *Multiplexer) send(out chan<- core.AgentEvent, ev core.AgentEvent) bool {
	select {
	case out <- ev:
		return true
	case <-m.stop:
		return false
	}
}
