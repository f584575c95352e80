package testutil

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("testutil: stream closed")

// ScriptedStream is a core.TaskStream replaying a fixed list of events. It
// tracks concurrent Recv calls so tests can assert that consumers never
// issue a second pull while one is outstanding.
type ScriptedStream struct {
	mu     sync.Mutex
	events []core.TaskEvent
	pos    int
	tail   error
	delay  time.Duration
	hang   bool
	gates  map[int]<-chan struct{}

	done      chan struct{}
	closeOnce sync.Once

	inflight    atomic.Int32
	maxInflight atomic.Int32
	recvs       atomic.Int32
}

// NewScriptedStream returns a stream yielding events then io.EOF.
func NewScriptedStream(events ...core.TaskEvent) *ScriptedStream {
	return &ScriptedStream{events: events, tail: io.EOF, done: make(chan struct{}), gates: map[int]<-chan struct{}{}}
}

// ThenError makes the stream fail with err instead of io.EOF after the
// scripted events (chainable).
func (s *ScriptedStream) ThenError(err error) *ScriptedStream { s.tail = err; return s }

// WithDelay sleeps before delivering each event (chainable).
func (s *ScriptedStream) WithDelay(d time.Duration) *ScriptedStream { s.delay = d; return s }

// Hang makes Recv block after the scripted events until Close (chainable).
func (s *ScriptedStream) Hang() *ScriptedStream { s.hang = true; return s }

// Gate holds back the event at index i until ch is closed (chainable).
func (s *ScriptedStream) Gate(i int, ch <-chan struct{}) *ScriptedStream {
	s.gates[i] = ch
	return s
}

// Recv implements core.TaskStream.
func (s *ScriptedStream) Recv() (core.TaskEvent, error) {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		m := s.maxInflight.Load()
		if n <= m || s.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	s.recvs.Add(1)

	s.mu.Lock()
	i := s.pos
	s.pos++
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil, ErrStreamClosed
	default:
	}

	if i >= len(s.events) {
		if s.hang {
			<-s.done
			return nil, ErrStreamClosed
		}
		return nil, s.tail
	}
	if gate, ok := s.gates[i]; ok {
		select {
		case <-gate:
		case <-s.done:
			return nil, ErrStreamClosed
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.done:
			return nil, ErrStreamClosed
		}
	}
	return s.events[i], nil
}

// Close implements core.TaskStream. It is idempotent.
func (s *ScriptedStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether Close was called.
func (s *ScriptedStream) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// MaxConcurrentRecv is the highest number of simultaneous Recv calls seen.
func (s *ScriptedStream) MaxConcurrentRecv() int { return int(s.maxInflight.Load()) }

// Recvs is the number of Recv calls made so far.
func (s *ScriptedStream) Recvs() int { return int(s.recvs.Load()) }

// Remaining is the number of scripted events not yet pulled.
func (s *ScriptedStream) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= len(s.events) {
		return 0
	}
	return len(s.events) - s.pos
}
