package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// CanceledReply is the reply of an execution whose context was canceled.
const CanceledReply = "The request was canceled before all agents finished."

// Result summarizes a finished execution.
type Result struct {
	// Suspended is set when a sub-task asked for user input. Suspension
	// then names it and Reply carries its prompt.
	Suspended  bool
	Suspension *core.PendingSuspension

	// Canceled is set when the caller's context ended multiplexing early.
	Canceled bool

	// Reply is the text to show the user.
	Reply string

	// Responses are the per-agent texts the reply was composed from.
	Responses []core.AgentResponse

	// Dispatched and Failed list agent names whose streams opened or failed to open.
	Dispatched []string
	Failed     []string

	// Outcomes tells how every dispatched stream ended, keyed by agent name.
	Outcomes map[string]Outcome
}

// Execution is one running plan. Drain Events, then call Wait.
type Execution struct {
	engine *Engine
	req    Request
	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span
	log    *logging.RelayLogger
	start  time.Time

	targets []*target
	mux     *Multiplexer

	events chan core.AgentEvent
	done   chan struct{}

	mu         sync.Mutex
	dispatched []string
	failed     []string
	result     Result
}

// Events returns the tagged events in arrival order. The channel closes
// when multiplexing ends.
func (x *Execution) Events() <-chan core.AgentEvent { return x.events }

// Wait blocks until the execution finished and returns its result.
func (x *Execution) Wait() Result {
	<-x.done
	return x.result
}

// Live returns the agents whose streams are still open.
func (x *Execution) Live() []string { return x.mux.Live() }

// Collect drains Events and returns them together with the result.
func (x *Execution) Collect() ([]core.AgentEvent, Result) {
	var evs []core.AgentEvent
	for ev := range x.events {
		evs = append(evs, ev)
	}
	return evs, x.Wait()
}

func (x *Execution) recordDispatch(agent string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.dispatched = append(x.dispatched, agent)
}

func (x *Execution) recordFailure(agent string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.failed = append(x.failed, agent)
}

func (x *Execution) run(execCtx context.Context) {
	e := x.engine
	defer close(x.done)
	defer x.cancel()

	var (
		suspension *core.PendingSuspension
		prompt     string
		canceled   bool
	)

	merged := x.mux.Run()
loop:
	for {
		select {
		case <-execCtx.Done():
			canceled = true
			break loop
		case ev, ok := <-merged:
			if !ok {
				break loop
			}
			if execCtx.Err() != nil {
				canceled = true
				break loop
			}
			if ev.IsInputRequired() {
				suspension, prompt = x.suspend(ev)
			}
			x.observe(ev)
			select {
			case x.events <- ev:
			case <-execCtx.Done():
				canceled = true
				break loop
			}
		}
	}

	if canceled {
		x.mux.Stop()
		// A Recv that ignores Close keeps its forwarder alive; it must not
		// hold the execution open.
		go func() {
			for range merged {
			}
		}()
		ev := core.NewAgentEvent(core.OrchestratorName, x.req.ParentTaskID,
			core.NewStatusUpdate(x.req.ParentTaskID, core.TaskStateCanceled, CanceledReply))
		e.metrics.Events.WithLabelValues(core.OrchestratorName, string(core.TaskStateCanceled)).Inc()
		x.events <- ev
		x.log.Info("Execution canceled", "live", len(x.mux.Live()))
	}
	close(x.events)

	x.mu.Lock()
	res := Result{
		Dispatched: append([]string(nil), x.dispatched...),
		Failed:     append([]string(nil), x.failed...),
		Outcomes:   x.mux.Outcomes(),
	}
	x.mu.Unlock()

	outcome := "completed"
	switch {
	case canceled:
		outcome = "canceled"
		res.Canceled = true
		res.Reply = CanceledReply
	case suspension != nil:
		outcome = "suspended"
		res.Suspended = true
		res.Suspension = suspension
		res.Reply = prompt
	default:
		res.Reply, res.Responses = x.integrate(res.Outcomes)
	}

	e.metrics.ExecutionDuration.WithLabelValues(outcome).Observe(time.Since(x.start).Seconds())
	x.span.SetAttributes(attribute.String("agentrelay.outcome", outcome))
	x.span.End()
	x.log.Info("Execution finished", "outcome", outcome, "dispatched", len(res.Dispatched), "failed", len(res.Failed))
	x.result = res
}

// suspend records the suspension before the event is yielded.
func (x *Execution) suspend(ev core.AgentEvent) (*core.PendingSuspension, string) {
	e := x.engine
	if err := e.conversations.SetSuspension(x.req.ConversationID, ev.AgentName, ev.SubTaskID); err != nil {
		x.log.Warn("Failed to record suspension", "agent", ev.AgentName, "error", err.Error())
	}
	e.metrics.Suspensions.WithLabelValues(ev.AgentName).Inc()
	x.log.Info("Sub-task suspended for user input", "agent", ev.AgentName, "sub_task_id", ev.SubTaskID)

	cc := &CallbackContext{ConversationID: x.req.ConversationID, AgentName: ev.AgentName, SubTaskID: ev.SubTaskID, Event: &ev, Plan: x.req.Plan}
	if err := e.callbacks.ExecuteCallbacks(x.ctx, CallbackOnSuspend, cc); err != nil {
		x.log.Warn("Callback failed", "error", err.Error())
	}

	prompt := ev.Text()
	if prompt == "" {
		prompt = fmt.Sprintf("%s needs more information to continue.", ev.AgentName)
	}
	return &core.PendingSuspension{AgentName: ev.AgentName, SubTaskID: ev.SubTaskID, Timestamp: e.now().UTC()}, prompt
}

func (x *Execution) observe(ev core.AgentEvent) {
	e := x.engine
	state := string(ev.State())
	if state == "" {
		state = "artifact"
	}
	e.metrics.Events.WithLabelValues(ev.AgentName, state).Inc()
	cc := &CallbackContext{ConversationID: x.req.ConversationID, AgentName: ev.AgentName, SubTaskID: ev.SubTaskID, Event: &ev, Plan: x.req.Plan}
	if err := e.callbacks.ExecuteCallbacks(x.ctx, CallbackOnEvent, cc); err != nil {
		x.log.Warn("Callback failed", "error", err.Error())
	}
}
