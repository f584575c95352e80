// Package engine implements the orchestration core of agentrelay.
//
// The Engine takes a TaskPlan, an agent selection produced by a planner,
// and turns it into concurrently running remote sub-tasks whose streaming
// events are merged into one ordered feed.
//
// # Sub-task identity
//
// A freshly dispatched sub-task gets a deterministic id derived from the
// parent task id and the agent name (see SubTaskID). A plan that resumes a
// suspended sub-task carries that sub-task's id, which is reused verbatim,
// and the latest user message is forwarded as is without generating a new
// instruction.
//
// # Fan-in
//
// The Multiplexer runs one forwarding goroutine per stream. Each forwarder
// pulls strictly sequentially, so a stream never has two outstanding
// reads, and writes onto a shared channel; arrival order is output order.
//
//	┌─────────┐   Recv    ┌───────────┐
//	│ stream A│──────────▶│forwarder A│──┐
//	└─────────┘           └───────────┘  │   ┌────────────┐   ┌────────┐
//	┌─────────┐   Recv    ┌───────────┐  ├──▶│ shared chan│──▶│ caller │
//	│ stream B│──────────▶│forwarder B│──┘   └────────────┘   └────────┘
//	└─────────┘           └───────────┘
//
// A stream leaves the live set when it yields a terminal status, when it
// asks for input (it is then abandoned, not drained), when it ends, or when
// it fails mid-stream (reported as a failed status event).
//
// # Suspension
//
// An input-required event is recorded as the conversation's single pending
// suspension before it is yielded. A conversation holds at most one
// suspension; when two agents ask for input in the same run the later one
// wins. An execution that ends with a suspension reports it in its Result
// and skips integration.
//
// # Integration
//
// Otherwise the engine looks up the final record of every concluded
// sub-task and composes the reply: verbatim for a single-agent plan,
// through the Integrator for multi-agent plans, and by attributed
// concatenation when the Integrator fails. When no agent produced text the
// reply is NoResponseFresh or NoResponseResumed.
//
// # Cancellation
//
// Canceling the execution context stops all pulling. Remote agents are not
// notified. Exactly one canceled status event tagged core.OrchestratorName is
// yielded and the Result reports Canceled.
//
// # Usage
//
//	x, err := eng.Execute(ctx, engine.Request{ConversationID: id, ParentTaskID: parent, Plan: plan})
//	if err != nil {
//	    return err // *core.ConfigurationError
//	}
//	for ev := range x.Events() {
//	    render(ev)
//	}
//	res := x.Wait()
package engine
