package engine

import (
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/oracle"
)

// Replies used when no agent produced extractable text. A failed resumption
// and a failed fresh plan are different situations and are worded apart.
const (
	NoResponseFresh   = "None of the selected agents returned a usable response to your request."
	NoResponseResumed = "The agent continued with your input but did not return a usable response."
)

// integrate fetches the final record of every concluded sub-task and
// composes the reply.
func (x *Execution) integrate(outcomes map[string]Outcome) (string, []core.AgentResponse) {
	e := x.engine
	plan := x.req.Plan
	ctx, span := e.tracer.Start(x.ctx, "engine.integrate")
	defer span.End()

	var responses []core.AgentResponse
	for _, t := range x.targets {
		if !outcomes[t.agent.Name].Concluded() {
			continue
		}
		task, err := t.client.GetTask(ctx, t.subTaskID)
		if err != nil {
			x.log.Warn("Task lookup failed", "agent", t.agent.Name, "sub_task_id", t.subTaskID, "error", err.Error())
			continue
		}
		if task == nil {
			x.log.Debug("No task record", "agent", t.agent.Name, "sub_task_id", t.subTaskID)
			continue
		}
		text := strings.TrimSpace(task.Text())
		if text == "" {
			continue
		}
		responses = append(responses, core.AgentResponse{
			AgentName: t.agent.Name,
			SubTaskID: t.subTaskID,
			State:     task.Status.State,
			Text:      text,
		})
	}
	span.SetAttributes(attribute.Int("agentrelay.responses", len(responses)))

	var reply string
	switch {
	case len(responses) == 0:
		reply = NoResponseFresh
		if plan.Resumption != nil {
			reply = NoResponseResumed
		}
	case len(x.targets) == 1 && !plan.MultiAgent:
		reply = responses[0].Text
	default:
		reply = x.compose(span, responses)
	}

	cc := &CallbackContext{ConversationID: x.req.ConversationID, Plan: plan, Reply: reply}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterIntegrate, cc); err != nil {
		x.log.Warn("Callback failed", "error", err.Error())
	}
	return reply, responses
}

func (x *Execution) compose(span trace.Span, responses []core.AgentResponse) string {
	e := x.engine
	if e.integrator == nil {
		return oracle.AttributedConcat(responses)
	}

	start := e.now()
	reply, err := e.integrator.Compose(x.ctx, x.req.Plan.Request, responses, x.req.Plan)
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty composition")
	}
	if err != nil {
		var oe *core.OracleError
		if !errors.As(err, &oe) {
			err = &core.OracleError{Oracle: core.OracleIntegrator, Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		x.log.LogOracleCall(core.OracleIntegrator, time.Since(start), err)
		e.metrics.OracleFallbacks.WithLabelValues(core.OracleIntegrator).Inc()
		return oracle.AttributedConcat(responses)
	}
	x.log.LogOracleCall(core.OracleIntegrator, time.Since(start), nil)
	return reply
}
