// Package runner implements the turn lifecycle on top of the engine.
//
// A turn is one user message. For every turn the Runner:
//   - waits until no other turn of the same conversation is running
//   - creates the conversation on first use and records the user message
//     under a fresh turn id, which becomes the parent task id of every
//     sub-task of the turn
//   - asks the planner for a plan, handing it the history summary and the
//     pending suspension; a failing planner degrades to oracle.DefaultPlan
//   - executes the plan through the engine and forwards its tagged events
//   - records the reply, or the question of a suspended sub-task, as the
//     turn's agent response
//
// A plan that names no known agent does not fail Send: the turn yields a
// single failed status event tagged core.OrchestratorName and replies with
// NoAgentsReply.
package runner
