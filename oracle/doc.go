// Package oracle provides the reasoning collaborators of the orchestrator:
// planning (which agents handle a request), instruction generation (what
// each agent is told) and integration (how their answers become one reply).
//
// Each concern has a model-backed implementation (LLMPlanner, LLMInstructor,
// LLMIntegrator) and a deterministic one (CapabilityPlanner,
// PassthroughInstructor, ConcatIntegrator). Model-backed oracles never retry
// and report every failure as a *core.OracleError; callers degrade to
// DefaultPlan, the plan's own instruction, or AttributedConcat.
package oracle
