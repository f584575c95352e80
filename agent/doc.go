// Package agent contains in-process agents that speak the same contract as
// remote ones.
//
// Local implements core.RemoteAgent on top of a Handler. Each message of a
// task runs the handler in its own goroutine with a *TaskContext used to
// report progress (Working, Artifact) and to end the turn (RequireInput,
// Complete, Fail). A handler that returns without ending the turn completes
// the task; a returned error fails it. Task records are kept so GetTask can
// serve them and so a task waiting on input can be resumed under its id.
//
// Registry resolves local:// addresses and can be chained in front of a
// network dialer. ModelHandler answers messages with a model.Model.
package agent
