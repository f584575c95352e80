// Package a2a connects the orchestrator to remote agents over HTTP.
//
// Client implements core.RemoteAgent with JSON-RPC requests: message/stream
// answers with server-sent events that are decoded into core.TaskEvent
// values, tasks/get returns the latest task record, and the agent card is
// read from the well-known path. Every client sits behind a rate limiter and
// a circuit breaker; Describe and GetTask are additionally retried on
// transport failures. Opening a stream is attempted once.
//
// Dialer implements core.Dialer and caches one Client per address.
//
// NewHandler exposes any core.RemoteAgent (for example an agent.Local) under
// the same protocol, so in-process agents can be served to other relays.
package a2a
