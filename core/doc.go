// Package core provides the foundational domain types and interfaces used by
// agentrelay. It defines the core abstractions for:
//
//   - Managed agents (remote task-execution services known to the directory)
//   - Conversations (append-only turn logs with a single suspension slot)
//   - Task plans (agent selection decisions produced by a planning oracle)
//   - Tasks, messages and streaming task events exchanged with remote agents
//   - The remote-agent, dialer and oracle contracts the engine depends on
//   - The error taxonomy shared by every package
//
// The package intentionally keeps implementation concerns (transport, storage,
// orchestration, reasoning) out of scope, exposing small interfaces so custom
// backends can be plugged in without touching calling code.
package core
