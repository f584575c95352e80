// Package server exposes the relay over HTTP.
//
// Routes:
//
//	GET  /healthz                          liveness
//	GET  /metrics                          prometheus exposition
//	GET  /v1/agents                        registered agents
//	POST /v1/agents                        register {"address": "..."}
//	POST /v1/agents/health                 probe every agent now
//	POST /v1/conversations                 create {"id": "..."} (id optional)
//	GET  /v1/conversations/{id}            turns and pending suspension
//	POST /v1/conversations/{id}/messages   run a turn {"text": "..."}
//	GET  /v1/conversations/{id}/artifacts  artifacts streamed by agents
//
// The messages route streams server-sent events when the client accepts
// text/event-stream: an "agent-event" frame per tagged event, then one
// "reply" frame. Other clients get the collected events and the reply as a
// single JSON document.
package server
