package a2a

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// HandlerOptions configures NewHandler.
type HandlerOptions struct {
	// URL is advertised in the agent card. Defaults to the descriptor URL.
	URL string
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

type handler struct {
	agent  core.RemoteAgent
	url    string
	logger *logging.RelayLogger
}

// NewHandler serves agent over the protocol spoken by Client: the agent
// card under the well-known paths and JSON-RPC on POST /.
func NewHandler(agent core.RemoteAgent, optFns ...func(o *HandlerOptions)) http.Handler {
	opts := HandlerOptions{Logger: logging.NoOpLogger{}}

	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		agent:  agent,
		url:    opts.URL,
		logger: logging.NewRelayLogger(opts.Logger).WithComponent("a2a-handler"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(AgentCardPath, h.card)
	r.Get(AgentCardPathLegacy, h.card)
	r.Post("/", h.rpc)

	return r
}

func (h *handler) card(w http.ResponseWriter, r *http.Request) {
	d, err := h.agent.Describe(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	card := cardFromDescriptor(d)
	if h.url != "" {
		card.URL = h.url
	}

	writeJSON(w, http.StatusOK, card)
}

func (h *handler) rpc(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
		h.fail(w, nil, CodeParseError, "parse error")
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		h.fail(w, req.ID, CodeInvalidRequest, "invalid request")
		return
	}

	switch req.Method {
	case MethodMessageStream:
		h.stream(w, r, req)
	case MethodTasksGet:
		h.getTask(w, r, req)
	default:
		h.fail(w, req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *handler) stream(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	var params messageParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params.Message.Parts) == 0 {
		h.fail(w, req.ID, CodeInvalidParams, "message with parts required")
		return
	}

	msg := params.Message.toCore()
	taskID := msg.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	stream, err := h.agent.StreamTask(r.Context(), taskID, msg.ContextID, msg)
	if err != nil {
		h.logger.Warn("Stream rejected", "task_id", taskID, "error", err.Error())
		h.fail(w, req.ID, CodeInternalError, err.Error())
		return
	}
	defer stream.Close()

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if flusher != nil {
		flusher.Flush()
	}

	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return
		}

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		if err != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
		} else {
			resp.Result = fromEvent(ev)
		}

		data, mErr := json.Marshal(resp)
		if mErr != nil {
			h.logger.Error("Encode frame failed", "task_id", taskID, "error", mErr.Error())
			return
		}
		if _, wErr := fmt.Fprintf(w, "data: %s\n\n", data); wErr != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}

		if err != nil {
			return
		}
	}
}

func (h *handler) getTask(w http.ResponseWriter, r *http.Request, req rpcRequest) {
	var params taskQueryParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.ID == "" {
		h.fail(w, req.ID, CodeInvalidParams, "task id required")
		return
	}

	task, err := h.agent.GetTask(r.Context(), params.ID)
	if err != nil {
		h.fail(w, req.ID, CodeInternalError, err.Error())
		return
	}
	if task == nil {
		h.fail(w, req.ID, CodeTaskNotFound, "task not found")
		return
	}

	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: fromTask(task)})
}

func (h *handler) fail(w http.ResponseWriter, id json.RawMessage, code int, msg string) {
	if id == nil {
		id = json.RawMessage("null")
	}
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: id, Error: &RPCError{Code: code, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
