package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/runner"
)

// Agents is the slice of the agent directory the server exposes.
type Agents interface {
	Register(ctx context.Context, address string) *core.ManagedAgent
	All() []core.ManagedAgent
	HealthCheck(ctx context.Context) []core.ManagedAgent
}

// Sender starts turns.
type Sender interface {
	Send(ctx context.Context, conversationID, text string) (*runner.Turn, error)
}

// Options configures a Server.
type Options struct {
	// Artifacts enables GET /v1/conversations/{id}/artifacts. Optional.
	Artifacts core.ArtifactStore
	// Gatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Server is the HTTP front end of the relay.
type Server struct {
	router        *chi.Mux
	agents        Agents
	conversations core.ConversationStore
	artifacts     core.ArtifactStore
	sender        Sender
	gatherer      prometheus.Gatherer
	logger        *logging.RelayLogger
}

// New wires the routes.
func New(agents Agents, conversations core.ConversationStore, sender Sender, optFns ...func(o *Options)) *Server {
	opts := Options{
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		router:        chi.NewRouter(),
		agents:        agents,
		conversations: conversations,
		artifacts:     opts.Artifacts,
		sender:        sender,
		gatherer:      opts.Gatherer,
		logger:        logging.NewRelayLogger(opts.Logger).WithComponent("server"),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1/agents", func(r chi.Router) {
		r.Get("/", s.listAgents)
		r.Post("/", s.registerAgent)
		r.Post("/health", s.checkHealth)
	})

	r.Route("/v1/conversations", func(r chi.Router) {
		r.Post("/", s.createConversation)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getConversation)
			r.Post("/messages", s.postMessage)
			if s.artifacts != nil {
				r.Get("/artifacts", s.listArtifacts)
			}
		})
	})
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type registerRequest struct {
	Address string `json:"address"`
}

func (s *Server) listAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, agentViews(s.agents.All()))
}

func (s *Server) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil || strings.TrimSpace(req.Address) == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	agent := s.agents.Register(r.Context(), req.Address)
	if agent == nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("agent at %s could not be registered", req.Address))
		return
	}

	writeJSON(w, http.StatusCreated, agentView(*agent))
}

func (s *Server) checkHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, agentViews(s.agents.HealthCheck(r.Context())))
}

type createConversationRequest struct {
	ID string `json:"id"`
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if r.ContentLength != 0 {
		if err := decode(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	conv, err := s.conversations.Create(req.ID)
	if errors.Is(err, core.ErrConversationExists) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, conversationView(conv))
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.conversations.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, core.ErrConversationNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, conversationView(conv))
}

func (s *Server) listArtifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.conversations.Get(id); !ok {
		writeError(w, http.StatusNotFound, core.ErrConversationNotFound.Error())
		return
	}
	records := s.artifacts.List(id)
	out := make([]ArtifactView, 0, len(records))
	for _, rec := range records {
		out = append(out, artifactView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type messageRequest struct {
	Text string `json:"text"`
}

// postMessage runs a turn. Clients accepting text/event-stream receive one
// agent-event frame per event and a final reply frame; all others receive
// a single JSON document once the turn finished.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req messageRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	turn, err := s.sender.Send(r.Context(), id, req.Text)
	if errors.Is(err, runner.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.WithConversation(id).Error("Turn not started", "error", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		events, res := turn.Collect()
		result := MessageResult{Events: make([]EventView, 0, len(events)), ReplyView: replyView(res)}
		for _, ev := range events {
			result.Events = append(result.Events, eventView(ev))
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// The turn is drained even after the client went away so it can finish.
	for ev := range turn.Events() {
		writeFrame(w, flusher, "agent-event", eventView(ev))
	}
	writeFrame(w, flusher, "reply", replyView(turn.Wait()))
}

func writeFrame(w http.ResponseWriter, flusher http.Flusher, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	if flusher != nil {
		flusher.Flush()
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
