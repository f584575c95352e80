package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Compile-time check.
var _ core.RemoteAgent = (*Client)(nil)

// Options configures a Client.
type Options struct {
	// HTTPClient performs the requests. Defaults to a client without timeout,
	// since task streams stay open for as long as the agent works.
	HTTPClient *http.Client
	// Headers are added to every request (e.g. authorization).
	Headers map[string]string

	// RequestsPerSecond limits outgoing calls. Zero or less disables limiting.
	RequestsPerSecond float64
	// Burst is the limiter bucket size. Defaults to 1.
	Burst int

	// RetryAttempts bounds the attempts of Describe and GetTask. Stream
	// opening is never retried.
	RetryAttempts uint
	// RetryDelay is the base delay between attempts.
	RetryDelay time.Duration

	// BreakerThreshold is the number of consecutive transport failures that
	// opens the circuit. Zero never opens it.
	BreakerThreshold uint32
	// BreakerTimeout is how long the circuit stays open before a probe call.
	BreakerTimeout time.Duration

	// Logger provides structured logging. Defaults to NoOp logger if nil.
	Logger logging.Logger
}

// Client talks JSON-RPC over HTTP to one remote agent.
type Client struct {
	baseURL string
	http    *http.Client
	headers map[string]string
	guard   *guard
	logger  *logging.RelayLogger
	nextID  atomic.Int64
}

// NewClient returns a client for the agent served at baseURL.
func NewClient(baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{
		HTTPClient:       &http.Client{},
		RetryAttempts:    3,
		RetryDelay:       200 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	baseURL = strings.TrimRight(baseURL, "/")

	return &Client{
		baseURL: baseURL,
		http:    opts.HTTPClient,
		headers: opts.Headers,
		guard:   newGuard(baseURL, opts),
		logger:  logging.NewRelayLogger(opts.Logger).WithComponent("a2a").WithContext("agent_url", baseURL),
	}
}

// BaseURL returns the address the client was created for.
func (c *Client) BaseURL() string { return c.baseURL }

// Describe fetches the agent card, falling back to the legacy path when the
// agent does not serve the current one.
func (c *Client) Describe(ctx context.Context) (core.AgentDescriptor, error) {
	var card AgentCard
	err := c.guard.retry(ctx, func() error {
		var err error
		card, err = c.fetchCard(ctx, AgentCardPath)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			card, err = c.fetchCard(ctx, AgentCardPathLegacy)
		}
		return err
	})
	if err != nil {
		return core.AgentDescriptor{}, fmt.Errorf("describe %s: %w", c.baseURL, err)
	}

	d := card.descriptor()
	if d.URL == "" {
		d.URL = c.baseURL
	}
	return d, nil
}

func (c *Client) fetchCard(ctx context.Context, path string) (AgentCard, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return AgentCard{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return AgentCard{}, err
	}
	defer resp.Body.Close()

	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return AgentCard{}, fmt.Errorf("decode agent card: %w", err)
	}
	if card.Name == "" {
		return AgentCard{}, errors.New("agent card without name")
	}
	return card, nil
}

// StreamTask sends message to the task subTaskID within session sessionID
// and returns the event stream. The stream lives as long as ctx.
func (c *Client) StreamTask(ctx context.Context, subTaskID, sessionID string, message core.Message) (core.TaskStream, error) {
	msg := message.Clone()
	msg.TaskID = subTaskID
	msg.ContextID = sessionID

	body, err := c.rpcBody(MethodMessageStream, messageParams{Message: fromMessage(msg)})
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	err = c.guard.once(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")

		resp, err = c.do(req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open stream for task %s: %w", subTaskID, err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/event-stream" {
		c.logger.Debug("Stream opened", "sub_task_id", subTaskID)
		return newSSEStream(resp.Body), nil
	}

	// Agents without streaming support answer with a single response.
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response for task %s: %w", subTaskID, err)
	}
	ev, err := decodeFrame(data)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return &eventStream{}, nil
	}
	return &eventStream{events: []core.TaskEvent{ev}}, nil
}

// GetTask fetches the latest record of a task. Unknown ids yield (nil, nil).
func (c *Client) GetTask(ctx context.Context, subTaskID string) (*core.Task, error) {
	body, err := c.rpcBody(MethodTasksGet, taskQueryParams{ID: subTaskID})
	if err != nil {
		return nil, err
	}

	var task *core.Task
	err = c.guard.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		task, err = decodeTaskResponse(data)
		if errors.Is(err, core.ErrTaskNotFound) {
			task, err = nil, nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", subTaskID, err)
	}
	return task, nil
}

func (c *Client) rpcBody(method string, params any) ([]byte, error) {
	p, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(strconv.FormatInt(c.nextID.Add(1), 10)),
		Method:  method,
		Params:  p,
	})
}

// do sends req and turns non-2xx responses into a *StatusError.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	return resp, nil
}

func decodeTaskResponse(data []byte) (*core.Task, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("a2a: malformed response")
	}
	if e := gjson.GetBytes(data, "error"); e.Exists() {
		return nil, rpcErrorOf(e)
	}
	res := gjson.GetBytes(data, "result")
	if !res.Exists() || res.Type == gjson.Null {
		return nil, core.ErrTaskNotFound
	}

	var wt wireTask
	if err := json.Unmarshal([]byte(res.Raw), &wt); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return wt.toCore(), nil
}

func rpcErrorOf(e gjson.Result) *RPCError {
	return &RPCError{Code: int(e.Get("code").Int()), Message: e.Get("message").String()}
}
