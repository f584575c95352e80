package a2a

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/hupe1980/agentrelay/core"
)

// JSON-RPC error codes used by this package.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeTaskNotFound   = -32001
)

// RPCError is a JSON-RPC error object returned by a remote agent.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("a2a: rpc error %d: %s", e.Code, e.Message)
}

// Is makes task-not-found errors match core.ErrTaskNotFound.
func (e *RPCError) Is(target error) bool {
	return target == core.ErrTaskNotFound && e.Code == CodeTaskNotFound
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("a2a: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("a2a: unexpected status %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether a failed call may be repeated. JSON-RPC errors
// are answers, not transport failures, and client errors stay client errors.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}

	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError
	}

	return true
}
