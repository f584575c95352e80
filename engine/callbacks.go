package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// CallbackType defines the lifecycle points of an execution where callbacks
// can be executed.
//
// Available callback types:
//   - BeforeDispatch/AfterDispatch: around opening one sub-task stream
//   - OnEvent: for every multiplexed event before it reaches the caller
//   - OnSuspend: when a sub-task asks for user input
//   - AfterIntegrate: once the reply has been composed
//
// Only BeforeDispatch can influence execution: an error vetoes that one
// dispatch, which is then recorded as failed. Errors from every other
// callback type are logged and otherwise ignored.
type CallbackType string

const (
	// CallbackBeforeDispatch is triggered before a sub-task stream is opened.
	CallbackBeforeDispatch CallbackType = "before_dispatch"

	// CallbackAfterDispatch is triggered after an open attempt; Err carries the failure.
	CallbackAfterDispatch CallbackType = "after_dispatch"

	// CallbackOnEvent is triggered for each event delivered by the multiplexer.
	CallbackOnEvent CallbackType = "on_event"

	// CallbackOnSuspend is triggered after a suspension was recorded.
	CallbackOnSuspend CallbackType = "on_suspend"

	// CallbackAfterIntegrate is triggered with the composed reply.
	CallbackAfterIntegrate CallbackType = "after_integrate"
)

// CallbackContext carries what a callback may inspect about the execution.
type CallbackContext struct {
	// ConversationID identifies the conversation the execution belongs to.
	ConversationID string

	// AgentName and SubTaskID identify the sub-task, when there is one.
	AgentName string
	SubTaskID string

	// Resumed is set for dispatches that continue a suspended sub-task.
	Resumed bool

	// Event is the delivered event for OnEvent and OnSuspend.
	Event *core.AgentEvent

	// Plan is the plan being executed.
	Plan core.TaskPlan

	// Reply is the composed reply for AfterIntegrate.
	Reply string

	// Err is the dispatch failure for AfterDispatch.
	Err error

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for execution lifecycle hooks.
//
// Callbacks run synchronously on the execution's goroutines and must be fast
// and safe for concurrent use: dispatch callbacks run concurrently, one per
// agent.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	audit := NewFunctionCallback(
//	    CallbackAfterDispatch,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("dispatched %s: %v", cc.AgentName, cc.Err)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds callbacks by type and runs them in registration
// order, stopping at the first error. It is safe for concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
// A nil manager runs nothing.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}

	return nil
}

// LoggingCallback forwards a one-line description of each triggering to a
// logging function.
//
// Example:
//
//	cb := NewLoggingCallback(CallbackOnSuspend, func(msg string) { log.Print(msg) })
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the callback type, agent and event state when available.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	state := core.TaskState("")
	if callbackCtx.Event != nil {
		state = callbackCtx.Event.State()
	}
	c.logger(fmt.Sprintf("[%s] conversation=%s agent=%s sub_task=%s state=%s",
		c.callbackType, callbackCtx.ConversationID, callbackCtx.AgentName, callbackCtx.SubTaskID, state))
	return nil
}
