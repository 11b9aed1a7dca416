// Package actions executes named optimization actions through a registry of
// injected handlers. The engine never hardcodes what an action means
// operationally; hosts register handlers for their own infrastructure.
package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds one handler invocation.
const DefaultTimeout = 10 * time.Second

// Handler performs one concrete optimization action. Handlers should be safe
// to call repeatedly with the same parameters; the engine does not deduplicate
// beyond rule-level sustained gating.
type Handler func(ctx context.Context, params map[string]string) (detail string, err error)

// UnknownActionError reports a dispatch against an unregistered action name.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// Result records the outcome of one action invocation. Results are
// independent rows; a later failure never rewrites an earlier outcome.
type Result struct {
	Action   string        `json:"action"`
	Success  bool          `json:"success"`
	Detail   string        `json:"detail"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Executor dispatches actions by name with a bounded per-call timeout.
type Executor struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	timeout  time.Duration
	now      func() time.Time
}

// NewExecutor creates an executor. Non-positive timeout uses DefaultTimeout.
func NewExecutor(timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{
		handlers: make(map[string]Handler),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Register adds or replaces the handler for an action name.
func (e *Executor) Register(name string, h Handler) {
	e.mu.Lock()
	e.handlers[name] = h
	e.mu.Unlock()
}

// Registered returns the sorted action names currently registered.
func (e *Executor) Registered() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		out = append(out, name)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Execute runs one action and returns its recorded outcome. Unknown actions
// and handler errors are captured in the result, never panicked or escalated.
// The handler runs outside any engine lock with a bounded deadline; a handler
// that ignores its context is abandoned when the deadline passes.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]string) Result {
	started := e.now().UTC()

	e.mu.RLock()
	handler, ok := e.handlers[name]
	e.mu.RUnlock()

	if !ok {
		err := &UnknownActionError{Action: name}
		return Result{Action: name, Success: false, Detail: err.Error(), At: started, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		detail string
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		detail, err := handler(callCtx, params)
		done <- outcome{detail: detail, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-callCtx.Done():
		out = outcome{err: fmt.Errorf("action %q timed out after %s: %w", name, e.timeout, callCtx.Err())}
	}

	result := Result{
		Action:   name,
		At:       started,
		Duration: e.now().UTC().Sub(started),
	}
	if out.err != nil {
		result.Success = false
		result.Detail = out.err.Error()
		result.Err = out.err
		return result
	}
	result.Success = true
	result.Detail = out.detail
	return result
}
