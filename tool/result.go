package tool

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

var (
	ErrToolNotFound    = errors.New("tool not registered")
	ErrDuplicateTool   = errors.New("tool already registered")
	ErrMissingArgument = errors.New("missing required argument")
)

// InvocationError is a failed tool call. It never crosses the tool boundary
// as a Go error; it is reported back to the agent inside a Result.
type InvocationError struct {
	Tool string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Result is the structured payload returned to the agent: {"ok": bool, ...}.
type Result map[string]any

func OK(payload map[string]any) Result {
	r := Result{}
	for k, v := range payload {
		r[k] = v
	}
	r["ok"] = true
	return r
}

func Failed(err error) Result {
	return Result{
		"ok":    false,
		"error": err.Error(),
	}
}

func (r Result) OK() bool {
	ok, _ := r["ok"].(bool)
	return ok
}

// JSON renders the result as the function_call_output string.
func (r Result) JSON() string {
	d, err := sonic.ConfigStd.Marshal(r)
	if err != nil {
		d, _ = sonic.ConfigStd.Marshal(Failed(fmt.Errorf("encode tool result: %w", err)))
	}
	return string(d)
}
