package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
)

// Handler executes a tool call. The returned payload is merged into an
// {"ok": true} result; a returned error becomes {"ok": false, "error": ...}.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Binding pairs a tool definition with its handler.
type Binding struct {
	Tool    Tool
	Handler Handler
}

type entry struct {
	def     Tool
	handler Handler
}

// Registry maps tool names to definitions and handlers. Definitions are
// immutable once registered.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	order  []string
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		tools:  make(map[string]entry),
		logger: logger,
	}
}

func (r *Registry) Register(def Tool, h Handler) error {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return fmt.Errorf("register tool: empty name")
	}
	if h == nil {
		return fmt.Errorf("register tool %q: nil handler", name)
	}
	if def.Type == "" {
		def.Type = TypeFunction
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		return fmt.Errorf("register tool %q: %w", name, ErrDuplicateTool)
	}
	r.tools[name] = entry{def: def, handler: h}
	r.order = append(r.order, name)
	return nil
}

// RegisterAll registers every binding, stopping at the first error.
func (r *Registry) RegisterAll(bindings ...Binding) error {
	for _, b := range bindings {
		if err := r.Register(b.Tool, b.Handler); err != nil {
			return err
		}
	}
	return nil
}

// Definitions returns the registered tools in registration order.
func (r *Registry) Definitions() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].def)
	}
	return out
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Invoke runs the named tool with raw JSON arguments. It always returns a
// Result; the error is non-nil only to let the caller log or count failures.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs string) (Result, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		err := &InvocationError{Tool: name, Err: ErrToolNotFound}
		return Failed(err), err
	}

	args := map[string]any{}
	if strings.TrimSpace(rawArgs) != "" {
		if err := sonic.ConfigStd.Unmarshal([]byte(rawArgs), &args); err != nil {
			err = &InvocationError{Tool: name, Err: fmt.Errorf("decode arguments: %w", err)}
			return Failed(err), err
		}
	}

	for _, req := range e.def.Parameters.Required {
		if _, ok := args[req]; !ok {
			err := &InvocationError{Tool: name, Err: fmt.Errorf("%w: %s", ErrMissingArgument, req)}
			return Failed(err), err
		}
	}

	payload, err := r.call(ctx, e, args)
	if err != nil {
		err = &InvocationError{Tool: name, Err: err}
		r.logger.Warn("tool call failed", slog.String("tool", name), slog.Any("err", err))
		return Failed(err), err
	}

	r.logger.Debug("tool call", slog.String("tool", name), slog.Any("args", args), slog.Any("res", payload))
	return OK(payload), nil
}

func (r *Registry) call(ctx context.Context, e entry, args map[string]any) (payload map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return e.handler(ctx, args)
}
