package upstream

import (
	"context"
	"fmt"
	"sync"
)

// ToolHandler executes one named tool call and returns a result map that is
// sent back to the peer verbatim.
type ToolHandler func(ctx context.Context, args map[string]any) (map[string]any, error)

// ToolParam describes one string argument of a tool.
type ToolParam struct {
	Name        string
	Description string
}

// ToolSpec is a vendor-neutral tool declaration. Adapters translate specs
// into their own function-declaration shapes.
type ToolSpec struct {
	Name        string
	Description string
	Params      []ToolParam
}

type ToolRegistry struct {
	mu       sync.RWMutex
	specs    []ToolSpec
	handlers map[string]ToolHandler
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		handlers: make(map[string]ToolHandler),
	}
}

func (r *ToolRegistry) Register(spec ToolSpec, handler ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	r.handlers[spec.Name] = handler
}

func (r *ToolRegistry) Specs() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Dispatch runs the handler for name. A missing handler or a handler error
// yields a structured error result rather than failing the session; the
// peer decides how to phrase the failure to the user.
func (r *ToolRegistry) Dispatch(ctx context.Context, name string, args map[string]any) map[string]any {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		return map[string]any{
			"result": "error",
			"detail": fmt.Sprintf("tool %q is not available in this session", name),
		}
	}

	result, err := handler(ctx, args)
	if err != nil {
		return map[string]any{
			"result": "error",
			"detail": err.Error(),
		}
	}
	if result == nil {
		result = map[string]any{"result": "ok"}
	}
	return result
}
