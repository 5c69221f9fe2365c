package podflow

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Inputs carries the resolved input bindings of a node, keyed by input name.
type Inputs map[string]any

// String returns the named input as a string, or "" when absent or not a
// string.
func (in Inputs) String(name string) string {
	s, _ := in[name].(string)
	return s
}

// Strings coerces the named input to a string slice. Both []string and
// []any-of-string are accepted; anything else yields nil.
func (in Inputs) Strings(name string) []string {
	switch v := in[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Map returns the named input as a map, or nil.
func (in Inputs) Map(name string) map[string]any {
	m, _ := in[name].(map[string]any)
	return m
}

// Slice returns the named input as a slice, or nil.
func (in Inputs) Slice(name string) []any {
	s, _ := in[name].([]any)
	return s
}

// Params carries a node's static parameters.
type Params map[string]any

// String returns the named parameter as a string, falling back to def.
func (p Params) String(name, def string) string {
	if s, ok := p[name].(string); ok && s != "" {
		return s
	}
	return def
}

// Int returns the named parameter as an int, falling back to def.
func (p Params) Int(name string, def int) int {
	switch v := p[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Bool returns the named parameter interpreted for truthiness.
func (p Params) Bool(name string) bool {
	v, ok := p[name]
	return ok && IsTruthy(v)
}

// Duration reads the named parameter as a timeout in milliseconds, falling
// back to def.
func (p Params) Duration(name string, def time.Duration) time.Duration {
	if ms := p.Int(name, 0); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

// Capability is an asynchronous operation invoked by a compute node. It may
// perform side effects but must not touch scheduler state: it only returns a
// value or an error.
type Capability func(ctx context.Context, in Inputs, params Params) (any, error)

// Definition registers a capability under a symbolic name.
type Definition struct {
	Name        string
	Description string
	Category    string // "llm", "search", "data", "voice", "media", "storage"
	Fn          Capability
}

// Registry maps symbolic operation names to capabilities. It is safe for
// concurrent use; composition happens at startup and is read-only afterwards.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a capability definition. Re-registering a name overwrites
// the previous definition.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("capability name is empty")
	}
	if def.Fn == nil {
		return fmt.Errorf("capability %q has no function", def.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// Resolve returns the capability registered under name.
func (r *Registry) Resolve(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCapabilityNotFound, name)
	}
	return def.Fn, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.defs[name]
	return ok
}

// All returns every definition in registration order.
func (r *Registry) All() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name])
	}
	return out
}

// Suppressed converts err into the structured onError output when the
// supressError parameter is set, letting a graph branch on failure instead
// of aborting. Capabilities with fallback branches call this on every error
// path.
func Suppressed(params Params, err error) (any, error) {
	if !params.Bool("supressError") {
		return nil, err
	}
	out := map[string]any{
		"message": err.Error(),
	}
	if cause := fmt.Sprintf("%T", err); cause != "" {
		out["cause"] = cause
	}
	return map[string]any{"onError": out}, nil
}

// WithCapabilityTimeout derives a context honoring the conventional timeout
// parameter (milliseconds). def applies when the parameter is absent.
func WithCapabilityTimeout(ctx context.Context, params Params, def time.Duration) (context.Context, context.CancelFunc) {
	d := params.Duration("timeout", def)
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
