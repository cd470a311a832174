package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/graphflow/llm"
)

// Request is the engine-side view of one agent invocation. Context is a
// snapshot taken when the node starts; writes from concurrently running agents
// are never visible inside it.
type Request struct {
	UserMessage string
	Context     map[string]any
	Settings    map[string]any
	ModelClass  llm.ModelClass
}

// Result is what a handler returns. ContextUpdates are merged into the run's
// context store after the call returns; Metadata is surfaced on the event bus.
type Result struct {
	Action         string
	Content        string
	Metadata       map[string]any
	ContextUpdates map[string]any
	// Err marks a recoverable failure whose message belongs in the step
	// metadata rather than terminating the run.
	Err string
}

// Handler implements a single node type against the shared context. Input and
// output nodes have no handler; the engine processes them directly.
type Handler interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req Request) (*Result, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}

// registration couples a handler with its defaults.
type registration struct {
	handler      Handler
	defaultClass llm.ModelClass
}

// Registry maps node types to their handlers. Registration happens at startup;
// lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	handlers map[NodeType]registration
	logger   *zap.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[NodeType]registration),
		logger:   logger.With(zap.String("component", "agent_registry")),
	}
}

// Register installs a handler for a node type with its default model class.
func (r *Registry) Register(nodeType NodeType, handler Handler, defaultClass llm.ModelClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[nodeType] = registration{handler: handler, defaultClass: defaultClass}
	r.logger.Info("agent registered", zap.String("type", string(nodeType)))
}

// Lookup returns the handler and default model class for a node type.
func (r *Registry) Lookup(nodeType NodeType) (Handler, llm.ModelClass, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[nodeType]
	if !ok {
		return nil, "", fmt.Errorf("no handler registered for node type %q", nodeType)
	}
	return reg.handler, reg.defaultClass, nil
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]NodeType, 0, len(r.handlers))
	for t := range r.handlers {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
