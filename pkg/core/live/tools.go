package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// UnknownFunctionText is returned for invocations with no registered handler.
const UnknownFunctionText = "Error: Unknown function call."

// ToolHandler executes one tool invocation and returns the text reported back
// to the model. Returned errors are converted to text by the router.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// ToolParameter is one named argument of a tool.
type ToolParameter struct {
	Name        string `json:"name" yaml:"name"`
	Type        string `json:"type" yaml:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// ToolDeclaration describes a tool the model may call.
type ToolDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  []ToolParameter `json:"parameters,omitempty"`
}

// ToolInvocation is a request from the model. ID is echoed verbatim in the
// matching ToolResult.
type ToolInvocation struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResult answers one ToolInvocation.
type ToolResult struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
	IsError  bool           `json:"-"`
}

// Text returns the "result" field of the response.
func (r ToolResult) Text() string {
	s, _ := r.Response["result"].(string)
	return s
}

func newToolResult(inv ToolInvocation, text string, isErr bool) ToolResult {
	return ToolResult{
		ID:       inv.ID,
		Name:     inv.Name,
		Response: map[string]any{"result": text},
		IsError:  isErr,
	}
}

type registeredTool struct {
	decl    ToolDeclaration
	handler ToolHandler
}

// ToolCallRouter maps tool names to handlers and answers batches of
// invocations.
type ToolCallRouter struct {
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics

	mu    sync.RWMutex
	tools map[string]registeredTool
}

// NewToolCallRouter returns an empty router. Each handler call is bounded by
// timeout when it is positive.
func NewToolCallRouter(timeout time.Duration, logger *slog.Logger, metrics *Metrics) *ToolCallRouter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolCallRouter{
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
		tools:   make(map[string]registeredTool),
	}
}

// Register adds or replaces the handler for decl.Name.
func (r *ToolCallRouter) Register(decl ToolDeclaration, handler ToolHandler) error {
	name := strings.TrimSpace(decl.Name)
	if name == "" {
		return errors.New("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %q: handler is nil", name)
	}
	decl.Name = name
	r.mu.Lock()
	r.tools[name] = registeredTool{decl: decl, handler: handler}
	r.mu.Unlock()
	return nil
}

// Declarations returns the declarations of the named tools in the order
// given. With no names, every registered tool is returned sorted by name.
// Unregistered names are skipped.
func (r *ToolCallRouter) Declarations(names ...string) []ToolDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(names) == 0 {
		out := make([]ToolDeclaration, 0, len(r.tools))
		for _, t := range r.tools {
			out = append(out, t.decl)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out
	}
	out := make([]ToolDeclaration, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[strings.TrimSpace(name)]; ok {
			out = append(out, t.decl)
		}
	}
	return out
}

// Dispatch runs every invocation concurrently and returns once all of them
// have a result. The result slice is index-aligned with invs. Handler
// failures, panics and timeouts become error-text results; Dispatch never
// drops an invocation.
func (r *ToolCallRouter) Dispatch(ctx context.Context, invs []ToolInvocation) []ToolResult {
	results := make([]ToolResult, len(invs))
	var wg sync.WaitGroup
	for i, inv := range invs {
		wg.Add(1)
		go func(idx int, inv ToolInvocation) {
			defer wg.Done()
			results[idx] = r.invoke(ctx, inv)
		}(i, inv)
	}
	wg.Wait()
	return results
}

type handlerOutcome struct {
	text  string
	err   error
	panic any
}

func (r *ToolCallRouter) invoke(ctx context.Context, inv ToolInvocation) ToolResult {
	r.mu.RLock()
	tool, ok := r.tools[strings.TrimSpace(inv.Name)]
	r.mu.RUnlock()
	if !ok {
		r.metrics.toolCall(inv.Name, "unknown")
		r.logger.Warn("model called unknown tool", "tool", inv.Name, "id", inv.ID)
		return newToolResult(inv, UnknownFunctionText, true)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan handlerOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- handlerOutcome{panic: p}
			}
		}()
		text, err := tool.handler(ctx, inv.Args)
		done <- handlerOutcome{text: text, err: err}
	}()

	var out handlerOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = handlerOutcome{err: ctx.Err()}
	}

	switch {
	case out.panic != nil:
		r.metrics.toolCall(inv.Name, "panic")
		r.logger.Error("tool handler panicked", "tool", inv.Name, "id", inv.ID, "panic", out.panic)
		return newToolResult(inv, fmt.Sprintf("Error executing tool: panic: %v", out.panic), true)
	case errors.Is(out.err, context.DeadlineExceeded):
		r.metrics.toolCall(inv.Name, "timeout")
		r.logger.Warn("tool handler timed out", "tool", inv.Name, "id", inv.ID, "error", TimeoutError(inv.Name, out.err))
		return newToolResult(inv, "Error: Tool execution timed out.", true)
	case out.err != nil:
		r.metrics.toolCall(inv.Name, "error")
		r.logger.Warn("tool handler failed", "tool", inv.Name, "id", inv.ID, "error", &Error{Kind: KindToolHandler, Op: inv.Name, Err: out.err})
		return newToolResult(inv, fmt.Sprintf("Error executing tool: %v", out.err), true)
	}
	r.metrics.toolCall(inv.Name, "ok")
	r.logger.Debug("tool handler finished", "tool", inv.Name, "id", inv.ID, "duration", time.Since(start))
	return newToolResult(inv, out.text, false)
}
