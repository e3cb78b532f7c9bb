package hive

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
)

// Hook points fired by the conversation engine and context manager.
const (
	HookAgentStep      = "agent_step"
	HookAgentStop      = "agent_stop"
	HookContextWarning = "context_warning"
	HookPreTool        = "pre_tool"
	HookPostTool       = "post_tool"
)

// HookEvent is the payload delivered to hook handlers.
type HookEvent struct {
	Point    string
	Agent    string
	ToolName string   // set for pre_tool and post_tool
	ToolCall ToolCall // set for pre_tool and post_tool
	// Result is the tool outcome for post_tool, nil otherwise.
	Result *ToolResult
	// Content is the assistant text for agent_step/agent_stop.
	Content string
	// Threshold is the crossed percentage for context_warning.
	Threshold int
}

// HookFunc handles one hook invocation. Errors are captured, logged, and
// re-emitted as internal_error events; they never affect other hooks or
// the engine.
type HookFunc func(ctx context.Context, ev HookEvent) error

// Hook is one registered handler.
type Hook struct {
	// Matcher optionally restricts tool-level hooks to tool names
	// matching the regular expression. Empty matches every tool.
	Matcher string
	// Priority orders invocation: lower runs first; ties keep
	// registration order.
	Priority int
	Fn       HookFunc

	matcher *regexp.Regexp
	seq     int
}

// HookRegistry dispatches named lifecycle events to ordered handlers.
type HookRegistry struct {
	mu     sync.Mutex
	hooks  map[string][]*Hook
	seq    int
	events *EventLog
	logger *slog.Logger
}

// NewHookRegistry creates an empty registry emitting failures to events.
func NewHookRegistry(events *EventLog) *HookRegistry {
	return &HookRegistry{hooks: make(map[string][]*Hook), events: events, logger: nopLogger}
}

// SetLogger sets a structured logger for hook failures.
func (r *HookRegistry) SetLogger(l *slog.Logger) { r.logger = l }

// Register adds a hook at the given point. Invalid matchers are
// configuration errors.
func (r *HookRegistry) Register(point string, h Hook) error {
	if h.Matcher != "" {
		re, err := regexp.Compile(h.Matcher)
		if err != nil {
			return Configf("hook at %s: invalid matcher %q: %v", point, h.Matcher, err)
		}
		h.matcher = re
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	h.seq = r.seq
	r.hooks[point] = append(r.hooks[point], &h)
	return nil
}

// Fire invokes every matching hook at the point, synchronously, in
// priority order. A panic or error from one hook is isolated.
func (r *HookRegistry) Fire(ctx context.Context, ev HookEvent) {
	r.mu.Lock()
	registered := append([]*Hook(nil), r.hooks[ev.Point]...)
	r.mu.Unlock()
	if len(registered) == 0 {
		return
	}
	sort.SliceStable(registered, func(i, j int) bool {
		if registered[i].Priority != registered[j].Priority {
			return registered[i].Priority < registered[j].Priority
		}
		return registered[i].seq < registered[j].seq
	})
	for _, h := range registered {
		if h.matcher != nil && !h.matcher.MatchString(ev.ToolName) {
			continue
		}
		r.invoke(ctx, h, ev)
	}
}

func (r *HookRegistry) invoke(ctx context.Context, h *Hook, ev HookEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(ctx, ev, p)
		}
	}()
	if err := h.Fn(ctx, ev); err != nil {
		r.fail(ctx, ev, err)
	}
}

func (r *HookRegistry) fail(ctx context.Context, ev HookEvent, cause any) {
	r.logger.Error("hook failed", "point", ev.Point, "agent", ev.Agent, "error", cause)
	if r.events != nil {
		r.events.Emit(ctx, Event{
			Type:  EventInternalError,
			Agent: ev.Agent,
			Payload: map[string]any{
				"source": "hook",
				"point":  ev.Point,
				"error":  toErrString(cause),
			},
		})
	}
}

func toErrString(cause any) string {
	if err, ok := cause.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(cause)
}
