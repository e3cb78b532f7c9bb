package hive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// --- Event taxonomy ---

// Stable event type strings. The set is part of the event stream schema:
// consumers switch on Event.Type.
const (
	EventAgentStart              = "agent_start"
	EventAgentStep               = "agent_step"
	EventAgentStop               = "agent_stop"
	EventToolCall                = "tool_call"
	EventToolResult              = "tool_result"
	EventAgentDelegation         = "agent_delegation"
	EventDelegationResult        = "delegation_result"
	EventContextThresholdHit     = "context_threshold_hit"
	EventContextLimitWarning     = "context_limit_warning"
	EventContextCompression      = "context_compression"
	EventContextManagementAction = "context_management_action"
	EventToolError               = "tool_error"
	EventInternalError           = "internal_error"
	EventOpenAIRequest           = "openai_request"
	EventOpenAIResponse          = "openai_response"
	EventModelLookupWarning      = "model_lookup_warning"
)

// Event is one structured entry in the swarm event stream. Lineage fields
// (swarm, parent swarm, execution) are injected at emit time from the
// task-local context when absent. Payload carries type-specific fields and
// is flattened into the JSON object alongside the fixed fields.
type Event struct {
	Type          string
	Timestamp     int64
	SwarmID       string
	ParentSwarmID string
	ExecutionID   string
	Agent         string
	Payload       map[string]any
}

// Field returns the named event field as a string. Fixed fields are checked
// first, then the payload. The second return is false when the field is
// absent.
func (e Event) Field(key string) (string, bool) {
	switch key {
	case "type":
		return e.Type, e.Type != ""
	case "timestamp":
		return fmt.Sprint(e.Timestamp), e.Timestamp != 0
	case "swarm_id":
		return e.SwarmID, e.SwarmID != ""
	case "parent_swarm_id":
		return e.ParentSwarmID, e.ParentSwarmID != ""
	case "execution_id":
		return e.ExecutionID, e.ExecutionID != ""
	case "agent":
		return e.Agent, e.Agent != ""
	}
	v, ok := e.Payload[key]
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}

// MarshalJSON flattens the payload into the top-level object. Fixed fields
// win over payload keys of the same name.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Payload)+6)
	for k, v := range e.Payload {
		obj[k] = v
	}
	obj["type"] = e.Type
	obj["timestamp"] = e.Timestamp
	if e.SwarmID != "" {
		obj["swarm_id"] = e.SwarmID
	}
	if e.ParentSwarmID != "" {
		obj["parent_swarm_id"] = e.ParentSwarmID
	}
	if e.ExecutionID != "" {
		obj["execution_id"] = e.ExecutionID
	}
	if e.Agent != "" {
		obj["agent"] = e.Agent
	}
	return json.Marshal(obj)
}

// UnmarshalJSON is the inverse of MarshalJSON: fixed fields are lifted out
// of the object and the remainder becomes the payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	take := func(key string) string {
		v, ok := obj[key]
		if !ok {
			return ""
		}
		delete(obj, key)
		s, _ := v.(string)
		return s
	}
	e.Type = take("type")
	if ts, ok := obj["timestamp"].(float64); ok {
		e.Timestamp = int64(ts)
	}
	delete(obj, "timestamp")
	e.SwarmID = take("swarm_id")
	e.ParentSwarmID = take("parent_swarm_id")
	e.ExecutionID = take("execution_id")
	e.Agent = take("agent")
	if len(obj) > 0 {
		e.Payload = obj
	}
	return nil
}

// Filter selects events for a subscription. Every key must equal the
// corresponding event field; an event missing a filtered field never
// matches. An empty filter matches everything.
type Filter map[string]string

// Matches reports whether the event satisfies every filter key.
func (f Filter) Matches(e Event) bool {
	for k, want := range f {
		got, ok := e.Field(k)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// --- Task-local lineage context ---

// SwarmContext is the lineage carried on a context.Context for the duration
// of one execution. Child tasks (tool execution, delegation) inherit it, so
// events carry correct ids even when a swarm value is reused concurrently.
type SwarmContext struct {
	SwarmID       string
	ParentSwarmID string
	ExecutionID   string
}

type swarmContextKey struct{}

// WithSwarmContext decorates ctx with execution lineage. The orchestrator
// installs it before the lead agent runs.
func WithSwarmContext(ctx context.Context, sc SwarmContext) context.Context {
	return context.WithValue(ctx, swarmContextKey{}, sc)
}

// SwarmContextFrom extracts the lineage from ctx, if set.
func SwarmContextFrom(ctx context.Context) (SwarmContext, bool) {
	sc, ok := ctx.Value(swarmContextKey{}).(SwarmContext)
	return sc, ok
}

// --- Event log ---

type subscription struct {
	id      int
	filter  Filter
	handler func(Event)
}

// EventLog is a single-writer, multi-subscriber stream of structured
// events. Delivery is synchronous in the emitter's goroutine, so emission
// order within one goroutine is the observed order. A panicking handler
// never stops delivery to other subscribers; the panic is recovered and
// re-emitted as an internal_error event.
type EventLog struct {
	mu     sync.RWMutex
	subs   map[int]*subscription
	nextID int
	logger *slog.Logger
}

// EventLogOption configures an EventLog.
type EventLogOption func(*EventLog)

// WithEventLogger sets a structured logger for subscriber failures.
func WithEventLogger(l *slog.Logger) EventLogOption {
	return func(el *EventLog) { el.logger = l }
}

// NewEventLog creates an empty event log.
func NewEventLog(opts ...EventLogOption) *EventLog {
	el := &EventLog{subs: make(map[int]*subscription), logger: nopLogger}
	for _, o := range opts {
		o(el)
	}
	return el
}

// Subscribe registers a handler for events matching the filter and returns
// a subscription id for Unsubscribe.
func (l *EventLog) Subscribe(filter Filter, handler func(Event)) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.subs[id] = &subscription{id: id, filter: filter, handler: handler}
	return id
}

// Unsubscribe removes a subscription. Unknown ids are a no-op.
func (l *EventLog) Unsubscribe(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs, id)
}

// Emit delivers the event to every matching subscriber, injecting lineage
// ids from the task-local context and a timestamp when absent.
func (l *EventLog) Emit(ctx context.Context, ev Event) {
	if sc, ok := SwarmContextFrom(ctx); ok {
		if ev.SwarmID == "" {
			ev.SwarmID = sc.SwarmID
		}
		if ev.ParentSwarmID == "" {
			ev.ParentSwarmID = sc.ParentSwarmID
		}
		if ev.ExecutionID == "" {
			ev.ExecutionID = sc.ExecutionID
		}
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = NowUnix()
	}

	// Snapshot subscribers under the read lock, deliver outside it so a
	// handler that subscribes or unsubscribes does not deadlock.
	l.mu.RLock()
	snapshot := make([]*subscription, 0, len(l.subs))
	for _, s := range l.subs {
		snapshot = append(snapshot, s)
	}
	l.mu.RUnlock()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].id < snapshot[j].id })

	for _, s := range snapshot {
		if !s.filter.Matches(ev) {
			continue
		}
		l.deliver(ctx, s, ev)
	}
}

// deliver invokes one handler with panic isolation. Panics from handlers of
// internal_error events are logged only, never re-emitted, so a broken
// subscriber cannot loop the log.
func (l *EventLog) deliver(ctx context.Context, s *subscription, ev Event) {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		l.logger.Error("event subscriber panicked", "type", ev.Type, "panic", p)
		if ev.Type != EventInternalError {
			l.Emit(ctx, Event{
				Type:  EventInternalError,
				Agent: ev.Agent,
				Payload: map[string]any{
					"source": "event_subscriber",
					"event":  ev.Type,
					"error":  fmt.Sprint(p),
				},
			})
		}
	}()
	s.handler(ev)
}
