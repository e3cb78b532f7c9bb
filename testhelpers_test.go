package hive

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

// mockProvider pops scripted responses in order. After exhaustion every
// call answers "exhausted" so a runaway loop terminates instead of hanging.
type mockProvider struct {
	name      string
	responses []ChatResponse // popped in order
	idx       int

	mu       sync.Mutex
	requests []ChatRequest
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	resp := m.next()
	m.mu.Unlock()
	return resp, nil
}

func (m *mockProvider) next() ChatResponse {
	if m.idx >= len(m.responses) {
		return ChatResponse{Content: "exhausted"}
	}
	resp := m.responses[m.idx]
	m.idx++
	return resp
}

// chatOutcome is one scripted (response, error) pair for faultProvider.
type chatOutcome struct {
	resp ChatResponse
	err  error
}

// faultProvider pops scripted outcomes, errors included. After exhaustion
// it keeps returning the last outcome.
type faultProvider struct {
	name string

	mu       sync.Mutex
	script   []chatOutcome
	idx      int
	attempts int
}

func (p *faultProvider) Name() string { return p.name }

func (p *faultProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	i := p.idx
	if i >= len(p.script) {
		i = len(p.script) - 1
	} else {
		p.idx++
	}
	out := p.script[i]
	return out.resp, out.err
}

func (p *faultProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// scriptTool is a minimal Tool whose behavior a test injects through fn.
type scriptTool struct {
	name      string
	removable bool
	fn        func(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

func (s *scriptTool) Name() string        { return s.name }
func (s *scriptTool) Description() string { return "test tool " + s.name }
func (s *scriptTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object"}`)
}
func (s *scriptTool) Removable() bool { return s.removable }

func (s *scriptTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	if s.fn != nil {
		return s.fn(ctx, args)
	}
	return ToolResult{Content: "ok from " + s.name}, nil
}

// testRegistry wraps tools in pass-through specs so engines can declare
// them by name.
func testRegistry(tools ...Tool) *ToolRegistry {
	reg := NewToolRegistry()
	for _, t := range tools {
		tool := t
		reg.Register(ToolSpec{
			Name: tool.Name(),
			New:  func(ToolContext) (Tool, error) { return tool, nil },
		})
	}
	return reg
}

func toolNames(tools []Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name()
	}
	return names
}

// newTestEngine builds an engine over the given provider and tools,
// sharing the supplied event log when non-nil.
func newTestEngine(t *testing.T, provider Provider, events *EventLog, tools ...Tool) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Definition: AgentDefinition{
			Name:  "tester",
			Model: "test-model",
			Tools: toolNames(tools),
		},
		Provider: provider,
		Events:   events,
		Registry: testRegistry(tools...),
	})
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

// eventRecorder collects emitted events. Tool dispatch runs on pool
// goroutines, so collection is locked.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) ofType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func recordedEvents(log *EventLog) *eventRecorder {
	rec := &eventRecorder{}
	log.Subscribe(nil, rec.record)
	return rec
}

func rawArgs(s string) json.RawMessage { return json.RawMessage(s) }
