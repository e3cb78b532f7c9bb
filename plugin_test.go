package hive

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

// toolPlugin contributes a fixed tool set and keeps no state.
type toolPlugin struct {
	name  string
	tools []Tool
	err   error
}

func (p *toolPlugin) Name() string { return p.name }

func (p *toolPlugin) Tools(AgentDefinition, ToolContext) ([]Tool, error) {
	return p.tools, p.err
}

func (p *toolPlugin) State(string) (json.RawMessage, error) { return nil, nil }

func (p *toolPlugin) RestoreState(string, json.RawMessage) error { return nil }

func TestPluginRegistryOrder(t *testing.T) {
	reg := NewPluginRegistry()
	reg.Register(&toolPlugin{name: "memory"})
	reg.Register(&toolPlugin{name: "audit"})
	reg.Register(&toolPlugin{name: "memory"}) // replacement keeps position

	if got := reg.Names(); !reflect.DeepEqual(got, []string{"memory", "audit"}) {
		t.Errorf("Names() = %v, want registration order preserved", got)
	}
	if _, ok := reg.Get("audit"); !ok {
		t.Error("Get(audit) not found")
	}
}

func TestPluginRegistryToolsFor(t *testing.T) {
	reg := NewPluginRegistry()
	reg.Register(&toolPlugin{name: "a", tools: []Tool{&scriptTool{name: "One"}}})
	reg.Register(&toolPlugin{name: "b", tools: []Tool{&scriptTool{name: "Two"}, &scriptTool{name: "Three"}}})

	tools, err := reg.ToolsFor(AgentDefinition{Name: "coder"}, ToolContext{})
	if err != nil {
		t.Fatal(err)
	}
	if got := toolNames(tools); !reflect.DeepEqual(got, []string{"One", "Two", "Three"}) {
		t.Errorf("tools = %v, want contributions in plugin order", got)
	}
}

func TestPluginRegistryToolsForError(t *testing.T) {
	reg := NewPluginRegistry()
	reg.Register(&toolPlugin{name: "broken", err: errors.New("no directory configured")})
	if _, err := reg.ToolsFor(AgentDefinition{}, ToolContext{}); err == nil {
		t.Fatal("plugin error swallowed")
	}
}

func TestPluginRegistryExportStates(t *testing.T) {
	reg := NewPluginRegistry()
	stateful := &statePlugin{state: map[string]string{"lead": "alpha", "coder": "beta"}}
	reg.Register(stateful)
	reg.Register(&toolPlugin{name: "stateless"})

	states, err := reg.ExportStates([]string{"lead", "coder", "idle"})
	if err != nil {
		t.Fatal(err)
	}
	if len(states) != 1 {
		t.Fatalf("states = %v, want only the stateful plugin", states)
	}
	agents := states["stateful"]
	if len(agents) != 2 {
		t.Fatalf("agents = %v, want lead and coder only", agents)
	}
	var got string
	if err := json.Unmarshal(agents["lead"], &got); err != nil || got != "alpha" {
		t.Errorf("lead state = %s, want %q", agents["lead"], "alpha")
	}
}

func TestPluginRegistryRestoreStatesSkipsUnknown(t *testing.T) {
	reg := NewPluginRegistry()
	stateful := &statePlugin{state: map[string]string{}}
	reg.Register(stateful)

	err := reg.RestoreStates(map[string]map[string]json.RawMessage{
		"stateful": {"lead": json.RawMessage(`"restored"`)},
		"ghost":    {"lead": json.RawMessage(`"ignored"`)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if stateful.state["lead"] != "restored" {
		t.Errorf("restored state = %q, want %q", stateful.state["lead"], "restored")
	}
}
