package hive

import (
	"encoding/json"
	"sort"
)

// Plugin contributes tools to agents at swarm build time and carries
// opaque per-agent state through snapshots. The memory plugin is the
// canonical example: it binds the memory tools to each agent's configured
// memory directory and snapshots that binding.
type Plugin interface {
	// Name keys the plugin in agent definitions and snapshots.
	Name() string
	// Tools returns the tool instances contributed to one agent. The
	// per-plugin config comes from the agent definition's Plugins map.
	Tools(def AgentDefinition, tctx ToolContext) ([]Tool, error)
	// State exports the plugin's opaque per-agent state for snapshots.
	// A nil result means no state for that agent.
	State(agent string) (json.RawMessage, error)
	// RestoreState reinstates snapshotted per-agent state.
	RestoreState(agent string, state json.RawMessage) error
}

// PluginRegistry holds the plugins registered for a swarm. Registration
// happens before the swarm is built; afterwards the set is read-only.
type PluginRegistry struct {
	plugins map[string]Plugin
	order   []string
}

// NewPluginRegistry creates an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin. Same-named plugins replace.
func (r *PluginRegistry) Register(p Plugin) {
	if _, ok := r.plugins[p.Name()]; !ok {
		r.order = append(r.order, p.Name())
	}
	r.plugins[p.Name()] = p
}

// Get returns a plugin by name.
func (r *PluginRegistry) Get(name string) (Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns registered plugin names in registration order.
func (r *PluginRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

// ToolsFor collects every plugin's tool contributions for one agent.
func (r *PluginRegistry) ToolsFor(def AgentDefinition, tctx ToolContext) ([]Tool, error) {
	var tools []Tool
	for _, name := range r.order {
		contributed, err := r.plugins[name].Tools(def, tctx)
		if err != nil {
			return nil, err
		}
		tools = append(tools, contributed...)
	}
	return tools, nil
}

// ExportStates gathers plugin -> agent -> opaque state for the snapshot
// engine. Plugins and agents with no state are omitted.
func (r *PluginRegistry) ExportStates(agents []string) (map[string]map[string]json.RawMessage, error) {
	sorted := append([]string(nil), agents...)
	sort.Strings(sorted)
	out := make(map[string]map[string]json.RawMessage)
	for _, name := range r.order {
		p := r.plugins[name]
		for _, agent := range sorted {
			state, err := p.State(agent)
			if err != nil {
				return nil, err
			}
			if state == nil {
				continue
			}
			if out[name] == nil {
				out[name] = make(map[string]json.RawMessage)
			}
			out[name][agent] = state
		}
	}
	return out, nil
}

// RestoreStates reinstates a snapshot's plugin state map. Unknown plugins
// are skipped — a snapshot may carry state for plugins not registered in
// this process.
func (r *PluginRegistry) RestoreStates(states map[string]map[string]json.RawMessage) error {
	for name, agents := range states {
		p, ok := r.plugins[name]
		if !ok {
			continue
		}
		for agent, state := range agents {
			if err := p.RestoreState(agent, state); err != nil {
				return err
			}
		}
	}
	return nil
}
