package memory

import (
	"encoding/json"
	"sync"

	"github.com/nevindra/hive"
)

// Plugin contributes the memory tool set with per-agent namespaces taken
// from the agent definition:
//
//	[agents.plugins.memory]
//	namespace = "teams/research"
//
// The chosen namespace is the plugin's snapshot state, so a restored swarm
// recalls from the same place even if the definition changed in between.
type Plugin struct {
	store hive.Storage

	mu         sync.Mutex
	namespaces map[string]string // agent -> namespace
}

// NewPlugin creates a memory plugin over a persistent store.
func NewPlugin(store hive.Storage) *Plugin {
	return &Plugin{store: store, namespaces: make(map[string]string)}
}

func (p *Plugin) Name() string { return "memory" }

// Tools implements hive.Plugin.
func (p *Plugin) Tools(def hive.AgentDefinition, _ hive.ToolContext) ([]hive.Tool, error) {
	ns := def.Plugins["memory"]["namespace"]
	if ns == "" {
		ns = "agents/" + def.Name
	}
	if _, err := hive.NormalizePath(ns); err != nil {
		return nil, err
	}

	p.mu.Lock()
	// A restored snapshot may have pinned the namespace already.
	if pinned, ok := p.namespaces[def.Name]; ok {
		ns = pinned
	} else {
		p.namespaces[def.Name] = ns
	}
	p.mu.Unlock()

	b := &binding{store: p.store, namespace: ns}
	return []hive.Tool{
		&rememberTool{binding: b},
		&recallTool{binding: b},
		&listTool{binding: b},
		&searchTool{binding: b},
		&forgetTool{binding: b},
	}, nil
}

type pluginState struct {
	Namespace string `json:"namespace"`
}

// State implements hive.Plugin.
func (p *Plugin) State(agent string) (json.RawMessage, error) {
	p.mu.Lock()
	ns, ok := p.namespaces[agent]
	p.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return json.Marshal(pluginState{Namespace: ns})
}

// RestoreState implements hive.Plugin.
func (p *Plugin) RestoreState(agent string, state json.RawMessage) error {
	var s pluginState
	if err := json.Unmarshal(state, &s); err != nil {
		return hive.Configf("memory plugin state for %q: %v", agent, err)
	}
	p.mu.Lock()
	p.namespaces[agent] = s.Namespace
	p.mu.Unlock()
	return nil
}

var _ hive.Plugin = (*Plugin)(nil)
