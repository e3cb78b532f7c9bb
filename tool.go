package hive

import (
	"context"
	"encoding/json"
	"sort"
)

// Tool is one agent capability exposed to the LLM via function calling.
type Tool interface {
	// Name is the function name the LLM calls.
	Name() string
	// Description tells the LLM when to use the tool.
	Description() string
	// ParamsSchema is the JSON Schema of the arguments object.
	ParamsSchema() json.RawMessage
	// Execute runs the tool. Domain failures are reported in
	// ToolResult.Error so the model can recover; a non-nil error is
	// reserved for infrastructure faults.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)
	// Removable reports whether a skill load may replace this tool.
	// Think, Clock, TodoWrite, and the memory tools persist across skills.
	Removable() bool
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content string      `json:"content"`
	Images  []ImageData `json:"images,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// DefinitionOf builds the LLM-facing definition for a tool.
func DefinitionOf(t Tool) ToolDefinition {
	return ToolDefinition{Name: t.Name(), Description: t.Description(), Parameters: t.ParamsSchema()}
}

// --- Creation requirements ---

// Context keys a tool may require at construction time. Create validates
// that each requirement is satisfied before instantiating.
const (
	ReqAgentName   = "agent_name"
	ReqDirectory   = "directory"
	ReqScratchpad  = "scratchpad_storage"
	ReqMemory      = "memory_storage"
	ReqReadTracker = "read_tracker"
	ReqSkillLoader = "skill_loader"
)

// SkillLoader swaps an agent's removable tools for a skill's declared set.
// The conversation engine implements it; tools/skill exposes it to the LLM.
type SkillLoader interface {
	LoadSkill(ctx context.Context, path string) (string, error)
}

// ToolContext carries everything a tool factory may bind to. Which fields
// are populated depends on the agent; specs declare what they need.
type ToolContext struct {
	AgentName    string
	Directory    string
	Scratchpad   Storage
	Memory       Storage
	ReadTracker  *ReadTracker
	SkillLoader  SkillLoader
	Events       *EventLog
	TokenCounter *TokenCounter
	// ContextLimit is the agent's model context window in tokens; file
	// tools use it to refuse single results that could never fit.
	ContextLimit int
}

func (tc ToolContext) satisfies(req string) bool {
	switch req {
	case ReqAgentName:
		return tc.AgentName != ""
	case ReqDirectory:
		return tc.Directory != ""
	case ReqScratchpad:
		return tc.Scratchpad != nil
	case ReqMemory:
		return tc.Memory != nil
	case ReqReadTracker:
		return tc.ReadTracker != nil
	case ReqSkillLoader:
		return tc.SkillLoader != nil
	}
	return false
}

// ToolSpec declares how to build one tool.
type ToolSpec struct {
	Name string
	// Requirements lists the ToolContext keys the factory needs.
	Requirements []string
	// Guard names the argument the permission policy inspects (e.g.
	// "command" for Bash, "file_path" for Write). Empty means unguarded.
	Guard string
	// New constructs the tool bound to the given context.
	New func(ToolContext) (Tool, error)
}

// ToolRegistry maps tool names to their specs. Built-ins register at
// program start; the registry is immutable once a swarm is built. Plugin
// tools are contributed separately via the PluginRegistry.
type ToolRegistry struct {
	specs map[string]ToolSpec
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{specs: make(map[string]ToolSpec)}
}

// Register adds specs, replacing any same-named ones.
func (r *ToolRegistry) Register(specs ...ToolSpec) {
	for _, s := range specs {
		r.specs[s.Name] = s
	}
}

// Get returns the spec for name.
func (r *ToolRegistry) Get(name string) (ToolSpec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns all registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate returns the subset of names that are unknown to the registry.
func (r *ToolRegistry) Validate(names []string) []string {
	var unknown []string
	for _, n := range names {
		if _, ok := r.specs[n]; !ok {
			unknown = append(unknown, n)
		}
	}
	return unknown
}

// Create validates the spec's requirements against tctx, constructs the
// instance, and wraps it with the permission rule. A missing requirement is
// a configuration error naming the key.
func (r *ToolRegistry) Create(name string, tctx ToolContext, rule PermissionRule) (Tool, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, Configf("unknown tool %q", name)
	}
	for _, req := range spec.Requirements {
		if !tctx.satisfies(req) {
			return nil, Configf("tool %q requires %s, which is not configured for agent %q", name, req, tctx.AgentName)
		}
	}
	t, err := spec.New(tctx)
	if err != nil {
		return nil, err
	}
	return GuardTool(t, spec.Guard, rule)
}

// --- Permission wrapping ---

// guardedTool checks one argument of every call against a compiled
// permission rule before delegating to the inner tool.
type guardedTool struct {
	Tool
	guard string
	rule  *CompiledRule
}

// GuardTool wraps t so that calls whose guard argument violates the rule
// fail with a permission error in the tool result. Tools without a guard
// key, and zero rules, pass through unwrapped.
func GuardTool(t Tool, guard string, rule PermissionRule) (Tool, error) {
	if guard == "" || rule.IsZero() {
		return t, nil
	}
	compiled, err := CompileRule(t.Name(), rule)
	if err != nil {
		return nil, err
	}
	return &guardedTool{Tool: t, guard: guard, rule: compiled}, nil
}

func (g *guardedTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(args, &fields); err != nil {
		return ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	var value string
	if raw, ok := fields[g.guard]; ok {
		if err := json.Unmarshal(raw, &value); err != nil {
			return ToolResult{Error: "invalid " + g.guard + " argument: " + err.Error()}, nil
		}
	}
	if err := g.rule.Check(value); err != nil {
		return ToolResult{Error: err.Error()}, nil
	}
	return g.Tool.Execute(ctx, args)
}
