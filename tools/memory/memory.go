// Package memory gives agents durable, cross-execution recall on top of a
// persistent Storage backend. Each agent writes under its own namespace so
// memories survive process restarts without leaking between agents.
//
// The package is used two ways: register Specs() for a shared memory store
// keyed by agent name, or register the Plugin for per-agent namespace
// configuration that rides through snapshots.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/hive"
)

// Specs returns the registry specs for the memory tool set. The namespace
// defaults to agents/<agent name>.
func Specs() []hive.ToolSpec {
	req := []string{hive.ReqMemory, hive.ReqAgentName}
	return []hive.ToolSpec{
		{Name: "Remember", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &rememberTool{binding: defaultBinding(tctx)}, nil
		}},
		{Name: "Recall", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &recallTool{binding: defaultBinding(tctx)}, nil
		}},
		{Name: "ListMemories", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &listTool{binding: defaultBinding(tctx)}, nil
		}},
		{Name: "SearchMemories", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &searchTool{binding: defaultBinding(tctx)}, nil
		}},
		{Name: "Forget", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &forgetTool{binding: defaultBinding(tctx)}, nil
		}},
	}
}

// binding scopes the memory tools to one agent's namespace in the store.
type binding struct {
	store     hive.Storage
	namespace string
}

func defaultBinding(tctx hive.ToolContext) *binding {
	return &binding{store: tctx.Memory, namespace: "agents/" + tctx.AgentName}
}

func (b *binding) fullPath(path string) string {
	return b.namespace + "/" + strings.TrimPrefix(path, "/")
}

func (b *binding) relPath(full string) string {
	return strings.TrimPrefix(full, b.namespace+"/")
}

// --- Remember ---

type rememberTool struct {
	binding *binding
}

func (t *rememberTool) Name() string { return "Remember" }

func (t *rememberTool) Description() string {
	return "Store a memory for future executions. Use stable paths like preferences/style or facts/project-layout so you can find it again."
}

func (t *rememberTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Slash-separated memory path"},"content":{"type":"string"},"title":{"type":"string"}},"required":["path","content"]}`)
}

// Removable reports false: memories stay reachable under every skill.
func (t *rememberTool) Removable() bool { return false }

func (t *rememberTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if err := t.binding.store.Write(t.binding.fullPath(params.Path), []byte(params.Content), params.Title, nil); err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	return hive.ToolResult{Content: "Remembered " + params.Path}, nil
}

// --- Recall ---

type recallTool struct {
	binding *binding
}

func (t *recallTool) Name() string { return "Recall" }

func (t *recallTool) Description() string {
	return "Retrieve a stored memory by path."
}

func (t *recallTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

func (t *recallTool) Removable() bool { return false }

func (t *recallTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	entry, err := t.binding.store.Read(t.binding.fullPath(params.Path))
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	return hive.ToolResult{Content: string(entry.Content)}, nil
}

// --- ListMemories ---

type listTool struct {
	binding *binding
}

func (t *listTool) Name() string { return "ListMemories" }

func (t *listTool) Description() string {
	return "List your stored memories, optionally under a path prefix."
}

func (t *listTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"prefix":{"type":"string"}}}`)
}

func (t *listTool) Removable() bool { return false }

func (t *listTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Prefix string `json:"prefix"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
		}
	}
	infos, err := t.binding.store.List(t.binding.fullPath(params.Prefix))
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	if len(infos) == 0 {
		return hive.ToolResult{Content: "No memories."}, nil
	}
	var b strings.Builder
	for _, info := range infos {
		fmt.Fprintf(&b, "%s (%d bytes", t.binding.relPath(info.Path), info.Size)
		if info.Title != "" {
			fmt.Fprintf(&b, ", %q", info.Title)
		}
		b.WriteString(")\n")
	}
	return hive.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// --- SearchMemories ---

type searchTool struct {
	binding *binding
}

func (t *searchTool) Name() string { return "SearchMemories" }

func (t *searchTool) Description() string {
	return "Regex-search the contents of your stored memories."
}

func (t *searchTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"},"case_insensitive":{"type":"boolean"}},"required":["pattern"]}`)
}

func (t *searchTool) Removable() bool { return false }

func (t *searchTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Pattern         string `json:"pattern"`
		CaseInsensitive bool   `json:"case_insensitive"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	results, err := t.binding.store.Grep(params.Pattern, hive.GrepOptions{
		Mode:            hive.GrepContent,
		CaseInsensitive: params.CaseInsensitive,
	})
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}

	// The store is shared; keep only hits inside this agent's namespace.
	var b strings.Builder
	for _, r := range results {
		if !strings.HasPrefix(r.Path, t.binding.namespace+"/") {
			continue
		}
		for _, line := range r.Lines {
			fmt.Fprintf(&b, "%s:%d: %s\n", t.binding.relPath(r.Path), line.LineNumber, line.Content)
		}
	}
	if b.Len() == 0 {
		return hive.ToolResult{Content: "No matches."}, nil
	}
	return hive.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// --- Forget ---

type forgetTool struct {
	binding *binding
}

func (t *forgetTool) Name() string { return "Forget" }

func (t *forgetTool) Description() string {
	return "Delete a stored memory by path."
}

func (t *forgetTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

func (t *forgetTool) Removable() bool { return false }

func (t *forgetTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if err := t.binding.store.Delete(t.binding.fullPath(params.Path)); err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	return hive.ToolResult{Content: "Forgot " + params.Path}, nil
}

// compile-time checks
var (
	_ hive.Tool = (*rememberTool)(nil)
	_ hive.Tool = (*recallTool)(nil)
	_ hive.Tool = (*listTool)(nil)
	_ hive.Tool = (*searchTool)(nil)
	_ hive.Tool = (*forgetTool)(nil)
)
