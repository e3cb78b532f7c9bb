// Package scratch exposes the swarm scratchpad to agents: shared,
// path-addressed storage for intermediate artifacts. Entries survive
// delegation hops and context compression but not process exit (unless
// snapshotted).
package scratch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/hive"
)

// Specs returns the registry specs for the scratchpad tool set.
func Specs() []hive.ToolSpec {
	req := []string{hive.ReqScratchpad}
	return []hive.ToolSpec{
		{Name: "ScratchWrite", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &writeTool{store: tctx.Scratchpad}, nil
		}},
		{Name: "ScratchRead", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &readTool{store: tctx.Scratchpad}, nil
		}},
		{Name: "ScratchList", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &listTool{store: tctx.Scratchpad}, nil
		}},
		{Name: "ScratchGlob", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &globTool{store: tctx.Scratchpad}, nil
		}},
		{Name: "ScratchGrep", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &grepTool{store: tctx.Scratchpad}, nil
		}},
		{Name: "ScratchDelete", Requirements: req, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &deleteTool{store: tctx.Scratchpad}, nil
		}},
	}
}

// formatInfos renders a listing the way every scratch tool reports paths.
func formatInfos(infos []hive.EntryInfo) string {
	if len(infos) == 0 {
		return "No entries."
	}
	var b strings.Builder
	for _, info := range infos {
		fmt.Fprintf(&b, "%s (%d bytes", info.Path, info.Size)
		if info.Title != "" {
			fmt.Fprintf(&b, ", %q", info.Title)
		}
		b.WriteString(")\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// --- write ---

type writeTool struct {
	store hive.Storage
}

func (t *writeTool) Name() string { return "ScratchWrite" }

func (t *writeTool) Description() string {
	return "Write an entry to the shared scratchpad. Overwrites any existing entry at the same path. Use for notes, drafts, and data other agents should see."
}

func (t *writeTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Slash-separated entry path, e.g. notes/plan.md"},"content":{"type":"string"},"title":{"type":"string","description":"Optional short title"}},"required":["path","content"]}`)
}

func (t *writeTool) Removable() bool { return true }

func (t *writeTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if err := t.store.Write(params.Path, []byte(params.Content), params.Title, nil); err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	return hive.ToolResult{Content: fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), params.Path)}, nil
}

// --- read ---

type readTool struct {
	store hive.Storage
}

func (t *readTool) Name() string { return "ScratchRead" }

func (t *readTool) Description() string {
	return "Read a scratchpad entry by path."
}

func (t *readTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

func (t *readTool) Removable() bool { return true }

func (t *readTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	entry, err := t.store.Read(params.Path)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	return hive.ToolResult{Content: string(entry.Content)}, nil
}

// --- list ---

type listTool struct {
	store hive.Storage
}

func (t *listTool) Name() string { return "ScratchList" }

func (t *listTool) Description() string {
	return "List scratchpad entries, optionally under a path prefix."
}

func (t *listTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"prefix":{"type":"string","description":"Optional path prefix filter"}}}`)
}

func (t *listTool) Removable() bool { return true }

func (t *listTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Prefix string `json:"prefix"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
		}
	}
	infos, err := t.store.List(params.Prefix)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	return hive.ToolResult{Content: formatInfos(infos)}, nil
}

// --- glob ---

type globTool struct {
	store hive.Storage
}

func (t *globTool) Name() string { return "ScratchGlob" }

func (t *globTool) Description() string {
	return "Find scratchpad entries by glob pattern (** spans segments, * within a segment, ? one character). Results are most recently updated first."
}

func (t *globTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"}},"required":["pattern"]}`)
}

func (t *globTool) Removable() bool { return true }

func (t *globTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Pattern string `json:"pattern"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	infos, err := t.store.Glob(params.Pattern)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	return hive.ToolResult{Content: formatInfos(infos)}, nil
}

// --- grep ---

type grepTool struct {
	store hive.Storage
}

func (t *grepTool) Name() string { return "ScratchGrep" }

func (t *grepTool) Description() string {
	return "Regex-search scratchpad entry contents. Modes: files_with_matches (default), content (matching lines), count (match counts)."
}

func (t *grepTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"pattern":{"type":"string"},"mode":{"type":"string","enum":["files_with_matches","content","count"]},"case_insensitive":{"type":"boolean"}},"required":["pattern"]}`)
}

func (t *grepTool) Removable() bool { return true }

func (t *grepTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Pattern         string `json:"pattern"`
		Mode            string `json:"mode"`
		CaseInsensitive bool   `json:"case_insensitive"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	results, err := t.store.Grep(params.Pattern, hive.GrepOptions{
		Mode:            hive.GrepMode(params.Mode),
		CaseInsensitive: params.CaseInsensitive,
	})
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	if len(results) == 0 {
		return hive.ToolResult{Content: "No matches."}, nil
	}

	var b strings.Builder
	for _, r := range results {
		switch {
		case len(r.Lines) > 0:
			for _, line := range r.Lines {
				fmt.Fprintf(&b, "%s:%d: %s\n", r.Path, line.LineNumber, line.Content)
			}
		case r.Count > 0:
			fmt.Fprintf(&b, "%s: %d\n", r.Path, r.Count)
		default:
			fmt.Fprintf(&b, "%s\n", r.Path)
		}
	}
	return hive.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// --- delete ---

type deleteTool struct {
	store hive.Storage
}

func (t *deleteTool) Name() string { return "ScratchDelete" }

func (t *deleteTool) Description() string {
	return "Delete a scratchpad entry by path."
}

func (t *deleteTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
}

func (t *deleteTool) Removable() bool { return true }

func (t *deleteTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if err := t.store.Delete(params.Path); err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	return hive.ToolResult{Content: "Deleted " + params.Path}, nil
}

// compile-time checks
var (
	_ hive.Tool = (*writeTool)(nil)
	_ hive.Tool = (*readTool)(nil)
	_ hive.Tool = (*listTool)(nil)
	_ hive.Tool = (*globTool)(nil)
	_ hive.Tool = (*grepTool)(nil)
	_ hive.Tool = (*deleteTool)(nil)
)
