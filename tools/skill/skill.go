// Package skill exposes skill loading to the LLM. Skills are storage
// entries under skills/ with TOML frontmatter; loading one swaps the
// agent's removable tools for the skill's declared set and returns the
// skill body as operating instructions.
package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/hive"
)

// skillPrefix is where skill documents live in storage.
const skillPrefix = "skills/"

// Specs returns the registry specs for the skill tools.
func Specs() []hive.ToolSpec {
	return []hive.ToolSpec{
		{Name: "LoadSkill", Requirements: []string{hive.ReqSkillLoader}, New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &loadTool{loader: tctx.SkillLoader}, nil
		}},
		{Name: "ListSkills", New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &listTool{store: skillStore(tctx)}, nil
		}},
	}
}

// skillStore mirrors the engine: skills live in the memory store when one
// is configured, otherwise the scratchpad (which always carries the
// built-in virtual skill).
func skillStore(tctx hive.ToolContext) hive.Storage {
	if tctx.Memory != nil {
		return tctx.Memory
	}
	return tctx.Scratchpad
}

// --- LoadSkill ---

type loadTool struct {
	loader hive.SkillLoader
}

func (t *loadTool) Name() string { return "LoadSkill" }

func (t *loadTool) Description() string {
	return "Load a skill by storage path. Your removable tools are replaced with the skill's declared set and the skill's instructions are returned. Load before starting work the skill covers."
}

func (t *loadTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"path":{"type":"string","description":"Skill storage path, e.g. skills/release.md"}},"required":["path"]}`)
}

// Removable reports false so an agent can always switch to another skill.
func (t *loadTool) Removable() bool { return false }

func (t *loadTool) Execute(ctx context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	body, err := t.loader.LoadSkill(ctx, params.Path)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	return hive.ToolResult{Content: body}, nil
}

// --- ListSkills ---

type listTool struct {
	store hive.Storage
}

func (t *listTool) Name() string { return "ListSkills" }

func (t *listTool) Description() string {
	return "List the skills available to load, with their titles and descriptions."
}

func (t *listTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *listTool) Removable() bool { return false }

func (t *listTool) Execute(_ context.Context, _ json.RawMessage) (hive.ToolResult, error) {
	if t.store == nil {
		return hive.ToolResult{Error: "no skill storage configured"}, nil
	}
	infos, err := t.store.List(skillPrefix)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	if len(infos) == 0 {
		return hive.ToolResult{Content: "No skills available."}, nil
	}

	var b strings.Builder
	for _, info := range infos {
		entry, err := t.store.Read(info.Path)
		if err != nil {
			continue
		}
		s, err := hive.ParseSkill(info.Path, entry.Content)
		if err != nil {
			fmt.Fprintf(&b, "%s (unparseable: %v)\n", info.Path, err)
			continue
		}
		fmt.Fprintf(&b, "%s: %s", info.Path, s.Title)
		if s.Description != "" {
			fmt.Fprintf(&b, ": %s", s.Description)
		}
		b.WriteString("\n")
	}
	return hive.ToolResult{Content: strings.TrimRight(b.String(), "\n")}, nil
}

// compile-time checks
var (
	_ hive.Tool = (*loadTool)(nil)
	_ hive.Tool = (*listTool)(nil)
)
