package hive

import (
	"context"
	"strings"
	"testing"
)

const releaseSkill = `+++
title = "Release engineer"
description = "Cut and verify a release"
tools = ["Bash"]

[permissions.tools.Bash]
allowed = ["^git ", "^make "]
+++

# Release protocol

Tag, build, verify, publish.
`

func TestParseSkillFrontmatter(t *testing.T) {
	skill, err := ParseSkill("skills/release.md", []byte(releaseSkill))
	if err != nil {
		t.Fatal(err)
	}
	if skill.Title != "Release engineer" {
		t.Errorf("Title = %q, want %q", skill.Title, "Release engineer")
	}
	if skill.Description != "Cut and verify a release" {
		t.Errorf("Description = %q, want %q", skill.Description, "Cut and verify a release")
	}
	if len(skill.Tools) != 1 || skill.Tools[0] != "Bash" {
		t.Errorf("Tools = %v, want [Bash]", skill.Tools)
	}
	rule := skill.Permissions.RuleFor("Bash")
	if len(rule.Allowed) != 2 {
		t.Errorf("Bash rule = %+v, want two allow patterns", rule)
	}
	if !strings.HasPrefix(skill.Body, "# Release protocol") {
		t.Errorf("Body = %q, want it to start at the markdown", skill.Body)
	}
	if strings.Contains(skill.Body, "+++") {
		t.Error("Body still contains the frontmatter fence")
	}
}

func TestParseSkillMarkdownFallback(t *testing.T) {
	content := []byte(`# Incident response

Triage first, then mitigate, then write the postmortem.

## Steps
`)
	skill, err := ParseSkill("skills/incident.md", content)
	if err != nil {
		t.Fatal(err)
	}
	if skill.Title != "Incident response" {
		t.Errorf("Title = %q, want the first heading", skill.Title)
	}
	if !strings.HasPrefix(skill.Description, "Triage first") {
		t.Errorf("Description = %q, want the first paragraph", skill.Description)
	}
}

func TestParseSkillFrontmatterWins(t *testing.T) {
	content := []byte(`+++
title = "From frontmatter"
+++

# From markdown

Body paragraph.
`)
	skill, err := ParseSkill("skills/x.md", content)
	if err != nil {
		t.Fatal(err)
	}
	if skill.Title != "From frontmatter" {
		t.Errorf("Title = %q, want the frontmatter value", skill.Title)
	}
	if skill.Description != "Body paragraph." {
		t.Errorf("Description = %q, want recovered from markdown", skill.Description)
	}
}

func TestParseSkillNoContentFallsBackToPath(t *testing.T) {
	skill, err := ParseSkill("skills/empty.md", []byte(""))
	if err != nil {
		t.Fatal(err)
	}
	if skill.Title != "skills/empty.md" {
		t.Errorf("Title = %q, want the path", skill.Title)
	}
}

func TestParseSkillInvalidFrontmatter(t *testing.T) {
	content := []byte("+++\nnot valid toml ===\n+++\n\nbody")
	if _, err := ParseSkill("skills/bad.md", content); err == nil {
		t.Fatal("invalid frontmatter accepted")
	}
}

func TestParseSkillUnterminatedFence(t *testing.T) {
	content := []byte("+++\ntitle = \"x\"\n\nno closing fence")
	skill, err := ParseSkill("skills/open.md", content)
	if err != nil {
		t.Fatal(err)
	}
	// Without a closing fence the whole document is body.
	if !strings.HasPrefix(skill.Body, "+++") {
		t.Errorf("Body = %q, want the raw document", skill.Body)
	}
}

func TestBuiltInSkillParses(t *testing.T) {
	store := NewScratchpad(0)
	entry, err := store.Read(DeepLearningProtocolPath)
	if err != nil {
		t.Fatal(err)
	}
	skill, err := ParseSkill(entry.Path, entry.Content)
	if err != nil {
		t.Fatal(err)
	}
	if skill.Title != "Deep-Learning Protocol" {
		t.Errorf("Title = %q, want %q", skill.Title, "Deep-Learning Protocol")
	}
	if len(skill.Tools) != 0 {
		t.Errorf("Tools = %v, want none", skill.Tools)
	}
}

// --- Engine skill loading ---

func skillEngine(t *testing.T, store Storage, def AgentDefinition, reg *ToolRegistry) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineConfig{
		Definition:  def,
		Provider:    &mockProvider{name: "test"},
		Registry:    reg,
		SkillSource: store,
	})
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

func TestEngineLoadSkillSwapsRemovableTools(t *testing.T) {
	store := NewScratchpad(0)
	skill := `+++
title = "Shell work"
tools = ["Bash"]
+++

Use the shell.
`
	if err := store.Write("skills/shell.md", []byte(skill), "Shell work", nil); err != nil {
		t.Fatal(err)
	}

	reg := testRegistry(
		&scriptTool{name: "Bash", removable: true},
		&scriptTool{name: "WebFetch", removable: true},
		&scriptTool{name: "Think"}, // non-removable
	)
	engine := skillEngine(t, store, AgentDefinition{
		Name: "coder", Model: "m", Tools: []string{"WebFetch", "Think"},
	}, reg)

	body, err := engine.LoadSkill(context.Background(), "skills/shell.md")
	if err != nil {
		t.Fatal(err)
	}
	if body != "Use the shell." {
		t.Errorf("body = %q, want the skill instructions", body)
	}
	if engine.Context().ActiveSkillPath != "skills/shell.md" {
		t.Errorf("ActiveSkillPath = %q, want the loaded path", engine.Context().ActiveSkillPath)
	}

	names := make(map[string]bool)
	for _, tool := range engine.tools {
		names[tool.Name()] = true
	}
	if !names["Bash"] {
		t.Error("skill tool Bash not loaded")
	}
	if !names["Think"] {
		t.Error("non-removable Think was dropped")
	}
	if names["WebFetch"] {
		t.Error("removable WebFetch survived the skill load")
	}
}

func TestEngineLoadSkillFallsBackToAgentPermissions(t *testing.T) {
	store := NewScratchpad(0)
	skill := `+++
title = "Shell work"
tools = ["Bash"]
+++

Use the shell.
`
	if err := store.Write("skills/shell.md", []byte(skill), "", nil); err != nil {
		t.Fatal(err)
	}

	reg := NewToolRegistry()
	reg.Register(ToolSpec{
		Name:  "Bash",
		Guard: "command",
		New:   func(ToolContext) (Tool, error) { return &scriptTool{name: "Bash", removable: true}, nil },
	})
	engine := skillEngine(t, store, AgentDefinition{
		Name: "coder", Model: "m",
		Permissions: PermissionPolicy{Tools: map[string]PermissionRule{
			"Bash": {Denied: []string{`^rm `}},
		}},
	}, reg)

	if _, err := engine.LoadSkill(context.Background(), "skills/shell.md"); err != nil {
		t.Fatal(err)
	}
	// The skill has no policy of its own, so the agent's denial applies.
	res, err := engine.tools[0].Execute(context.Background(), rawArgs(`{"command":"rm -rf /"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(res.Error, "permission denied") {
		t.Errorf("result error = %q, want the agent policy enforced", res.Error)
	}
}

func TestEngineLoadSkillMissing(t *testing.T) {
	engine := skillEngine(t, NewScratchpad(0), AgentDefinition{Name: "coder", Model: "m"}, nil)
	if _, err := engine.LoadSkill(context.Background(), "skills/nope.md"); err == nil {
		t.Fatal("loading a missing skill succeeded")
	}
}

func TestEngineLoadSkillNoStorage(t *testing.T) {
	engine, err := NewEngine(EngineConfig{
		Definition: AgentDefinition{Name: "coder", Model: "m"},
		Provider:   &mockProvider{name: "test"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := engine.LoadSkill(context.Background(), "skills/x.md"); err == nil || !strings.Contains(err.Error(), "no skill storage") {
		t.Errorf("err = %v, want a no-skill-storage error", err)
	}
}
