package hive

import (
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Skill is a storage-resident document that, when loaded, reconfigures an
// agent's removable tool set and permission policy. Skills are markdown
// with optional TOML frontmatter between `+++` fences:
//
//	+++
//	title = "Release engineer"
//	description = "Cut and verify a release"
//	tools = ["Bash", "Read", "Write"]
//	[permissions.tools.Bash]
//	allowed = ["^git ", "^make "]
//	+++
//
//	Step-by-step instructions follow as the skill body…
type Skill struct {
	Path        string           `json:"path"`
	Title       string           `json:"title" toml:"title"`
	Description string           `json:"description" toml:"description"`
	Tools       []string         `json:"tools,omitempty" toml:"tools"`
	Permissions PermissionPolicy `json:"permissions,omitzero" toml:"permissions"`
	Body        string           `json:"body"`
}

// ParseSkill parses a skill document. Frontmatter fields win; when the
// frontmatter omits title or description they are recovered from the
// markdown body (first heading, first paragraph).
func ParseSkill(path string, content []byte) (Skill, error) {
	skill := Skill{Path: path}

	body := string(content)
	if front, rest, ok := splitFrontmatter(body); ok {
		if err := toml.Unmarshal([]byte(front), &skill); err != nil {
			return Skill{}, Configf("skill %s: invalid frontmatter: %v", path, err)
		}
		body = rest
	}
	skill.Body = strings.TrimSpace(body)

	if skill.Title == "" || skill.Description == "" {
		title, desc := markdownSummary([]byte(skill.Body))
		if skill.Title == "" {
			skill.Title = title
		}
		if skill.Description == "" {
			skill.Description = desc
		}
	}
	if skill.Title == "" {
		skill.Title = path
	}
	return skill, nil
}

// splitFrontmatter separates `+++`-fenced TOML frontmatter from the body.
func splitFrontmatter(content string) (front, body string, ok bool) {
	const fence = "+++"
	trimmed := strings.TrimLeft(content, "\n")
	if !strings.HasPrefix(trimmed, fence+"\n") {
		return "", "", false
	}
	rest := trimmed[len(fence)+1:]
	end := strings.Index(rest, "\n"+fence)
	if end < 0 {
		return "", "", false
	}
	front = rest[:end]
	body = rest[end+len(fence)+1:]
	return front, body, true
}

// markdownSummary walks the markdown AST for the first heading text and
// the first paragraph text.
func markdownSummary(source []byte) (title, description string) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if title == "" {
				title = string(nodeText(node, source))
			}
		case *ast.Paragraph:
			if description == "" {
				description = string(nodeText(node, source))
			}
		}
		if title != "" && description != "" {
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})
	return title, description
}

func nodeText(n ast.Node, source []byte) []byte {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
		}
	}
	return []byte(b.String())
}

// --- Built-in skill ---

// DeepLearningProtocolPath is the storage path of the built-in
// deep-learning protocol skill. It ships as a virtual entry on every
// store: readable, never writable, occupying no storage.
const DeepLearningProtocolPath = "skills/deep-learning-protocol.md"

const deepLearningProtocol = `+++
title = "Deep-Learning Protocol"
description = "Structured investigation protocol for unfamiliar problem domains"
+++

# Deep-Learning Protocol

When facing an unfamiliar domain, do not guess. Work the protocol:

1. **Survey** — list what you already know and what you must learn.
   Write the list to the scratchpad before reading anything.
2. **Source** — gather primary material (files, docs, tool output) and
   record where each fact came from.
3. **Probe** — form one falsifiable assumption at a time and test it with
   the cheapest available tool call.
4. **Consolidate** — after every three probes, rewrite your scratchpad
   notes so a fresh reader could continue from them.
5. **Deliver** — answer only from consolidated notes. If a claim has no
   recorded source, mark it as unverified.
`
