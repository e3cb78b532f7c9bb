// Package todo provides the TodoWrite tool: a task list the agent
// maintains across turns. The rendered list becomes the tool result, so
// the most recent state is always in the conversation; the engine records
// its message index and the context manager keeps that message intact
// during compression.
package todo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/hive"
)

// Spec returns the registry spec for the TodoWrite tool.
func Spec() hive.ToolSpec {
	return hive.ToolSpec{
		Name: "TodoWrite",
		New: func(hive.ToolContext) (hive.Tool, error) {
			return &tool{}, nil
		},
	}
}

type item struct {
	Content string `json:"content"`
	Status  string `json:"status"`
}

var validStatus = map[string]string{
	"pending":     "[ ]",
	"in_progress": "[~]",
	"completed":   "[x]",
}

type tool struct{}

func (t *tool) Name() string { return "TodoWrite" }

func (t *tool) Description() string {
	return "Replace your task list. Pass the full list every time; statuses are pending, in_progress, or completed. Keep at most one item in_progress."
}

func (t *tool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"todos":{"type":"array","items":{"type":"object","properties":{"content":{"type":"string"},"status":{"type":"string","enum":["pending","in_progress","completed"]}},"required":["content","status"]}}},"required":["todos"]}`)
}

// Removable reports false: the task list survives skill loads.
func (t *tool) Removable() bool { return false }

func (t *tool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Todos []item `json:"todos"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if len(params.Todos) == 0 {
		return hive.ToolResult{Content: "Todo list cleared."}, nil
	}

	var b strings.Builder
	done := 0
	for i, it := range params.Todos {
		mark, ok := validStatus[it.Status]
		if !ok {
			return hive.ToolResult{Error: fmt.Sprintf("todo %d has invalid status %q", i+1, it.Status)}, nil
		}
		if it.Content == "" {
			return hive.ToolResult{Error: fmt.Sprintf("todo %d has empty content", i+1)}, nil
		}
		if it.Status == "completed" {
			done++
		}
		fmt.Fprintf(&b, "%s %s\n", mark, it.Content)
	}
	fmt.Fprintf(&b, "\n%d/%d completed", done, len(params.Todos))
	return hive.ToolResult{Content: b.String()}, nil
}

var _ hive.Tool = (*tool)(nil)
