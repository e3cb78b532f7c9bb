// Package think provides the Think tool: a scratch space for explicit
// reasoning. The thought is echoed back and lands in the conversation, so
// the model can refer to it on later turns. Thoughts also surface in the
// event stream for operators watching a run.
package think

import (
	"context"
	"encoding/json"

	"github.com/nevindra/hive"
)

// Spec returns the registry spec for the Think tool.
func Spec() hive.ToolSpec {
	return hive.ToolSpec{
		Name: "Think",
		New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &tool{events: tctx.Events, agent: tctx.AgentName}, nil
		},
	}
}

type tool struct {
	events *hive.EventLog
	agent  string
}

func (t *tool) Name() string { return "Think" }

func (t *tool) Description() string {
	return "Think out loud before acting. Use for planning multi-step work, weighing alternatives, or noting observations. The thought is recorded, nothing is executed."
}

func (t *tool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"thought":{"type":"string","description":"The thought to record"}},"required":["thought"]}`)
}

// Removable reports false: thinking stays available under every skill.
func (t *tool) Removable() bool { return false }

func (t *tool) Execute(ctx context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Thought string `json:"thought"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.Thought == "" {
		return hive.ToolResult{Error: "thought is required"}, nil
	}
	if t.events != nil {
		t.events.Emit(ctx, hive.Event{
			Type:    "agent_thought",
			Agent:   t.agent,
			Payload: map[string]any{"thought": params.Thought},
		})
	}
	return hive.ToolResult{Content: "Thought recorded."}, nil
}

var _ hive.Tool = (*tool)(nil)
