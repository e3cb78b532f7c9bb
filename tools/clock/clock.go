// Package clock provides the Clock tool, giving agents a reliable notion
// of current time. LLMs have no clock of their own and will otherwise
// guess dates from training data.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nevindra/hive"
)

// Spec returns the registry spec for the Clock tool.
func Spec() hive.ToolSpec {
	return hive.ToolSpec{
		Name: "Clock",
		New: func(hive.ToolContext) (hive.Tool, error) {
			return &tool{now: time.Now}, nil
		},
	}
}

type tool struct {
	now func() time.Time
}

func (t *tool) Name() string { return "Clock" }

func (t *tool) Description() string {
	return "Get the current date and time. Use whenever the task involves dates, deadlines, or durations instead of guessing."
}

func (t *tool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"timezone":{"type":"string","description":"IANA timezone name, e.g. Asia/Jakarta. Defaults to UTC."}}}`)
}

// Removable reports false: the clock stays available under every skill.
func (t *tool) Removable() bool { return false }

func (t *tool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Timezone string `json:"timezone"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
		}
	}

	loc := time.UTC
	if params.Timezone != "" {
		l, err := time.LoadLocation(params.Timezone)
		if err != nil {
			return hive.ToolResult{Error: fmt.Sprintf("unknown timezone %q", params.Timezone)}, nil
		}
		loc = l
	}

	now := t.now().In(loc)
	return hive.ToolResult{Content: fmt.Sprintf("%s (%s, unix %d)",
		now.Format("Monday, 2 January 2006 15:04:05 MST"), loc, now.Unix())}, nil
}

var _ hive.Tool = (*tool)(nil)
