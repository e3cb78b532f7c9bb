// Package shell provides the Bash tool for running commands in the
// agent's working directory. Command restrictions are not hard-coded
// here: the registry wraps the tool with the agent's (or active skill's)
// permission rule on the command argument.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nevindra/hive"
)

const (
	// DefaultTimeout bounds a command when the model passes none.
	DefaultTimeout = 120 * time.Second
	// MaxTimeout is the hard ceiling regardless of what the model asks for.
	MaxTimeout = 300 * time.Second
	// maxOutput caps the combined output returned to the model.
	maxOutput = 4000
)

// Spec returns the registry spec for the Bash tool. Guarded on the
// command argument.
func Spec() hive.ToolSpec {
	return hive.ToolSpec{
		Name:         "Bash",
		Requirements: []string{hive.ReqDirectory},
		Guard:        "command",
		New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &tool{dir: tctx.Directory}, nil
		},
	}
}

type tool struct {
	dir string
}

func (t *tool) Name() string { return "Bash" }

func (t *tool) Description() string {
	return "Run a shell command in the working directory and return its output. Commands are killed after the timeout (default 120s, max 300s)."
}

func (t *tool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"},"timeout":{"type":"integer","description":"Timeout in seconds"}},"required":["command"]}`)
}

func (t *tool) Removable() bool { return true }

func (t *tool) Execute(ctx context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Command string `json:"command"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if strings.TrimSpace(params.Command) == "" {
		return hive.ToolResult{Error: "command is required"}, nil
	}

	timeout := DefaultTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Second
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", params.Command)
	cmd.Dir = t.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := combineOutput(stdout.String(), stderr.String())

	if ctx.Err() == context.DeadlineExceeded {
		return hive.ToolResult{Error: fmt.Sprintf("command timed out after %s\n%s", timeout, out)}, nil
	}
	if err != nil {
		return hive.ToolResult{Error: fmt.Sprintf("command failed: %v\n%s", err, out)}, nil
	}
	return hive.ToolResult{Content: out}, nil
}

func combineOutput(stdout, stderr string) string {
	out := strings.TrimRight(stdout, "\n")
	if errOut := strings.TrimRight(stderr, "\n"); errOut != "" {
		if out != "" {
			out += "\n"
		}
		out += "--- stderr ---\n" + errOut
	}
	if out == "" {
		return "(no output)"
	}
	if len(out) > maxOutput {
		out = out[:maxOutput] + "\n... (output truncated)"
	}
	return out
}

var _ hive.Tool = (*tool)(nil)
