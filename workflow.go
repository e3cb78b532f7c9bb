package hive

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// WorkflowStep is one stage of a sequential workflow.
type WorkflowStep struct {
	Name  string `json:"name" toml:"name"`
	Agent string `json:"agent" toml:"agent"`
	// Prompt is a template. ${input} expands to the workflow input,
	// ${steps.<name>} to an earlier step's output.
	Prompt string `json:"prompt" toml:"prompt"`
}

// WorkflowConfig assembles a workflow: a swarm plus an ordered step list.
type WorkflowConfig struct {
	Swarm SwarmConfig
	Steps []WorkflowStep
}

// Workflow runs agents in a fixed sequence instead of free-form
// delegation. Each step's agent keeps one persistent conversation across
// steps, so an agent appearing twice sees its earlier exchange. A failed
// step stops the run; the cursor survives in snapshots so a restored
// workflow resumes at the failed step.
type Workflow struct {
	swarm *Swarm
	steps []WorkflowStep

	cursor  int
	outputs map[string]string
}

var stepRef = regexp.MustCompile(`\$\{(input|steps\.[A-Za-z0-9_-]+)\}`)

// NewWorkflow validates the step list against the agent definitions and
// builds the underlying swarm.
func NewWorkflow(cfg WorkflowConfig) (*Workflow, error) {
	if len(cfg.Steps) == 0 {
		return nil, Configf("workflow needs at least one step")
	}
	swarm, err := NewSwarm(cfg.Swarm)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(cfg.Steps))
	for i, step := range cfg.Steps {
		if step.Name == "" {
			return nil, Configf("workflow step %d has no name", i)
		}
		if seen[step.Name] {
			return nil, Configf("duplicate workflow step name %q", step.Name)
		}
		seen[step.Name] = true
		if _, ok := swarm.Definition(step.Agent); !ok {
			return nil, Configf("workflow step %q uses unknown agent %q", step.Name, step.Agent)
		}
		if step.Prompt == "" {
			return nil, Configf("workflow step %q has no prompt", step.Name)
		}
		for _, ref := range stepRef.FindAllStringSubmatch(step.Prompt, -1) {
			name, isStep := strings.CutPrefix(ref[1], "steps.")
			if !isStep {
				continue
			}
			if !earlierStep(cfg.Steps[:i], name) {
				return nil, Configf("workflow step %q references %q, which is not an earlier step", step.Name, name)
			}
		}
	}
	return &Workflow{swarm: swarm, steps: cfg.Steps, outputs: make(map[string]string)}, nil
}

func earlierStep(steps []WorkflowStep, name string) bool {
	for _, s := range steps {
		if s.Name == name {
			return true
		}
	}
	return false
}

// ID returns the stable workflow id.
func (w *Workflow) ID() string { return w.swarm.ID() }

// Type returns "workflow".
func (w *Workflow) Type() string { return "workflow" }

// Events returns the workflow's event log.
func (w *Workflow) Events() *EventLog { return w.swarm.Events() }

// Steps returns the configured steps.
func (w *Workflow) Steps() []WorkflowStep { return w.steps }

// Cursor returns the index of the next step to run.
func (w *Workflow) Cursor() int { return w.cursor }

// Execute runs the remaining steps in order. The last step's output is the
// result content. Execution statistics are aggregated from the event
// stream like Swarm.Execute.
func (w *Workflow) Execute(ctx context.Context, input string) Result {
	start := time.Now()
	xid := NewID()
	ctx = WithSwarmContext(ctx, SwarmContext{
		SwarmID:       w.swarm.ID(),
		ParentSwarmID: w.swarm.cfg.ParentSwarmID,
		ExecutionID:   xid,
	})

	w.swarm.mu.Lock()
	w.swarm.first = true
	w.swarm.mu.Unlock()

	stats := newStatsCollector()
	sub := w.swarm.events.Subscribe(Filter{"execution_id": xid}, stats.observe)
	defer w.swarm.events.Unsubscribe(sub)

	var content string
	var execErr error
	for ; w.cursor < len(w.steps); w.cursor++ {
		step := w.steps[w.cursor]
		prompt := w.expand(step.Prompt, input)

		engine, err := w.swarm.engine(ctx, step.Agent, step.Agent)
		if err != nil {
			execErr = err
			break
		}
		content, execErr = engine.Execute(ctx, prompt, ExecuteOptions{})
		if execErr != nil {
			execErr = fmt.Errorf("workflow step %q: %w", step.Name, execErr)
			break
		}
		w.outputs[step.Name] = content
	}
	if execErr == nil {
		// Full pass: rewind so another Execute reruns the sequence.
		w.cursor = 0
	}

	res := Result{
		Content:  content,
		Success:  execErr == nil,
		Duration: time.Since(start),
	}
	if execErr != nil {
		res.Error = execErr.Error()
		if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
			res.Cancelled = true
		}
	}
	stats.fill(&res, w.swarm.cfg.Cost)
	return res
}

// expand substitutes ${input} and ${steps.<name>} references. Unresolved
// step references expand to empty, which validation already prevents for
// well-formed configs.
func (w *Workflow) expand(prompt, input string) string {
	return stepRef.ReplaceAllStringFunc(prompt, func(match string) string {
		ref := match[2 : len(match)-1]
		if ref == "input" {
			return input
		}
		name := strings.TrimPrefix(ref, "steps.")
		return w.outputs[name]
	})
}

var _ Orchestration = (*Workflow)(nil)
