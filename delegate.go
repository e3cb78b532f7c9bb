package hive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"unicode"
	"unicode/utf8"
)

// DelegationPrefix is the function-name prefix of synthesized delegation
// tools: an agent that may delegate to "researcher" sees a tool named
// "WorkWithResearcher".
const DelegationPrefix = "WorkWith"

// DelegationToolName builds the tool name for a target agent: prefix plus
// the target with its first letter upper-cased.
func DelegationToolName(target string) string {
	return DelegationPrefix + mapFirstRune(target, unicode.ToUpper)
}

// DelegationTarget inverts DelegationToolName: strips the prefix and
// lower-cases the first letter. ok is false when name has no prefix.
func DelegationTarget(name string) (target string, ok bool) {
	if len(name) <= len(DelegationPrefix) || name[:len(DelegationPrefix)] != DelegationPrefix {
		return "", false
	}
	return mapFirstRune(name[len(DelegationPrefix):], unicode.ToLower), true
}

func mapFirstRune(s string, f func(rune) rune) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError && size <= 1 {
		return s
	}
	return string(f(r)) + s[size:]
}

// delegationHost resolves agent definitions and per-delegation engine
// instances. The swarm implements it.
type delegationHost interface {
	// Definition returns the named agent's definition.
	Definition(name string) (AgentDefinition, bool)
	// DelegateEngine returns the engine for instance "<target>@<delegator>",
	// creating it on first use. The instance persists for the life of the
	// orchestration so repeated delegations continue one conversation.
	DelegateEngine(ctx context.Context, target, delegator string) (*Engine, error)
}

// DelegationRouter turns WorkWith<Target> tool calls into sub-agent
// executions. The delegated task runs to completion synchronously; its
// final content becomes the delegator's tool result.
type DelegationRouter struct {
	host   delegationHost
	events *EventLog
	logger *slog.Logger

	mu sync.Mutex // guards AgentContext.DelegationTargets writes
}

// NewDelegationRouter creates a router resolving targets through host.
func NewDelegationRouter(host delegationHost, events *EventLog, logger *slog.Logger) *DelegationRouter {
	if logger == nil {
		logger = nopLogger
	}
	return &DelegationRouter{host: host, events: events, logger: logger}
}

// IsDelegation reports whether a tool name is a synthesized delegation
// tool.
func (r *DelegationRouter) IsDelegation(name string) bool {
	_, ok := DelegationTarget(name)
	return ok
}

// Definition builds the LLM-facing definition of the delegation tool for a
// target agent, using the target's declared description when available.
func (r *DelegationRouter) Definition(target string) ToolDefinition {
	desc := fmt.Sprintf("Delegate a task to the %s agent and wait for its result.", target)
	if def, ok := r.host.Definition(target); ok && def.Description != "" {
		desc = fmt.Sprintf("Delegate a task to the %s agent (%s) and wait for its result.", target, def.Description)
	}
	return ToolDefinition{
		Name:        DelegationToolName(target),
		Description: desc,
		Parameters:  json.RawMessage(`{"type":"object","properties":{"prompt":{"type":"string","description":"The task to delegate, with all context the agent needs"}},"required":["prompt"]}`),
	}
}

// Dispatch runs one delegation call on behalf of delegator. Undeclared or
// unknown targets fail in the tool result so the delegator can recover.
func (r *DelegationRouter) Dispatch(ctx context.Context, delegator *Engine, tc ToolCall) dispatchOutcome {
	target, ok := DelegationTarget(tc.Name)
	if !ok {
		return dispatchOutcome{errMessage: "not a delegation tool: " + tc.Name}
	}

	declared := false
	for _, t := range delegator.Definition().DelegatesTo {
		if t == target {
			declared = true
			break
		}
	}
	if !declared {
		err := &ErrAgentNotFound{Agent: target, Delegator: delegator.Definition().Name}
		return dispatchOutcome{errMessage: err.Error()}
	}
	if _, ok := r.host.Definition(target); !ok {
		err := &ErrAgentNotFound{Agent: target, Delegator: delegator.Definition().Name}
		return dispatchOutcome{errMessage: err.Error()}
	}

	var params struct {
		Prompt string `json:"prompt"`
		// Task is accepted as an alias for prompt.
		Task string `json:"task"`
	}
	if err := json.Unmarshal(tc.Args, &params); err != nil {
		return dispatchOutcome{errMessage: "invalid delegation args: " + err.Error()}
	}
	prompt := params.Prompt
	if prompt == "" {
		prompt = params.Task
	}
	if prompt == "" {
		return dispatchOutcome{errMessage: "delegation requires a non-empty prompt"}
	}

	engine, err := r.host.DelegateEngine(ctx, target, delegator.Instance())
	if err != nil {
		return dispatchOutcome{errMessage: err.Error()}
	}

	r.mu.Lock()
	delegator.Context().DelegationTargets[tc.ID] = target
	r.mu.Unlock()

	r.events.Emit(ctx, Event{Type: EventAgentDelegation, Agent: delegator.Instance(), Payload: map[string]any{
		"delegate_to": target,
		"instance":    engine.Instance(),
		"call_id":     tc.ID,
	}})
	r.logger.Info("delegation started",
		"delegator", delegator.Instance(), "target", target, "instance", engine.Instance())

	content, execErr := engine.Execute(ctx, prompt, ExecuteOptions{})

	r.mu.Lock()
	delete(delegator.Context().DelegationTargets, tc.ID)
	r.mu.Unlock()

	result := map[string]any{
		"delegate_to": target,
		"instance":    engine.Instance(),
		"call_id":     tc.ID,
		"success":     execErr == nil,
	}
	if execErr != nil {
		result["error"] = execErr.Error()
	} else {
		result["content"] = content
	}
	r.events.Emit(ctx, Event{Type: EventDelegationResult, Agent: delegator.Instance(), Payload: result})

	if execErr != nil {
		return dispatchOutcome{errMessage: fmt.Sprintf("delegation to %s failed: %v", target, execErr)}
	}
	return dispatchOutcome{content: content}
}
