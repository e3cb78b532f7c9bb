package hive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxTurns is the soft ceiling on consecutive tool-calling turns.
// Effectively unbounded for real conversations; the point is returning an
// error instead of looping forever on pathological model output.
const DefaultMaxTurns = 100_000

// maxParallelDispatch caps concurrent tool-call goroutines within one
// assistant turn.
const maxParallelDispatch = 10

// Built-in finish tools. Calling one forces the turn loop to stop; the
// emitted agent_stop event records the override reason.
const (
	FinishAgentTool = "FinishAgent"
	FinishSwarmTool = "FinishSwarm"
)

// EngineConfig wires one conversation engine.
type EngineConfig struct {
	Definition AgentDefinition
	// Instance names the conversation; defaults to the agent name.
	// Delegation instances use "<target>@<delegator>".
	Instance string
	Provider Provider
	Events   *EventLog
	Hooks    *HookRegistry
	// ContextLimit is the model context window in tokens (0 disables
	// warning checks).
	ContextLimit int
	Registry     *ToolRegistry
	Plugins      *PluginRegistry
	// ToolContext seeds tool construction. AgentName, Directory, and
	// SkillLoader are filled in by the engine.
	ToolContext ToolContext
	// SkillSource is where LoadSkill reads skill documents. Defaults to
	// the tool context's memory store, then the scratchpad.
	SkillSource Storage
	Router      *DelegationRouter
	MaxTurns    int
	Logger      *slog.Logger
	Tracer      Tracer
}

// Engine drives one agent conversation: build request, call the LLM,
// dispatch tool calls, append results, loop until the model stops. It owns
// the agent's conversation and AgentContext; the swarm owns the engine.
type Engine struct {
	def      AgentDefinition
	instance string
	provider Provider
	events   *EventLog
	hooks    *HookRegistry
	cm       *ContextManager
	registry *ToolRegistry
	tctx     ToolContext
	skills   Storage
	router   *DelegationRouter
	maxTurns int
	logger   *slog.Logger
	tracer   Tracer

	mu           sync.Mutex
	actx         *AgentContext
	conversation []Message
	tools        []Tool
	started      bool
}

// NewEngine builds an engine and its active tool set from the definition's
// declared tools plus plugin contributions. Unknown tools and unmet
// creation requirements are configuration errors.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, Configf("agent %q has no provider", cfg.Definition.Name)
	}
	if cfg.Events == nil {
		cfg.Events = NewEventLog()
	}
	instance := cfg.Instance
	if instance == "" {
		instance = cfg.Definition.Name
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}

	e := &Engine{
		def:      cfg.Definition,
		instance: instance,
		provider: cfg.Provider,
		events:   cfg.Events,
		hooks:    cfg.Hooks,
		cm:       NewContextManager(cfg.ContextLimit, cfg.Events, WithContextLogger(logger), WithWarningHooks(cfg.Hooks)),
		registry: cfg.Registry,
		router:   cfg.Router,
		maxTurns: maxTurns,
		logger:   logger,
		tracer:   cfg.Tracer,
		actx:     NewAgentContext(cfg.Definition.Name),
	}

	tctx := cfg.ToolContext
	tctx.AgentName = cfg.Definition.Name
	tctx.Directory = cfg.Definition.Directory
	tctx.SkillLoader = e
	tctx.Events = cfg.Events
	tctx.TokenCounter = SharedTokenCounter()
	tctx.ContextLimit = cfg.ContextLimit
	e.tctx = tctx

	e.skills = cfg.SkillSource
	if e.skills == nil {
		e.skills = tctx.Memory
	}
	if e.skills == nil {
		e.skills = tctx.Scratchpad
	}

	if len(cfg.Definition.Tools) > 0 && cfg.Registry == nil {
		return nil, Configf("agent %q declares tools but no registry is configured", cfg.Definition.Name)
	}
	if cfg.Registry != nil {
		if unknown := cfg.Registry.Validate(cfg.Definition.Tools); len(unknown) > 0 {
			return nil, Configf("agent %q declares unknown tools %v", cfg.Definition.Name, unknown)
		}
		for _, name := range cfg.Definition.Tools {
			t, err := cfg.Registry.Create(name, tctx, cfg.Definition.Permissions.RuleFor(name))
			if err != nil {
				return nil, err
			}
			e.tools = append(e.tools, t)
		}
	}
	if cfg.Plugins != nil {
		contributed, err := cfg.Plugins.ToolsFor(cfg.Definition, tctx)
		if err != nil {
			return nil, err
		}
		e.tools = append(e.tools, contributed...)
	}
	return e, nil
}

// Definition returns the immutable agent definition.
func (e *Engine) Definition() AgentDefinition { return e.def }

// Instance returns the conversation instance name.
func (e *Engine) Instance() string { return e.instance }

// Context returns the live agent context. Callers outside the engine
// should treat it as read-only.
func (e *Engine) Context() *AgentContext { return e.actx }

// SystemPrompt returns the effective system prompt: the conversation's
// leading system message once started, the definition's before then.
func (e *Engine) SystemPrompt() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.conversation) > 0 && e.conversation[0].Role == "system" {
		return e.conversation[0].Content
	}
	return e.def.SystemPrompt
}

// Conversation returns a deep copy of the conversation so far.
func (e *Engine) Conversation() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return CloneMessages(e.conversation)
}

// RestoreConversation replaces the engine's conversation and context,
// used by the snapshot engine.
func (e *Engine) RestoreConversation(messages []Message, actx *AgentContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conversation = CloneMessages(messages)
	if actx != nil {
		e.actx = actx
	}
	e.started = len(e.conversation) > 0
}

// OnContextThreshold registers a warning handler on the engine's context
// manager. Threshold 0 registers for all thresholds.
func (e *Engine) OnContextThreshold(threshold int, h WarningHandler) {
	e.cm.OnThreshold(threshold, h)
}

// ExecuteOptions tunes one Execute call.
type ExecuteOptions struct {
	// SystemPrompt is injected as the first message of the conversation,
	// on the first turn only. Later calls ignore it.
	SystemPrompt string
}

// Execute runs one prompt to completion: the turn loop ends when the model
// answers without tool calls, a finish tool fires, the depth ceiling is
// hit, or the context is cancelled. The final assistant content is
// returned. Transport failures surface as errors with no partial tool
// results appended.
func (e *Engine) Execute(ctx context.Context, prompt string, opts ExecuteOptions) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events.Emit(ctx, Event{Type: EventAgentStart, Agent: e.instance, Payload: map[string]any{
		"model": e.def.Model,
	}})

	if !e.started {
		system := opts.SystemPrompt
		if system == "" {
			system = e.def.SystemPrompt
		}
		if system != "" {
			e.conversation = append(e.conversation, SystemMessage(system))
		}
		e.started = true
	}
	e.conversation = append(e.conversation, UserMessage(prompt))

	for turn := 0; turn < e.maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		turnCtx := ctx
		var span Span
		if e.tracer != nil {
			turnCtx, span = e.tracer.Start(ctx, "agent.turn",
				StringAttr("agent", e.instance),
				IntAttr("turn", turn))
		}

		resp, err := e.callLLM(turnCtx)
		if err != nil {
			if span != nil {
				span.Error(err)
				span.End()
			}
			return "", err
		}

		if err := validateCalls(resp.ToolCalls, e.logger, e.instance); err != nil {
			if span != nil {
				span.Error(err)
				span.End()
			}
			return "", err
		}

		e.conversation = append(e.conversation, Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
			Usage:     resp.Usage,
			Model:     resp.Model,
		})

		if len(resp.ToolCalls) == 0 {
			e.stop(turnCtx, "completed", resp.Content)
			e.cm.Check(turnCtx, e.actx, &e.conversation)
			if span != nil {
				span.End()
			}
			return resp.Content, nil
		}

		e.events.Emit(turnCtx, Event{Type: EventAgentStep, Agent: e.instance, Payload: map[string]any{
			"tool_calls": len(resp.ToolCalls),
		}})
		if e.hooks != nil {
			e.hooks.Fire(turnCtx, HookEvent{Point: HookAgentStep, Agent: e.instance, Content: resp.Content})
		}
		e.cm.Check(turnCtx, e.actx, &e.conversation)

		stopReason := e.dispatchTurn(turnCtx, resp.ToolCalls)
		if span != nil {
			span.SetAttr(IntAttr("tool_count", len(resp.ToolCalls)))
			span.End()
		}
		if stopReason != "" {
			e.stop(ctx, stopReason, resp.Content)
			return resp.Content, nil
		}
	}

	return "", &ErrExecution{Message: fmt.Sprintf(
		"agent %q exceeded %d consecutive tool-calling turns", e.instance, e.maxTurns)}
}

// callLLM issues one provider request wrapped in openai_request /
// openai_response events.
func (e *Engine) callLLM(ctx context.Context) (ChatResponse, error) {
	req := ChatRequest{
		Model:    e.def.Model,
		Messages: e.conversation,
		Tools:    e.activeDefinitions(),
	}
	e.events.Emit(ctx, Event{Type: EventOpenAIRequest, Agent: e.instance, Payload: map[string]any{
		"model":         e.def.Model,
		"message_count": len(req.Messages),
		"tool_count":    len(req.Tools),
	}})
	resp, err := e.provider.Chat(ctx, req)
	if err != nil {
		e.events.Emit(ctx, Event{Type: EventInternalError, Agent: e.instance, Payload: map[string]any{
			"source": "llm_transport",
			"error":  err.Error(),
		}})
		return ChatResponse{}, err
	}
	if resp.Model == "" {
		resp.Model = e.def.Model
	}
	e.events.Emit(ctx, Event{Type: EventOpenAIResponse, Agent: e.instance, Payload: map[string]any{
		"model":         resp.Model,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
		"cached_tokens": resp.Usage.CachedTokens,
		"tool_calls":    len(resp.ToolCalls),
	}})
	return resp, nil
}

// validateCalls rejects tool calls without ids and warns on duplicates.
// Duplicates are still dispatched; each gets its own positional result.
func validateCalls(calls []ToolCall, logger *slog.Logger, instance string) error {
	seen := make(map[string]bool, len(calls))
	for _, tc := range calls {
		if tc.ID == "" {
			return &ErrExecution{Message: fmt.Sprintf(
				"agent %q: assistant tool call %q has no call id", instance, tc.Name)}
		}
		if seen[tc.ID] {
			logger.Warn("duplicate tool call id in assistant message",
				"agent", instance, "call_id", tc.ID, "tool", tc.Name)
		}
		seen[tc.ID] = true
	}
	return nil
}

func (e *Engine) stop(ctx context.Context, reason, content string) {
	payload := map[string]any{"reason": reason}
	if reason != "completed" {
		payload["override"] = true
	}
	e.events.Emit(ctx, Event{Type: EventAgentStop, Agent: e.instance, Payload: payload})
	if e.hooks != nil {
		e.hooks.Fire(ctx, HookEvent{Point: HookAgentStop, Agent: e.instance, Content: content})
	}
}

// --- Tool dispatch ---

// dispatchOutcome is one tool call's resolution.
type dispatchOutcome struct {
	content    string
	images     []ImageData
	errMessage string
	stopReason string
}

// dispatchTurn executes all tool calls of one assistant message and
// appends their results in original call order. Execution is parallel
// (bounded pool); ordering is restored at append time. Returns a non-empty
// stop reason when a finish tool fired.
func (e *Engine) dispatchTurn(ctx context.Context, calls []ToolCall) string {
	for _, tc := range calls {
		e.events.Emit(ctx, Event{Type: EventToolCall, Agent: e.instance, Payload: map[string]any{
			"call_id": tc.ID,
			"tool":    tc.Name,
			"args":    string(tc.Args),
		}})
	}

	outcomes := e.runCalls(ctx, calls)

	stopReason := ""
	for i, tc := range calls {
		out := outcomes[i]
		body := encodeToolResult(out)
		msg := ToolResultMessage(tc.ID, body)
		msg.Images = out.images
		e.conversation = append(e.conversation, msg)
		if tc.Name == "TodoWrite" && out.errMessage == "" {
			e.actx.LastTodoWriteIndex = len(e.conversation) - 1
		}
		if out.errMessage != "" {
			e.events.Emit(ctx, Event{Type: EventToolError, Agent: e.instance, Payload: map[string]any{
				"call_id": tc.ID,
				"tool":    tc.Name,
				"error":   out.errMessage,
			}})
		} else {
			e.events.Emit(ctx, Event{Type: EventToolResult, Agent: e.instance, Payload: map[string]any{
				"call_id": tc.ID,
				"tool":    tc.Name,
				"size":    len(out.content),
			}})
		}
		if out.stopReason != "" {
			stopReason = out.stopReason
		}
	}
	return stopReason
}

// runCalls executes calls with a bounded worker pool and returns outcomes
// indexed like the input. A single call runs inline, and a turn whose
// calls touch the same file runs sequentially so a read lands before a
// dependent write or edit.
func (e *Engine) runCalls(ctx context.Context, calls []ToolCall) []dispatchOutcome {
	if len(calls) == 1 {
		return []dispatchOutcome{e.dispatchOne(ctx, calls[0])}
	}
	if sameFileTargeted(calls) {
		outcomes := make([]dispatchOutcome, len(calls))
		for i, tc := range calls {
			if err := ctx.Err(); err != nil {
				outcomes[i] = dispatchOutcome{errMessage: err.Error()}
				continue
			}
			outcomes[i] = e.dispatchOne(ctx, tc)
		}
		return outcomes
	}

	type work struct {
		idx int
		tc  ToolCall
	}
	workCh := make(chan work, len(calls))
	for i, tc := range calls {
		workCh <- work{idx: i, tc: tc}
	}
	close(workCh)

	outcomes := make([]dispatchOutcome, len(calls))
	var wg sync.WaitGroup
	workers := min(len(calls), maxParallelDispatch)
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				if err := ctx.Err(); err != nil {
					outcomes[w.idx] = dispatchOutcome{errMessage: err.Error()}
					continue
				}
				outcomes[w.idx] = e.dispatchOne(ctx, w.tc)
			}
		}()
	}
	wg.Wait()
	return outcomes
}

// sameFileTargeted reports whether two calls in the turn name the same
// file_path argument.
func sameFileTargeted(calls []ToolCall) bool {
	seen := make(map[string]bool, len(calls))
	for _, tc := range calls {
		var p struct {
			FilePath string `json:"file_path"`
		}
		if json.Unmarshal(tc.Args, &p) != nil || p.FilePath == "" {
			continue
		}
		if seen[p.FilePath] {
			return true
		}
		seen[p.FilePath] = true
	}
	return false
}

// dispatchOne routes a single call: finish tools, delegation, then the
// active local tool set. Panics become error results.
func (e *Engine) dispatchOne(ctx context.Context, tc ToolCall) (out dispatchOutcome) {
	defer func() {
		if p := recover(); p != nil {
			out = dispatchOutcome{errMessage: fmt.Sprintf("tool %q panic: %v", tc.Name, p)}
		}
	}()

	if e.hooks != nil {
		e.hooks.Fire(ctx, HookEvent{Point: HookPreTool, Agent: e.instance, ToolName: tc.Name, ToolCall: tc})
	}

	switch tc.Name {
	case FinishAgentTool, FinishSwarmTool:
		out = finishOutcome(tc)
	default:
		switch {
		case e.router != nil && e.router.IsDelegation(tc.Name):
			out = e.router.Dispatch(ctx, e, tc)
		default:
			out = e.runLocalTool(ctx, tc)
		}
	}

	if e.hooks != nil {
		result := &ToolResult{Content: out.content, Error: out.errMessage}
		e.hooks.Fire(ctx, HookEvent{Point: HookPostTool, Agent: e.instance, ToolName: tc.Name, ToolCall: tc, Result: result})
		out.content = result.Content
		out.errMessage = result.Error
	}
	return out
}

func (e *Engine) runLocalTool(ctx context.Context, tc ToolCall) dispatchOutcome {
	start := time.Now()
	for _, t := range e.tools {
		if t.Name() != tc.Name {
			continue
		}
		result, err := t.Execute(ctx, tc.Args)
		e.logger.Debug("tool executed",
			"agent", e.instance, "tool", tc.Name, "duration", time.Since(start))
		if err != nil {
			return dispatchOutcome{errMessage: err.Error()}
		}
		if result.Error != "" {
			return dispatchOutcome{errMessage: result.Error}
		}
		return dispatchOutcome{content: result.Content, images: result.Images}
	}
	return dispatchOutcome{errMessage: "unknown tool: " + tc.Name}
}

func finishOutcome(tc ToolCall) dispatchOutcome {
	var params struct {
		Result string `json:"result"`
	}
	_ = json.Unmarshal(tc.Args, &params)
	reason := "finish_agent"
	if tc.Name == FinishSwarmTool {
		reason = "finish_swarm"
	}
	content := params.Result
	if content == "" {
		content = "done"
	}
	return dispatchOutcome{content: content, stopReason: reason}
}

// encodeToolResult serializes an outcome as the tool message body: a JSON
// string on success, {"error": "<message>"} on failure.
func encodeToolResult(out dispatchOutcome) string {
	if out.errMessage != "" {
		b, _ := json.Marshal(map[string]string{"error": out.errMessage})
		return string(b)
	}
	b, _ := json.Marshal(out.content)
	return string(b)
}

// --- Tool definitions ---

var finishAgentDef = ToolDefinition{
	Name:        FinishAgentTool,
	Description: "Stop this agent and return a final result to the caller.",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"result":{"type":"string","description":"Final result text"}},"required":["result"]}`),
}

var finishSwarmDef = ToolDefinition{
	Name:        FinishSwarmTool,
	Description: "Stop the whole swarm and return a final result to the user.",
	Parameters:  json.RawMessage(`{"type":"object","properties":{"result":{"type":"string","description":"Final result text"}},"required":["result"]}`),
}

// activeDefinitions builds the LLM-facing tool list: local tools, finish
// tools, and a WorkWith definition per declared delegation target.
func (e *Engine) activeDefinitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(e.tools)+len(e.def.DelegatesTo)+2)
	for _, t := range e.tools {
		defs = append(defs, DefinitionOf(t))
	}
	defs = append(defs, finishAgentDef, finishSwarmDef)
	if e.router != nil {
		for _, target := range e.def.DelegatesTo {
			defs = append(defs, e.router.Definition(target))
		}
	}
	return defs
}

// --- Skill loading ---

// LoadSkill replaces the agent's removable tools with the skill's declared
// set, wrapped in the skill's permission policy. Non-removable tools
// (Think, Clock, TodoWrite, memory tools) persist. The skill body is
// returned for the tool result so the model sees the instructions.
func (e *Engine) LoadSkill(ctx context.Context, path string) (string, error) {
	if e.skills == nil {
		return "", Configf("agent %q has no skill storage configured", e.def.Name)
	}
	entry, err := e.skills.Read(path)
	if err != nil {
		return "", err
	}
	skill, err := ParseSkill(entry.Path, entry.Content)
	if err != nil {
		return "", err
	}

	var next []Tool
	for _, t := range e.tools {
		if !t.Removable() {
			next = append(next, t)
		}
	}
	if len(skill.Tools) > 0 && e.registry == nil {
		return "", Configf("skill %s declares tools but agent %q has no registry", path, e.def.Name)
	}
	for _, name := range skill.Tools {
		rule := skill.Permissions.RuleFor(name)
		if rule.IsZero() {
			rule = e.def.Permissions.RuleFor(name)
		}
		t, err := e.registry.Create(name, e.tctx, rule)
		if err != nil {
			return "", err
		}
		next = append(next, t)
	}
	e.tools = next
	e.actx.ActiveSkillPath = path
	e.logger.InfoContext(ctx, "skill loaded", "agent", e.def.Name, "skill", path, "tools", len(next))
	return skill.Body, nil
}

// compile-time check
var _ SkillLoader = (*Engine)(nil)
