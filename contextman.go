package hive

import (
	"context"
	"log/slog"
)

// WarningThresholds are the context-usage percentages at which the manager
// fires, each at most once per conversation.
var WarningThresholds = []int{60, 80, 90}

// CompressionMarker is the sentinel appended to every truncated tool
// result so no content is ever silently dropped.
const CompressionMarker = "… [truncated for context management]"

// Defaults for progressive tool-result compression.
const (
	DefaultKeepRecent = 10
	DefaultTruncateTo = 500
)

// WarningHandler reacts to a crossed threshold through the rich handler
// API. Handlers that reshape the conversation call MarkCompressionApplied
// to suppress the automatic 60% compression.
type WarningHandler func(*WarningContext)

// ContextManager tracks an agent's cumulative context-window usage and
// fires threshold warnings at 60, 80, and 90 percent. At 60%, when no
// handler has applied its own strategy, it falls back to progressive
// tool-result compression: the most recent K tool messages stay intact,
// older ones are truncated in place with a sentinel marker. ToolCallIDs
// are always preserved so the conversation keeps forming a valid tool-call
// DAG.
type ContextManager struct {
	limit      int
	keepRecent int
	truncateTo int
	counter    *TokenCounter
	events     *EventLog
	handlers   map[int][]WarningHandler
	hooks      *HookRegistry
	logger     *slog.Logger
}

// ContextManagerOption configures a ContextManager.
type ContextManagerOption func(*ContextManager)

// WithKeepRecent sets how many of the newest tool messages automatic
// compression leaves intact (default 10).
func WithKeepRecent(n int) ContextManagerOption {
	return func(m *ContextManager) { m.keepRecent = n }
}

// WithTruncateTo sets the rune cap above which an old tool result is
// truncated (default 500).
func WithTruncateTo(n int) ContextManagerOption {
	return func(m *ContextManager) { m.truncateTo = n }
}

// WithContextLogger sets a structured logger for compression decisions.
func WithContextLogger(l *slog.Logger) ContextManagerOption {
	return func(m *ContextManager) { m.logger = l }
}

// WithWarningHooks fires the context_warning hook point on a registry
// whenever a threshold crosses.
func WithWarningHooks(h *HookRegistry) ContextManagerOption {
	return func(m *ContextManager) { m.hooks = h }
}

// NewContextManager creates a manager for a model with the given context
// window, emitting to events.
func NewContextManager(contextLimit int, events *EventLog, opts ...ContextManagerOption) *ContextManager {
	m := &ContextManager{
		limit:      contextLimit,
		keepRecent: DefaultKeepRecent,
		truncateTo: DefaultTruncateTo,
		counter:    SharedTokenCounter(),
		events:     events,
		handlers:   make(map[int][]WarningHandler),
		logger:     nopLogger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ContextLimit returns the model context window in tokens.
func (m *ContextManager) ContextLimit() int { return m.limit }

// OnThreshold registers a handler for one threshold. Threshold 0 registers
// for all thresholds.
func (m *ContextManager) OnThreshold(threshold int, h WarningHandler) {
	m.handlers[threshold] = append(m.handlers[threshold], h)
}

// Check measures the conversation and fires any thresholds newly crossed.
// The conversation may be mutated in place (compression, pruning); the
// fired set is recorded on the agent context so each threshold fires at
// most once per conversation.
func (m *ContextManager) Check(ctx context.Context, actx *AgentContext, conversation *[]Message) {
	if m.limit <= 0 {
		return
	}
	tokens := m.counter.CountMessages(*conversation)
	pct := float64(tokens) * 100 / float64(m.limit)
	for _, threshold := range WarningThresholds {
		if pct < float64(threshold) || actx.ThresholdHit(threshold) {
			continue
		}
		m.fire(ctx, actx, conversation, threshold, tokens, pct)
	}
}

func (m *ContextManager) fire(ctx context.Context, actx *AgentContext, conversation *[]Message, threshold, tokens int, pct float64) {
	actx.MarkThreshold(threshold)
	m.events.Emit(ctx, Event{
		Type:  EventContextThresholdHit,
		Agent: actx.AgentName,
		Payload: map[string]any{
			"threshold":                threshold,
			"current_usage_percentage": pct,
		},
	})

	if m.hooks != nil {
		m.hooks.Fire(ctx, HookEvent{Point: HookContextWarning, Agent: actx.AgentName, Threshold: threshold})
	}

	wc := &WarningContext{
		ctx:       ctx,
		manager:   m,
		actx:      actx,
		messages:  conversation,
		threshold: threshold,
		tokens:    tokens,
	}
	for _, h := range m.handlers[threshold] {
		h(wc)
	}
	for _, h := range m.handlers[0] {
		h(wc)
	}

	compressed := 0
	if threshold == 60 && !actx.CompressionApplied {
		compressed = wc.CompressToolResults(m.keepRecent, m.truncateTo)
		actx.CompressionApplied = true
		m.logger.Info("automatic context compression",
			"agent", actx.AgentName,
			"messages_compressed", compressed,
			"tokens_before", tokens,
			"keep_recent", m.keepRecent)
		m.events.Emit(ctx, Event{
			Type:  EventContextCompression,
			Agent: actx.AgentName,
			Payload: map[string]any{
				"messages_compressed": compressed,
				"tokens_before":       tokens,
				"strategy":            "progressive_tool_results",
				"keep_recent":         m.keepRecent,
			},
		})
	}

	// Legacy event kept for older stream consumers.
	m.events.Emit(ctx, Event{
		Type:  EventContextLimitWarning,
		Agent: actx.AgentName,
		Payload: map[string]any{
			"threshold":             formatThreshold(threshold),
			"compression_triggered": compressed > 0,
		},
	})
}

func formatThreshold(t int) string {
	switch t {
	case 60:
		return "60%"
	case 80:
		return "80%"
	case 90:
		return "90%"
	}
	return "0%"
}

// --- Handler-facing API ---

// WarningContext is the rich view a WarningHandler receives. Its mutating
// methods preserve two invariants: a system message stays at index 0, and
// every remaining tool message keeps a preceding assistant tool call with
// the same id.
type WarningContext struct {
	ctx       context.Context
	manager   *ContextManager
	actx      *AgentContext
	messages  *[]Message
	threshold int
	tokens    int
}

// Threshold returns the crossed threshold (60, 80, or 90).
func (w *WarningContext) Threshold() int { return w.threshold }

// AgentName returns the agent whose conversation crossed the threshold.
func (w *WarningContext) AgentName() string { return w.actx.AgentName }

// TokensUsed returns the measured conversation size at fire time.
func (w *WarningContext) TokensUsed() int { return w.tokens }

// ContextLimit returns the model context window in tokens.
func (w *WarningContext) ContextLimit() int { return w.manager.limit }

// TokensRemaining returns the unused portion of the context window.
func (w *WarningContext) TokensRemaining() int {
	if r := w.manager.limit - w.tokens; r > 0 {
		return r
	}
	return 0
}

// UsagePercentage returns used tokens as a percentage of the limit.
func (w *WarningContext) UsagePercentage() float64 {
	return float64(w.tokens) * 100 / float64(w.manager.limit)
}

// Messages returns the live conversation slice.
func (w *WarningContext) Messages() []Message { return *w.messages }

// ReplaceMessages swaps the conversation wholesale. Tool messages whose
// call id no longer has a preceding assistant tool call are dropped to
// keep the tool-call DAG valid.
func (w *WarningContext) ReplaceMessages(messages []Message) {
	*w.messages = repairToolDAG(messages)
}

// TransformMessages applies fn to the conversation and installs the result
// via ReplaceMessages.
func (w *WarningContext) TransformMessages(fn func([]Message) []Message) {
	w.ReplaceMessages(fn(*w.messages))
}

// MarkCompressionApplied records that a handler has managed the context
// itself, suppressing the automatic 60% compression.
func (w *WarningContext) MarkCompressionApplied() {
	w.actx.CompressionApplied = true
}

// LogAction emits a context_management_action event describing what a
// handler did.
func (w *WarningContext) LogAction(name string, details map[string]any) {
	payload := map[string]any{"action": name}
	for k, v := range details {
		payload[k] = v
	}
	w.manager.events.Emit(w.ctx, Event{
		Type:    EventContextManagementAction,
		Agent:   w.actx.AgentName,
		Payload: payload,
	})
}

// CompressToolResults truncates old tool results in place. The newest
// keepRecent tool messages stay intact; older ones whose content exceeds
// truncateTo runes are replaced with a truncated body ending in the
// compression marker, ToolCallID preserved. Returns the number of
// messages replaced.
func (w *WarningContext) CompressToolResults(keepRecent, truncateTo int) int {
	if keepRecent < 0 {
		keepRecent = 0
	}
	if truncateTo <= 0 {
		truncateTo = DefaultTruncateTo
	}
	msgs := *w.messages

	// Index tool messages oldest-first so the newest keepRecent can be
	// skipped.
	var toolIdx []int
	for i, m := range msgs {
		if m.Role == "tool" {
			toolIdx = append(toolIdx, i)
		}
	}
	if len(toolIdx) <= keepRecent {
		return 0
	}

	compressed := 0
	for _, i := range toolIdx[:len(toolIdx)-keepRecent] {
		content := []rune(msgs[i].Content)
		if len(content) <= truncateTo {
			continue
		}
		msgs[i] = Message{
			Role:       "tool",
			Content:    string(content[:truncateTo]) + CompressionMarker,
			ToolCallID: msgs[i].ToolCallID,
		}
		compressed++
	}
	return compressed
}

// PruneOldMessages keeps the newest keepRecent messages, always preserving
// a system message at index 0 when one exists. Orphaned tool results are
// dropped along the way.
func (w *WarningContext) PruneOldMessages(keepRecent int) {
	msgs := *w.messages
	if keepRecent <= 0 || len(msgs) <= keepRecent {
		return
	}
	var kept []Message
	if msgs[0].Role == "system" {
		kept = append(kept, msgs[0])
		msgs = msgs[1:]
	}
	if len(msgs) > keepRecent {
		msgs = msgs[len(msgs)-keepRecent:]
	}
	kept = append(kept, msgs...)
	*w.messages = repairToolDAG(kept)
}

// repairToolDAG drops tool messages whose call id has no preceding
// assistant tool call, restoring invariant (1) after arbitrary handler
// edits.
func repairToolDAG(messages []Message) []Message {
	known := make(map[string]bool)
	out := messages[:0]
	for _, m := range messages {
		if m.Role == "assistant" {
			for _, tc := range m.ToolCalls {
				known[tc.ID] = true
			}
		}
		if m.Role == "tool" && !known[m.ToolCallID] {
			continue
		}
		out = append(out, m)
	}
	return out
}
