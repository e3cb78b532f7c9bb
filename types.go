package hive

import (
	"encoding/json"
	"time"
)

// --- Conversation types ---

// Message is a single entry in an agent's conversation.
// A tool message's ToolCallID always refers to a tool call carried by an
// earlier assistant message in the same conversation.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	Images     []ImageData `json:"images,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Usage      Usage      `json:"usage,omitzero"`
	Model      string     `json:"model,omitempty"`
}

// ImageData is an inline image attachment on a message or tool result.
type ImageData struct {
	MimeType string `json:"mime_type"`
	Base64   string `json:"base64"`
}

// ToolCall is a structured request by the LLM to invoke a named tool.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// Usage carries token counts reported by the provider for one request.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CachedTokens        int `json:"cached_tokens,omitempty"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.CachedTokens += u2.CachedTokens
	u.CacheCreationTokens += u2.CacheCreationTokens
}

// Total returns input + output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// ChatRequest is the provider-agnostic LLM request.
type ChatRequest struct {
	Model    string           `json:"model,omitempty"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// ChatResponse is the provider-agnostic LLM response.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
	Model     string     `json:"model,omitempty"`
}

// ToolDefinition describes a callable tool to the LLM.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- Agent configuration ---

// AgentDefinition is the immutable configuration of one agent in a swarm.
type AgentDefinition struct {
	Name         string                       `json:"name"`
	Description  string                       `json:"description,omitempty"`
	Model        string                       `json:"model"`
	Directory    string                       `json:"directory,omitempty"`
	SystemPrompt string                       `json:"system_prompt,omitempty"`
	Tools        []string                     `json:"tools,omitempty"`
	DelegatesTo  []string                     `json:"delegates_to,omitempty"`
	Permissions  PermissionPolicy             `json:"permissions,omitzero"`
	Plugins      map[string]map[string]string `json:"plugins,omitempty"`
}

// AgentContext is the mutable per-agent conversation state. It persists
// across turns within an execution and is snapshotted and restored verbatim.
type AgentContext struct {
	AgentName string `json:"agent_name"`

	// Warning thresholds already hit, subset of {60, 80, 90}.
	ThresholdsHit []int `json:"warning_thresholds_hit"`
	// CompressionApplied transitions false -> true at most once per conversation.
	CompressionApplied bool `json:"compression_applied"`
	// DelegationTargets maps an open tool-call id to the delegate agent name.
	DelegationTargets map[string]string `json:"delegation_targets,omitempty"`
	// ActiveSkillPath is the storage path of the currently loaded skill, if any.
	ActiveSkillPath string `json:"active_skill_path,omitempty"`
	// LastTodoWriteIndex is the conversation index of the most recent
	// TodoWrite result message. -1 means never.
	LastTodoWriteIndex int `json:"last_todowrite_message_index"`
}

// NewAgentContext creates an AgentContext for the named agent.
func NewAgentContext(agent string) *AgentContext {
	return &AgentContext{
		AgentName:          agent,
		DelegationTargets:  make(map[string]string),
		LastTodoWriteIndex: -1,
	}
}

// ThresholdHit reports whether the given warning threshold already fired.
func (c *AgentContext) ThresholdHit(threshold int) bool {
	for _, t := range c.ThresholdsHit {
		if t == threshold {
			return true
		}
	}
	return false
}

// MarkThreshold records a fired threshold. Idempotent.
func (c *AgentContext) MarkThreshold(threshold int) {
	if !c.ThresholdHit(threshold) {
		c.ThresholdsHit = append(c.ThresholdsHit, threshold)
	}
}

// --- Execution result ---

// Result is the outcome of one swarm or workflow execution.
type Result struct {
	Content        string        `json:"content"`
	Success        bool          `json:"success"`
	Cancelled      bool          `json:"cancelled,omitempty"`
	Duration       time.Duration `json:"duration"`
	Usage          Usage         `json:"usage"`
	Cost           float64       `json:"cost,omitempty"`
	LLMRequests    int           `json:"llm_requests"`
	ToolCallsCount int           `json:"tool_calls_count"`
	AgentsInvolved []string      `json:"agents_involved,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// --- Message constructors ---

func UserMessage(text string) Message {
	return Message{Role: "user", Content: text}
}

func SystemMessage(text string) Message {
	return Message{Role: "system", Content: text}
}

func AssistantMessage(text string) Message {
	return Message{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, content string) Message {
	return Message{Role: "tool", Content: content, ToolCallID: callID}
}

// CloneMessages deep-copies a conversation so the copy shares no mutable
// state with the original. ToolCall.Args bytes are duplicated as well.
func CloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, m := range messages {
		out[i] = m
		if len(m.ToolCalls) > 0 {
			out[i].ToolCalls = make([]ToolCall, len(m.ToolCalls))
			for j, tc := range m.ToolCalls {
				out[i].ToolCalls[j] = tc
				if len(tc.Args) > 0 {
					out[i].ToolCalls[j].Args = make(json.RawMessage, len(tc.Args))
					copy(out[i].ToolCalls[j].Args, tc.Args)
				}
			}
		}
		if len(m.Images) > 0 {
			out[i].Images = make([]ImageData, len(m.Images))
			copy(out[i].Images, m.Images)
		}
	}
	return out
}
