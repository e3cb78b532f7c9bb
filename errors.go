package hive

import (
	"fmt"
	"strings"
	"time"
)

// ErrConfig reports malformed or missing configuration: unknown tools,
// missing tool creation requirements, bad swarm definitions. Configuration
// errors abort before execution begins.
type ErrConfig struct {
	Message string
}

func (e *ErrConfig) Error() string {
	return "configuration error: " + e.Message
}

// Configf builds an *ErrConfig with a formatted message.
func Configf(format string, args ...any) error {
	return &ErrConfig{Message: fmt.Sprintf(format, args...)}
}

// ErrExecution is the CLI-level surface for user-visible execution failures.
type ErrExecution struct {
	Message string
}

func (e *ErrExecution) Error() string {
	return "execution error: " + e.Message
}

// ErrAgentNotFound reports a delegation to an agent that is not declared
// in the delegator's definition or absent from the swarm.
type ErrAgentNotFound struct {
	Agent     string
	Delegator string
}

func (e *ErrAgentNotFound) Error() string {
	if e.Delegator != "" {
		return fmt.Sprintf("agent %q not found (delegated from %q)", e.Agent, e.Delegator)
	}
	return fmt.Sprintf("agent %q not found", e.Agent)
}

// --- MCP errors ---

// ErrMCP is a protocol-level MCP failure, annotated with server, tool,
// and (when the server reported them) request id and error code.
type ErrMCP struct {
	Server    string
	Tool      string
	RequestID string
	Code      int
	Message   string
}

func (e *ErrMCP) Error() string { return mcpErrorString("mcp error", e.Message, e.Server, e.Tool, e.RequestID, e.Code) }

// ErrMCPTimeout is an MCP call that exceeded its per-call timeout.
type ErrMCPTimeout struct {
	Server    string
	Tool      string
	RequestID string
	Code      int
	Message   string
}

func (e *ErrMCPTimeout) Error() string {
	return mcpErrorString("mcp timeout", e.Message, e.Server, e.Tool, e.RequestID, e.Code)
}

// ErrMCPTransport is a transport-level MCP failure (broken pipe, process
// exit, malformed framing).
type ErrMCPTransport struct {
	Server    string
	Tool      string
	RequestID string
	Code      int
	Message   string
}

func (e *ErrMCPTransport) Error() string {
	return mcpErrorString("mcp transport error", e.Message, e.Server, e.Tool, e.RequestID, e.Code)
}

func mcpErrorString(kind, msg, server, tool, requestID string, code int) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteString(": ")
	b.WriteString(msg)
	if server != "" {
		fmt.Fprintf(&b, " [server: %s]", server)
	}
	if tool != "" {
		fmt.Fprintf(&b, " [tool: %s]", tool)
	}
	if requestID != "" {
		fmt.Fprintf(&b, " [request_id: %s]", requestID)
	}
	if code != 0 {
		fmt.Fprintf(&b, " [code: %d]", code)
	}
	return b.String()
}

// ErrPermission reports a tool invocation rejected by the agent's (or the
// active skill's) permission policy.
type ErrPermission struct {
	Tool    string
	Value   string
	Pattern string
}

func (e *ErrPermission) Error() string {
	if e.Pattern != "" {
		return fmt.Sprintf("permission denied: %s(%s) matched denied pattern %q", e.Tool, e.Value, e.Pattern)
	}
	return fmt.Sprintf("permission denied: %s(%s) not in allowed list", e.Tool, e.Value)
}

// ErrContextOverflow reports a single tool result that alone would exceed
// the model's context window. For file reads the hint tells the model to
// retry with offset and limit.
type ErrContextOverflow struct {
	Tool   string
	Tokens int
	Limit  int
	Hint   string
}

func (e *ErrContextOverflow) Error() string {
	msg := fmt.Sprintf("%s result of %d tokens exceeds the context limit of %d", e.Tool, e.Tokens, e.Limit)
	if e.Hint != "" {
		msg += ". " + e.Hint
	}
	return msg
}

// ErrReadBeforeWrite reports a write or edit on a file the agent has not
// read, or whose contents changed since the recorded read.
type ErrReadBeforeWrite struct {
	Agent string
	Path  string
}

func (e *ErrReadBeforeWrite) Error() string {
	return fmt.Sprintf("agent %q must read %s before writing it (file unread or changed since last read)", e.Agent, e.Path)
}

// --- Transport errors ---

// ErrLLM is a provider-level failure that is not an HTTP status error
// (marshalling, connection, malformed response body).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-200 response from an LLM transport. RetryAfter is
// parsed from the Retry-After header when present; the retry middleware
// honors it.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}
