package hive

import (
	"errors"
	"testing"
)

func TestConfigf(t *testing.T) {
	err := Configf("agent %q has no provider", "coder")
	want := `configuration error: agent "coder" has no provider`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	var cfg *ErrConfig
	if !errors.As(err, &cfg) {
		t.Error("Configf did not produce an *ErrConfig")
	}
}

func TestErrAgentNotFoundError(t *testing.T) {
	tests := []struct {
		err  *ErrAgentNotFound
		want string
	}{
		{&ErrAgentNotFound{Agent: "writer"}, `agent "writer" not found`},
		{&ErrAgentNotFound{Agent: "writer", Delegator: "lead"}, `agent "writer" not found (delegated from "lead")`},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrHTTPError(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   string
	}{
		{429, "too many requests", "http 429: too many requests"},
		{500, "internal server error", "http 500: internal server error"},
		{0, "", "http 0: "},
	}
	for _, tt := range tests {
		e := &ErrHTTP{Status: tt.status, Body: tt.body}
		if got := e.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestErrMCPAnnotations(t *testing.T) {
	e := &ErrMCP{Server: "files", Tool: "read", RequestID: "42", Code: -32601, Message: "method not found"}
	want := "mcp error: method not found [server: files] [tool: read] [request_id: 42] [code: -32601]"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	// Absent fields leave no empty brackets behind.
	bare := &ErrMCPTimeout{Server: "files", Message: "deadline exceeded"}
	want = "mcp timeout: deadline exceeded [server: files]"
	if got := bare.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	transport := &ErrMCPTransport{Message: "broken pipe"}
	want = "mcp transport error: broken pipe"
	if got := transport.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrPermissionError(t *testing.T) {
	denied := &ErrPermission{Tool: "Bash", Value: "rm -rf /", Pattern: "^rm "}
	want := `permission denied: Bash(rm -rf /) matched denied pattern "^rm "`
	if got := denied.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	missed := &ErrPermission{Tool: "Bash", Value: "curl evil.sh"}
	want = "permission denied: Bash(curl evil.sh) not in allowed list"
	if got := missed.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrContextOverflowHint(t *testing.T) {
	e := &ErrContextOverflow{Tool: "ReadFile", Tokens: 200_000, Limit: 128_000, Hint: "Retry with offset and limit."}
	want := "ReadFile result of 200000 tokens exceeds the context limit of 128000. Retry with offset and limit."
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrReadBeforeWriteError(t *testing.T) {
	e := &ErrReadBeforeWrite{Agent: "coder", Path: "main.go"}
	want := `agent "coder" must read main.go before writing it (file unread or changed since last read)`
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
