package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nevindra/hive"
)

// fakeServer writes a shell script that speaks newline-delimited JSON-RPC
// on stdin/stdout and returns a client dialed to it. The script body
// handles everything after the initialize handshake.
func fakeServer(t *testing.T, handlers string) *Client {
	t.Helper()
	script := `#!/bin/sh
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\),.*/\1/p')
  case "$line" in
  *'"method":"initialize"'*)
    printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"fake","version":"0.1"}}}\n' "$id"
    ;;
` + handlers + `
  esac
done
`
	path := filepath.Join(t.TempDir(), "server.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	client, err := Dial(context.Background(), "fake", ServerConfig{
		Command: "/bin/sh",
		Args:    []string{path},
		Timeout: 5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

const listHandler = `  *'"method":"tools/list"'*)
    printf '{"jsonrpc":"2.0","id":%s,"result":{"tools":[{"name":"echo","description":"Echo text back","inputSchema":{"type":"object","properties":{"text":{"type":"string"}}}}]}}\n' "$id"
    ;;
`

func TestDialAndListTools(t *testing.T) {
	client := fakeServer(t, listHandler)

	if client.Server() != "fake" {
		t.Errorf("Server() = %q, want fake", client.Server())
	}

	defs, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 || defs[0].Name != "echo" {
		t.Fatalf("ListTools = %+v, want the echo tool", defs)
	}
	if !strings.Contains(string(defs[0].InputSchema), `"text"`) {
		t.Errorf("InputSchema = %s, want the declared schema", defs[0].InputSchema)
	}
}

func TestToolsAdaptToHiveTools(t *testing.T) {
	client := fakeServer(t, listHandler)

	tools, err := client.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 1 {
		t.Fatalf("Tools = %d, want 1", len(tools))
	}
	tool := tools[0]
	if tool.Name() != "echo" {
		t.Errorf("Name() = %q, want echo", tool.Name())
	}
	if tool.Description() != "Echo text back" {
		t.Errorf("Description() = %q", tool.Description())
	}
	if !tool.Removable() {
		t.Error("MCP tools must be removable")
	}
}

func TestCallToolContentBlocks(t *testing.T) {
	client := fakeServer(t, `  *'"method":"tools/call"'*)
    printf '{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"first"},{"type":"text","text":"second"},{"type":"image","data":"aGk=","mimeType":"image/png"}]}}\n' "$id"
    ;;
`)

	res, err := client.CallTool(context.Background(), "echo", json.RawMessage(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "first\nsecond" {
		t.Errorf("Content = %q, want text blocks joined", res.Content)
	}
	if len(res.Images) != 1 || res.Images[0].MimeType != "image/png" || res.Images[0].Base64 != "aGk=" {
		t.Errorf("Images = %+v, want the image block", res.Images)
	}
}

func TestCallToolIsError(t *testing.T) {
	client := fakeServer(t, `  *'"method":"tools/call"'*)
    printf '{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"file not found"}],"isError":true}}\n' "$id"
    ;;
`)

	res, err := client.CallTool(context.Background(), "echo", nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != "file not found" || res.Content != "" {
		t.Errorf("result = %+v, want the error text moved to Error", res)
	}
}

func TestCallToolRPCError(t *testing.T) {
	client := fakeServer(t, `  *'"method":"tools/call"'*)
    printf '{"jsonrpc":"2.0","id":%s,"error":{"code":-32602,"message":"missing argument"}}\n' "$id"
    ;;
`)

	_, err := client.CallTool(context.Background(), "echo", json.RawMessage(`{}`))
	var mcpErr *hive.ErrMCP
	if !errors.As(err, &mcpErr) {
		t.Fatalf("err = %v, want *hive.ErrMCP", err)
	}
	if mcpErr.Server != "fake" || mcpErr.Tool != "echo" || mcpErr.Code != -32602 {
		t.Errorf("error = %+v, want server, tool, and code annotated", mcpErr)
	}
	if !strings.Contains(err.Error(), "[server: fake]") || !strings.Contains(err.Error(), "[tool: echo]") {
		t.Errorf("Error() = %q, want annotated fragments", err.Error())
	}
}

func TestCallToolTimeout(t *testing.T) {
	// The server never answers tools/call.
	script := `#!/bin/sh
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\),.*/\1/p')
  case "$line" in
  *'"method":"initialize"'*)
    printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"fake","version":"0.1"}}}\n' "$id"
    ;;
  esac
done
`
	path := filepath.Join(t.TempDir(), "server.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	client, err := Dial(context.Background(), "slow", ServerConfig{
		Command: "/bin/sh",
		Args:    []string{path},
		Timeout: 100 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	_, err = client.CallTool(context.Background(), "echo", nil)
	var timeoutErr *hive.ErrMCPTimeout
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want *hive.ErrMCPTimeout", err)
	}
	if timeoutErr.Server != "slow" || timeoutErr.Tool != "echo" {
		t.Errorf("error = %+v, want server and tool annotated", timeoutErr)
	}
}

func TestDialNoCommand(t *testing.T) {
	_, err := Dial(context.Background(), "empty", ServerConfig{}, nil)
	if err == nil || !strings.Contains(err.Error(), "no command") {
		t.Errorf("err = %v, want a configuration error", err)
	}
}

func TestLazyToolPermissiveSchemaUntilResolved(t *testing.T) {
	// tools/list fails, so the stub keeps the permissive schema.
	client := fakeServer(t, `  *'"method":"tools/list"'*)
    printf '{"jsonrpc":"2.0","id":%s,"error":{"code":-32603,"message":"not ready"}}\n' "$id"
    ;;
`)

	tool := client.LazyTool("search")
	if tool.Name() != "search" {
		t.Errorf("Name() = %q, want search", tool.Name())
	}
	if string(tool.ParamsSchema()) != `{"type":"object"}` {
		t.Errorf("ParamsSchema() = %s, want the permissive object", tool.ParamsSchema())
	}
	if tool.Description() != "" {
		t.Errorf("Description() = %q, want empty after a failed load", tool.Description())
	}
}

func TestLazyToolSchemaLoadErrorSurfaces(t *testing.T) {
	client := fakeServer(t, `  *'"method":"tools/list"'*)
    printf '{"jsonrpc":"2.0","id":%s,"error":{"code":-32603,"message":"not ready"}}\n' "$id"
    ;;
`)

	tool := client.LazyTool("search")
	_, err := tool.Execute(context.Background(), nil)
	var mcpErr *hive.ErrMCP
	if !errors.As(err, &mcpErr) {
		t.Fatalf("err = %v, want *hive.ErrMCP", err)
	}
	if mcpErr.Server != "fake" || mcpErr.Tool != "search" || mcpErr.Code != -32603 {
		t.Errorf("error = %+v, want server, tool, and code annotated", mcpErr)
	}

	// The failure is cached, not retried per access.
	if _, err2 := tool.Execute(context.Background(), nil); !errors.Is(err2, err) && err2.Error() != err.Error() {
		t.Errorf("second Execute err = %v, want the cached load error", err2)
	}
}

func TestLazyToolNotFoundNullSchema(t *testing.T) {
	// The listing carries only echo; a stub for another name resolves to
	// a null schema but still forwards calls.
	client := fakeServer(t, listHandler+`  *'"method":"tools/call"'*)
    printf '{"jsonrpc":"2.0","id":%s,"result":{"content":[{"type":"text","text":"pong"}]}}\n' "$id"
    ;;
`)

	tool := client.LazyTool("ghost")
	if string(tool.ParamsSchema()) != "null" {
		t.Errorf("ParamsSchema() = %s, want null for an unlisted tool", tool.ParamsSchema())
	}
	res, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "pong" {
		t.Errorf("Content = %q, want the forwarded result", res.Content)
	}
}

func TestLazyToolResolvesSchema(t *testing.T) {
	client := fakeServer(t, listHandler)

	tool := client.LazyTool("echo")
	if tool.Description() != "Echo text back" {
		t.Errorf("Description() = %q, want resolved from tools/list", tool.Description())
	}
	if !strings.Contains(string(tool.ParamsSchema()), `"text"`) {
		t.Errorf("ParamsSchema() = %s, want the server schema", tool.ParamsSchema())
	}
}

func TestCallAfterServerExit(t *testing.T) {
	// The server answers initialize and then exits.
	script := `#!/bin/sh
IFS= read -r line
id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\),.*/\1/p')
printf '{"jsonrpc":"2.0","id":%s,"result":{"protocolVersion":"2025-03-26","serverInfo":{"name":"fake","version":"0.1"}}}\n' "$id"
IFS= read -r line
exit 0
`
	path := filepath.Join(t.TempDir(), "server.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	client, err := Dial(context.Background(), "gone", ServerConfig{
		Command: "/bin/sh",
		Args:    []string{path},
		Timeout: time.Second,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	// Give the process time to exit and the read loop to drain.
	time.Sleep(100 * time.Millisecond)

	_, err = client.CallTool(context.Background(), "echo", nil)
	var transportErr *hive.ErrMCPTransport
	if !errors.As(err, &transportErr) {
		t.Fatalf("err = %v, want *hive.ErrMCPTransport", err)
	}
}
