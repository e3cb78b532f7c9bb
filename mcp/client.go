package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/nevindra/hive"
)

// DefaultCallTimeout bounds a single MCP request when the server config
// does not set one.
const DefaultCallTimeout = 60 * time.Second

// ServerConfig describes how to launch one MCP server subprocess.
type ServerConfig struct {
	Command string            `json:"command" toml:"command"`
	Args    []string          `json:"args,omitempty" toml:"args"`
	Env     map[string]string `json:"env,omitempty" toml:"env"`
	// Timeout bounds each request to this server.
	Timeout time.Duration `json:"timeout,omitempty" toml:"timeout"`
}

// Client is a connection to one MCP server subprocess. It is safe for
// concurrent use; requests are matched to responses by JSON-RPC id.
type Client struct {
	server  string
	cfg     ServerConfig
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	timeout time.Duration
	logger  *slog.Logger

	writeMu sync.Mutex
	nextID  int64

	pendingMu sync.Mutex
	pending   map[int64]chan *response
	closed    bool

	closeOnce sync.Once
}

// Dial spawns the server process, performs the initialize handshake, and
// returns a ready client. server names the connection in errors and tool
// names.
func Dial(ctx context.Context, server string, cfg ServerConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Command == "" {
		return nil, hive.Configf("mcp server %q has no command", server)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, transportErr(server, "", 0, fmt.Sprintf("stdin pipe: %v", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, transportErr(server, "", 0, fmt.Sprintf("stdout pipe: %v", err))
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, transportErr(server, "", 0, fmt.Sprintf("start %s: %v", cfg.Command, err))
	}

	c := &Client{
		server:  server,
		cfg:     cfg,
		cmd:     cmd,
		stdin:   stdin,
		timeout: timeout,
		logger:  logger,
		pending: make(map[int64]chan *response),
	}
	go c.readLoop(stdout)

	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Server returns the configured server name.
func (c *Client) Server() string { return c.server }

// readLoop routes newline-delimited responses to waiting callers. On EOF
// or a read error, every pending call fails with a transport error.
func (c *Client) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 10<<20), 10<<20) // 10MB max message

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("mcp: malformed response line", "server", c.server, "error", err)
			continue
		}
		if resp.ID == nil {
			// Server-initiated notification; nothing subscribes to them.
			continue
		}
		c.pendingMu.Lock()
		ch, ok := c.pending[*resp.ID]
		if ok {
			delete(c.pending, *resp.ID)
		}
		c.pendingMu.Unlock()
		if ok {
			ch <- &resp
		}
	}

	c.pendingMu.Lock()
	c.closed = true
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.pendingMu.Unlock()
}

// initialize performs the MCP handshake.
func (c *Client) initialize(ctx context.Context) error {
	result, err := c.call(ctx, "", "initialize", initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    struct{}{},
		ClientInfo:      clientInfo{Name: "hive", Version: "1.0"},
	})
	if err != nil {
		return err
	}
	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return transportErr(c.server, "", 0, fmt.Sprintf("decode initialize result: %v", err))
	}
	c.logger.Info("mcp server connected",
		"server", c.server, "name", init.ServerInfo.Name, "version", init.ServerInfo.Version)
	return c.notify("notifications/initialized", nil)
}

// ListTools fetches the server's tool definitions.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.call(ctx, "", "tools/list", struct{}{})
	if err != nil {
		return nil, err
	}
	var list toolsListResult
	if err := json.Unmarshal(result, &list); err != nil {
		return nil, transportErr(c.server, "", 0, fmt.Sprintf("decode tools/list result: %v", err))
	}
	return list.Tools, nil
}

// CallTool invokes one tool. Text content blocks are concatenated into the
// result content; image blocks become attachments. IsError results are
// reported in ToolResult.Error.
func (c *Client) CallTool(ctx context.Context, tool string, args json.RawMessage) (hive.ToolResult, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err := c.call(ctx, tool, "tools/call", toolCallParams{Name: tool, Arguments: args})
	if err != nil {
		return hive.ToolResult{}, err
	}
	var call toolCallResult
	if err := json.Unmarshal(result, &call); err != nil {
		return hive.ToolResult{}, transportErr(c.server, tool, 0, fmt.Sprintf("decode tools/call result: %v", err))
	}

	var out hive.ToolResult
	for _, block := range call.Content {
		switch block.Type {
		case "text":
			if out.Content != "" {
				out.Content += "\n"
			}
			out.Content += block.Text
		case "image":
			out.Images = append(out.Images, hive.ImageData{MimeType: block.MimeType, Base64: block.Data})
		}
	}
	if call.IsError {
		out.Error = out.Content
		out.Content = ""
	}
	return out, nil
}

// call sends one request and waits for its response, bounded by the
// per-call timeout. tool annotates errors; it is empty for protocol
// methods.
func (c *Client) call(ctx context.Context, tool, method string, params any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ch := make(chan *response, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, transportErr(c.server, tool, 0, "server connection closed")
	}
	c.nextID++
	id := c.nextID
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.write(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, &hive.ErrMCPTransport{
			Server: c.server, Tool: tool, RequestID: fmt.Sprint(id),
			Message: err.Error(),
		}
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, &hive.ErrMCPTransport{
				Server: c.server, Tool: tool, RequestID: fmt.Sprint(id),
				Message: "server exited before responding",
			}
		}
		if resp.Error != nil {
			return nil, &hive.ErrMCP{
				Server: c.server, Tool: tool, RequestID: fmt.Sprint(id),
				Code: resp.Error.Code, Message: resp.Error.Message,
			}
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &hive.ErrMCPTimeout{
				Server: c.server, Tool: tool, RequestID: fmt.Sprint(id),
				Message: fmt.Sprintf("no response within %s", c.timeout),
			}
		}
		return nil, ctx.Err()
	}
}

// notify sends a notification (no id, no response expected).
func (c *Client) notify(method string, params any) error {
	if err := c.write(request{JSONRPC: "2.0", Method: method, Params: params}); err != nil {
		return transportErr(c.server, "", 0, err.Error())
	}
	return nil
}

func (c *Client) write(req request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.stdin.Write(data)
	return err
}

// Close shuts down the server process: stdin is closed so a well-behaved
// server exits, then the process is killed after a grace period.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()

		done := make(chan error, 1)
		go func() { done <- c.cmd.Wait() }()
		select {
		case err = <-done:
		case <-time.After(3 * time.Second):
			_ = c.cmd.Process.Kill()
			err = <-done
		}
	})
	return err
}

func transportErr(server, tool string, code int, msg string) error {
	return &hive.ErrMCPTransport{Server: server, Tool: tool, Code: code, Message: msg}
}
