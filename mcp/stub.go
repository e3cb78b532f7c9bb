package mcp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nevindra/hive"
)

// emptySchema is served while a lazy stub has not resolved its real input
// schema yet.
var emptySchema = json.RawMessage(`{"type":"object"}`)

// nullSchema marks a tool the server's listing does not carry.
var nullSchema = json.RawMessage(`null`)

// stubTool adapts one MCP server tool to hive.Tool. Stubs are removable:
// loading a skill may drop them.
type stubTool struct {
	client *Client

	mu  sync.Mutex
	def ToolDefinition
	// resolved is set once tools/list was consulted, successfully or not.
	resolved bool
	// loadErr is the cached schema-load failure, re-raised on Execute.
	loadErr error
}

// Tools connects the definitions advertised by the server to hive tools.
func (c *Client) Tools(ctx context.Context) ([]hive.Tool, error) {
	defs, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	tools := make([]hive.Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, &stubTool{client: c, def: def, resolved: true})
	}
	return tools, nil
}

// LazyTool builds a stub for a tool known only by name, without a round
// trip to the server. The description and input schema are resolved from
// tools/list on first use; until then the schema is a permissive object.
// This lets swarm construction succeed before slow servers finish
// starting.
func (c *Client) LazyTool(name string) hive.Tool {
	return &stubTool{client: c, def: ToolDefinition{Name: name}}
}

func (s *stubTool) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.def.Name
}

func (s *stubTool) Description() string {
	_ = s.resolve(context.Background())
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.def.Description
}

func (s *stubTool) ParamsSchema() json.RawMessage {
	_ = s.resolve(context.Background())
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.def.InputSchema) == 0 {
		return emptySchema
	}
	return s.def.InputSchema
}

func (s *stubTool) Removable() bool { return true }

// resolve consults tools/list once. A load failure is cached and returned
// from then on; a listing that lacks the tool resolves to a null schema
// and leaves the stub usable.
func (s *stubTool) resolve(ctx context.Context) error {
	s.mu.Lock()
	if s.resolved {
		err := s.loadErr
		s.mu.Unlock()
		return err
	}
	name := s.def.Name
	s.mu.Unlock()

	defs, err := s.client.ListTools(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		return s.loadErr
	}
	s.resolved = true
	if err != nil {
		s.loadErr = withTool(err, name)
		s.client.logger.Warn("mcp: schema resolution failed",
			"server", s.client.server, "tool", name, "error", err)
		return s.loadErr
	}
	for _, def := range defs {
		if def.Name == name {
			s.def = def
			return nil
		}
	}
	s.def.InputSchema = nullSchema
	return nil
}

func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (hive.ToolResult, error) {
	if err := s.resolve(ctx); err != nil {
		return hive.ToolResult{}, err
	}
	result, err := s.client.CallTool(ctx, s.Name(), args)
	if err != nil {
		// MCP failures carry server/tool/request id fragments; surface
		// them in the tool result so the model can adapt.
		return hive.ToolResult{Error: err.Error()}, nil
	}
	return result, nil
}

// withTool annotates a client error with the tool name the stub serves;
// protocol calls like tools/list report no tool of their own.
func withTool(err error, tool string) error {
	switch e := err.(type) {
	case *hive.ErrMCP:
		c := *e
		if c.Tool == "" {
			c.Tool = tool
		}
		return &c
	case *hive.ErrMCPTimeout:
		c := *e
		if c.Tool == "" {
			c.Tool = tool
		}
		return &c
	case *hive.ErrMCPTransport:
		c := *e
		if c.Tool == "" {
			c.Tool = tool
		}
		return &c
	}
	return err
}

var _ hive.Tool = (*stubTool)(nil)
