package openaicompat

import (
	"encoding/json"
	"testing"

	"github.com/nevindra/hive"
)

func TestBuildBody_BasicRoles(t *testing.T) {
	messages := []hive.Message{
		{Role: "system", Content: "Be concise."},
		{Role: "user", Content: "Hi"},
		{Role: "assistant", Content: "Hello"},
	}

	req := BuildBody(messages, nil, "gpt-4o")

	if req.Model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", req.Model)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content != "Be concise." {
		t.Errorf("system message not preserved: %+v", req.Messages[0])
	}
	if len(req.Tools) != 0 {
		t.Errorf("expected no tools, got %d", len(req.Tools))
	}
}

func TestBuildBody_AssistantToolCalls(t *testing.T) {
	messages := []hive.Message{
		{Role: "assistant", Content: "Checking.", ToolCalls: []hive.ToolCall{
			{ID: "call_1", Name: "get_weather", Args: json.RawMessage(`{"city":"London"}`)},
		}},
		{Role: "tool", ToolCallID: "call_1", Content: "rainy"},
	}

	req := BuildBody(messages, nil, "gpt-4o")

	if len(req.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(req.Messages))
	}
	asst := req.Messages[0]
	if len(asst.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(asst.ToolCalls))
	}
	tc := asst.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" {
		t.Errorf("unexpected tool call envelope: %+v", tc)
	}
	if tc.Function.Name != "get_weather" || tc.Function.Arguments != `{"city":"London"}` {
		t.Errorf("unexpected function call: %+v", tc.Function)
	}
	if asst.Content != "Checking." {
		t.Errorf("assistant content dropped: %v", asst.Content)
	}

	result := req.Messages[1]
	if result.Role != "tool" || result.ToolCallID != "call_1" || result.Content != "rainy" {
		t.Errorf("unexpected tool result message: %+v", result)
	}
}

func TestBuildBody_ImagesBecomeContentBlocks(t *testing.T) {
	messages := []hive.Message{
		{Role: "tool", ToolCallID: "call_1", Content: "screenshot taken", Images: []hive.ImageData{
			{MimeType: "image/png", Base64: "aGk="},
		}},
	}

	req := BuildBody(messages, nil, "gpt-4o")

	blocks, ok := req.Messages[0].Content.([]ContentBlock)
	if !ok {
		t.Fatalf("expected content blocks, got %T", req.Messages[0].Content)
	}
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if blocks[0].Type != "text" || blocks[0].Text != "screenshot taken" {
		t.Errorf("unexpected text block: %+v", blocks[0])
	}
	if blocks[1].Type != "image_url" || blocks[1].ImageURL == nil {
		t.Fatalf("unexpected image block: %+v", blocks[1])
	}
	if blocks[1].ImageURL.URL != "data:image/png;base64,aGk=" {
		t.Errorf("unexpected data URI: %q", blocks[1].ImageURL.URL)
	}
}

func TestBuildBody_Options(t *testing.T) {
	req := BuildBody(nil, nil, "gpt-4o",
		WithTemperature(0.2), WithTopP(0.9), WithMaxTokens(512), WithStop("END"), WithSeed(7),
	)

	if req.Temperature == nil || *req.Temperature != 0.2 {
		t.Errorf("temperature = %v, want 0.2", req.Temperature)
	}
	if req.TopP == nil || *req.TopP != 0.9 {
		t.Errorf("top_p = %v, want 0.9", req.TopP)
	}
	if req.MaxTokens != 512 {
		t.Errorf("max_tokens = %d, want 512", req.MaxTokens)
	}
	if len(req.Stop) != 1 || req.Stop[0] != "END" {
		t.Errorf("stop = %v, want [END]", req.Stop)
	}
	if req.Seed == nil || *req.Seed != 7 {
		t.Errorf("seed = %v, want 7", req.Seed)
	}
}

func TestBuildToolDefs_EmptyParameters(t *testing.T) {
	defs := BuildToolDefs([]hive.ToolDefinition{
		{Name: "noop", Description: "does nothing"},
	})

	if len(defs) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(defs))
	}
	if defs[0].Type != "function" {
		t.Errorf("expected type function, got %q", defs[0].Type)
	}
	if string(defs[0].Function.Parameters) != `{}` {
		t.Errorf("expected empty object parameters, got %s", defs[0].Function.Parameters)
	}
}
