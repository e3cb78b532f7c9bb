package openaicompat

import (
	"testing"
)

func TestParseResponse_ContentAndUsage(t *testing.T) {
	resp, err := ParseResponse(ChatResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-2024-08-06",
		Choices: []Choice{{
			Message: &ChoiceMessage{Role: "assistant", Content: "Hello"},
		}},
		Usage: &Usage{
			PromptTokens:        100,
			CompletionTokens:    20,
			PromptTokensDetails: &PromptTokensDetails{CachedTokens: 60},
		},
	})
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}

	if resp.Content != "Hello" {
		t.Errorf("expected content 'Hello', got %q", resp.Content)
	}
	if resp.Model != "gpt-4o-2024-08-06" {
		t.Errorf("expected the response model, got %q", resp.Model)
	}
	if resp.Usage.InputTokens != 100 || resp.Usage.OutputTokens != 20 {
		t.Errorf("unexpected usage: %+v", resp.Usage)
	}
	if resp.Usage.CachedTokens != 60 {
		t.Errorf("expected 60 cached tokens, got %d", resp.Usage.CachedTokens)
	}
}

func TestParseResponse_NoChoices(t *testing.T) {
	resp, err := ParseResponse(ChatResponse{ID: "chatcmpl-2", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("ParseResponse returned error: %v", err)
	}
	if resp.Content != "" || len(resp.ToolCalls) != 0 {
		t.Errorf("expected an empty response, got %+v", resp)
	}
	if resp.Model != "gpt-4o" {
		t.Errorf("expected the model carried through, got %q", resp.Model)
	}
}

func TestParseToolCalls(t *testing.T) {
	calls := ParseToolCalls([]ToolCallRequest{
		{ID: "call_1", Function: FunctionCall{Name: "get_weather", Arguments: `{"city":"London"}`}},
		{ID: "call_2", Function: FunctionCall{Name: "broken", Arguments: `{not json`}},
	})

	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "get_weather" || string(calls[0].Args) != `{"city":"London"}` {
		t.Errorf("unexpected first call: %+v", calls[0])
	}
	// Malformed arguments degrade to an empty object instead of failing.
	if string(calls[1].Args) != `{}` {
		t.Errorf("expected empty-object fallback, got %s", calls[1].Args)
	}

	if got := ParseToolCalls(nil); got != nil {
		t.Errorf("expected nil for no calls, got %v", got)
	}
}
