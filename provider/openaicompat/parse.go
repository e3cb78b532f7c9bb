package openaicompat

import (
	"encoding/json"

	"github.com/nevindra/hive"
)

// ParseResponse converts an OpenAI-format ChatResponse to a hive
// ChatResponse. Content, tool calls, and usage come from choices[0].
func ParseResponse(resp ChatResponse) (hive.ChatResponse, error) {
	out := hive.ChatResponse{Model: resp.Model}

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.Usage = hive.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
		if resp.Usage.PromptTokensDetails != nil {
			out.Usage.CachedTokens = resp.Usage.PromptTokensDetails.CachedTokens
		}
	}

	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to hive ToolCalls.
// The API returns function.arguments as a JSON string; invalid JSON falls
// back to an empty object so a malformed call surfaces as a tool error
// instead of a marshaling failure later.
func ParseToolCalls(tcs []ToolCallRequest) []hive.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]hive.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, hive.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
