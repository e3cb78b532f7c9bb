package openaicompat

import (
	"encoding/json"
	"fmt"

	"github.com/nevindra/hive"
)

// BuildBody converts hive messages and tool definitions into an
// OpenAI-format ChatRequest. System messages stay in the messages array as
// role:"system". Options configure generation parameters.
func BuildBody(messages []hive.Message, tools []hive.ToolDefinition, model string, opts ...Option) ChatRequest {
	var msgs []Message

	for _, m := range messages {
		switch {
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			var tcs []ToolCallRequest
			for _, tc := range m.ToolCalls {
				tcs = append(tcs, ToolCallRequest{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				})
			}
			msg := Message{Role: "assistant", ToolCalls: tcs}
			if m.Content != "" {
				msg.Content = m.Content
			}
			msgs = append(msgs, msg)

		case m.Role == "tool":
			msg := Message{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			}
			// Tool results with images become multimodal blocks so vision
			// models can see screenshots and rendered files.
			if len(m.Images) > 0 {
				msg.Content = contentBlocks(m.Content, m.Images)
			}
			msgs = append(msgs, msg)

		case len(m.Images) > 0:
			msgs = append(msgs, Message{
				Role:    m.Role,
				Content: contentBlocks(m.Content, m.Images),
			})

		default:
			msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
		}
	}

	req := ChatRequest{Model: model, Messages: msgs}
	if len(tools) > 0 {
		req.Tools = BuildToolDefs(tools)
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

func contentBlocks(text string, images []hive.ImageData) []ContentBlock {
	var blocks []ContentBlock
	if text != "" {
		blocks = append(blocks, ContentBlock{Type: "text", Text: text})
	}
	for _, img := range images {
		blocks = append(blocks, ContentBlock{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Base64)},
		})
	}
	return blocks
}

// BuildToolDefs converts hive ToolDefinitions to OpenAI tool format.
func BuildToolDefs(tools []hive.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
