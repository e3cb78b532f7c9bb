package hive

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token usage for context-window accounting. It uses
// tiktoken's cl100k_base encoding, a close approximation across current
// chat models, and falls back to chars/4 when the encoding tables are
// unavailable.
type TokenCounter struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

var (
	sharedCounter *TokenCounter
	counterOnce   sync.Once
)

// SharedTokenCounter returns the process-wide counter. The encoding tables
// load once, lazily.
func SharedTokenCounter() *TokenCounter {
	counterOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			sharedCounter = &TokenCounter{}
			return
		}
		sharedCounter = &TokenCounter{encoder: enc}
	})
	return sharedCounter
}

// CountText returns the token count for one string.
func (c *TokenCounter) CountText(text string) int {
	if c == nil || c.encoder == nil {
		return len(text) / 4
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// messageOverhead approximates the per-message framing cost of the chat
// wire format.
const messageOverhead = 4

// CountMessages returns the token estimate for a whole conversation,
// including tool call arguments and per-message overhead.
func (c *TokenCounter) CountMessages(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverhead
		total += c.CountText(m.Content)
		for _, tc := range m.ToolCalls {
			total += c.CountText(tc.Name)
			total += c.CountText(string(tc.Args))
		}
	}
	return total
}
