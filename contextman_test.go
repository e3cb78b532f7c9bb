package hive

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

// toolHeavyConversation builds a conversation of n tool exchanges whose
// tool results are size runes each.
func toolHeavyConversation(n, size int) []Message {
	msgs := []Message{SystemMessage("be helpful"), UserMessage("go")}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("c%d", i)
		msgs = append(msgs,
			Message{Role: "assistant", ToolCalls: []ToolCall{{ID: id, Name: "tool", Args: rawArgs(`{}`)}}},
			Message{Role: "tool", ToolCallID: id, Content: strings.Repeat("x", size)},
		)
	}
	return msgs
}

func TestContextManagerThresholdsFireOnce(t *testing.T) {
	conv := toolHeavyConversation(4, 400)
	tokens := SharedTokenCounter().CountMessages(conv)

	events := NewEventLog()
	rec := recordedEvents(events)
	// Limit equal to usage puts the conversation at 100%, crossing every
	// threshold in one check.
	m := NewContextManager(tokens, events)
	actx := NewAgentContext("tester")

	m.Check(context.Background(), actx, &conv)
	hits := rec.ofType(EventContextThresholdHit)
	if len(hits) != 3 {
		t.Fatalf("threshold events = %d, want 3", len(hits))
	}
	for i, want := range []int{60, 80, 90} {
		if hits[i].Payload["threshold"] != want {
			t.Errorf("hit %d = %v, want %d", i, hits[i].Payload["threshold"], want)
		}
		if !actx.ThresholdHit(want) {
			t.Errorf("ThresholdHit(%d) = false after firing", want)
		}
	}

	// A second check fires nothing new.
	m.Check(context.Background(), actx, &conv)
	if n := len(rec.ofType(EventContextThresholdHit)); n != 3 {
		t.Errorf("threshold events after recheck = %d, want still 3", n)
	}
}

func TestContextManagerSixtyPercentOnly(t *testing.T) {
	conv := toolHeavyConversation(4, 400)
	tokens := SharedTokenCounter().CountMessages(conv)

	events := NewEventLog()
	rec := recordedEvents(events)
	// Usage lands around 65% of this limit.
	m := NewContextManager(tokens*100/65, events)

	m.Check(context.Background(), NewAgentContext("tester"), &conv)
	hits := rec.ofType(EventContextThresholdHit)
	if len(hits) != 1 || hits[0].Payload["threshold"] != 60 {
		t.Fatalf("threshold events = %+v, want just the 60%% hit", hits)
	}
}

func TestContextWarningHookFires(t *testing.T) {
	conv := toolHeavyConversation(4, 400)
	tokens := SharedTokenCounter().CountMessages(conv)

	hooks := NewHookRegistry(nil)
	var fired []int
	err := hooks.Register(HookContextWarning, Hook{Fn: func(_ context.Context, ev HookEvent) error {
		if ev.Agent != "tester" {
			t.Errorf("hook Agent = %q, want tester", ev.Agent)
		}
		fired = append(fired, ev.Threshold)
		return nil
	}})
	if err != nil {
		t.Fatal(err)
	}

	// Usage lands around 65% of this limit: only the 60 threshold crosses.
	m := NewContextManager(tokens*100/65, NewEventLog(), WithWarningHooks(hooks))
	m.Check(context.Background(), NewAgentContext("tester"), &conv)

	if len(fired) != 1 || fired[0] != 60 {
		t.Errorf("context_warning hooks fired = %v, want [60]", fired)
	}
}

func TestContextManagerAutoCompression(t *testing.T) {
	conv := toolHeavyConversation(4, 400)
	tokens := SharedTokenCounter().CountMessages(conv)

	events := NewEventLog()
	rec := recordedEvents(events)
	m := NewContextManager(tokens, events, WithKeepRecent(2), WithTruncateTo(50))
	actx := NewAgentContext("tester")

	m.Check(context.Background(), actx, &conv)

	if !actx.CompressionApplied {
		t.Fatal("CompressionApplied = false after the 60% check")
	}

	// The two oldest tool results are truncated with the marker; the two
	// newest stay intact. Call ids survive throughout.
	var toolMsgs []Message
	for _, msg := range conv {
		if msg.Role == "tool" {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	if len(toolMsgs) != 4 {
		t.Fatalf("tool messages = %d, want 4", len(toolMsgs))
	}
	for i, msg := range toolMsgs[:2] {
		if !strings.HasSuffix(msg.Content, CompressionMarker) {
			t.Errorf("old tool message %d not truncated: %d runes", i, len([]rune(msg.Content)))
		}
		if msg.ToolCallID == "" {
			t.Errorf("old tool message %d lost its call id", i)
		}
	}
	for i, msg := range toolMsgs[2:] {
		if strings.Contains(msg.Content, CompressionMarker) {
			t.Errorf("recent tool message %d was truncated", i)
		}
	}

	compressions := rec.ofType(EventContextCompression)
	if len(compressions) != 1 {
		t.Fatalf("context_compression events = %d, want 1", len(compressions))
	}
	if compressions[0].Payload["messages_compressed"] != 2 {
		t.Errorf("messages_compressed = %v, want 2", compressions[0].Payload["messages_compressed"])
	}
	if compressions[0].Payload["strategy"] != "progressive_tool_results" {
		t.Errorf("strategy = %v, want progressive_tool_results", compressions[0].Payload["strategy"])
	}
}

func TestWarningHandlerSuppressesAutoCompression(t *testing.T) {
	conv := toolHeavyConversation(4, 400)
	original := CloneMessages(conv)
	tokens := SharedTokenCounter().CountMessages(conv)

	m := NewContextManager(tokens, NewEventLog(), WithKeepRecent(0), WithTruncateTo(10))
	m.OnThreshold(60, func(w *WarningContext) {
		w.MarkCompressionApplied()
	})

	m.Check(context.Background(), NewAgentContext("tester"), &conv)
	for i := range conv {
		if conv[i].Content != original[i].Content {
			t.Fatalf("message %d modified despite the handler opting out", i)
		}
	}
}

func TestWarningContextView(t *testing.T) {
	conv := toolHeavyConversation(2, 400)
	tokens := SharedTokenCounter().CountMessages(conv)

	m := NewContextManager(tokens*2, NewEventLog())
	var seen *WarningContext
	m.OnThreshold(0, func(w *WarningContext) { seen = w })

	actx := NewAgentContext("tester")
	actx.MarkThreshold(60) // leave only 80 and 90 unfired
	// 50% usage: nothing fires.
	m.Check(context.Background(), actx, &conv)
	if seen != nil {
		t.Fatal("handler fired below every threshold")
	}

	m2 := NewContextManager(tokens, NewEventLog())
	m2.OnThreshold(90, func(w *WarningContext) { seen = w })
	m2.Check(context.Background(), NewAgentContext("tester"), &conv)
	if seen == nil {
		t.Fatal("90% handler did not fire at 100% usage")
	}
	if seen.Threshold() != 90 {
		t.Errorf("Threshold() = %d, want 90", seen.Threshold())
	}
	if seen.AgentName() != "tester" {
		t.Errorf("AgentName() = %q, want tester", seen.AgentName())
	}
	if seen.TokensUsed() != tokens {
		t.Errorf("TokensUsed() = %d, want %d", seen.TokensUsed(), tokens)
	}
	if seen.TokensRemaining() != 0 {
		t.Errorf("TokensRemaining() = %d, want 0", seen.TokensRemaining())
	}
	if pct := seen.UsagePercentage(); pct < 99 || pct > 101 {
		t.Errorf("UsagePercentage() = %v, want about 100", pct)
	}
}

func TestReplaceMessagesRepairsToolDAG(t *testing.T) {
	conv := toolHeavyConversation(2, 400)
	tokens := SharedTokenCounter().CountMessages(conv)

	m := NewContextManager(tokens, NewEventLog())
	m.OnThreshold(60, func(w *WarningContext) {
		// Install a conversation with an orphaned tool result.
		w.ReplaceMessages([]Message{
			SystemMessage("sys"),
			{Role: "assistant", ToolCalls: []ToolCall{{ID: "kept", Name: "tool"}}},
			ToolResultMessage("kept", "fine"),
			ToolResultMessage("orphan", "no matching call"),
		})
		w.MarkCompressionApplied()
	})

	m.Check(context.Background(), NewAgentContext("tester"), &conv)
	if len(conv) != 3 {
		t.Fatalf("conversation length = %d, want the orphan dropped", len(conv))
	}
	for _, msg := range conv {
		if msg.ToolCallID == "orphan" {
			t.Error("orphaned tool message survived ReplaceMessages")
		}
	}
}

func TestPruneOldMessagesKeepsSystem(t *testing.T) {
	conv := toolHeavyConversation(4, 400)
	tokens := SharedTokenCounter().CountMessages(conv)

	m := NewContextManager(tokens, NewEventLog())
	m.OnThreshold(60, func(w *WarningContext) {
		w.PruneOldMessages(2)
		w.MarkCompressionApplied()
	})

	m.Check(context.Background(), NewAgentContext("tester"), &conv)
	if len(conv) > 3 {
		t.Fatalf("conversation length = %d, want at most system + 2", len(conv))
	}
	if conv[0].Role != "system" {
		t.Errorf("conversation[0].Role = %q, want the system message preserved", conv[0].Role)
	}
}

func TestContextManagerZeroLimitDisabled(t *testing.T) {
	conv := toolHeavyConversation(4, 400)
	events := NewEventLog()
	rec := recordedEvents(events)

	m := NewContextManager(0, events)
	m.Check(context.Background(), NewAgentContext("tester"), &conv)
	if n := len(rec.ofType(EventContextThresholdHit)); n != 0 {
		t.Errorf("threshold events with no limit = %d, want 0", n)
	}
}
