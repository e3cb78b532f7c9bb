package hive

import (
	"context"
	"errors"
	"testing"
)

func TestHooksFireInPriorityOrder(t *testing.T) {
	reg := NewHookRegistry(NewEventLog())
	var order []string
	add := func(name string, priority int) {
		err := reg.Register(HookAgentStep, Hook{
			Priority: priority,
			Fn: func(context.Context, HookEvent) error {
				order = append(order, name)
				return nil
			},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	add("late", 10)
	add("early", -5)
	add("mid-a", 0)
	add("mid-b", 0) // same priority keeps registration order

	reg.Fire(context.Background(), HookEvent{Point: HookAgentStep})
	want := []string{"early", "mid-a", "mid-b", "late"}
	for i, name := range want {
		if i >= len(order) || order[i] != name {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestHooksMatcherFiltersByToolName(t *testing.T) {
	reg := NewHookRegistry(NewEventLog())
	var fired []string
	err := reg.Register(HookPreTool, Hook{
		Matcher: "^Bash$",
		Fn: func(_ context.Context, ev HookEvent) error {
			fired = append(fired, ev.ToolName)
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	reg.Fire(context.Background(), HookEvent{Point: HookPreTool, ToolName: "Bash"})
	reg.Fire(context.Background(), HookEvent{Point: HookPreTool, ToolName: "Write"})
	if len(fired) != 1 || fired[0] != "Bash" {
		t.Errorf("fired = %v, want just Bash", fired)
	}
}

func TestHooksInvalidMatcher(t *testing.T) {
	reg := NewHookRegistry(NewEventLog())
	err := reg.Register(HookPreTool, Hook{Matcher: "(", Fn: func(context.Context, HookEvent) error { return nil }})
	if err == nil {
		t.Fatal("invalid matcher accepted")
	}
}

func TestHookErrorAndPanicIsolated(t *testing.T) {
	events := NewEventLog()
	rec := recordedEvents(events)
	reg := NewHookRegistry(events)

	var afterRan bool
	_ = reg.Register(HookAgentStop, Hook{Priority: 1, Fn: func(context.Context, HookEvent) error {
		return errors.New("hook failed")
	}})
	_ = reg.Register(HookAgentStop, Hook{Priority: 2, Fn: func(context.Context, HookEvent) error {
		panic("hook panicked")
	}})
	_ = reg.Register(HookAgentStop, Hook{Priority: 3, Fn: func(context.Context, HookEvent) error {
		afterRan = true
		return nil
	}})

	reg.Fire(context.Background(), HookEvent{Point: HookAgentStop, Agent: "lead"})

	if !afterRan {
		t.Error("later hook did not run after earlier failures")
	}
	internal := rec.ofType(EventInternalError)
	if len(internal) != 2 {
		t.Fatalf("internal_error events = %d, want 2", len(internal))
	}
	for _, ev := range internal {
		if ev.Payload["source"] != "hook" {
			t.Errorf("source = %v, want hook", ev.Payload["source"])
		}
	}
}

func TestHooksUnknownPointNoop(t *testing.T) {
	reg := NewHookRegistry(NewEventLog())
	// Firing a point with no hooks must not panic.
	reg.Fire(context.Background(), HookEvent{Point: HookContextWarning})
}
