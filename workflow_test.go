package hive

import (
	"context"
	"strings"
	"testing"
)

func workflowProviders(byModel map[string]Provider) ProviderFactory {
	return func(model string) (Provider, error) {
		if p, ok := byModel[model]; ok {
			return p, nil
		}
		return &mockProvider{name: "fallback"}, nil
	}
}

func TestNewWorkflowValidation(t *testing.T) {
	base := SwarmConfig{
		Agents:    []AgentDefinition{{Name: "writer", Model: "m"}},
		Providers: func(string) (Provider, error) { return &mockProvider{name: "test"}, nil },
	}

	tests := []struct {
		name    string
		steps   []WorkflowStep
		wantErr string
	}{
		{
			name:    "no steps",
			steps:   nil,
			wantErr: "at least one step",
		},
		{
			name:    "unnamed step",
			steps:   []WorkflowStep{{Agent: "writer", Prompt: "x"}},
			wantErr: "has no name",
		},
		{
			name: "duplicate step name",
			steps: []WorkflowStep{
				{Name: "draft", Agent: "writer", Prompt: "x"},
				{Name: "draft", Agent: "writer", Prompt: "y"},
			},
			wantErr: `duplicate workflow step name "draft"`,
		},
		{
			name:    "unknown agent",
			steps:   []WorkflowStep{{Name: "draft", Agent: "ghost", Prompt: "x"}},
			wantErr: `unknown agent "ghost"`,
		},
		{
			name:    "empty prompt",
			steps:   []WorkflowStep{{Name: "draft", Agent: "writer"}},
			wantErr: "has no prompt",
		},
		{
			name: "forward step reference",
			steps: []WorkflowStep{
				{Name: "draft", Agent: "writer", Prompt: "use ${steps.review}"},
				{Name: "review", Agent: "writer", Prompt: "review"},
			},
			wantErr: "not an earlier step",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWorkflow(WorkflowConfig{Swarm: base, Steps: tt.steps})
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestWorkflowExecuteSequence(t *testing.T) {
	drafter := &mockProvider{name: "drafter", responses: []ChatResponse{{Content: "the draft"}}}
	reviewer := &mockProvider{name: "reviewer", responses: []ChatResponse{{Content: "approved"}}}

	wf, err := NewWorkflow(WorkflowConfig{
		Swarm: SwarmConfig{
			Agents: []AgentDefinition{
				{Name: "drafter", Model: "draft-model"},
				{Name: "reviewer", Model: "review-model"},
			},
			Providers: workflowProviders(map[string]Provider{
				"draft-model":  drafter,
				"review-model": reviewer,
			}),
		},
		Steps: []WorkflowStep{
			{Name: "draft", Agent: "drafter", Prompt: "Draft an answer to: ${input}"},
			{Name: "review", Agent: "reviewer", Prompt: "Review this draft: ${steps.draft}"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if wf.Type() != "workflow" {
		t.Errorf("Type() = %q, want workflow", wf.Type())
	}

	res := wf.Execute(context.Background(), "what is a swarm?")
	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}
	if res.Content != "approved" {
		t.Errorf("Content = %q, want the last step's output", res.Content)
	}
	if res.LLMRequests != 2 {
		t.Errorf("LLMRequests = %d, want 2", res.LLMRequests)
	}
	if wf.Cursor() != 0 {
		t.Errorf("Cursor() = %d, want 0 after a full pass", wf.Cursor())
	}

	drafter.mu.Lock()
	draftPrompt := drafter.requests[0].Messages[0].Content
	drafter.mu.Unlock()
	if draftPrompt != "Draft an answer to: what is a swarm?" {
		t.Errorf("draft prompt = %q, want ${input} expanded", draftPrompt)
	}

	reviewer.mu.Lock()
	reviewPrompt := reviewer.requests[0].Messages[0].Content
	reviewer.mu.Unlock()
	if reviewPrompt != "Review this draft: the draft" {
		t.Errorf("review prompt = %q, want ${steps.draft} expanded", reviewPrompt)
	}
}

func TestWorkflowFailedStepKeepsCursor(t *testing.T) {
	drafter := &mockProvider{name: "drafter", responses: []ChatResponse{{Content: "the draft"}}}
	reviewer := &faultProvider{name: "reviewer", script: []chatOutcome{
		{err: Configf("provider down")},
		{resp: ChatResponse{Content: "approved after all"}},
	}}

	wf, err := NewWorkflow(WorkflowConfig{
		Swarm: SwarmConfig{
			Agents: []AgentDefinition{
				{Name: "drafter", Model: "draft-model"},
				{Name: "reviewer", Model: "review-model"},
			},
			Providers: workflowProviders(map[string]Provider{
				"draft-model":  drafter,
				"review-model": reviewer,
			}),
		},
		Steps: []WorkflowStep{
			{Name: "draft", Agent: "drafter", Prompt: "${input}"},
			{Name: "review", Agent: "reviewer", Prompt: "review ${steps.draft}"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	res := wf.Execute(context.Background(), "go")
	if res.Success {
		t.Fatal("Success = true, want false")
	}
	if !strings.Contains(res.Error, `workflow step "review"`) {
		t.Errorf("Error = %q, want it to name the failed step", res.Error)
	}
	if wf.Cursor() != 1 {
		t.Fatalf("Cursor() = %d, want 1 at the failed step", wf.Cursor())
	}

	// A second Execute resumes at the failed step; the draft step does not
	// run again.
	res = wf.Execute(context.Background(), "go")
	if !res.Success {
		t.Fatalf("resume Success = false, error = %q", res.Error)
	}
	if res.Content != "approved after all" {
		t.Errorf("Content = %q, want %q", res.Content, "approved after all")
	}
	drafter.mu.Lock()
	defer drafter.mu.Unlock()
	if len(drafter.requests) != 1 {
		t.Errorf("drafter requests = %d, want 1", len(drafter.requests))
	}
}

func TestWorkflowRepeatedAgentKeepsConversation(t *testing.T) {
	writer := &mockProvider{
		name:      "writer",
		responses: []ChatResponse{{Content: "outline"}, {Content: "full text"}},
	}
	wf, err := NewWorkflow(WorkflowConfig{
		Swarm: SwarmConfig{
			Agents:    []AgentDefinition{{Name: "writer", Model: "m"}},
			Providers: func(string) (Provider, error) { return writer, nil },
		},
		Steps: []WorkflowStep{
			{Name: "outline", Agent: "writer", Prompt: "Outline: ${input}"},
			{Name: "expand", Agent: "writer", Prompt: "Expand your outline."},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	res := wf.Execute(context.Background(), "a story")
	if !res.Success {
		t.Fatalf("Success = false, error = %q", res.Error)
	}

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(writer.requests))
	}
	// The second step sees the first exchange in its conversation.
	second := writer.requests[1].Messages
	if len(second) != 3 {
		t.Fatalf("second request messages = %d, want 3", len(second))
	}
	if second[1].Role != "assistant" || second[1].Content != "outline" {
		t.Errorf("second request carries %s %q, want the earlier assistant turn", second[1].Role, second[1].Content)
	}
}
