// Package hive is a swarm orchestration engine for LLM-backed agents in Go.
//
// A swarm is a named graph of cooperating agents with one lead. Given a
// prompt, hive drives each agent's conversation loop (LLM call, tool
// dispatch, delegation to other agents), manages per-agent context-window
// usage with threshold-driven compression, and streams a structured event
// log suitable for snapshotting and later replay.
//
// # Quick Start
//
//	provider := openaicompat.NewProvider(apiKey, "gpt-4o", "https://api.openai.com/v1")
//	registry := hive.NewToolRegistry()
//	registry.Register(think.Spec(), clock.Spec())
//
//	swarm, err := hive.NewSwarm(hive.SwarmConfig{
//		Agents: []hive.AgentDefinition{
//			{Name: "orchestrator", Model: "gpt-4o", DelegatesTo: []string{"coder"}},
//			{Name: "coder", Model: "gpt-4o", Tools: []string{"Bash", "Read", "Write"}},
//		},
//		Providers: func(model string) (hive.Provider, error) { return provider, nil },
//		Registry:  registry,
//	})
//
//	result := swarm.Execute(ctx, "Summarize the repo layout")
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Provider] — LLM backend (chat completion with tool calling)
//   - [Tool] — pluggable capability exposed to the LLM via function calling
//   - [Storage] — path-addressed scoped store (scratchpad, memory)
//   - [Plugin] — tool contributor with snapshot-carried per-agent state
//   - [Orchestration] — the swarm/workflow surface the snapshot engine consumes
//
// # Included Implementations
//
// Providers: provider/openaicompat (OpenAI-compatible APIs), provider/resolve
// (model-prefix resolution). Storage: in-memory scratchpad (root), store/disk,
// store/sqlite, store/postgres. Tools: tools/think, tools/clock, tools/todo,
// tools/scratch, tools/memory, tools/file, tools/shell, tools/http,
// tools/code, tools/skill. Remote tools: mcp. Observability: observer.
//
// See cmd/hive for the CLI entry point.
package hive
