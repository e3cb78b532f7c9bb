package hive

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultContextWindow is assumed for models whose context window cannot
// be resolved. A model_lookup_warning event records the fallback.
const DefaultContextWindow = 128_000

// Orchestration is the common surface of Swarm and Workflow, enough for
// snapshotting and for callers that run either.
type Orchestration interface {
	// ID is the stable orchestration id, preserved across snapshots.
	ID() string
	// Type is "swarm" or "workflow".
	Type() string
	// Execute runs one prompt to completion.
	Execute(ctx context.Context, prompt string) Result
	// Events exposes the orchestration's event stream.
	Events() *EventLog
}

// SwarmConfig assembles a swarm.
type SwarmConfig struct {
	// Name labels the swarm in snapshots and logs; defaults to the lead
	// agent's name.
	Name string
	// Agents defines the team. The first agent leads unless Lead is set.
	Agents []AgentDefinition
	Lead   string
	// Providers resolves a model name to a chat provider.
	Providers ProviderFactory
	Registry  *ToolRegistry
	Plugins   *PluginRegistry
	Hooks     *HookRegistry
	Events    *EventLog
	// Scratchpad is the shared working store; defaults to an in-memory
	// store. Memory is the persistent store, optional.
	Scratchpad  Storage
	Memory      Storage
	ReadTracker *ReadTracker
	// ContextWindow resolves a model's context window in tokens. Zero or a
	// nil func falls back to DefaultContextWindow with a warning event.
	ContextWindow func(model string) int
	// Cost prices one request's usage for a model; optional.
	Cost func(model string, u Usage) float64
	// ParentSwarmID links nested swarms in the event stream.
	ParentSwarmID string
	MaxTurns      int
	Logger        *slog.Logger
	Tracer        Tracer
}

// Swarm owns a team of agents, their conversations, shared storage, and
// the event stream. A swarm value survives across Execute calls; agent
// conversations continue where they left off.
type Swarm struct {
	cfg    SwarmConfig
	id     string
	name   string
	lead   string
	defs   map[string]AgentDefinition
	order  []string
	events *EventLog
	hooks  *HookRegistry
	router *DelegationRouter
	logger *slog.Logger

	scratchpad Storage
	memory     Storage
	readTrack  *ReadTracker

	mu      sync.Mutex
	engines map[string]*Engine // instance name -> engine
	warned  map[string]bool    // models already warned about
	first   bool               // a prompt has been executed
}

// NewSwarm validates the configuration and builds the swarm. Unknown
// delegation targets, duplicate agent names, and unknown tool names are
// configuration errors.
func NewSwarm(cfg SwarmConfig) (*Swarm, error) {
	if len(cfg.Agents) == 0 {
		return nil, Configf("swarm needs at least one agent")
	}
	if cfg.Providers == nil {
		return nil, Configf("swarm needs a provider factory")
	}

	defs := make(map[string]AgentDefinition, len(cfg.Agents))
	order := make([]string, 0, len(cfg.Agents))
	for _, def := range cfg.Agents {
		if def.Name == "" {
			return nil, Configf("agent with empty name")
		}
		if _, dup := defs[def.Name]; dup {
			return nil, Configf("duplicate agent name %q", def.Name)
		}
		defs[def.Name] = def
		order = append(order, def.Name)
	}
	for _, def := range cfg.Agents {
		for _, target := range def.DelegatesTo {
			if _, ok := defs[target]; !ok {
				return nil, Configf("agent %q delegates to unknown agent %q", def.Name, target)
			}
		}
		if cfg.Registry != nil {
			if unknown := cfg.Registry.Validate(def.Tools); len(unknown) > 0 {
				return nil, Configf("agent %q declares unknown tools %v", def.Name, unknown)
			}
		} else if len(def.Tools) > 0 {
			return nil, Configf("agent %q declares tools but no registry is configured", def.Name)
		}
	}

	lead := cfg.Lead
	if lead == "" {
		lead = order[0]
	}
	if _, ok := defs[lead]; !ok {
		return nil, Configf("lead agent %q is not defined", lead)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}
	events := cfg.Events
	if events == nil {
		events = NewEventLog(WithEventLogger(logger))
	}
	scratchpad := cfg.Scratchpad
	if scratchpad == nil {
		scratchpad = NewScratchpad(DefaultTotalSize)
	}
	readTrack := cfg.ReadTracker
	if readTrack == nil {
		readTrack = NewReadTracker()
	}

	name := cfg.Name
	if name == "" {
		name = lead
	}

	s := &Swarm{
		cfg:        cfg,
		id:         NewID(),
		name:       name,
		lead:       lead,
		defs:       defs,
		order:      order,
		events:     events,
		hooks:      cfg.Hooks,
		logger:     logger,
		scratchpad: scratchpad,
		memory:     cfg.Memory,
		readTrack:  readTrack,
		engines:    make(map[string]*Engine),
		warned:     make(map[string]bool),
	}
	s.router = NewDelegationRouter(s, events, logger)
	return s, nil
}

// ID returns the stable swarm id.
func (s *Swarm) ID() string { return s.id }

// Name returns the swarm's configured name.
func (s *Swarm) Name() string { return s.name }

// Type returns "swarm".
func (s *Swarm) Type() string { return "swarm" }

// Events returns the swarm's event log.
func (s *Swarm) Events() *EventLog { return s.events }

// Lead returns the lead agent's name.
func (s *Swarm) Lead() string { return s.lead }

// Scratchpad returns the shared working store.
func (s *Swarm) Scratchpad() Storage { return s.scratchpad }

// Memory returns the persistent store, nil when not configured.
func (s *Swarm) Memory() Storage { return s.memory }

// Tracker returns the shared read tracker.
func (s *Swarm) Tracker() *ReadTracker { return s.readTrack }

// Definitions returns the agent definitions in declaration order.
func (s *Swarm) Definitions() []AgentDefinition {
	out := make([]AgentDefinition, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.defs[name])
	}
	return out
}

// Definition implements delegationHost.
func (s *Swarm) Definition(name string) (AgentDefinition, bool) {
	def, ok := s.defs[name]
	return def, ok
}

// DelegateEngine implements delegationHost: returns the persistent engine
// for instance "<target>@<delegator>", creating it on first use.
func (s *Swarm) DelegateEngine(ctx context.Context, target, delegator string) (*Engine, error) {
	return s.engine(ctx, target, target+"@"+delegator)
}

// Execute runs one prompt through the lead agent and aggregates the
// execution's statistics from its own event stream.
func (s *Swarm) Execute(ctx context.Context, prompt string) Result {
	start := time.Now()
	xid := NewID()
	ctx = WithSwarmContext(ctx, SwarmContext{
		SwarmID:       s.id,
		ParentSwarmID: s.cfg.ParentSwarmID,
		ExecutionID:   xid,
	})

	s.mu.Lock()
	s.first = true
	s.mu.Unlock()

	stats := newStatsCollector()
	sub := s.events.Subscribe(Filter{"execution_id": xid}, stats.observe)
	defer s.events.Unsubscribe(sub)

	lead, err := s.engine(ctx, s.lead, s.lead)
	if err != nil {
		return Result{Success: false, Error: err.Error(), Duration: time.Since(start)}
	}

	content, execErr := lead.Execute(ctx, prompt, ExecuteOptions{})

	res := Result{
		Content:  content,
		Success:  execErr == nil,
		Duration: time.Since(start),
	}
	if execErr != nil {
		res.Error = execErr.Error()
		if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
			res.Cancelled = true
		}
	}
	stats.fill(&res, s.cfg.Cost)
	return res
}

// engine returns the persistent engine for an instance, creating it on
// first use from the named definition.
func (s *Swarm) engine(ctx context.Context, defName, instance string) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.engines[instance]; ok {
		return e, nil
	}
	def, ok := s.defs[defName]
	if !ok {
		return nil, &ErrAgentNotFound{Agent: defName}
	}
	provider, err := s.cfg.Providers(def.Model)
	if err != nil {
		return nil, err
	}
	e, err := NewEngine(EngineConfig{
		Definition:   def,
		Instance:     instance,
		Provider:     provider,
		Events:       s.events,
		Hooks:        s.hooks,
		ContextLimit: s.contextWindowLocked(ctx, def.Model),
		Registry:     s.cfg.Registry,
		Plugins:      s.cfg.Plugins,
		ToolContext: ToolContext{
			Scratchpad:  s.scratchpad,
			Memory:      s.memory,
			ReadTracker: s.readTrack,
		},
		Router:   s.router,
		MaxTurns: s.cfg.MaxTurns,
		Logger:   s.logger,
		Tracer:   s.cfg.Tracer,
	})
	if err != nil {
		return nil, err
	}
	s.engines[instance] = e
	return e, nil
}

// contextWindowLocked resolves a model's context window, warning once per
// model when the lookup fails. Caller holds s.mu.
func (s *Swarm) contextWindowLocked(ctx context.Context, model string) int {
	if s.cfg.ContextWindow != nil {
		if w := s.cfg.ContextWindow(model); w > 0 {
			return w
		}
	}
	if !s.warned[model] {
		s.warned[model] = true
		s.events.Emit(ctx, Event{Type: EventModelLookupWarning, Payload: map[string]any{
			"model":    model,
			"fallback": DefaultContextWindow,
		}})
		s.logger.Warn("unknown model context window, using fallback",
			"model", model, "fallback", DefaultContextWindow)
	}
	return DefaultContextWindow
}

// --- Snapshot hooks (see snapshot.go) ---

// instances returns the live engines keyed by instance name.
func (s *Swarm) instances() map[string]*Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Engine, len(s.engines))
	for k, v := range s.engines {
		out[k] = v
	}
	return out
}

// firstMessageSent reports whether any prompt has been executed.
func (s *Swarm) firstMessageSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.first
}

// restoreIdentity installs a snapshot's swarm id and first-message flag.
func (s *Swarm) restoreIdentity(meta SnapshotMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = meta.ID
	s.first = meta.FirstMessageSent
}

// restoreEngine materializes a snapshotted instance and installs its
// conversation and context.
func (s *Swarm) restoreEngine(ctx context.Context, instance string, messages []Message, actx *AgentContext) error {
	defName := instance
	if i := strings.Index(instance, "@"); i >= 0 {
		defName = instance[:i]
	}
	e, err := s.engine(ctx, defName, instance)
	if err != nil {
		return err
	}
	e.RestoreConversation(messages, actx)
	return nil
}

var _ Orchestration = (*Swarm)(nil)
var _ delegationHost = (*Swarm)(nil)

// --- Execution statistics ---

// statsCollector aggregates one execution's counters by observing its own
// event stream rather than threading counters through the engines.
type statsCollector struct {
	mu       sync.Mutex
	requests int
	tools    int
	agents   map[string]bool
	byModel  map[string]Usage
}

func newStatsCollector() *statsCollector {
	return &statsCollector{agents: make(map[string]bool), byModel: make(map[string]Usage)}
}

func (c *statsCollector) observe(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev.Type {
	case EventOpenAIRequest:
		c.requests++
	case EventToolCall:
		c.tools++
	case EventAgentStart:
		name := ev.Agent
		if i := strings.Index(name, "@"); i >= 0 {
			name = name[:i]
		}
		if name != "" {
			c.agents[name] = true
		}
	case EventOpenAIResponse:
		model, _ := ev.Field("model")
		u := c.byModel[model]
		u.InputTokens += payloadInt(ev.Payload, "input_tokens")
		u.OutputTokens += payloadInt(ev.Payload, "output_tokens")
		u.CachedTokens += payloadInt(ev.Payload, "cached_tokens")
		c.byModel[model] = u
	}
}

func (c *statsCollector) fill(res *Result, cost func(model string, u Usage) float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res.LLMRequests = c.requests
	res.ToolCallsCount = c.tools
	for name := range c.agents {
		res.AgentsInvolved = append(res.AgentsInvolved, name)
	}
	sort.Strings(res.AgentsInvolved)
	for model, u := range c.byModel {
		res.Usage.Add(u)
		if cost != nil {
			res.Cost += cost(model, u)
		}
	}
}

// payloadInt reads an int-ish payload value: events observed in-process
// carry ints, events replayed from JSON carry float64s.
func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
