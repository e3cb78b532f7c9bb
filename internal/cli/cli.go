// Package cli implements the hive command: load configuration, assemble
// the swarm (or workflow), run prompts, and report results. The OS signal
// trap lives here and nowhere else; SIGINT becomes context cancellation
// and exit code 130.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/hive"
	"github.com/nevindra/hive/internal/config"
	"github.com/nevindra/hive/mcp"
	"github.com/nevindra/hive/observer"
	"github.com/nevindra/hive/provider/resolve"
	"github.com/nevindra/hive/store/disk"
	"github.com/nevindra/hive/store/postgres"
	"github.com/nevindra/hive/store/sqlite"
	"github.com/nevindra/hive/tools"
	"github.com/nevindra/hive/tools/memory"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitCancelled = 130
)

// Run parses args and executes. It returns the process exit code.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hive", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("HIVE_CONFIG"), "path to hive.toml")
	interactive := fs.Bool("i", false, "interactive prompt loop")
	output := fs.String("o", "human", "output format: human or json")
	streamEvents := fs.Bool("events", false, "stream the event log to stderr as JSON lines")
	snapshotPath := fs.String("snapshot", "", "snapshot file: restored before the run when present, written after")
	resumeID := fs.String("resume", "", "swarm id to resume from the snapshot store")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: hive [flags] [prompt | -]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return ExitFailure
	}
	if *output != "human" && *output != "json" {
		fmt.Fprintf(stderr, "hive: unknown output format %q\n", *output)
		return ExitFailure
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "hive: %v\n", err)
		return ExitFailure
	}

	app, err := build(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "hive: %v\n", err)
		return ExitFailure
	}
	defer app.close()

	if *streamEvents {
		sub := app.orch.Events().Subscribe(nil, func(ev hive.Event) {
			if data, err := json.Marshal(ev); err == nil {
				fmt.Fprintln(stderr, string(data))
			}
		})
		defer app.orch.Events().Unsubscribe(sub)
	}

	if err := app.restore(ctx, *snapshotPath, *resumeID); err != nil {
		fmt.Fprintf(stderr, "hive: %v\n", err)
		return ExitFailure
	}

	code := ExitOK
	if *interactive {
		code = runInteractive(ctx, app, stdin, stdout, stderr, *output)
	} else {
		prompt, err := readPrompt(fs.Args(), stdin)
		if err != nil {
			fmt.Fprintf(stderr, "hive: %v\n", err)
			fs.Usage()
			return ExitFailure
		}
		code = runOnce(ctx, app, prompt, stdout, stderr, *output)
	}

	if err := app.save(*snapshotPath); err != nil {
		fmt.Fprintf(stderr, "hive: saving snapshot: %v\n", err)
		if code == ExitOK {
			code = ExitFailure
		}
	}
	return code
}

// readPrompt takes the prompt from the argument list, or from stdin when
// the argument is "-".
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("no prompt given")
	}
	prompt := strings.Join(args, " ")
	if prompt == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		prompt = strings.TrimSpace(string(data))
	}
	if prompt == "" {
		return "", fmt.Errorf("empty prompt")
	}
	return prompt, nil
}

func runOnce(ctx context.Context, app *app, prompt string, stdout, stderr io.Writer, format string) int {
	res := app.orch.Execute(ctx, prompt)
	report(res, stdout, stderr, format)
	switch {
	case res.Cancelled:
		return ExitCancelled
	case !res.Success:
		return ExitFailure
	}
	return ExitOK
}

func runInteractive(ctx context.Context, app *app, stdin io.Reader, stdout, stderr io.Writer, format string) int {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			return ExitOK
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}
		if prompt == "exit" || prompt == "quit" {
			return ExitOK
		}
		res := app.orch.Execute(ctx, prompt)
		report(res, stdout, stderr, format)
		if res.Cancelled {
			return ExitCancelled
		}
	}
}

func report(res hive.Result, stdout, stderr io.Writer, format string) {
	if format == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			fmt.Fprintf(stderr, "hive: %v\n", err)
			return
		}
		fmt.Fprintln(stdout, string(data))
		return
	}
	if res.Content != "" {
		fmt.Fprintln(stdout, res.Content)
	}
	if !res.Success {
		fmt.Fprintf(stderr, "hive: execution failed: %s\n", res.Error)
	}
}

// --- Assembly ---

// app is one assembled run: the orchestration plus everything that needs
// closing afterwards.
type app struct {
	orch      hive.Orchestration
	snapStore hive.SnapshotStore
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// restore reinstates state from -snapshot or -resume before the first
// prompt runs.
func (a *app) restore(ctx context.Context, snapshotPath, resumeID string) error {
	if snapshotPath != "" {
		if _, err := os.Stat(snapshotPath); err == nil {
			snap, err := hive.ReadSnapshotFile(snapshotPath)
			if err != nil {
				return err
			}
			return hive.RestoreSnapshot(ctx, a.orch, snap)
		}
		return nil
	}
	if resumeID != "" {
		if a.snapStore == nil {
			return hive.Configf("-resume needs a snapshot storage backend")
		}
		snap, err := a.snapStore.LoadSnapshot(ctx, resumeID)
		if err != nil {
			return err
		}
		return hive.RestoreSnapshot(ctx, a.orch, snap)
	}
	return nil
}

// save writes the post-run snapshot to -snapshot and to the snapshot
// store when one is configured.
func (a *app) save(snapshotPath string) error {
	if snapshotPath == "" && a.snapStore == nil {
		return nil
	}
	snap, err := hive.TakeSnapshot(a.orch)
	if err != nil {
		return err
	}
	if snapshotPath != "" {
		if err := hive.WriteSnapshotFile(snapshotPath, snap); err != nil {
			return err
		}
	}
	if a.snapStore != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.snapStore.SaveSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

// build assembles the orchestration from config: stores, providers,
// tools, MCP servers, observer, and finally the swarm or workflow.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}
	events := hive.NewEventLog(hive.WithEventLogger(logger))

	scratchpad, err := openStore(ctx, a, cfg.Storage.Scratchpad, logger)
	if err != nil {
		return nil, err
	}
	var memStore hive.Storage
	if cfg.Storage.Memory.Backend != "" {
		memStore, err = openStore(ctx, a, cfg.Storage.Memory, logger)
		if err != nil {
			return nil, err
		}
	}
	if err := openSnapshotStore(ctx, a, cfg.Storage.Snapshots, events, logger); err != nil {
		return nil, err
	}

	registry := tools.Builtin()
	if err := registerMCP(ctx, a, cfg.MCP, registry, logger); err != nil {
		return nil, err
	}

	plugins := hive.NewPluginRegistry()
	if memStore != nil {
		plugins.Register(memory.NewPlugin(memStore))
	}

	scfg := hive.SwarmConfig{
		Name:          cfg.Swarm.Name,
		Agents:        cfg.Definitions(),
		Lead:          cfg.Lead(),
		Providers:     providerFactory(cfg, logger),
		Registry:      registry,
		Plugins:       plugins,
		Events:        events,
		Scratchpad:    scratchpad,
		Memory:        memStore,
		ContextWindow: resolve.ContextWindowFor,
		MaxTurns:      cfg.Swarm.MaxTurns,
		Logger:        logger,
	}

	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		inst, shutdown, err := observer.Init(ctx, pricing)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		})
		inst.Bridge(events)
		scfg.Cost = inst.Cost.CostFunc()
		scfg.Tracer = observer.NewTracer()
	}

	if len(cfg.Workflow) > 0 {
		steps := make([]hive.WorkflowStep, len(cfg.Workflow))
		for i, s := range cfg.Workflow {
			steps[i] = hive.WorkflowStep{Name: s.Name, Agent: s.Agent, Prompt: s.Prompt}
		}
		wf, err := hive.NewWorkflow(hive.WorkflowConfig{Swarm: scfg, Steps: steps})
		if err != nil {
			return nil, err
		}
		a.orch = wf
		return a, nil
	}

	swarm, err := hive.NewSwarm(scfg)
	if err != nil {
		return nil, err
	}
	a.orch = swarm
	return a, nil
}

// openStore opens one storage backend and registers its cleanup.
func openStore(ctx context.Context, a *app, bc config.BackendConfig, logger *slog.Logger) (hive.Storage, error) {
	switch bc.Backend {
	case "", "memory":
		return hive.NewScratchpad(bc.TotalSize), nil
	case "disk":
		if bc.Path == "" {
			return nil, hive.Configf("disk storage needs a path")
		}
		opts := []disk.StoreOption{disk.WithLogger(logger)}
		if bc.TotalSize > 0 {
			opts = append(opts, disk.WithTotalLimit(bc.TotalSize))
		}
		return disk.Open(bc.Path, opts...)
	case "sqlite":
		if bc.Path == "" {
			return nil, hive.Configf("sqlite storage needs a path")
		}
		opts := []sqlite.StoreOption{sqlite.WithLogger(logger)}
		if bc.TotalSize > 0 {
			opts = append(opts, sqlite.WithTotalLimit(bc.TotalSize))
		}
		store := sqlite.New(bc.Path, opts...)
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, nil
	case "postgres":
		if bc.DSN == "" {
			return nil, hive.Configf("postgres storage needs a dsn")
		}
		pool, err := pgxpool.New(ctx, bc.DSN)
		if err != nil {
			return nil, hive.Configf("postgres: %v", err)
		}
		a.closers = append(a.closers, pool.Close)
		opts := []postgres.StoreOption{postgres.WithLogger(logger)}
		if bc.TotalSize > 0 {
			opts = append(opts, postgres.WithTotalLimit(bc.TotalSize))
		}
		store := postgres.New(pool, opts...)
		if err := store.Init(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, hive.Configf("unknown storage backend %q", bc.Backend)
	}
}

// openSnapshotStore wires the snapshot/journal backend when configured.
// The same store journals every event of the run.
func openSnapshotStore(ctx context.Context, a *app, bc config.BackendConfig, events *hive.EventLog, logger *slog.Logger) error {
	switch bc.Backend {
	case "":
		return nil
	case "sqlite":
		if bc.Path == "" {
			return hive.Configf("sqlite snapshot storage needs a path")
		}
		store := sqlite.New(bc.Path, sqlite.WithLogger(logger))
		if err := store.Init(ctx); err != nil {
			return err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		store.Journal(events)
		a.snapStore = store
		return nil
	case "postgres":
		if bc.DSN == "" {
			return hive.Configf("postgres snapshot storage needs a dsn")
		}
		pool, err := pgxpool.New(ctx, bc.DSN)
		if err != nil {
			return hive.Configf("postgres: %v", err)
		}
		a.closers = append(a.closers, pool.Close)
		store := postgres.New(pool, postgres.WithLogger(logger))
		if err := store.Init(ctx); err != nil {
			return err
		}
		store.Journal(events)
		a.snapStore = store
		return nil
	default:
		return hive.Configf("snapshot storage backend %q is not supported (sqlite or postgres)", bc.Backend)
	}
}

// registerMCP dials each configured MCP server and registers its tools.
func registerMCP(ctx context.Context, a *app, servers map[string]config.MCPConfig, registry *hive.ToolRegistry, logger *slog.Logger) error {
	for name, mc := range servers {
		client, err := mcp.Dial(ctx, name, mcp.ServerConfig{
			Command: mc.Command,
			Args:    mc.Args,
			Env:     mc.Env,
			Timeout: mc.Timeout(),
		}, logger)
		if err != nil {
			return hive.Configf("mcp server %q: %v", name, err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })

		remote, err := client.Tools(ctx)
		if err != nil {
			logger.Warn("mcp tool listing failed, server skipped", "server", name, "error", err)
			continue
		}
		for _, t := range remote {
			tool := t
			registry.Register(hive.ToolSpec{
				Name: tool.Name(),
				New:  func(hive.ToolContext) (hive.Tool, error) { return tool, nil },
			})
		}
	}
	return nil
}

// providerFactory builds the per-model provider chain: resolved endpoint,
// retry middleware, then rate limiting when configured.
func providerFactory(cfg config.Config, logger *slog.Logger) hive.ProviderFactory {
	return func(model string) (hive.Provider, error) {
		name, pc := providerFor(cfg, model)
		rc := resolve.Config{
			Provider:  name,
			APIKey:    pc.APIKey,
			Model:     model,
			BaseURL:   pc.BaseURL,
			MaxTokens: pc.MaxTokens,
		}
		if pc.Temperature != 0 {
			t := pc.Temperature
			rc.Temperature = &t
		}
		if pc.TopP != 0 {
			tp := pc.TopP
			rc.TopP = &tp
		}
		p, err := resolve.Provider(rc)
		if err != nil {
			return nil, err
		}

		retryOpts := []hive.RetryOption{hive.RetryLogger(logger)}
		if cfg.Retry.MaxAttempts > 0 {
			retryOpts = append(retryOpts, hive.RetryMaxAttempts(cfg.Retry.MaxAttempts))
		}
		if cfg.Retry.BaseDelayMS > 0 {
			retryOpts = append(retryOpts, hive.RetryBaseDelay(time.Duration(cfg.Retry.BaseDelayMS)*time.Millisecond))
		}
		p = hive.WithRetry(p, retryOpts...)

		if cfg.RateLimit.RequestsPerMinute > 0 || cfg.RateLimit.TokensPerMinute > 0 {
			var rlOpts []hive.RateLimitOption
			if cfg.RateLimit.RequestsPerMinute > 0 {
				rlOpts = append(rlOpts, hive.RPM(cfg.RateLimit.RequestsPerMinute))
			}
			if cfg.RateLimit.TokensPerMinute > 0 {
				rlOpts = append(rlOpts, hive.TPM(cfg.RateLimit.TokensPerMinute))
			}
			p = hive.WithRateLimit(p, rlOpts...)
		}
		return p, nil
	}
}

// providerFor picks the provider config for a model: an exact section for
// the inferred provider wins, then a lone configured provider, then a
// bare inferred default.
func providerFor(cfg config.Config, model string) (string, config.ProviderConfig) {
	inferred := resolve.InferProvider(model)
	if pc, ok := cfg.Providers[inferred]; ok {
		return inferred, pc
	}
	if len(cfg.Providers) == 1 {
		for name, pc := range cfg.Providers {
			return name, pc
		}
	}
	return inferred, config.ProviderConfig{}
}
