package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nevindra/hive"
	"github.com/nevindra/hive/internal/config"
)

// fakeOrch is a scripted orchestration for exercising the run loop
// without a provider.
type fakeOrch struct {
	result  hive.Result
	prompts []string
	events  *hive.EventLog
}

func (f *fakeOrch) ID() string   { return "orch-1" }
func (f *fakeOrch) Type() string { return "swarm" }

func (f *fakeOrch) Execute(ctx context.Context, prompt string) hive.Result {
	f.prompts = append(f.prompts, prompt)
	return f.result
}

func (f *fakeOrch) Events() *hive.EventLog {
	if f.events == nil {
		f.events = hive.NewEventLog()
	}
	return f.events
}

func TestReadPrompt(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		want    string
		wantErr string
	}{
		{"joined args", []string{"hello", "world"}, "", "hello world", ""},
		{"dash reads stdin", []string{"-"}, "from stdin\n", "from stdin", ""},
		{"no args", nil, "", "", "no prompt"},
		{"empty stdin", []string{"-"}, "  \n", "", "empty prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPrompt(tt.args, strings.NewReader(tt.stdin))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("readPrompt = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReportHuman(t *testing.T) {
	var stdout, stderr bytes.Buffer
	report(hive.Result{Content: "done", Success: true}, &stdout, &stderr, "human")
	if stdout.String() != "done\n" {
		t.Errorf("stdout = %q, want the content", stdout.String())
	}
	if stderr.Len() != 0 {
		t.Errorf("stderr = %q, want empty on success", stderr.String())
	}

	stdout.Reset()
	report(hive.Result{Success: false, Error: "model exploded"}, &stdout, &stderr, "human")
	if !strings.Contains(stderr.String(), "model exploded") {
		t.Errorf("stderr = %q, want the failure reported", stderr.String())
	}
}

func TestReportJSON(t *testing.T) {
	var stdout, stderr bytes.Buffer
	report(hive.Result{Content: "done", Success: true, LLMRequests: 2}, &stdout, &stderr, "json")

	var res hive.Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if res.Content != "done" || !res.Success || res.LLMRequests != 2 {
		t.Errorf("decoded = %+v", res)
	}
}

func TestRunOnceExitCodes(t *testing.T) {
	tests := []struct {
		name   string
		result hive.Result
		want   int
	}{
		{"success", hive.Result{Success: true, Content: "ok"}, ExitOK},
		{"failure", hive.Result{Success: false, Error: "boom"}, ExitFailure},
		{"cancelled", hive.Result{Cancelled: true}, ExitCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &app{orch: &fakeOrch{result: tt.result}}
			var stdout, stderr bytes.Buffer
			if got := runOnce(context.Background(), a, "go", &stdout, &stderr, "human"); got != tt.want {
				t.Errorf("runOnce = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunInteractive(t *testing.T) {
	orch := &fakeOrch{result: hive.Result{Success: true, Content: "ok"}}
	a := &app{orch: orch}
	stdin := strings.NewReader("  \nfirst task\nsecond task\nexit\n")
	var stdout, stderr bytes.Buffer

	if got := runInteractive(context.Background(), a, stdin, &stdout, &stderr, "human"); got != ExitOK {
		t.Errorf("runInteractive = %d, want %d", got, ExitOK)
	}
	if len(orch.prompts) != 2 || orch.prompts[0] != "first task" || orch.prompts[1] != "second task" {
		t.Errorf("prompts = %v, want blank lines skipped and exit honored", orch.prompts)
	}
}

func TestProviderFor(t *testing.T) {
	cfg := config.Config{Providers: map[string]config.ProviderConfig{
		"openai": {APIKey: "sk-openai"},
	}}
	name, pc := providerFor(cfg, "gpt-4o")
	if name != "openai" || pc.APIKey != "sk-openai" {
		t.Errorf("providerFor(gpt-4o) = %q, %+v, want the matching section", name, pc)
	}

	// A lone section serves every model regardless of inference.
	cfg = config.Config{Providers: map[string]config.ProviderConfig{
		"my-router": {APIKey: "sk-router", BaseURL: "https://router.local/v1"},
	}}
	name, pc = providerFor(cfg, "gpt-4o")
	if name != "my-router" || pc.APIKey != "sk-router" {
		t.Errorf("providerFor with one section = %q, %+v, want the lone provider", name, pc)
	}

	// No sections at all falls back to the bare inferred default.
	name, pc = providerFor(config.Config{}, "deepseek-chat")
	if name != "deepseek" || pc.APIKey != "" {
		t.Errorf("providerFor with no sections = %q, %+v", name, pc)
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := openStore(ctx, &app{}, config.BackendConfig{}, logger)
	if err != nil || s == nil {
		t.Fatalf("default backend: %v", err)
	}

	if _, err := openStore(ctx, &app{}, config.BackendConfig{Backend: "disk"}, logger); err == nil {
		t.Error("disk without a path succeeded")
	}
	if _, err := openStore(ctx, &app{}, config.BackendConfig{Backend: "disk", Path: t.TempDir()}, logger); err != nil {
		t.Errorf("disk backend: %v", err)
	}

	a := &app{}
	s, err = openStore(ctx, a, config.BackendConfig{Backend: "sqlite", Path: filepath.Join(t.TempDir(), "hive.db")}, logger)
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	if err := s.Write("x.md", []byte("x"), "", nil); err != nil {
		t.Errorf("sqlite write: %v", err)
	}
	if len(a.closers) != 1 {
		t.Errorf("closers = %d, want the sqlite store registered", len(a.closers))
	}
	a.close()

	if _, err := openStore(ctx, &app{}, config.BackendConfig{Backend: "tape"}, logger); err == nil || !strings.Contains(err.Error(), "unknown storage backend") {
		t.Errorf("err = %v, want the unknown-backend error", err)
	}
}

func TestAppRestore(t *testing.T) {
	ctx := context.Background()
	a := &app{orch: &fakeOrch{}}

	// A missing snapshot file is a fresh start, not an error.
	if err := a.restore(ctx, filepath.Join(t.TempDir(), "absent.json"), ""); err != nil {
		t.Errorf("restore with absent file = %v, want nil", err)
	}

	if err := a.restore(ctx, "", "swarm-1"); err == nil || !strings.Contains(err.Error(), "-resume needs") {
		t.Errorf("err = %v, want the missing-backend error", err)
	}
}

func TestRunUnknownOutputFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"-o", "yaml", "hi"}, strings.NewReader(""), &stdout, &stderr)
	if code != ExitFailure {
		t.Errorf("Run = %d, want %d", code, ExitFailure)
	}
	if !strings.Contains(stderr.String(), "unknown output format") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunConfigError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"-config", filepath.Join(t.TempDir(), "absent.toml"), "hi"}, strings.NewReader(""), &stdout, &stderr)
	if code != ExitFailure {
		t.Errorf("Run = %d, want %d", code, ExitFailure)
	}
	if !strings.Contains(stderr.String(), "no agents defined") {
		t.Errorf("stderr = %q, want the validation error", stderr.String())
	}
}

func TestBuildSwarmAndWorkflow(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := loadConfig(t, `
[[agents]]
name = "lead"
model = "gpt-4o"
`)
	a, err := build(ctx, cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()
	if a.orch.Type() != "swarm" {
		t.Errorf("Type = %q, want swarm", a.orch.Type())
	}

	cfg = loadConfig(t, `
[[agents]]
name = "lead"
model = "gpt-4o"

[[workflow]]
name = "step"
agent = "lead"
prompt = "Do ${input}"
`)
	a, err = build(ctx, cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer a.close()
	if a.orch.Type() != "workflow" {
		t.Errorf("Type = %q, want workflow", a.orch.Type())
	}
}

func loadConfig(t *testing.T, content string) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hive.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}
