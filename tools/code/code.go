// Package code provides the RunPython tool: execute a Python snippet in
// a throwaway Docker container. The container runs with no network and
// bounded CPU/memory, so the model can compute freely without reaching
// the host.
package code

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/nevindra/hive"
)

const (
	// DefaultImage runs the snippets. Override with WithImage.
	DefaultImage = "python:3.12-slim"
	// DefaultTimeout bounds one execution.
	DefaultTimeout = 60 * time.Second
	// MaxTimeout is the ceiling regardless of the model's request.
	MaxTimeout = 300 * time.Second

	memoryLimit = 512 * 1024 * 1024 // bytes
	cpuLimit    = 1e9               // one CPU in NanoCPUs
	maxOutput   = 8000
)

// Spec returns the registry spec for the RunPython tool.
func Spec() hive.ToolSpec {
	return hive.ToolSpec{
		Name: "RunPython",
		New: func(hive.ToolContext) (hive.Tool, error) {
			return New(), nil
		},
	}
}

// Tool runs Python snippets in disposable containers.
type Tool struct {
	image string

	mu     sync.Mutex
	docker *client.Client
}

// Option configures a Tool.
type Option func(*Tool)

// WithImage overrides the container image.
func WithImage(image string) Option {
	return func(t *Tool) { t.image = image }
}

// New creates the tool. The Docker client connects lazily on first use,
// so constructing the tool on a host without Docker is fine as long as
// the tool is never called.
func New(opts ...Option) *Tool {
	t := &Tool{image: DefaultImage}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tool) Name() string { return "RunPython" }

func (t *Tool) Description() string {
	return "Run a Python snippet in an isolated sandbox (no network, no filesystem access) and return stdout and stderr. Use for calculations, data transforms, and quick verification."
}

func (t *Tool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"code":{"type":"string","description":"Python source to execute"},"timeout":{"type":"integer","description":"Timeout in seconds"}},"required":["code"]}`)
}

func (t *Tool) Removable() bool { return true }

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		Code    string `json:"code"`
		Timeout int    `json:"timeout"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if strings.TrimSpace(params.Code) == "" {
		return hive.ToolResult{Error: "code is required"}, nil
	}

	timeout := DefaultTimeout
	if params.Timeout > 0 {
		timeout = time.Duration(params.Timeout) * time.Second
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, exitCode, err := t.run(ctx, params.Code)
	if ctx.Err() == context.DeadlineExceeded {
		return hive.ToolResult{Error: fmt.Sprintf("execution timed out after %s", timeout)}, nil
	}
	if err != nil {
		return hive.ToolResult{Error: "sandbox error: " + err.Error()}, nil
	}
	if len(out) > maxOutput {
		out = out[:maxOutput] + "\n... (output truncated)"
	}
	if out == "" {
		out = "(no output)"
	}
	if exitCode != 0 {
		return hive.ToolResult{Error: fmt.Sprintf("exited with code %d\n%s", exitCode, out)}, nil
	}
	return hive.ToolResult{Content: out}, nil
}

func (t *Tool) run(ctx context.Context, code string) (string, int64, error) {
	docker, err := t.connect(ctx)
	if err != nil {
		return "", 0, err
	}

	cfg := &container.Config{
		Image:           t.image,
		Cmd:             []string{"python3", "-c", code},
		WorkingDir:      "/work",
		NetworkDisabled: true,
	}
	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   memoryLimit,
			NanoCPUs: cpuLimit,
		},
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/work": "size=64m"},
	}

	created, err := docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil && strings.Contains(err.Error(), "No such image") {
		if err = t.pull(ctx, docker); err != nil {
			return "", 0, err
		}
		created, err = docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	}
	if err != nil {
		return "", 0, err
	}
	defer func() {
		// Removal runs on a fresh context: the call context may already
		// be past its deadline.
		rmCtx, rmCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer rmCancel()
		_ = docker.ContainerRemove(rmCtx, created.ID, container.RemoveOptions{Force: true})
	}()

	if err := docker.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", 0, err
	}

	var exitCode int64
	waitCh, errCh := docker.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case status := <-waitCh:
		exitCode = status.StatusCode
	case err := <-errCh:
		return "", 0, err
	case <-ctx.Done():
		return "", 0, ctx.Err()
	}

	logs, err := docker.ContainerLogs(ctx, created.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", exitCode, err
	}
	defer logs.Close()

	var buf strings.Builder
	if _, err := stdcopy.StdCopy(&buf, &buf, logs); err != nil && err != io.EOF {
		return "", exitCode, err
	}
	return strings.TrimRight(buf.String(), "\n"), exitCode, nil
}

func (t *Tool) connect(ctx context.Context) (*client.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.docker != nil {
		return t.docker, nil
	}
	docker, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	if _, err := docker.Ping(ctx); err != nil {
		docker.Close()
		return nil, fmt.Errorf("docker daemon unreachable: %w", err)
	}
	t.docker = docker
	return docker, nil
}

func (t *Tool) pull(ctx context.Context, docker *client.Client) error {
	rc, err := docker.ImagePull(ctx, t.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pulling %s: %w", t.image, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

var _ hive.Tool = (*Tool)(nil)
