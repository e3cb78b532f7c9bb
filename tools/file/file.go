// Package file provides the filesystem tools: Read, Write, and Edit,
// scoped to the agent's working directory. Writes and edits enforce
// read-before-write through the swarm read tracker, so an agent cannot
// clobber a file it has not seen in its current state.
//
// Read understands more than text: PDFs are reduced to plain text and
// common image formats come back as inline image data for multimodal
// models.
package file

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/nevindra/hive"
)

// Specs returns the registry specs for the file tool set. All three guard
// on the file_path argument.
func Specs() []hive.ToolSpec {
	req := []string{hive.ReqAgentName, hive.ReqDirectory, hive.ReqReadTracker}
	return []hive.ToolSpec{
		{Name: "Read", Requirements: req, Guard: "file_path", New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &readTool{
				agent:        tctx.AgentName,
				dir:          tctx.Directory,
				tracker:      tctx.ReadTracker,
				counter:      tctx.TokenCounter,
				contextLimit: tctx.ContextLimit,
			}, nil
		}},
		{Name: "Write", Requirements: req, Guard: "file_path", New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &writeTool{agent: tctx.AgentName, dir: tctx.Directory, tracker: tctx.ReadTracker}, nil
		}},
		{Name: "Edit", Requirements: req, Guard: "file_path", New: func(tctx hive.ToolContext) (hive.Tool, error) {
			return &editTool{agent: tctx.AgentName, dir: tctx.Directory, tracker: tctx.ReadTracker}, nil
		}},
	}
}

// resolve turns file_path into an absolute path inside the agent
// directory. Escapes (.. traversal, absolute paths outside dir) error.
func resolve(dir, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("file_path is required")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(dir, abs)
	}
	abs = filepath.Clean(abs)
	root := filepath.Clean(dir)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the working directory %s", path, dir)
	}
	return abs, nil
}

var imageMimes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// --- Read ---

type readTool struct {
	agent        string
	dir          string
	tracker      *hive.ReadTracker
	counter      *hive.TokenCounter
	contextLimit int
}

func (t *readTool) Name() string { return "Read" }

func (t *readTool) Description() string {
	return "Read a file from the working directory. Text files return numbered lines (use offset and limit for large files), PDFs return extracted text, images return the image itself."
}

func (t *readTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"file_path":{"type":"string"},"offset":{"type":"integer","description":"1-based line to start from"},"limit":{"type":"integer","description":"Maximum number of lines"}},"required":["file_path"]}`)
}

func (t *readTool) Removable() bool { return true }

func (t *readTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		FilePath string `json:"file_path"`
		Offset   int    `json:"offset"`
		Limit    int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	abs, err := resolve(t.dir, params.FilePath)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}

	ext := strings.ToLower(filepath.Ext(abs))
	if mime, ok := imageMimes[ext]; ok {
		return t.readImage(abs, mime)
	}
	if ext == ".pdf" {
		return t.readPDF(abs)
	}
	return t.readText(abs, params.Offset, params.Limit)
}

func (t *readTool) readText(abs string, offset, limit int) (hive.ToolResult, error) {
	content, err := os.ReadFile(abs)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	t.tracker.RegisterRead(t.agent, abs, content)

	lines := strings.Split(string(content), "\n")
	if offset < 1 {
		offset = 1
	}
	if offset > len(lines) {
		return hive.ToolResult{Error: fmt.Sprintf("offset %d is past the end of the file (%d lines)", offset, len(lines))}, nil
	}
	end := len(lines)
	if limit > 0 && offset-1+limit < end {
		end = offset - 1 + limit
	}

	var b strings.Builder
	for i := offset - 1; i < end; i++ {
		fmt.Fprintf(&b, "%6d\t%s\n", i+1, lines[i])
	}
	out := b.String()

	if t.contextLimit > 0 && limit == 0 {
		if tokens := t.counter.CountText(out); tokens > t.contextLimit {
			overflow := &hive.ErrContextOverflow{
				Tool:   t.Name(),
				Tokens: tokens,
				Limit:  t.contextLimit,
				Hint:   fmt.Sprintf("Re-read with offset and limit; the file has %d lines", len(lines)),
			}
			return hive.ToolResult{Error: overflow.Error()}, nil
		}
	}
	return hive.ToolResult{Content: out}, nil
}

func (t *readTool) readPDF(abs string) (hive.ToolResult, error) {
	f, reader, err := pdf.Open(abs)
	if err != nil {
		return hive.ToolResult{Error: "cannot open pdf: " + err.Error()}, nil
	}
	defer f.Close()

	plain, err := reader.GetPlainText()
	if err != nil {
		return hive.ToolResult{Error: "cannot extract pdf text: " + err.Error()}, nil
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return hive.ToolResult{Error: "cannot extract pdf text: " + err.Error()}, nil
	}

	// Track the raw bytes, not the extraction: the digest must match what
	// is on disk.
	if raw, err := os.ReadFile(abs); err == nil {
		t.tracker.RegisterRead(t.agent, abs, raw)
	}
	return hive.ToolResult{Content: string(text)}, nil
}

func (t *readTool) readImage(abs, mime string) (hive.ToolResult, error) {
	content, err := os.ReadFile(abs)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	t.tracker.RegisterRead(t.agent, abs, content)
	return hive.ToolResult{
		Content: fmt.Sprintf("Read image %s (%d bytes)", filepath.Base(abs), len(content)),
		Images:  []hive.ImageData{{MimeType: mime, Base64: base64.StdEncoding.EncodeToString(content)}},
	}, nil
}

// --- Write ---

type writeTool struct {
	agent   string
	dir     string
	tracker *hive.ReadTracker
}

func (t *writeTool) Name() string { return "Write" }

func (t *writeTool) Description() string {
	return "Write a file in the working directory, creating parent directories as needed. Overwriting an existing file requires reading it first."
}

func (t *writeTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"file_path":{"type":"string"},"content":{"type":"string"}},"required":["file_path","content"]}`)
}

func (t *writeTool) Removable() bool { return true }

func (t *writeTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		FilePath string `json:"file_path"`
		Content  string `json:"content"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	abs, err := resolve(t.dir, params.FilePath)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}

	if _, err := os.Stat(abs); err == nil {
		if !t.tracker.FileRead(t.agent, abs) {
			rbw := &hive.ErrReadBeforeWrite{Agent: t.agent, Path: abs}
			return hive.ToolResult{Error: rbw.Error()}, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	if err := os.WriteFile(abs, []byte(params.Content), 0o644); err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	t.tracker.RegisterRead(t.agent, abs, []byte(params.Content))
	return hive.ToolResult{Content: fmt.Sprintf("Wrote %d bytes to %s", len(params.Content), params.FilePath)}, nil
}

// --- Edit ---

type editTool struct {
	agent   string
	dir     string
	tracker *hive.ReadTracker
}

func (t *editTool) Name() string { return "Edit" }

func (t *editTool) Description() string {
	return "Replace an exact string in a file. The old string must be unique unless replace_all is set. The file must be read first."
}

func (t *editTool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"file_path":{"type":"string"},"old_string":{"type":"string"},"new_string":{"type":"string"},"replace_all":{"type":"boolean"}},"required":["file_path","old_string","new_string"]}`)
}

func (t *editTool) Removable() bool { return true }

func (t *editTool) Execute(_ context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		FilePath   string `json:"file_path"`
		OldString  string `json:"old_string"`
		NewString  string `json:"new_string"`
		ReplaceAll bool   `json:"replace_all"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}
	if params.OldString == "" {
		return hive.ToolResult{Error: "old_string is required"}, nil
	}
	if params.OldString == params.NewString {
		return hive.ToolResult{Error: "old_string and new_string are identical"}, nil
	}
	abs, err := resolve(t.dir, params.FilePath)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}

	if !t.tracker.FileRead(t.agent, abs) {
		rbw := &hive.ErrReadBeforeWrite{Agent: t.agent, Path: abs}
		return hive.ToolResult{Error: rbw.Error()}, nil
	}

	content, err := os.ReadFile(abs)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	text := string(content)
	count := strings.Count(text, params.OldString)
	switch {
	case count == 0:
		return hive.ToolResult{Error: "old_string not found in " + params.FilePath}, nil
	case count > 1 && !params.ReplaceAll:
		return hive.ToolResult{Error: fmt.Sprintf("old_string occurs %d times in %s; provide more context or set replace_all", count, params.FilePath)}, nil
	}

	updated := strings.Replace(text, params.OldString, params.NewString, -1)
	if !params.ReplaceAll {
		updated = strings.Replace(text, params.OldString, params.NewString, 1)
	}
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	t.tracker.RegisterRead(t.agent, abs, []byte(updated))

	if params.ReplaceAll {
		return hive.ToolResult{Content: fmt.Sprintf("Replaced %d occurrences in %s", count, params.FilePath)}, nil
	}
	return hive.ToolResult{Content: "Edited " + params.FilePath}, nil
}

// compile-time checks
var (
	_ hive.Tool = (*readTool)(nil)
	_ hive.Tool = (*writeTool)(nil)
	_ hive.Tool = (*editTool)(nil)
)
