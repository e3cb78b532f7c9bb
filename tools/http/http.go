// Package http provides the WebFetch tool: download a URL and reduce it
// to readable text. Permission policies guard the url argument, so an
// agent can be restricted to particular hosts.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/nevindra/hive"
)

const (
	maxBody    = 1 << 20 // 1MB download cap
	maxContent = 8000    // cap on text returned to the model
)

// Spec returns the registry spec for the WebFetch tool. Guarded on the
// url argument.
func Spec() hive.ToolSpec {
	return hive.ToolSpec{
		Name:  "WebFetch",
		Guard: "url",
		New: func(hive.ToolContext) (hive.Tool, error) {
			return New(), nil
		},
	}
}

// Tool fetches URLs and extracts readable content.
type Tool struct {
	client *http.Client
}

// New creates a WebFetch tool with a 15-second timeout.
func New() *Tool {
	return &Tool{client: &http.Client{Timeout: 15 * time.Second}}
}

func (t *Tool) Name() string { return "WebFetch" }

func (t *Tool) Description() string {
	return "Fetch a URL and extract its readable text content. Use for reading web pages, articles, documentation. Set raw to true for the unprocessed body (APIs, plain text)."
}

func (t *Tool) ParamsSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"},"raw":{"type":"boolean","description":"Return the raw body without article extraction"}},"required":["url"]}`)
}

func (t *Tool) Removable() bool { return true }

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (hive.ToolResult, error) {
	var params struct {
		URL string `json:"url"`
		Raw bool   `json:"raw"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return hive.ToolResult{Error: "invalid args: " + err.Error()}, nil
	}

	content, err := t.Fetch(ctx, params.URL, params.Raw)
	if err != nil {
		return hive.ToolResult{Error: err.Error()}, nil
	}
	if len(content) > maxContent {
		content = content[:maxContent] + "\n... (truncated)"
	}
	return hive.ToolResult{Content: content}, nil
}

// Fetch downloads a URL and extracts readable text. Exported for use
// outside the tool surface.
func (t *Tool) Fetch(ctx context.Context, rawURL string, raw bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; HiveBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}

	html := string(body)
	if raw || !strings.Contains(resp.Header.Get("Content-Type"), "html") {
		return strings.TrimSpace(html), nil
	}

	parsedURL, _ := url.Parse(rawURL)
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err == nil && article.TextContent != "" {
		return strings.TrimSpace(article.TextContent), nil
	}

	return stripHTML(html), nil
}

var (
	tagRE    = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>`)
	markupRE = regexp.MustCompile(`<[^>]+>`)
	spaceRE  = regexp.MustCompile(`[ \t]*\n[ \t\n]*`)
)

// stripHTML is the fallback when readability finds no article content.
func stripHTML(html string) string {
	text := tagRE.ReplaceAllString(html, "")
	text = markupRE.ReplaceAllString(text, "\n")
	text = spaceRE.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

var _ hive.Tool = (*Tool)(nil)
