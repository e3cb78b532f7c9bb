package hive

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// --- Scoped storage contract ---

// MaxEntrySize is the per-entry content cap for all storage backends.
const MaxEntrySize = 3_000_000

// DefaultTotalSize is the default aggregate cap for the in-memory scratchpad.
const DefaultTotalSize = 50_000_000

// Entry is one stored record.
type Entry struct {
	Path      string            `json:"path"`
	Content   []byte            `json:"content"`
	Title     string            `json:"title"`
	UpdatedAt int64             `json:"updated_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Size returns the content length in bytes.
func (e Entry) Size() int64 { return int64(len(e.Content)) }

// EntryInfo is the listing view of an entry, without content.
type EntryInfo struct {
	Path      string `json:"path"`
	Title     string `json:"title"`
	Size      int64  `json:"size"`
	UpdatedAt int64  `json:"updated_at"`
}

// GrepMode selects the shape of Grep output.
type GrepMode string

const (
	GrepFilesWithMatches GrepMode = "files_with_matches"
	GrepContent          GrepMode = "content"
	GrepCount            GrepMode = "count"
)

// GrepOptions configures a Grep call.
type GrepOptions struct {
	CaseInsensitive bool
	Mode            GrepMode // defaults to GrepFilesWithMatches
}

// GrepLine is one matching line in GrepContent mode.
type GrepLine struct {
	LineNumber int    `json:"line_number"`
	Content    string `json:"content"`
}

// GrepResult is the per-file grep outcome. Lines is populated in content
// mode; Count in count mode (regex match count, not matching-line count).
type GrepResult struct {
	Path  string     `json:"path"`
	Lines []GrepLine `json:"lines,omitempty"`
	Count int        `json:"count,omitempty"`
}

// Storage is the scoped storage contract shared by the volatile scratchpad
// and the persistent backends (store/disk, store/sqlite, store/postgres).
// All mutating operations are serialized per store.
type Storage interface {
	// Write stores content under path, replacing any existing entry.
	// Size accounting is replacement-based: rewriting a path charges the
	// delta, not the sum.
	Write(path string, content []byte, title string, metadata map[string]string) error
	// Read returns the entry at path or a not-found error.
	Read(path string) (Entry, error)
	// Delete removes the entry at path; missing paths error.
	Delete(path string) error
	// List returns entries whose path starts with prefix. Empty prefix
	// lists everything.
	List(prefix string) ([]EntryInfo, error)
	// Glob returns entries matching the pattern, most recently updated
	// first. See GlobRegexp for the pattern dialect.
	Glob(pattern string) ([]EntryInfo, error)
	// Grep regex-matches entry content.
	Grep(pattern string, opts GrepOptions) ([]GrepResult, error)
	// TotalSize returns the aggregate content size in bytes.
	TotalSize() int64
}

// --- Path handling ---

// NormalizePath validates and canonicalizes a storage path: NFC Unicode
// normalization, `/`-separated segments, no empty or whitespace path, no
// leading `/`, no `.` or `..` segments.
func NormalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", Configf("storage path must not be empty")
	}
	p := norm.NFC.String(path)
	if strings.HasPrefix(p, "/") {
		return "", Configf("storage path %q must not start with /", path)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return "", Configf("storage path %q has an empty segment", path)
		}
		if seg == "." || seg == ".." {
			return "", Configf("storage path %q must not contain . or .. segments", path)
		}
	}
	return p, nil
}

// GlobRegexp translates a storage glob into an anchored regexp:
// `**` matches any run of segments, `*` matches within one segment,
// `?` matches one character within a segment.
func GlobRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`\A`)
	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			b.WriteString(`([^/]+/)*`)
			i += 3
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(`.*`)
			i += 2
		case pattern[i] == '*':
			b.WriteString(`[^/]*`)
			i++
		case pattern[i] == '?':
			b.WriteString(`[^/]`)
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	b.WriteString(`\z`)
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, Configf("invalid glob pattern %q: %v", pattern, err)
	}
	return re, nil
}

// GrepEntries applies the grep contract to a loaded entry set. Backends
// share it so every store reports identical results.
func GrepEntries(entries []Entry, pattern string, opts GrepOptions) ([]GrepResult, error) {
	expr := pattern
	if opts.CaseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, Configf("invalid grep pattern %q: %v", pattern, err)
	}
	mode := opts.Mode
	if mode == "" {
		mode = GrepFilesWithMatches
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var results []GrepResult
	for _, e := range entries {
		content := string(e.Content)
		switch mode {
		case GrepFilesWithMatches:
			if re.MatchString(content) {
				results = append(results, GrepResult{Path: e.Path})
			}
		case GrepContent:
			var lines []GrepLine
			for n, line := range strings.Split(content, "\n") {
				if re.MatchString(line) {
					lines = append(lines, GrepLine{LineNumber: n + 1, Content: line})
				}
			}
			if len(lines) > 0 {
				results = append(results, GrepResult{Path: e.Path, Lines: lines})
			}
		case GrepCount:
			if n := len(re.FindAllStringIndex(content, -1)); n > 0 {
				results = append(results, GrepResult{Path: e.Path, Count: n})
			}
		default:
			return nil, Configf("unknown grep mode %q", mode)
		}
	}
	return results, nil
}

// SortByUpdatedAt orders infos most recently updated first, breaking ties
// by path for deterministic output.
func SortByUpdatedAt(infos []EntryInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].UpdatedAt != infos[j].UpdatedAt {
			return infos[i].UpdatedAt > infos[j].UpdatedAt
		}
		return infos[i].Path < infos[j].Path
	})
}

// --- Virtual entries ---

// VirtualEntries is the fixed set of built-in read-only entries. They are
// visible to Read, List, Glob, and Grep on every store, consume no storage,
// and cannot be overwritten or deleted.
func VirtualEntries() []Entry {
	return []Entry{
		{
			Path:    DeepLearningProtocolPath,
			Title:   "Deep-Learning Protocol",
			Content: []byte(deepLearningProtocol),
		},
	}
}

func virtualEntry(path string) (Entry, bool) {
	for _, e := range VirtualEntries() {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

// --- Scratchpad ---

// Scratchpad is the volatile in-memory Storage shared by a swarm's agents
// for intermediate artifacts. Contents are captured into snapshots and
// otherwise lost at process exit.
type Scratchpad struct {
	mu        sync.Mutex
	entries   map[string]Entry
	totalSize int64
	limit     int64
}

// NewScratchpad creates an empty scratchpad. totalLimit <= 0 applies
// DefaultTotalSize.
func NewScratchpad(totalLimit int64) *Scratchpad {
	if totalLimit <= 0 {
		totalLimit = DefaultTotalSize
	}
	return &Scratchpad{entries: make(map[string]Entry), limit: totalLimit}
}

func (s *Scratchpad) Write(path string, content []byte, title string, metadata map[string]string) error {
	p, err := NormalizePath(path)
	if err != nil {
		return err
	}
	if _, ok := virtualEntry(p); ok {
		return Configf("%q is a built-in read-only entry", p)
	}
	if int64(len(content)) > MaxEntrySize {
		return fmt.Errorf("entry %q is %d bytes, exceeding the %d byte per-entry limit", p, len(content), MaxEntrySize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var existing int64
	if old, ok := s.entries[p]; ok {
		existing = old.Size()
	}
	newTotal := s.totalSize - existing + int64(len(content))
	if newTotal > s.limit {
		return fmt.Errorf("writing %q would use %d of %d bytes of storage", p, newTotal, s.limit)
	}
	s.entries[p] = Entry{
		Path:      p,
		Content:   append([]byte(nil), content...),
		Title:     title,
		UpdatedAt: NowUnix(),
		Metadata:  cloneMetadata(metadata),
	}
	s.totalSize = newTotal
	return nil
}

func (s *Scratchpad) Read(path string) (Entry, error) {
	p, err := NormalizePath(path)
	if err != nil {
		return Entry{}, err
	}
	if e, ok := virtualEntry(p); ok {
		return e, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p]
	if !ok {
		return Entry{}, fmt.Errorf("no entry at %q", p)
	}
	// Copy so callers cannot mutate the stored bytes.
	e.Content = append([]byte(nil), e.Content...)
	e.Metadata = cloneMetadata(e.Metadata)
	return e, nil
}

func (s *Scratchpad) Delete(path string) error {
	p, err := NormalizePath(path)
	if err != nil {
		return err
	}
	if _, ok := virtualEntry(p); ok {
		return Configf("%q is a built-in read-only entry", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p]
	if !ok {
		return fmt.Errorf("no entry at %q", p)
	}
	s.totalSize -= e.Size()
	delete(s.entries, p)
	return nil
}

func (s *Scratchpad) List(prefix string) ([]EntryInfo, error) {
	s.mu.Lock()
	infos := make([]EntryInfo, 0, len(s.entries))
	for _, e := range s.entries {
		if prefix == "" || strings.HasPrefix(e.Path, prefix) {
			infos = append(infos, EntryInfo{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	s.mu.Unlock()
	for _, e := range VirtualEntries() {
		if prefix == "" || strings.HasPrefix(e.Path, prefix) {
			infos = append(infos, EntryInfo{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func (s *Scratchpad) Glob(pattern string) ([]EntryInfo, error) {
	re, err := GlobRegexp(pattern)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	var infos []EntryInfo
	for _, e := range s.entries {
		if re.MatchString(e.Path) {
			infos = append(infos, EntryInfo{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	s.mu.Unlock()
	for _, e := range VirtualEntries() {
		if re.MatchString(e.Path) {
			infos = append(infos, EntryInfo{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	SortByUpdatedAt(infos)
	return infos, nil
}

func (s *Scratchpad) Grep(pattern string, opts GrepOptions) ([]GrepResult, error) {
	s.mu.Lock()
	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()
	entries = append(entries, VirtualEntries()...)
	return GrepEntries(entries, pattern, opts)
}

func (s *Scratchpad) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

// Export returns a deep copy of all stored entries, sorted by path.
// The snapshot engine consumes it.
func (s *Scratchpad) Export() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		e.Content = append([]byte(nil), e.Content...)
		e.Metadata = cloneMetadata(e.Metadata)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Restore replaces the scratchpad contents with the given entries,
// preserving their recorded timestamps.
func (s *Scratchpad) Restore(entries []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry, len(entries))
	s.totalSize = 0
	for _, e := range entries {
		e.Content = append([]byte(nil), e.Content...)
		e.Metadata = cloneMetadata(e.Metadata)
		s.entries[e.Path] = e
		s.totalSize += e.Size()
	}
}

func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// compile-time check
var _ Storage = (*Scratchpad)(nil)
