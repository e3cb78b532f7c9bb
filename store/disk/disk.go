// Package disk implements hive.Storage on the local filesystem. Entry
// content lives under the root directory at its storage path; titles,
// metadata, and timestamps live in JSON sidecars under .meta/. An
// in-memory index loaded at open time serves listings without touching
// the disk.
package disk

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/nevindra/hive"
)

const metaDir = ".meta"

// StoreOption configures a disk Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithTotalLimit caps the aggregate content size in bytes.
func WithTotalLimit(n int64) StoreOption {
	return func(s *Store) { s.limit = n }
}

// entryMeta is the sidecar record for one entry.
type entryMeta struct {
	Title     string            `json:"title"`
	UpdatedAt int64             `json:"updated_at"`
	Size      int64             `json:"size"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Store is a filesystem-backed hive.Storage rooted at one directory.
type Store struct {
	root   string
	limit  int64
	logger *slog.Logger

	mu        sync.Mutex
	index     map[string]entryMeta
	totalSize int64
}

// Open creates the root directory if needed and loads the entry index.
// Content files without a sidecar (dropped in by hand) are indexed with
// metadata derived from the file itself.
func Open(root string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		root:   root,
		limit:  hive.DefaultTotalSize,
		logger: slog.New(slog.DiscardHandler),
		index:  make(map[string]entryMeta),
	}
	for _, o := range opts {
		o(s)
	}
	if err := os.MkdirAll(filepath.Join(root, metaDir), 0o755); err != nil {
		return nil, fmt.Errorf("disk: create root: %w", err)
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	s.logger.Debug("disk: store opened", "root", root, "entries", len(s.index))
	return s, nil
}

func (s *Store) loadIndex() error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == metaDir {
				return fs.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		meta, metaErr := s.readMeta(rel)
		if metaErr != nil {
			meta = entryMeta{UpdatedAt: info.ModTime().Unix(), Size: info.Size()}
		}
		meta.Size = info.Size()
		s.index[rel] = meta
		s.totalSize += info.Size()
		return nil
	})
}

func (s *Store) contentPath(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(path))
}

func (s *Store) metaPath(path string) string {
	return filepath.Join(s.root, metaDir, filepath.FromSlash(path)+".json")
}

func (s *Store) readMeta(path string) (entryMeta, error) {
	data, err := os.ReadFile(s.metaPath(path))
	if err != nil {
		return entryMeta{}, err
	}
	var meta entryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return entryMeta{}, err
	}
	return meta, nil
}

func (s *Store) writeMeta(path string, meta entryMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	mp := s.metaPath(path)
	if err := os.MkdirAll(filepath.Dir(mp), 0o755); err != nil {
		return err
	}
	return os.WriteFile(mp, data, 0o644)
}

// --- hive.Storage ---

func (s *Store) Write(path string, content []byte, title string, metadata map[string]string) error {
	p, err := hive.NormalizePath(path)
	if err != nil {
		return err
	}
	if isVirtual(p) {
		return hive.Configf("%q is a built-in read-only entry", p)
	}
	if strings.HasPrefix(p, metaDir+"/") {
		return hive.Configf("%q is reserved for store metadata", p)
	}
	if int64(len(content)) > hive.MaxEntrySize {
		return fmt.Errorf("entry %q is %d bytes, exceeding the %d byte per-entry limit", p, len(content), hive.MaxEntrySize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var existing int64
	if old, ok := s.index[p]; ok {
		existing = old.Size
	}
	newTotal := s.totalSize - existing + int64(len(content))
	if newTotal > s.limit {
		return fmt.Errorf("writing %q would use %d of %d bytes of storage", p, newTotal, s.limit)
	}

	cp := s.contentPath(p)
	if err := os.MkdirAll(filepath.Dir(cp), 0o755); err != nil {
		return fmt.Errorf("disk: write %q: %w", p, err)
	}
	if err := os.WriteFile(cp, content, 0o644); err != nil {
		return fmt.Errorf("disk: write %q: %w", p, err)
	}
	meta := entryMeta{
		Title:     title,
		UpdatedAt: hive.NowUnix(),
		Size:      int64(len(content)),
		Metadata:  metadata,
	}
	if err := s.writeMeta(p, meta); err != nil {
		return fmt.Errorf("disk: write metadata for %q: %w", p, err)
	}
	s.index[p] = meta
	s.totalSize = newTotal
	return nil
}

func (s *Store) Read(path string) (hive.Entry, error) {
	p, err := hive.NormalizePath(path)
	if err != nil {
		return hive.Entry{}, err
	}
	if e, ok := virtualEntry(p); ok {
		return e, nil
	}
	s.mu.Lock()
	meta, ok := s.index[p]
	s.mu.Unlock()
	if !ok {
		return hive.Entry{}, fmt.Errorf("no entry at %q", p)
	}
	content, err := os.ReadFile(s.contentPath(p))
	if err != nil {
		return hive.Entry{}, fmt.Errorf("disk: read %q: %w", p, err)
	}
	return hive.Entry{
		Path:      p,
		Content:   content,
		Title:     meta.Title,
		UpdatedAt: meta.UpdatedAt,
		Metadata:  meta.Metadata,
	}, nil
}

func (s *Store) Delete(path string) error {
	p, err := hive.NormalizePath(path)
	if err != nil {
		return err
	}
	if isVirtual(p) {
		return hive.Configf("%q is a built-in read-only entry", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.index[p]
	if !ok {
		return fmt.Errorf("no entry at %q", p)
	}
	if err := os.Remove(s.contentPath(p)); err != nil {
		return fmt.Errorf("disk: delete %q: %w", p, err)
	}
	_ = os.Remove(s.metaPath(p))
	delete(s.index, p)
	s.totalSize -= meta.Size
	return nil
}

func (s *Store) List(prefix string) ([]hive.EntryInfo, error) {
	s.mu.Lock()
	infos := make([]hive.EntryInfo, 0, len(s.index))
	for path, meta := range s.index {
		if prefix == "" || strings.HasPrefix(path, prefix) {
			infos = append(infos, hive.EntryInfo{Path: path, Title: meta.Title, Size: meta.Size, UpdatedAt: meta.UpdatedAt})
		}
	}
	s.mu.Unlock()
	for _, e := range hive.VirtualEntries() {
		if prefix == "" || strings.HasPrefix(e.Path, prefix) {
			infos = append(infos, hive.EntryInfo{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	sortByPath(infos)
	return infos, nil
}

func (s *Store) Glob(pattern string) ([]hive.EntryInfo, error) {
	re, err := hive.GlobRegexp(pattern)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	var infos []hive.EntryInfo
	for path, meta := range s.index {
		if re.MatchString(path) {
			infos = append(infos, hive.EntryInfo{Path: path, Title: meta.Title, Size: meta.Size, UpdatedAt: meta.UpdatedAt})
		}
	}
	s.mu.Unlock()
	for _, e := range hive.VirtualEntries() {
		if re.MatchString(e.Path) {
			infos = append(infos, hive.EntryInfo{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	hive.SortByUpdatedAt(infos)
	return infos, nil
}

func (s *Store) Grep(pattern string, opts hive.GrepOptions) ([]hive.GrepResult, error) {
	entries, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	entries = append(entries, hive.VirtualEntries()...)
	return hive.GrepEntries(entries, pattern, opts)
}

func (s *Store) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

func (s *Store) loadAll() ([]hive.Entry, error) {
	s.mu.Lock()
	paths := make([]string, 0, len(s.index))
	for path := range s.index {
		paths = append(paths, path)
	}
	s.mu.Unlock()

	entries := make([]hive.Entry, 0, len(paths))
	for _, path := range paths {
		e, err := s.Read(path)
		if err != nil {
			// Entry deleted between index snapshot and read.
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// --- Snapshot support ---

// Export dumps every entry for the snapshot engine.
func (s *Store) Export() []hive.Entry {
	entries, _ := s.loadAll()
	return entries
}

// Restore replaces the store contents with the given entries. Timestamps
// are preserved from the snapshot.
func (s *Store) Restore(entries []hive.Entry) {
	s.mu.Lock()
	for path := range s.index {
		_ = os.Remove(s.contentPath(path))
		_ = os.Remove(s.metaPath(path))
	}
	s.index = make(map[string]entryMeta, len(entries))
	s.totalSize = 0
	s.mu.Unlock()

	for _, e := range entries {
		cp := s.contentPath(e.Path)
		if err := os.MkdirAll(filepath.Dir(cp), 0o755); err != nil {
			s.logger.Error("disk: restore entry", "path", e.Path, "error", err)
			continue
		}
		if err := os.WriteFile(cp, e.Content, 0o644); err != nil {
			s.logger.Error("disk: restore entry", "path", e.Path, "error", err)
			continue
		}
		meta := entryMeta{Title: e.Title, UpdatedAt: e.UpdatedAt, Size: e.Size(), Metadata: e.Metadata}
		if err := s.writeMeta(e.Path, meta); err != nil {
			s.logger.Error("disk: restore metadata", "path", e.Path, "error", err)
		}
		s.mu.Lock()
		s.index[e.Path] = meta
		s.totalSize += e.Size()
		s.mu.Unlock()
	}
}

// --- helpers ---

func isVirtual(path string) bool {
	_, ok := virtualEntry(path)
	return ok
}

func virtualEntry(path string) (hive.Entry, bool) {
	for _, e := range hive.VirtualEntries() {
		if e.Path == path {
			return e, true
		}
	}
	return hive.Entry{}, false
}

func sortByPath(infos []hive.EntryInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
}

// compile-time checks
var _ hive.Storage = (*Store)(nil)
var _ hive.StateExporter = (*Store)(nil)
