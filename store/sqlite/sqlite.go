// Package sqlite implements hive.Storage, hive.SnapshotStore, and an
// event journal backed by a local SQLite file using the pure-Go driver.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/nevindra/hive"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger. When set, the store emits debug
// logs for operations including timing and key parameters.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithTotalLimit caps the aggregate entry content size in bytes.
func WithTotalLimit(n int64) StoreOption {
	return func(s *Store) { s.limit = n }
}

// Store is a SQLite-backed persistent store: scoped storage entries,
// snapshots keyed by swarm id, and an append-only event journal.
type Store struct {
	db     *sql.DB
	limit  int64
	logger *slog.Logger
}

var _ hive.Storage = (*Store)(nil)
var _ hive.StateExporter = (*Store)(nil)
var _ hive.SnapshotStore = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath. It opens a
// single shared connection pool with SetMaxOpenConns(1) so all goroutines
// serialize through one connection, eliminating SQLITE_BUSY errors caused
// by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, limit: hive.DefaultTotalSize, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			path TEXT PRIMARY KEY,
			content BLOB NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			updated_at INTEGER NOT NULL,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			swarm_id TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			data BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			swarm_id TEXT NOT NULL DEFAULT '',
			execution_id TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			agent TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_execution ON events(execution_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_swarm ON events(swarm_id)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	s.logger.Debug("sqlite: init done", "duration", time.Since(start))
	return nil
}

// Close releases the database connection.
func (s *Store) Close() error { return s.db.Close() }

// --- hive.Storage ---

func (s *Store) Write(path string, content []byte, title string, metadata map[string]string) error {
	p, err := hive.NormalizePath(path)
	if err != nil {
		return err
	}
	if isVirtual(p) {
		return hive.Configf("%q is a built-in read-only entry", p)
	}
	if int64(len(content)) > hive.MaxEntrySize {
		return fmt.Errorf("entry %q is %d bytes, exceeding the %d byte per-entry limit", p, len(content), hive.MaxEntrySize)
	}

	ctx := context.Background()
	var existing int64
	err = s.db.QueryRowContext(ctx, `SELECT LENGTH(content) FROM entries WHERE path = ?`, p).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("sqlite: write %q: %w", p, err)
	}
	newTotal := s.TotalSize() - existing + int64(len(content))
	if newTotal > s.limit {
		return fmt.Errorf("writing %q would use %d of %d bytes of storage", p, newTotal, s.limit)
	}

	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return fmt.Errorf("sqlite: write %q: %w", p, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (path, content, title, updated_at, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			content = excluded.content,
			title = excluded.title,
			updated_at = excluded.updated_at,
			metadata = excluded.metadata`,
		p, content, title, hive.NowUnix(), metaJSON)
	if err != nil {
		return fmt.Errorf("sqlite: write %q: %w", p, err)
	}
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
	var e hive.Entry
	var metaJSON sql.NullString
	err = s.db.QueryRowContext(context.Background(),
		`SELECT path, content, title, updated_at, metadata FROM entries WHERE path = ?`, p).
		Scan(&e.Path, &e.Content, &e.Title, &e.UpdatedAt, &metaJSON)
	if err == sql.ErrNoRows {
		return hive.Entry{}, fmt.Errorf("no entry at %q", p)
	}
	if err != nil {
		return hive.Entry{}, fmt.Errorf("sqlite: read %q: %w", p, err)
	}
	e.Metadata, err = unmarshalMetadata(metaJSON)
	if err != nil {
		return hive.Entry{}, fmt.Errorf("sqlite: read %q: %w", p, err)
	}
	return e, nil
}

func (s *Store) Delete(path string) error {
	p, err := hive.NormalizePath(path)
	if err != nil {
		return err
	}
	if isVirtual(p) {
		return hive.Configf("%q is a built-in read-only entry", p)
	}
	res, err := s.db.ExecContext(context.Background(), `DELETE FROM entries WHERE path = ?`, p)
	if err != nil {
		return fmt.Errorf("sqlite: delete %q: %w", p, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no entry at %q", p)
	}
	return nil
}

func (s *Store) List(prefix string) ([]hive.EntryInfo, error) {
	rows, err := s.db.QueryContext(context.Background(), `
		SELECT path, title, LENGTH(content), updated_at FROM entries
		WHERE path LIKE ? ESCAPE '\'
		ORDER BY path`, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()

	var infos []hive.EntryInfo
	for rows.Next() {
		var info hive.EntryInfo
		if err := rows.Scan(&info.Path, &info.Title, &info.Size, &info.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: list: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	for _, e := range hive.VirtualEntries() {
		if prefix == "" || strings.HasPrefix(e.Path, prefix) {
			infos = append(infos, hive.EntryInfo{Path: e.Path, Title: e.Title, Size: e.Size(), UpdatedAt: e.UpdatedAt})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

func (s *Store) Glob(pattern string) ([]hive.EntryInfo, error) {
	re, err := hive.GlobRegexp(pattern)
	if err != nil {
		return nil, err
	}
	all, err := s.List("")
	if err != nil {
		return nil, err
	}
	var infos []hive.EntryInfo
	for _, info := range all {
		if re.MatchString(info.Path) {
			infos = append(infos, info)
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
	var total sql.NullInt64
	err := s.db.QueryRowContext(context.Background(),
		`SELECT COALESCE(SUM(LENGTH(content)), 0) FROM entries`).Scan(&total)
	if err != nil {
		s.logger.Error("sqlite: total size", "error", err)
		return 0
	}
	return total.Int64
}

func (s *Store) loadAll() ([]hive.Entry, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT path, content, title, updated_at, metadata FROM entries ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load entries: %w", err)
	}
	defer rows.Close()

	var entries []hive.Entry
	for rows.Next() {
		var e hive.Entry
		var metaJSON sql.NullString
		if err := rows.Scan(&e.Path, &e.Content, &e.Title, &e.UpdatedAt, &metaJSON); err != nil {
			return nil, fmt.Errorf("sqlite: load entries: %w", err)
		}
		if e.Metadata, err = unmarshalMetadata(metaJSON); err != nil {
			return nil, fmt.Errorf("sqlite: load entries: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Snapshot support ---

// Export dumps every entry for the snapshot engine.
func (s *Store) Export() []hive.Entry {
	entries, err := s.loadAll()
	if err != nil {
		s.logger.Error("sqlite: export", "error", err)
		return nil
	}
	return entries
}

// Restore replaces the store contents with the given entries.
func (s *Store) Restore(entries []hive.Entry) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.logger.Error("sqlite: restore", "error", err)
		return
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		s.logger.Error("sqlite: restore", "error", err)
		return
	}
	for _, e := range entries {
		metaJSON, err := marshalMetadata(e.Metadata)
		if err != nil {
			s.logger.Error("sqlite: restore entry", "path", e.Path, "error", err)
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entries (path, content, title, updated_at, metadata)
			VALUES (?, ?, ?, ?, ?)`,
			e.Path, e.Content, e.Title, e.UpdatedAt, metaJSON); err != nil {
			s.logger.Error("sqlite: restore entry", "path", e.Path, "error", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: restore", "error", err)
	}
}

// SaveSnapshot upserts a serialized snapshot keyed by swarm id.
func (s *Store) SaveSnapshot(ctx context.Context, snap hive.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (swarm_id, version, created_at, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(swarm_id) DO UPDATE SET
			version = excluded.version,
			created_at = excluded.created_at,
			data = excluded.data`,
		snap.Metadata.ID, snap.Version, snap.SnapshotAt, data)
	if err != nil {
		return fmt.Errorf("sqlite: save snapshot %q: %w", snap.Metadata.ID, err)
	}
	return nil
}

// LoadSnapshot retrieves the snapshot for a swarm id.
func (s *Store) LoadSnapshot(ctx context.Context, swarmID string) (hive.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE swarm_id = ?`, swarmID).Scan(&data)
	if err == sql.ErrNoRows {
		return hive.Snapshot{}, fmt.Errorf("no snapshot for swarm %q", swarmID)
	}
	if err != nil {
		return hive.Snapshot{}, fmt.Errorf("sqlite: load snapshot %q: %w", swarmID, err)
	}
	var snap hive.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return hive.Snapshot{}, fmt.Errorf("sqlite: decode snapshot %q: %w", swarmID, err)
	}
	return snap, nil
}

// --- Event journal ---

// AppendEvent persists one event to the journal.
func (s *Store) AppendEvent(ctx context.Context, ev hive.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("sqlite: marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (swarm_id, execution_id, type, agent, timestamp, data)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.SwarmID, ev.ExecutionID, ev.Type, ev.Agent, ev.Timestamp, data)
	if err != nil {
		return fmt.Errorf("sqlite: append event: %w", err)
	}
	return nil
}

// Journal subscribes the store to an event log so every event is
// persisted. Returns the subscription id for Unsubscribe.
func (s *Store) Journal(el *hive.EventLog) int {
	return el.Subscribe(nil, func(ev hive.Event) {
		if err := s.AppendEvent(context.Background(), ev); err != nil {
			s.logger.Error("sqlite: journal event", "type", ev.Type, "error", err)
		}
	})
}

// Events replays the journal for one execution in append order.
func (s *Store) Events(ctx context.Context, executionID string) ([]hive.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM events WHERE execution_id = ? ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: replay events: %w", err)
	}
	defer rows.Close()

	var events []hive.Event
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("sqlite: replay events: %w", err)
		}
		var ev hive.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("sqlite: decode event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- helpers ---

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalMetadata(ns sql.NullString) (map[string]string, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// likePrefix escapes LIKE metacharacters so a prefix matches literally.
func likePrefix(prefix string) string {
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	return esc + "%"
}

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
