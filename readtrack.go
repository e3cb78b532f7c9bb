package hive

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
)

// ReadTracker records, per agent, the SHA-256 digest of every file as it
// was read. Write and edit tools consult it to enforce read-before-write:
// a file may only be modified by an agent that has read its current
// contents. Records age with the filesystem — FileRead re-hashes the file
// and compares, so any external modification invalidates the record.
//
// A single mutex guards the map. The revalidation file read happens outside
// the critical section so a slow disk never blocks unrelated agents.
type ReadTracker struct {
	mu      sync.Mutex
	records map[string]map[string]string // agent -> absolute path -> hex digest
}

// NewReadTracker creates an empty tracker.
func NewReadTracker() *ReadTracker {
	return &ReadTracker{records: make(map[string]map[string]string)}
}

// ContentDigest returns the hex SHA-256 of the bytes actually consumed.
func ContentDigest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// RegisterRead records the digest of content as read by agent at path.
func (t *ReadTracker) RegisterRead(agent, path string, content []byte) {
	digest := ContentDigest(content)
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.records[agent]
	if !ok {
		m = make(map[string]string)
		t.records[agent] = m
	}
	m[path] = digest
}

// FileRead reports whether agent has read path and the file still has the
// recorded contents. Missing files and changed digests both return false.
func (t *ReadTracker) FileRead(agent, path string) bool {
	t.mu.Lock()
	recorded, ok := t.records[agent][path]
	t.mu.Unlock()
	if !ok {
		return false
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return ContentDigest(content) == recorded
}

// Forget drops the record for path, if any. Called after deletes.
func (t *ReadTracker) Forget(agent, path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records[agent], path)
}

// Export returns a deep copy of the full agent -> path -> digest map.
func (t *ReadTracker) Export() map[string]map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]map[string]string, len(t.records))
	for agent, paths := range t.records {
		m := make(map[string]string, len(paths))
		for p, d := range paths {
			m[p] = d
		}
		out[agent] = m
	}
	return out
}

// Restore replaces the tracker state with the given map.
func (t *ReadTracker) Restore(records map[string]map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]map[string]string, len(records))
	for agent, paths := range records {
		m := make(map[string]string, len(paths))
		for p, d := range paths {
			m[p] = d
		}
		t.records[agent] = m
	}
}
