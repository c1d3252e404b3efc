package corebank

import (
	"path/filepath"
	"testing"
	"time"
)

// newTestStorage opens a fresh bbolt-backed TenantStorage in a temp
// directory, the way the teacher's tests open a scratch db file per test
// and clean it up via defer/TempDir instead of a shared fixture.
func newTestStorage(t *testing.T) *TenantStorage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	storage, err := NewTenantStorage(path, NewKeyManager("test-key-material"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

// newTestEngine wires a full Engine over a fresh storage with a fixed
// clock and a deterministic sequential ID generator, for reproducible
// assertions on generated IDs and timestamps.
func newTestEngine(t *testing.T, now time.Time) (*Engine, *FixedClock) {
	t.Helper()
	storage := newTestStorage(t)
	clock := NewFixedClock(now)
	ids := &SequentialIDGenerator{Prefix: "t"}
	return NewEngineForTest(storage, clock, ids), clock
}

var testNow = time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
