// ABOUTME: Versioned key-value world state with an append-only history index
// ABOUTME: Commits validate read versions for optimistic concurrency control

package statedb

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrStaleRead indicates that a transaction's read set no longer matches the
// current versions at commit time. The caller may re-execute with fresh reads.
var ErrStaleRead = errors.New("statedb: stale read")

// Store holds the current value of every key plus the full write history per
// key. All access is safe for concurrent use. The store is an in-process
// replica: durability and replication are handled by replaying an external
// commit log through Apply.
type Store struct {
	mu       sync.RWMutex
	state    map[string]VersionedValue
	versions map[string]uint64 // survives deletes so versions never regress
	history  map[string][]HistoryEntry
}

// New creates an empty world state store.
func New() *Store {
	return &Store{
		state:    make(map[string]VersionedValue),
		versions: make(map[string]uint64),
		history:  make(map[string][]HistoryEntry),
	}
}

// Get returns the current value and version of key. ok is false when the key
// is absent (never written, or deleted); the version is still the key's write
// counter, so reading a deleted key observes its surviving version rather
// than 0 and a later re-create can pass validation. The returned slice is a
// copy.
func (s *Store) Get(key string) (value []byte, version uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vv, ok := s.state[key]
	if !ok {
		return nil, s.versions[key], false
	}
	return append([]byte(nil), vv.Value...), vv.Version, true
}

// Version returns the current version counter for key, or 0 if the key has
// never been written. Deleted keys keep their last version.
func (s *Store) Version(key string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[key]
}

// Commit validates the read set against current versions and, if valid,
// applies all writes atomically under txID with the given commit timestamp.
// A read version of 0 asserts the key had never been written when read;
// reads of deleted keys carry their surviving version. Returns ErrStaleRead
// without applying anything when any read is stale.
func (s *Store) Commit(txID string, ts time.Time, reads map[string]uint64, writes []Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, readVersion := range reads {
		if s.versions[key] != readVersion {
			return ErrStaleRead
		}
	}

	s.apply(txID, ts, writes)
	return nil
}

// Apply writes committed state without a read-set check. Used when replaying
// an already-ordered commit log; every record in the log was validated when
// it originally committed.
func (s *Store) Apply(txID string, ts time.Time, writes []Write) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apply(txID, ts, writes)
}

func (s *Store) apply(txID string, ts time.Time, writes []Write) {
	for _, w := range writes {
		version := s.versions[w.Key] + 1
		s.versions[w.Key] = version

		entry := HistoryEntry{
			TxID:      txID,
			Timestamp: ts,
			IsDelete:  w.IsDelete,
			Version:   version,
		}

		if w.IsDelete {
			delete(s.state, w.Key)
		} else {
			val := append([]byte(nil), w.Value...)
			s.state[w.Key] = VersionedValue{Value: val, Version: version}
			entry.Value = val
		}

		s.history[w.Key] = append(s.history[w.Key], entry)
	}
}

// History returns every committed write to key, oldest first. The slice is a
// copy; entries themselves are never mutated after commit.
func (s *Store) History(key string) []HistoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[key]
	out := make([]HistoryEntry, len(entries))
	copy(out, entries)
	return out
}

// Scan iterates current values whose key starts with prefix, in key order,
// calling fn for each. Returning false from fn stops the scan. The iteration
// is over a point-in-time snapshot, not a live view.
func (s *Store) Scan(prefix string, fn func(key string, value []byte, version uint64) bool) {
	type kv struct {
		key string
		vv  VersionedValue
	}

	s.mu.RLock()
	snapshot := make([]kv, 0)
	for key, vv := range s.state {
		if strings.HasPrefix(key, prefix) {
			snapshot = append(snapshot, kv{key: key, vv: vv})
		}
	}
	s.mu.RUnlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].key < snapshot[j].key })

	for _, item := range snapshot {
		if !fn(item.key, append([]byte(nil), item.vv.Value...), item.vv.Version) {
			return
		}
	}
}

// Len returns the number of live keys in the world state.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state)
}
