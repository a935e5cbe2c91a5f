// ABOUTME: World state data model with per-key versioning
// ABOUTME: History entries record every committed write in commit order

package statedb

import "time"

// VersionedValue is the current value of a key together with its version.
// Versions start at 1 on first write and increment on every committed write,
// including deletes.
type VersionedValue struct {
	Value   []byte
	Version uint64
}

// HistoryEntry is one committed write to a key. Entries are appended in
// commit order and never mutated or removed.
type HistoryEntry struct {
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`
	Value     []byte    `json:"value,omitempty"`
	IsDelete  bool      `json:"isDelete,omitempty"`
	Version   uint64    `json:"version"`
}

// Write is a buffered state mutation applied at commit.
type Write struct {
	Key      string
	Value    []byte
	IsDelete bool
}
