// ABOUTME: Transaction capability context passed into contract operations
// ABOUTME: Tracks read versions and buffers writes until commit

package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nainya/custodyledger/pkg/statedb"
)

// TxContext is the capability set a contract operation executes against:
// read, write, range scan, event emission, and the commit-time clock. It is
// not safe for concurrent use; each transaction owns exactly one context.
type TxContext struct {
	db       *statedb.Store
	txID     string
	now      time.Time
	readOnly bool

	reads    map[string]uint64
	writes   []statedb.Write
	writeIdx map[string]int // key -> index in writes, last write wins
	events   []Event
}

func newTxContext(db *statedb.Store, txID string, now time.Time, readOnly bool) *TxContext {
	return &TxContext{
		db:       db,
		txID:     txID,
		now:      now,
		readOnly: readOnly,
		reads:    make(map[string]uint64),
		writeIdx: make(map[string]int),
	}
}

// TxID returns the transaction identifier.
func (tx *TxContext) TxID() string { return tx.txID }

// Now returns the commit-time timestamp, fixed once per transaction. Anything
// that affects verification must use this clock, never caller input, so that
// replaying the commit log converges on every replica.
func (tx *TxContext) Now() time.Time { return tx.now }

// GetState returns the current value of key as seen by this transaction:
// its own buffered writes first, then the world state. The read version is
// recorded for validation at commit.
func (tx *TxContext) GetState(key string) ([]byte, bool) {
	if idx, ok := tx.writeIdx[key]; ok {
		w := tx.writes[idx]
		if w.IsDelete {
			return nil, false
		}
		return append([]byte(nil), w.Value...), true
	}

	value, version, ok := tx.db.Get(key)
	tx.reads[key] = version
	if !ok {
		return nil, false
	}
	return value, true
}

// PutState buffers a write of value under key. The write becomes visible to
// other transactions only when this transaction commits.
func (tx *TxContext) PutState(key string, value []byte) error {
	return tx.stage(statedb.Write{Key: key, Value: append([]byte(nil), value...)})
}

// DelState buffers a delete of key.
func (tx *TxContext) DelState(key string) error {
	return tx.stage(statedb.Write{Key: key, IsDelete: true})
}

func (tx *TxContext) stage(w statedb.Write) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	if idx, ok := tx.writeIdx[w.Key]; ok {
		tx.writes[idx] = w
		return nil
	}
	tx.writeIdx[w.Key] = len(tx.writes)
	tx.writes = append(tx.writes, w)
	return nil
}

// RangeScan iterates current values under prefix in key order, overlaying
// this transaction's buffered writes: buffered updates replace stored values,
// buffered deletes hide keys, and keys created only in this transaction are
// visited too. Every stored key visited joins the read set. The scan is a
// point-in-time snapshot, not a live cursor.
func (tx *TxContext) RangeScan(prefix string, fn func(key string, value []byte) bool) {
	merged := make(map[string][]byte)
	tx.db.Scan(prefix, func(key string, value []byte, version uint64) bool {
		tx.reads[key] = version
		merged[key] = value
		return true
	})

	for key, idx := range tx.writeIdx {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		w := tx.writes[idx]
		if w.IsDelete {
			delete(merged, key)
			continue
		}
		merged[key] = append([]byte(nil), w.Value...)
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if !fn(key, merged[key]) {
			return
		}
	}
}

// EmitEvent records a named event to publish when the transaction commits.
// The payload is serialized immediately so later mutation of the argument
// cannot alter what subscribers see.
func (tx *TxContext) EmitEvent(name string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: event payload: %v", ErrMalformedInput, err)
	}
	tx.events = append(tx.events, Event{Name: name, TxID: tx.txID, Payload: raw})
	return nil
}
