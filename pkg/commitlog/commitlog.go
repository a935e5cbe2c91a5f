// ABOUTME: Append-only durable log of committed transactions
// ABOUTME: Replay rebuilds identical world state on every replica

package commitlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	// ErrCorrupted indicates a log line that does not decode as a record
	ErrCorrupted = errors.New("commitlog: corrupted record")

	// ErrClosed indicates an append on a closed log
	ErrClosed = errors.New("commitlog: log closed")
)

// WriteRecord is one state mutation within a committed transaction.
type WriteRecord struct {
	Key      string `json:"key"`
	Value    []byte `json:"value,omitempty"`
	IsDelete bool   `json:"isDelete,omitempty"`
}

// EventRecord is a ledger event emitted by a committed transaction. Events
// are logged for audit; replay does not republish them.
type EventRecord struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Record is one committed transaction in commit order.
type Record struct {
	TxID      string        `json:"txId"`
	Contract  string        `json:"contract"`
	Timestamp time.Time     `json:"timestamp"`
	Writes    []WriteRecord `json:"writes"`
	Events    []EventRecord `json:"events,omitempty"`
}

// Log appends committed transactions to a single file, one JSON record per
// line. Append order equals commit order; the caller serializes appends with
// its commit critical section.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	enc  *json.Encoder
}

// Open opens (creating if needed) the commit log at path.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("commitlog: create dir: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("commitlog: open: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetEscapeHTML(false)

	return &Log{path: path, file: file, enc: enc}, nil
}

// Append writes one committed transaction record and syncs it to disk.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrClosed
	}
	if err := l.enc.Encode(rec); err != nil {
		return fmt.Errorf("commitlog: append: %w", err)
	}
	return l.file.Sync()
}

// Close closes the underlying file. Further appends fail with ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Replay reads every record at path in append order and calls fn for each.
// A missing file is not an error: a fresh replica has an empty log.
func Replay(path string, fn func(Record) error) error {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("commitlog: open for replay: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return scanner.Err()
}
