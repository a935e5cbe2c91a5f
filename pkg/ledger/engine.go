// ABOUTME: Transaction engine with optimistic concurrency control
// ABOUTME: Simulate, validate read set at commit, append to the commit log

package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nainya/custodyledger/pkg/commitlog"
	"github.com/nainya/custodyledger/pkg/statedb"
)

// Clock supplies commit-time timestamps. Injectable so tests and replicas
// sharing an external clock source stay deterministic.
type Clock func() time.Time

// Engine runs contract operations as atomic transactions. Submissions from
// independent callers may simulate concurrently; commits are serialized and
// validated against each transaction's read set.
type Engine struct {
	mu         sync.Mutex // orders commit-log appends with their commits
	db         *statedb.Store
	log        *commitlog.Log
	notifier   Notifier
	clock      Clock
	logger     zerolog.Logger
	maxRetries int
	onCommit   func(contract, txID string, writes int, duration time.Duration)
	onConflict func(contract string)
}

// Option configures an Engine.
type Option func(*Engine)

// WithCommitLog makes every committed transaction durable in log, in commit
// order.
func WithCommitLog(log *commitlog.Log) Option {
	return func(e *Engine) { e.log = log }
}

// WithNotifier sets the subscriber for committed-transaction events.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the commit-time clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger sets the structured logger for commit/abort logging.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMaxRetries sets how many times a conflicting transaction is
// re-executed with fresh reads before ErrConflict is surfaced.
func WithMaxRetries(n int) Option {
	return func(e *Engine) { e.maxRetries = n }
}

// WithCommitHook registers a callback invoked after every successful commit
// with the transaction's write count and total duration including retries.
func WithCommitHook(fn func(contract, txID string, writes int, duration time.Duration)) Option {
	return func(e *Engine) { e.onCommit = fn }
}

// WithConflictHook registers a callback invoked on every stale-read abort.
func WithConflictHook(fn func(contract string)) Option {
	return func(e *Engine) { e.onConflict = fn }
}

// NewEngine creates an engine over db.
func NewEngine(db *statedb.Store, opts ...Option) *Engine {
	e := &Engine{
		db:         db,
		clock:      func() time.Time { return time.Now().UTC() },
		logger:     zerolog.Nop(),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit executes fn as one atomic transaction attributed to contract.
//
// fn runs against a fresh TxContext; its reads are tracked and its writes
// buffered. If fn returns an error the transaction aborts with no state
// change and no events. On success the read set is re-validated against
// current versions; a stale read re-executes fn with fresh reads (so a
// create race surfaces as ErrAlreadyExists from the precondition, not as a
// conflict), up to the retry budget, after which ErrConflict is returned.
func (e *Engine) Submit(contract string, fn func(*TxContext) error) error {
	start := time.Now()
	for attempt := 0; ; attempt++ {
		txID := uuid.NewString()
		now := e.clock()

		tx := newTxContext(e.db, txID, now, false)
		if err := fn(tx); err != nil {
			e.logger.Debug().
				Str("contract", contract).
				Str("tx_id", txID).
				Err(err).
				Msg("transaction aborted")
			return err
		}

		err := e.commit(contract, tx)
		if err == nil {
			if e.onCommit != nil {
				e.onCommit(contract, txID, len(tx.writes), time.Since(start))
			}
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}

		if e.onConflict != nil {
			e.onConflict(contract)
		}
		if attempt >= e.maxRetries {
			e.logger.Warn().
				Str("contract", contract).
				Str("tx_id", txID).
				Int("attempts", attempt+1).
				Msg("transaction conflict, retry budget exhausted")
			return err
		}
	}
}

func (e *Engine) commit(contract string, tx *TxContext) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.db.Commit(tx.txID, tx.now, tx.reads, tx.writes); err != nil {
		if errors.Is(err, statedb.ErrStaleRead) {
			return fmt.Errorf("%w: %s", ErrConflict, tx.txID)
		}
		return err
	}

	if e.log != nil {
		rec := commitlog.Record{
			TxID:      tx.txID,
			Contract:  contract,
			Timestamp: tx.now,
			Writes:    make([]commitlog.WriteRecord, len(tx.writes)),
			Events:    make([]commitlog.EventRecord, len(tx.events)),
		}
		for i, w := range tx.writes {
			rec.Writes[i] = commitlog.WriteRecord{Key: w.Key, Value: w.Value, IsDelete: w.IsDelete}
		}
		for i, ev := range tx.events {
			rec.Events[i] = commitlog.EventRecord{Name: ev.Name, Payload: ev.Payload}
		}
		if err := e.log.Append(rec); err != nil {
			e.logger.Error().Str("tx_id", tx.txID).Err(err).Msg("commit log append failed")
			return err
		}
	}

	e.logger.Debug().
		Str("contract", contract).
		Str("tx_id", tx.txID).
		Int("writes", len(tx.writes)).
		Int("events", len(tx.events)).
		Msg("transaction committed")

	if e.notifier != nil {
		for _, ev := range tx.events {
			e.notifier.Publish(ev)
		}
	}
	return nil
}

// View executes fn as a read-only transaction. Writes and events fail with
// ErrReadOnly; the world state is never modified and nothing is logged.
func (e *Engine) View(fn func(*TxContext) error) error {
	tx := newTxContext(e.db, uuid.NewString(), e.clock(), true)
	return fn(tx)
}

// Replay feeds every record of the commit log at path back into the world
// state, in log order, bypassing read-set validation. Events are not
// republished. Call before serving traffic.
func (e *Engine) Replay(path string) (int, error) {
	count := 0
	err := commitlog.Replay(path, func(rec commitlog.Record) error {
		writes := make([]statedb.Write, len(rec.Writes))
		for i, w := range rec.Writes {
			writes[i] = statedb.Write{Key: w.Key, Value: w.Value, IsDelete: w.IsDelete}
		}
		e.db.Apply(rec.TxID, rec.Timestamp, writes)
		count++
		return nil
	})
	if err != nil {
		return count, err
	}
	e.logger.Info().Int("transactions", count).Msg("commit log replayed")
	return count, nil
}

// History returns the full committed history for key, oldest first.
func (e *Engine) History(key string) []statedb.HistoryEntry {
	return e.db.History(key)
}
