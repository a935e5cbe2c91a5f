// ABOUTME: Federated-learning model update contract, one record per epoch
// ABOUTME: A pointer key tracks the maximum epoch transactionally

package flmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nainya/custodyledger/pkg/ledger"
)

const (
	// ContractName is the invocation namespace for this contract.
	ContractName = "fl-contract"

	keyPrefix = "model_"

	// latestKey holds the maximum registered epoch as a decimal string. It
	// is written in the same transaction as each register, so a reader can
	// never observe a pointer that disagrees with the records.
	latestKey = "model_latest"

	// AggregationMethod is the fixed label recorded on every update.
	AggregationMethod = "fedavg"
)

// Key returns the world-state key for an epoch.
func Key(epoch int64) string { return fmt.Sprintf("%s%d", keyPrefix, epoch) }

// Update is the ledger state for one aggregation round. A given epoch is
// written exactly once; re-registration fails so a round cannot be
// double-aggregated.
type Update struct {
	Epoch             int64           `json:"epoch"`
	ModelHash         string          `json:"modelHash"`
	ClientUpdates     json.RawMessage `json:"clientUpdates,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
	AggregationMethod string          `json:"aggregationMethod"`
}

// ErrScanRangeExceeded indicates the fallback epoch scan visited more
// records than the configured bound. Raising beats silently returning a
// maximum that might not be the true one.
var ErrScanRangeExceeded = errors.New("flmodel: epoch scan range exceeded")

// Contract implements the model-update ledger transaction logic.
type Contract struct {
	engine    *ledger.Engine
	scanLimit int
}

// Option configures a Contract.
type Option func(*Contract)

// WithScanLimit bounds the fallback epoch range scan. 0 means unbounded.
func WithScanLimit(n int) Option {
	return func(c *Contract) { c.scanLimit = n }
}

// New creates the model-update contract over engine.
func New(engine *ledger.Engine, opts ...Option) *Contract {
	c := &Contract{engine: engine}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register writes the update for epoch and emits ModelUpdated. Fails with
// ErrAlreadyExists when the epoch was already registered (one writer wins)
// and with ErrMalformedInput for a negative epoch or missing hash.
func (c *Contract) Register(epoch int64, modelHash string, clientUpdates json.RawMessage) (*Update, error) {
	if epoch < 0 {
		return nil, fmt.Errorf("%w: epoch %d is negative", ledger.ErrMalformedInput, epoch)
	}
	if strings.TrimSpace(modelHash) == "" {
		return nil, fmt.Errorf("%w: model hash required", ledger.ErrMalformedInput)
	}

	var update *Update
	err := c.engine.Submit(ContractName, func(tx *ledger.TxContext) error {
		if _, exists := tx.GetState(Key(epoch)); exists {
			return fmt.Errorf("%w: epoch %d", ledger.ErrAlreadyExists, epoch)
		}

		now := tx.Now()
		update = &Update{
			Epoch:             epoch,
			ModelHash:         modelHash,
			ClientUpdates:     clientUpdates,
			Timestamp:         now,
			AggregationMethod: AggregationMethod,
		}

		raw, err := json.Marshal(update)
		if err != nil {
			return fmt.Errorf("encode epoch %d: %w", epoch, err)
		}
		if err := tx.PutState(Key(epoch), raw); err != nil {
			return err
		}

		// Registrations may arrive out of numeric order; the pointer only
		// moves forward.
		if epoch > currentLatest(tx) {
			if err := tx.PutState(latestKey, []byte(strconv.FormatInt(epoch, 10))); err != nil {
				return err
			}
		}

		return tx.EmitEvent(ledger.EventModelUpdated, map[string]any{
			"epoch":     epoch,
			"timestamp": now,
		})
	})
	if err != nil {
		return nil, err
	}
	return update, nil
}

// Query returns the update registered for epoch. Read-only.
func (c *Contract) Query(epoch int64) (*Update, error) {
	var update *Update
	err := c.engine.View(func(tx *ledger.TxContext) error {
		raw, ok := tx.GetState(Key(epoch))
		if !ok {
			return fmt.Errorf("%w: epoch %d", ledger.ErrNotFound, epoch)
		}
		update = &Update{}
		if err := json.Unmarshal(raw, update); err != nil {
			return fmt.Errorf("decode epoch %d: %w", epoch, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return update, nil
}

// Latest returns the update with the maximum registered epoch, or
// ErrNotFound when no update exists. The pointer key makes this O(1); when
// the pointer is absent (state rebuilt from a pre-pointer log) the key range
// is scanned, which costs O(n) in the number of epochs.
func (c *Contract) Latest() (*Update, error) {
	var update *Update
	err := c.engine.View(func(tx *ledger.TxContext) error {
		epoch := currentLatest(tx)
		if epoch < 0 {
			var ok bool
			var err error
			epoch, ok, err = scanLatest(tx, c.scanLimit)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: no model updates registered", ledger.ErrNotFound)
			}
		}

		raw, ok := tx.GetState(Key(epoch))
		if !ok {
			return fmt.Errorf("%w: epoch %d", ledger.ErrNotFound, epoch)
		}
		update = &Update{}
		if err := json.Unmarshal(raw, update); err != nil {
			return fmt.Errorf("decode epoch %d: %w", epoch, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return update, nil
}

// currentLatest reads the pointer key; -1 when absent or unparseable.
func currentLatest(tx *ledger.TxContext) int64 {
	raw, ok := tx.GetState(latestKey)
	if !ok {
		return -1
	}
	epoch, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return -1
	}
	return epoch
}

// scanLatest walks the model_* key range and returns the maximum epoch.
// With limit > 0 the scan fails once it has visited more than limit epoch
// records, so a bounded caller never gets a possibly-stale maximum.
func scanLatest(tx *ledger.TxContext, limit int) (int64, bool, error) {
	max := int64(-1)
	visited := 0
	exceeded := false
	tx.RangeScan(keyPrefix, func(key string, value []byte) bool {
		suffix := strings.TrimPrefix(key, keyPrefix)
		epoch, err := strconv.ParseInt(suffix, 10, 64)
		if err != nil {
			return true // pointer key or foreign key under the prefix
		}
		visited++
		if limit > 0 && visited > limit {
			exceeded = true
			return false
		}
		if epoch > max {
			max = epoch
		}
		return true
	})
	if exceeded {
		return 0, false, ErrScanRangeExceeded
	}
	return max, max >= 0, nil
}
