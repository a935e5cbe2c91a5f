// ABOUTME: Evidence ledger contract: register, custody updates, verification
// ABOUTME: History replay proves no value was rewritten outside the record

package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nainya/custodyledger/pkg/ledger"
)

const (
	// ContractName is the invocation namespace for this contract.
	ContractName = "evidence-contract"

	keyPrefix = "evidence_"
)

// Key returns the world-state key for an event ID.
func Key(eventID string) string { return keyPrefix + eventID }

// Contract implements the evidence ledger transaction logic.
type Contract struct {
	engine      *ledger.Engine
	emitCustody bool
}

// Option configures a Contract.
type Option func(*Contract)

// WithCustodyEvents enables emitting CustodyUpdated events on UpdateCustody.
// Off by default; enabling it extends the external event contract.
func WithCustodyEvents(enabled bool) Option {
	return func(c *Contract) { c.emitCustody = enabled }
}

// New creates the evidence contract over engine.
func New(engine *ledger.Engine, opts ...Option) *Contract {
	c := &Contract{engine: engine}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates the evidence record for eventID with one initial custody
// event (action "created", actor "system") and emits EvidenceRegistered.
// Fails with ErrAlreadyExists when the event ID is already registered; in a
// create race exactly one concurrent submitter wins.
func (c *Contract) Register(eventID, evidenceHash string, meta Metadata) (*Record, error) {
	if strings.TrimSpace(eventID) == "" {
		return nil, fmt.Errorf("%w: event id required", ledger.ErrMalformedInput)
	}
	if strings.TrimSpace(evidenceHash) == "" {
		return nil, fmt.Errorf("%w: evidence hash required", ledger.ErrMalformedInput)
	}
	if err := validateMetadata(meta); err != nil {
		return nil, err
	}

	var rec *Record
	err := c.engine.Submit(ContractName, func(tx *ledger.TxContext) error {
		if _, exists := tx.GetState(Key(eventID)); exists {
			return fmt.Errorf("%w: evidence %s", ledger.ErrAlreadyExists, eventID)
		}

		now := tx.Now()
		rec = &Record{
			EventID:       eventID,
			EvidenceHash:  evidenceHash,
			CameraID:      meta.CameraID,
			DetectionType: meta.DetectionType,
			Confidence:    meta.Confidence,
			CreatedAt:     now,
			ChainOfCustody: []CustodyEvent{{
				Action:    "created",
				Actor:     "system",
				Timestamp: now,
			}},
		}

		if err := putRecord(tx, rec); err != nil {
			return err
		}
		return tx.EmitEvent(ledger.EventEvidenceRegistered, map[string]any{
			"eventId":   eventID,
			"timestamp": now,
		})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Query returns the current evidence record for eventID. Read-only.
func (c *Contract) Query(eventID string) (*Record, error) {
	var rec *Record
	err := c.engine.View(func(tx *ledger.TxContext) error {
		var err error
		rec, err = getRecord(tx, eventID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateCustody appends one custody event to the record's chain. The event's
// timestamp is overwritten with the commit-time clock regardless of caller
// input. Returns the updated record.
func (c *Contract) UpdateCustody(eventID string, ev CustodyEvent) (*Record, error) {
	if err := validateCustodyEvent(ev); err != nil {
		return nil, err
	}

	var rec *Record
	err := c.engine.Submit(ContractName, func(tx *ledger.TxContext) error {
		var err error
		rec, err = getRecord(tx, eventID)
		if err != nil {
			return err
		}

		ev.Timestamp = tx.Now()
		rec.ChainOfCustody = append(rec.ChainOfCustody, ev)

		if err := putRecord(tx, rec); err != nil {
			return err
		}
		if c.emitCustody {
			return tx.EmitEvent(ledger.EventCustodyUpdated, map[string]any{
				"eventId":   eventID,
				"action":    ev.Action,
				"timestamp": ev.Timestamp,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// History returns every committed version of the record, oldest first, each
// annotated with its commit transaction ID. Fails with ErrNotFound when the
// event ID was never registered.
func (c *Contract) History(eventID string) ([]HistoryEntry, error) {
	raw := c.engine.History(Key(eventID))
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: evidence %s", ledger.ErrNotFound, eventID)
	}

	entries := make([]HistoryEntry, 0, len(raw))
	for _, h := range raw {
		entry := HistoryEntry{
			TxID:      h.TxID,
			Timestamp: h.Timestamp,
			IsDelete:  h.IsDelete,
		}
		if !h.IsDelete {
			var rec Record
			if err := json.Unmarshal(h.Value, &rec); err != nil {
				return nil, fmt.Errorf("decode history entry for %s: %w", eventID, err)
			}
			entry.Record = &rec
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Verify compares providedHash against the hash stored at registration.
// Unlike Query it fails softly: an absent record yields {valid:false,
// reason:"not found"} so verifiers always get a definitive answer.
func (c *Contract) Verify(eventID, providedHash string) (*Verification, error) {
	var result *Verification
	err := c.engine.View(func(tx *ledger.TxContext) error {
		rec, err := getRecord(tx, eventID)
		if err != nil {
			if errors.Is(err, ledger.ErrNotFound) {
				result = &Verification{
					Valid:        false,
					ProvidedHash: providedHash,
					Reason:       "not found",
				}
				return nil
			}
			return err
		}

		result = &Verification{
			Valid:        rec.EvidenceHash == providedHash,
			StoredHash:   rec.EvidenceHash,
			ProvidedHash: providedHash,
		}
		if !result.Valid {
			result.Reason = "hash mismatch"
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func getRecord(tx *ledger.TxContext, eventID string) (*Record, error) {
	raw, ok := tx.GetState(Key(eventID))
	if !ok {
		return nil, fmt.Errorf("%w: evidence %s", ledger.ErrNotFound, eventID)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode evidence %s: %w", eventID, err)
	}
	return &rec, nil
}

func putRecord(tx *ledger.TxContext, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode evidence %s: %w", rec.EventID, err)
	}
	return tx.PutState(Key(rec.EventID), raw)
}
