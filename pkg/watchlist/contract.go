// ABOUTME: Watchlist ledger contract: enroll, status toggle, active listing
// ABOUTME: GetAllActivePersons is a point-in-time snapshot, not a live view

package watchlist

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nainya/custodyledger/pkg/ledger"
)

const (
	// ContractName is the invocation namespace for this contract.
	ContractName = "watchlist-contract"

	keyPrefix = "person_"
)

// Key returns the world-state key for a person ID.
func Key(personID string) string { return keyPrefix + personID }

// Contract implements the watchlist ledger transaction logic.
type Contract struct {
	engine *ledger.Engine
}

// New creates the watchlist contract over engine.
func New(engine *ledger.Engine) *Contract {
	return &Contract{engine: engine}
}

// Enroll creates the record for personID with IsActive=true and EnrolledAt
// set to commit time, and emits PersonEnrolled. Fails with ErrAlreadyExists
// when the person is already enrolled.
func (c *Contract) Enroll(personID string, enrollment Enrollment) (*Person, error) {
	if strings.TrimSpace(personID) == "" {
		return nil, fmt.Errorf("%w: person id required", ledger.ErrMalformedInput)
	}
	if err := enrollment.validate(); err != nil {
		return nil, err
	}

	var person *Person
	err := c.engine.Submit(ContractName, func(tx *ledger.TxContext) error {
		if _, exists := tx.GetState(Key(personID)); exists {
			return fmt.Errorf("%w: person %s", ledger.ErrAlreadyExists, personID)
		}

		now := tx.Now()
		person = &Person{
			PersonID:    personID,
			Name:        enrollment.Name,
			Category:    enrollment.Category,
			RiskLevel:   enrollment.RiskLevel,
			PhotoHashes: enrollment.PhotoHashes,
			EnrolledAt:  now,
			EnrolledBy:  enrollment.EnrolledBy,
			IsActive:    true,
			UpdatedAt:   now,
		}

		if err := putPerson(tx, person); err != nil {
			return err
		}
		return tx.EmitEvent(ledger.EventPersonEnrolled, map[string]any{
			"personId":  personID,
			"timestamp": now,
		})
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

// Query returns the current record for personID. Read-only.
func (c *Contract) Query(personID string) (*Person, error) {
	var person *Person
	err := c.engine.View(func(tx *ledger.TxContext) error {
		var err error
		person, err = getPerson(tx, personID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

// UpdateStatus sets IsActive and stamps UpdatedAt with commit time. The
// enrollment identity fields are never touched.
func (c *Contract) UpdateStatus(personID string, active bool) (*Person, error) {
	var person *Person
	err := c.engine.Submit(ContractName, func(tx *ledger.TxContext) error {
		var err error
		person, err = getPerson(tx, personID)
		if err != nil {
			return err
		}

		person.IsActive = active
		person.UpdatedAt = tx.Now()
		return putPerson(tx, person)
	})
	if err != nil {
		return nil, err
	}
	return person, nil
}

// ListActive returns every record with IsActive=true. The result is a fresh
// snapshot per call in store iteration (key) order; re-issue the query to
// observe later changes.
func (c *Contract) ListActive() ([]*Person, error) {
	var active []*Person
	err := c.engine.View(func(tx *ledger.TxContext) error {
		var scanErr error
		tx.RangeScan(keyPrefix, func(key string, value []byte) bool {
			var p Person
			if err := json.Unmarshal(value, &p); err != nil {
				scanErr = fmt.Errorf("decode %s: %w", key, err)
				return false
			}
			if p.IsActive {
				active = append(active, &p)
			}
			return true
		})
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return active, nil
}

func getPerson(tx *ledger.TxContext, personID string) (*Person, error) {
	raw, ok := tx.GetState(Key(personID))
	if !ok {
		return nil, fmt.Errorf("%w: person %s", ledger.ErrNotFound, personID)
	}
	var p Person
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode person %s: %w", personID, err)
	}
	return &p, nil
}

func putPerson(tx *ledger.TxContext, p *Person) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode person %s: %w", p.PersonID, err)
	}
	return tx.PutState(Key(p.PersonID), raw)
}
