// ABOUTME: Evidence record and chain-of-custody data model
// ABOUTME: Identity fields are immutable; custody only ever grows

package evidence

import (
	"fmt"
	"strings"
	"time"

	"github.com/nainya/custodyledger/pkg/ledger"
)

// CustodyEvent is one handling action on a piece of evidence. The timestamp
// is assigned by the ledger at commit time; caller-supplied timestamps are
// discarded to prevent backdating.
type CustodyEvent struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// Record is the ledger state for one detection artifact. EvidenceHash and
// CreatedAt never change after registration; ChainOfCustody is append-only
// and its insertion order is never altered.
type Record struct {
	EventID        string         `json:"eventId"`
	EvidenceHash   string         `json:"evidenceHash"`
	CameraID       string         `json:"cameraId,omitempty"`
	DetectionType  string         `json:"detectionType,omitempty"`
	Confidence     float64        `json:"confidence"`
	CreatedAt      time.Time      `json:"createdAt"`
	ChainOfCustody []CustodyEvent `json:"chainOfCustody"`
}

// Metadata is the caller-supplied detection context at registration.
type Metadata struct {
	CameraID      string  `json:"cameraId"`
	DetectionType string  `json:"detectionType"`
	Confidence    float64 `json:"confidence"`
}

// Verification is the result of a tamper check. VerifyEvidence never raises
// for an absent record; Reason explains a false result.
type Verification struct {
	Valid        bool   `json:"valid"`
	StoredHash   string `json:"storedHash,omitempty"`
	ProvidedHash string `json:"providedHash"`
	Reason       string `json:"reason,omitempty"`
}

// HistoryEntry is one committed version of an evidence record, annotated
// with the transaction that wrote it.
type HistoryEntry struct {
	TxID      string    `json:"txId"`
	Timestamp time.Time `json:"timestamp"`
	IsDelete  bool      `json:"isDelete,omitempty"`
	Record    *Record   `json:"record,omitempty"`
}

func validateMetadata(meta Metadata) error {
	if meta.Confidence < 0 || meta.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ledger.ErrMalformedInput, meta.Confidence)
	}
	return nil
}

func validateCustodyEvent(ev CustodyEvent) error {
	if strings.TrimSpace(ev.Action) == "" {
		return fmt.Errorf("%w: custody event requires an action", ledger.ErrMalformedInput)
	}
	if strings.TrimSpace(ev.Actor) == "" {
		return fmt.Errorf("%w: custody event requires an actor", ledger.ErrMalformedInput)
	}
	return nil
}
