// ABOUTME: Ledger events emitted when state-changing transactions commit
// ABOUTME: Payloads carry the minimum a subscriber needs to fetch the record

package ledger

import "encoding/json"

// Event names emitted by the built-in contracts.
const (
	EventEvidenceRegistered = "EvidenceRegistered"
	EventCustodyUpdated     = "CustodyUpdated"
	EventPersonEnrolled     = "PersonEnrolled"
	EventModelUpdated       = "ModelUpdated"
)

// Event is a named notification published when its originating transaction
// commits. It is never published for aborted transactions.
type Event struct {
	Name    string          `json:"name"`
	TxID    string          `json:"txId"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Notifier receives events from committed transactions. Delivery is
// best-effort: events carry no guarantee beyond "published exactly when the
// originating transaction commits".
type Notifier interface {
	Publish(Event)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Event)

// Publish calls f(e).
func (f NotifierFunc) Publish(e Event) { f(e) }
