// ABOUTME: Watchlist person record model with fixed enumerations
// ABOUTME: Enrollment identity fields are immutable; records are never deleted

package watchlist

import (
	"fmt"
	"strings"
	"time"

	"github.com/nainya/custodyledger/pkg/ledger"
)

// Category classifies why a person is enrolled.
type Category string

const (
	CategoryMissing          Category = "missing"
	CategoryCriminal         Category = "criminal"
	CategoryVIP              Category = "vip"
	CategoryPersonOfInterest Category = "person_of_interest"
)

// RiskLevel grades an enrolled person.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Person is the ledger state for one enrolled person. PersonID, EnrolledAt
// and EnrolledBy are immutable after enrollment; deactivation toggles
// IsActive rather than deleting the record.
type Person struct {
	PersonID    string    `json:"personId"`
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	PhotoHashes []string  `json:"photoHashes"`
	EnrolledAt  time.Time `json:"enrolledAt"`
	EnrolledBy  string    `json:"enrolledBy"`
	IsActive    bool      `json:"isActive"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Enrollment is the caller-supplied data for EnrollPerson. Photo pixels live
// in the external blob store; only their digests are enrolled here.
type Enrollment struct {
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	RiskLevel   RiskLevel `json:"riskLevel"`
	PhotoHashes []string  `json:"photoHashes"`
	EnrolledBy  string    `json:"enrolledBy"`
}

func (e Enrollment) validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name required", ledger.ErrMalformedInput)
	}
	switch e.Category {
	case CategoryMissing, CategoryCriminal, CategoryVIP, CategoryPersonOfInterest:
	default:
		return fmt.Errorf("%w: unknown category %q", ledger.ErrMalformedInput, e.Category)
	}
	switch e.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
	default:
		return fmt.Errorf("%w: unknown risk level %q", ledger.ErrMalformedInput, e.RiskLevel)
	}
	return nil
}
