package entity

import (
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/constants"
)

// Verdict is the outcome of rule evaluation, extended with issuance results
// once the receipt has been persisted.
type Verdict struct {
	Status       constants.ReceiptStatus `json:"status"`
	Reason       string                  `json:"reason"`
	Flags        []string                `json:"flags"`
	FraudScore   int                     `json:"fraudScore"`
	VisitCount   *int                    `json:"visitCount,omitempty"`
	RewardEarned *bool                   `json:"rewardEarned,omitempty"`
	RewardID     *uuid.UUID              `json:"rewardId,omitempty"`

	// StoreID is the store the engine resolved, nil when unresolved.
	StoreID *uuid.UUID `json:"-"`
}

// HasFlag reports whether tag is among the verdict flags.
func (v Verdict) HasFlag(tag string) bool {
	for _, f := range v.Flags {
		if f == tag {
			return true
		}
	}
	return false
}
