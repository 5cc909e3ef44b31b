package rules

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
)

// EvalContext carries the already-resolved facts the engine needs besides
// the extracted fields. Repositories fill it in; the engine never queries.
type EvalContext struct {
	// ReceiptID is the receipt under evaluation, excluded from duplicate checks.
	ReceiptID uuid.UUID
	// DeclaredStore is the store the customer picked, nil when none.
	DeclaredStore *entity.Store
	// KnownStores is the store catalog used for tax id resolution.
	KnownStores []entity.Store
	// InvoiceMatches are prior receipts (any customer) sharing the extracted invoice number.
	InvoiceMatches []entity.Receipt
	// CustomerHistory is the submitting customer's recent receipts.
	CustomerHistory []entity.Receipt
	// SubmittedAt is the upload timestamp.
	SubmittedAt time.Time
}

// lastApproval returns the latest decision time among approved history entries.
func (c EvalContext) lastApproval() (time.Time, bool) {
	var last time.Time
	found := false
	for _, r := range c.CustomerHistory {
		if r.Status != constants.ReceiptApproved || r.DecidedAt == nil {
			continue
		}
		if c.ReceiptID != uuid.Nil && r.ID == c.ReceiptID {
			continue
		}
		if !found || r.DecidedAt.After(last) {
			last = *r.DecidedAt
			found = true
		}
	}
	return last, found
}
