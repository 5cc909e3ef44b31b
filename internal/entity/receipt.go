package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-rewards/constants"
)

// Field names an extracted receipt field.
type Field string

const (
	FieldTaxID         Field = "tax_id"
	FieldInvoiceNumber Field = "invoice_number"
	FieldDate          Field = "date"
	FieldTotalAmount   Field = "total_amount"
	FieldBranchText    Field = "branch_text"
)

// Fields lists every extracted field.
var Fields = []Field{FieldTaxID, FieldInvoiceNumber, FieldDate, FieldTotalAmount, FieldBranchText}

// Confidences holds a 0..1 confidence per field; absent fields are 0.
type Confidences map[Field]float64

// Of returns the confidence of f, 0 when unknown.
func (c Confidences) Of(f Field) float64 {
	if c == nil {
		return 0
	}
	return c[f]
}

// ExtractedFields are candidate values pulled out of recognized receipt text.
// Empty strings and nil pointers mean the field was not found.
type ExtractedFields struct {
	TaxID         string           `json:"tax_id,omitempty"`
	InvoiceNumber string           `json:"invoice_number,omitempty"`
	Date          *time.Time       `json:"date,omitempty"`
	DateHasTime   bool             `json:"date_has_time,omitempty"`
	TotalAmount   *decimal.Decimal `json:"total_amount,omitempty"`
	BranchText    string           `json:"branch_text,omitempty"`
}

// AuditEntry records one status change on a receipt.
type AuditEntry struct {
	At     time.Time               `json:"at"`
	Actor  string                  `json:"actor"`
	From   constants.ReceiptStatus `json:"from"`
	To     constants.ReceiptStatus `json:"to"`
	Reason string                  `json:"reason,omitempty"`
}

// Receipt represents one uploaded receipt image and its verdict.
type Receipt struct {
	ID            uuid.UUID               `json:"id"`
	CustomerID    uuid.UUID               `json:"customer_id"`
	StoreID       *uuid.UUID              `json:"store_id,omitempty"`
	RawText       string                  `json:"raw_text"`
	OCRConfidence *float64                `json:"ocr_confidence,omitempty"`
	Fields        ExtractedFields         `json:"fields"`
	Confidences   Confidences             `json:"confidences,omitempty"`
	Status        constants.ReceiptStatus `json:"status"`
	Reason        string                  `json:"reason,omitempty"`
	Flags         []string                `json:"flags,omitempty"`
	FraudScore    int                     `json:"fraud_score"`
	SubmittedAt   time.Time               `json:"submitted_at"`
	DecidedAt     *time.Time              `json:"decided_at,omitempty"`
	Audit         []AuditEntry            `json:"audit,omitempty"`
}

// Visit is one ledger entry per approved receipt. Never updated in place.
type Visit struct {
	ID           uuid.UUID  `json:"id"`
	CustomerID   uuid.UUID  `json:"customer_id"`
	StoreID      uuid.UUID  `json:"store_id"`
	ReceiptID    *uuid.UUID `json:"receipt_id,omitempty"`
	VisitedAt    time.Time  `json:"visited_at"`
	RewardEarned bool       `json:"reward_earned"`
}
