package constants

// ReceiptStatus is the canonical verdict status stored on receipts rows.
type ReceiptStatus string

// Stable values (store these exact strings in DB).
const (
	ReceiptPending                ReceiptStatus = "pending"
	ReceiptApproved               ReceiptStatus = "approved"
	ReceiptRejected               ReceiptStatus = "rejected"
	ReceiptFlagged                ReceiptStatus = "flagged"
	ReceiptFlaggedManualRequested ReceiptStatus = "flagged_manual_requested"
	ReceiptNeedsStoreSelection    ReceiptStatus = "needs_store_selection"
)

// ReceiptStatuses lists every receipt status in declaration order.
var ReceiptStatuses = []ReceiptStatus{
	ReceiptPending,
	ReceiptApproved,
	ReceiptRejected,
	ReceiptFlagged,
	ReceiptFlaggedManualRequested,
	ReceiptNeedsStoreSelection,
}

// Valid reports whether s is a known receipt status.
func (s ReceiptStatus) Valid() bool {
	for _, v := range ReceiptStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// AwaitingReview reports whether the receipt sits in a manual review queue.
func (s ReceiptStatus) AwaitingReview() bool {
	return s == ReceiptFlagged || s == ReceiptFlaggedManualRequested
}

// RewardStatus is the lifecycle state stored on rewards rows.
type RewardStatus string

const (
	RewardPending  RewardStatus = "pending"
	RewardClaimed  RewardStatus = "claimed"
	RewardRedeemed RewardStatus = "redeemed"
	RewardUsed     RewardStatus = "used"
	RewardExpired  RewardStatus = "expired"
)

// RewardStatuses lists every reward status in lifecycle order.
var RewardStatuses = []RewardStatus{
	RewardPending,
	RewardClaimed,
	RewardRedeemed,
	RewardUsed,
	RewardExpired,
}

// Terminal reports whether no further transition is possible.
func (s RewardStatus) Terminal() bool {
	return s == RewardUsed || s == RewardExpired
}

// Valid reports whether s is a known reward status.
func (s RewardStatus) Valid() bool {
	for _, v := range RewardStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// PeriodPolicy selects what happens when a reward period lapses.
type PeriodPolicy string

const (
	// PeriodRollForward restarts the period at the most recent approved receipt.
	PeriodRollForward PeriodPolicy = "roll_forward"
	// PeriodReset drops to zero visits; the next receipt opens a fresh period.
	PeriodReset PeriodPolicy = "reset"
)
