package constants

import "time"

// Flag tags attached to verdicts. Order of appearance on a verdict follows rule order.
const (
	FlagStoreUnresolved         = "store_unresolved"
	FlagStoreInactive           = "store_inactive"
	FlagAmountBelowMinimum      = "amount_below_minimum"
	FlagAmountMissing           = "amount_missing"
	FlagTaxIDMismatch           = "tax_id_mismatch"
	FlagDateMissing             = "date_missing"
	FlagDateFuture              = "date_future"
	FlagDateOutOfWindow         = "date_out_of_window"
	FlagDuplicateInvoice        = "duplicate_invoice"
	FlagDuplicateInvoiceElsewhr = "duplicate_invoice_other_store"
	FlagAmountLowConfidence     = "amount_low_confidence"
	FlagDateLowConfidence       = "date_low_confidence"
	FlagCooldown                = "cooldown"
	FlagConfigUnavailable       = "config_unavailable"
	FlagInfrastructure          = "infrastructure_error"
	FlagProcessingTimeout       = "processing_timeout"
	FlagManualApproved          = "manual_approved"
	FlagManualRejected          = "manual_rejected"

	// FlagRewardPending marks an approval whose reward could not be issued yet.
	FlagRewardPending = "reward_issuance_pending"
)

// FlagWeights are the fraud-score contributions of soft flags.
var FlagWeights = map[string]int{
	FlagTaxIDMismatch:           60,
	FlagStoreInactive:           50,
	FlagDateFuture:              40,
	FlagDateOutOfWindow:         35,
	FlagAmountMissing:           30,
	FlagDateMissing:             25,
	FlagAmountLowConfidence:     20,
	FlagDateLowConfidence:       15,
	FlagDuplicateInvoiceElsewhr: 10,
}

const (
	// HighScoreThreshold and above always requires manual review.
	HighScoreThreshold = 60
	// ReviewScoreThreshold starts the middle band that is also flagged.
	ReviewScoreThreshold = 25
	// LowConfidenceThreshold applies to total amount and date confidences.
	LowConfidenceThreshold = 0.5
	// SevereWindowFactor multiplies the validity window for the hard date reject.
	SevereWindowFactor = 2

	// SubmissionCooldown between two approved receipts from one customer.
	SubmissionCooldown = 24 * time.Hour
	// DefaultPeriodDays is the length of a reward period.
	DefaultPeriodDays = 45
	// MaxValidityHours bounds the configured receipt validity window.
	MaxValidityHours = 720
	// FutureSkew tolerates receipt clocks that run slightly ahead.
	FutureSkew = 15 * time.Minute
)

// RedemptionPayloadType tags the JSON payload handed out at redemption.
const RedemptionPayloadType = "reward_discount"
