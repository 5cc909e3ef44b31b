package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/constants"
)

// Reward represents one issued reward and its lifecycle timestamps.
type Reward struct {
	ID                uuid.UUID              `json:"id"`
	CustomerID        uuid.UUID              `json:"customer_id"`
	StoreID           uuid.UUID              `json:"store_id"`
	UsedAtStoreID     *uuid.UUID             `json:"used_at_store_id,omitempty"`
	Code              string                 `json:"code"`
	Status            constants.RewardStatus `json:"status"`
	DiscountPercent   int                    `json:"discount_percent"`
	DiscountCode      string                 `json:"discount_code,omitempty"`
	RedemptionPayload string                 `json:"redemption_payload,omitempty"`
	PeriodKey         string                 `json:"period_key"`
	VisitMultiple     int                    `json:"visit_multiple"`
	IssuedAt          time.Time              `json:"issued_at"`
	ClaimedAt         *time.Time             `json:"claimed_at,omitempty"`
	RedeemedAt        *time.Time             `json:"redeemed_at,omitempty"`
	UsedAt            *time.Time             `json:"used_at,omitempty"`
	ExpiredAt         *time.Time             `json:"expired_at,omitempty"`
	ExpiresAt         time.Time              `json:"expires_at"`
}

// PastExpiry reports whether the reward's current expiry has passed at now.
func (r *Reward) PastExpiry(now time.Time) bool {
	return !r.Status.Terminal() && now.After(r.ExpiresAt)
}
