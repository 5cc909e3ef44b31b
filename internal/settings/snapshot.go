// Package settings supplies immutable snapshots of the tunable business rules.
//
// A Snapshot is never modified after construction. Provider.Refresh builds a
// new one and swaps it in, so an evaluation that holds a snapshot always sees
// a single consistent rule set.
package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-rewards/constants"
)

// Values is the raw, serializable form of the business rules.
type Values struct {
	MinAmount            string                 `yaml:"min_amount" json:"min_amount"`
	ValidityHours        int                    `yaml:"validity_hours" json:"validity_hours"`
	VisitsNeeded         int                    `yaml:"visits_needed" json:"visits_needed"`
	DiscountPercent      int                    `yaml:"discount_percent" json:"discount_percent"`
	RedemptionExpiryDays int                    `yaml:"redemption_expiry_days" json:"redemption_expiry_days"`
	PeriodDays           int                    `yaml:"period_days" json:"period_days"`
	PeriodPolicy         string                 `yaml:"period_policy" json:"period_policy"`
	Timezone             string                 `yaml:"timezone" json:"timezone"`
	Stores               map[string]StoreValues `yaml:"stores" json:"stores,omitempty"`
}

// StoreValues overrides rule inputs for one store, keyed by store id.
type StoreValues struct {
	TaxID      string `yaml:"tax_id" json:"tax_id,omitempty"`
	BranchName string `yaml:"branch_name" json:"branch_name,omitempty"`
	MinAmount  string `yaml:"min_amount" json:"min_amount,omitempty"`
}

// Defaults returns the rule values used when a source leaves a key unset.
func Defaults() Values {
	return Values{
		MinAmount:            "500",
		ValidityHours:        72,
		VisitsNeeded:         5,
		DiscountPercent:      10,
		RedemptionExpiryDays: 7,
		PeriodDays:           constants.DefaultPeriodDays,
		PeriodPolicy:         string(constants.PeriodRollForward),
		Timezone:             "UTC",
	}
}

// StoreOverride is the parsed per-store override.
type StoreOverride struct {
	TaxID      string
	BranchName string
	MinAmount  *decimal.Decimal
}

// Snapshot is one immutable rule set.
type Snapshot struct {
	version          int64
	loadedAt         time.Time
	minAmount        decimal.Decimal
	validityWindow   time.Duration
	visitsNeeded     int
	discountPercent  int
	redemptionExpiry time.Duration
	periodLength     time.Duration
	periodPolicy     constants.PeriodPolicy
	location         *time.Location
	overrides        map[uuid.UUID]StoreOverride
}

// NewSnapshot validates v, fills unset keys from Defaults and returns a snapshot.
func NewSnapshot(v Values) (*Snapshot, error) {
	d := Defaults()
	if strings.TrimSpace(v.MinAmount) == "" {
		v.MinAmount = d.MinAmount
	}
	if v.ValidityHours == 0 {
		v.ValidityHours = d.ValidityHours
	}
	if v.VisitsNeeded == 0 {
		v.VisitsNeeded = d.VisitsNeeded
	}
	if v.DiscountPercent == 0 {
		v.DiscountPercent = d.DiscountPercent
	}
	if v.RedemptionExpiryDays == 0 {
		v.RedemptionExpiryDays = d.RedemptionExpiryDays
	}
	if v.PeriodDays == 0 {
		v.PeriodDays = d.PeriodDays
	}
	if v.PeriodPolicy == "" {
		v.PeriodPolicy = d.PeriodPolicy
	}
	if v.Timezone == "" {
		v.Timezone = d.Timezone
	}

	minAmount, err := decimal.NewFromString(strings.TrimSpace(v.MinAmount))
	if err != nil {
		return nil, fmt.Errorf("min_amount %q: %w", v.MinAmount, err)
	}
	if minAmount.IsNegative() {
		return nil, fmt.Errorf("min_amount must not be negative, got %s", minAmount)
	}
	if v.ValidityHours < 0 {
		return nil, fmt.Errorf("validity_hours must be positive, got %d", v.ValidityHours)
	}
	if v.ValidityHours > constants.MaxValidityHours {
		v.ValidityHours = constants.MaxValidityHours
	}
	if v.VisitsNeeded < 1 {
		return nil, fmt.Errorf("visits_needed must be at least 1, got %d", v.VisitsNeeded)
	}
	if v.DiscountPercent < 1 || v.DiscountPercent > 100 {
		return nil, fmt.Errorf("discount_percent must be within 1..100, got %d", v.DiscountPercent)
	}
	if v.RedemptionExpiryDays < 1 {
		return nil, fmt.Errorf("redemption_expiry_days must be at least 1, got %d", v.RedemptionExpiryDays)
	}
	if v.PeriodDays < 1 {
		return nil, fmt.Errorf("period_days must be at least 1, got %d", v.PeriodDays)
	}
	policy := constants.PeriodPolicy(v.PeriodPolicy)
	if policy != constants.PeriodRollForward && policy != constants.PeriodReset {
		return nil, fmt.Errorf("period_policy %q is not one of %q, %q", v.PeriodPolicy, constants.PeriodRollForward, constants.PeriodReset)
	}
	loc, err := time.LoadLocation(v.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", v.Timezone, err)
	}

	overrides := make(map[uuid.UUID]StoreOverride, len(v.Stores))
	for key, sv := range v.Stores {
		id, err := uuid.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("stores: key %q must be a store UUID: %w", key, err)
		}
		o := StoreOverride{
			TaxID:      NormalizeTaxID(sv.TaxID),
			BranchName: strings.TrimSpace(sv.BranchName),
		}
		if s := strings.TrimSpace(sv.MinAmount); s != "" {
			m, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("stores.%s.min_amount %q: %w", key, sv.MinAmount, err)
			}
			o.MinAmount = &m
		}
		overrides[id] = o
	}

	return &Snapshot{
		loadedAt:         time.Now().UTC(),
		minAmount:        minAmount,
		validityWindow:   time.Duration(v.ValidityHours) * time.Hour,
		visitsNeeded:     v.VisitsNeeded,
		discountPercent:  v.DiscountPercent,
		redemptionExpiry: time.Duration(v.RedemptionExpiryDays) * 24 * time.Hour,
		periodLength:     time.Duration(v.PeriodDays) * 24 * time.Hour,
		periodPolicy:     policy,
		location:         loc,
		overrides:        overrides,
	}, nil
}

// MustSnapshot is NewSnapshot for tests and static wiring; it panics on invalid values.
func MustSnapshot(v Values) *Snapshot {
	s, err := NewSnapshot(v)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Snapshot) Version() int64                       { return s.version }
func (s *Snapshot) LoadedAt() time.Time                  { return s.loadedAt }
func (s *Snapshot) MinAmount() decimal.Decimal           { return s.minAmount }
func (s *Snapshot) ValidityWindow() time.Duration        { return s.validityWindow }
func (s *Snapshot) VisitsNeeded() int                    { return s.visitsNeeded }
func (s *Snapshot) DiscountPercent() int                 { return s.discountPercent }
func (s *Snapshot) RedemptionExpiry() time.Duration      { return s.redemptionExpiry }
func (s *Snapshot) PeriodLength() time.Duration          { return s.periodLength }
func (s *Snapshot) PeriodPolicy() constants.PeriodPolicy { return s.periodPolicy }
func (s *Snapshot) Location() *time.Location             { return s.location }

// MinAmountFor returns the floor for storeID, honoring a store override.
func (s *Snapshot) MinAmountFor(storeID uuid.UUID) decimal.Decimal {
	if o, ok := s.overrides[storeID]; ok && o.MinAmount != nil {
		return *o.MinAmount
	}
	return s.minAmount
}

// Override returns the per-store override for storeID.
func (s *Snapshot) Override(storeID uuid.UUID) (StoreOverride, bool) {
	o, ok := s.overrides[storeID]
	return o, ok
}

// NormalizeTaxID strips separators so "1-31-04793-9" compares equal to "131047939".
func NormalizeTaxID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
