// Package rules decides whether a receipt is genuine and eligible.
//
// Evaluate is a pure, total function of (fields, confidences, context,
// snapshot): it always returns a verdict and never consults a clock or a
// store. Hard-reject rules short-circuit; soft rules add weighted flags that
// can only escalate a receipt to manual review.
package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/settings"
)

// Engine evaluates receipts. It holds only tuning knobs and is safe for concurrent use.
type Engine struct {
	weights         map[string]int
	highThreshold   int
	reviewThreshold int
	lowConfidence   float64
	cooldown        time.Duration
}

// Option tunes an Engine.
type Option func(*Engine)

// WithWeights replaces individual flag weights.
func WithWeights(w map[string]int) Option {
	return func(e *Engine) {
		for k, v := range w {
			e.weights[k] = v
		}
	}
}

// WithCooldown overrides the minimum gap between two approved receipts.
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.cooldown = d
		}
	}
}

// NewEngine creates an engine with the standard flag weights and thresholds.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		weights:         make(map[string]int, len(constants.FlagWeights)),
		highThreshold:   constants.HighScoreThreshold,
		reviewThreshold: constants.ReviewScoreThreshold,
		lowConfidence:   constants.LowConfidenceThreshold,
		cooldown:        constants.SubmissionCooldown,
	}
	for k, v := range constants.FlagWeights {
		e.weights[k] = v
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// evaluation accumulates flags and human-readable findings in rule order.
type evaluation struct {
	flags    []string
	findings []string
	score    int
}

func (ev *evaluation) soft(weights map[string]int, flag, finding string) {
	ev.flags = append(ev.flags, flag)
	ev.findings = append(ev.findings, finding)
	ev.score += weights[flag]
}

func (ev *evaluation) verdict(status constants.ReceiptStatus, reason string, store *uuid.UUID) entity.Verdict {
	flags := make([]string, len(ev.flags))
	copy(flags, ev.flags)
	return entity.Verdict{
		Status:     status,
		Reason:     reason,
		Flags:      flags,
		FraudScore: ev.score,
		StoreID:    store,
	}
}

func (ev *evaluation) reject(flag, reason string, store *uuid.UUID) entity.Verdict {
	ev.flags = append(ev.flags, flag)
	return ev.verdict(constants.ReceiptRejected, reason, store)
}

// Evaluate runs the rules in order: store resolution, amount floor, tax id,
// date validity, duplicate invoice, cooldown, confidence, then scoring.
func (e *Engine) Evaluate(fields entity.ExtractedFields, conf entity.Confidences, ec EvalContext, cfg *settings.Snapshot) entity.Verdict {
	ev := &evaluation{}
	if cfg == nil {
		ev.flags = append(ev.flags, constants.FlagConfigUnavailable)
		return ev.verdict(constants.ReceiptFlagged,
			"rules configuration unavailable; receipt held for manual review", nil)
	}

	// 1. store resolution
	store, why := resolveStore(fields, ec, cfg)
	if store == nil {
		ev.flags = append(ev.flags, constants.FlagStoreUnresolved)
		return ev.verdict(constants.ReceiptNeedsStoreSelection, why, nil)
	}
	storeID := store.ID
	sid := &storeID
	if !store.Active {
		ev.soft(e.weights, constants.FlagStoreInactive,
			fmt.Sprintf("store %q is not currently participating", store.Name))
	}

	// 2. amount floor
	minAmount := cfg.MinAmountFor(store.ID)
	if fields.TotalAmount == nil {
		ev.soft(e.weights, constants.FlagAmountMissing, "total amount could not be read")
	} else if fields.TotalAmount.LessThan(minAmount) {
		return ev.reject(constants.FlagAmountBelowMinimum,
			fmt.Sprintf("total amount %s is below the minimum purchase of %s",
				amountString(*fields.TotalAmount), amountString(minAmount)), sid)
	}

	// 3. tax id mismatch
	if want := effectiveTaxID(*store, cfg); want != "" && fields.TaxID != "" && fields.TaxID != want {
		ev.soft(e.weights, constants.FlagTaxIDMismatch,
			fmt.Sprintf("tax id %s on receipt does not match %s registered for store %q", fields.TaxID, want, store.Name))
	}

	// 4. date validity
	if v, stop := e.checkDate(ev, fields, ec.SubmittedAt, cfg, sid); stop {
		return v
	}

	// 5. duplicate invoice
	if fields.InvoiceNumber != "" {
		elsewhere := false
		for _, prior := range ec.InvoiceMatches {
			if prior.ID == ec.ReceiptID || prior.Status != constants.ReceiptApproved {
				continue
			}
			if !strings.EqualFold(prior.Fields.InvoiceNumber, fields.InvoiceNumber) {
				continue
			}
			if prior.StoreID != nil && *prior.StoreID == store.ID {
				return ev.reject(constants.FlagDuplicateInvoice,
					fmt.Sprintf("invoice %s was already credited on an approved receipt at store %q", fields.InvoiceNumber, store.Name), sid)
			}
			elsewhere = true
		}
		if elsewhere {
			ev.soft(e.weights, constants.FlagDuplicateInvoiceElsewhr,
				fmt.Sprintf("invoice %s was already credited at another store", fields.InvoiceNumber))
		}
	}

	// submission cooldown
	if last, ok := ec.lastApproval(); ok && e.cooldown > 0 && ec.SubmittedAt.Sub(last) < e.cooldown {
		next := last.Add(e.cooldown).In(cfg.Location())
		return ev.reject(constants.FlagCooldown,
			fmt.Sprintf("a receipt was already approved within the last %s; next submission accepted after %s",
				humanDuration(e.cooldown), next.Format("2006-01-02 15:04 MST")), sid)
	}

	// 6. low-confidence extraction
	if fields.TotalAmount != nil && conf.Of(entity.FieldTotalAmount) < e.lowConfidence {
		ev.soft(e.weights, constants.FlagAmountLowConfidence,
			fmt.Sprintf("total amount %s was read with low confidence", amountString(*fields.TotalAmount)))
	}
	if fields.Date != nil && conf.Of(entity.FieldDate) < e.lowConfidence {
		ev.soft(e.weights, constants.FlagDateLowConfidence, "receipt date was read with low confidence")
	}

	// 7. score aggregation
	switch {
	case ev.score >= e.highThreshold:
		return ev.verdict(constants.ReceiptFlagged,
			fmt.Sprintf("manual review required (fraud score %d): %s", ev.score, strings.Join(ev.findings, "; ")), sid)
	case ev.score >= e.reviewThreshold:
		return ev.verdict(constants.ReceiptFlagged,
			fmt.Sprintf("receipt held for review (fraud score %d): %s", ev.score, strings.Join(ev.findings, "; ")), sid)
	}
	reason := fmt.Sprintf("receipt approved for store %q", store.Name)
	if len(ev.findings) > 0 {
		reason += " with notes: " + strings.Join(ev.findings, "; ")
	}
	return ev.verdict(constants.ReceiptApproved, reason, sid)
}

func (e *Engine) checkDate(ev *evaluation, fields entity.ExtractedFields, submittedAt time.Time, cfg *settings.Snapshot, sid *uuid.UUID) (entity.Verdict, bool) {
	if fields.Date == nil {
		ev.soft(e.weights, constants.FlagDateMissing, "receipt date could not be read")
		return entity.Verdict{}, false
	}
	loc := cfg.Location()
	printed := fields.Date.In(loc)
	submitted := submittedAt.In(loc)

	// purchaseEnd is the latest instant the purchase could have happened.
	purchaseEnd := printed
	future := false
	if fields.DateHasTime {
		future = printed.After(submitted.Add(constants.FutureSkew))
	} else {
		purchaseEnd = time.Date(printed.Year(), printed.Month(), printed.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
		future = dayOf(printed).After(dayOf(submitted))
	}
	if future {
		ev.soft(e.weights, constants.FlagDateFuture,
			fmt.Sprintf("receipt date %s is in the future", printed.Format("2006-01-02")))
		return entity.Verdict{}, false
	}

	window := cfg.ValidityWindow()
	age := submitted.Sub(purchaseEnd)
	if age <= window {
		return entity.Verdict{}, false
	}
	if age > constants.SevereWindowFactor*window {
		return ev.reject(constants.FlagDateOutOfWindow,
			fmt.Sprintf("receipt dated %s is %s old; receipts must be submitted within %s of purchase",
				printed.Format("2006-01-02"), humanDuration(age), humanDuration(window)), sid), true
	}
	ev.soft(e.weights, constants.FlagDateOutOfWindow,
		fmt.Sprintf("receipt dated %s is older than the %s submission window", printed.Format("2006-01-02"), humanDuration(window)))
	return entity.Verdict{}, false
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func amountString(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return d.Truncate(0).String()
	}
	return d.StringFixed(2)
}

func humanDuration(d time.Duration) string {
	if d >= 48*time.Hour {
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	}
	return fmt.Sprintf("%d hours", int(d.Hours()))
}
