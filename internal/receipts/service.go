// Package receipts is the record manager: it runs the submission pipeline
// (snapshot, extract, context, evaluate, persist, visit, issuance) and owns
// every receipt status change after the initial verdict.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/events"
	"github.com/joseph-ayodele/receipt-rewards/internal/extract"
	"github.com/joseph-ayodele/receipt-rewards/internal/metrics"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository"
	"github.com/joseph-ayodele/receipt-rewards/internal/rewards"
	"github.com/joseph-ayodele/receipt-rewards/internal/rules"
	"github.com/joseph-ayodele/receipt-rewards/internal/settings"
	"github.com/joseph-ayodele/receipt-rewards/internal/visits"
)

const (
	DefaultTimeout = 10 * time.Second

	timeoutReason   = "processing exceeded time budget; requires manual review"
	cancelledReason = "processing was interrupted before a decision; requires manual review"
)

// SnapshotSource hands out the current rules snapshot.
type SnapshotSource interface {
	Current() (*settings.Snapshot, error)
}

// Service handles receipt business logic.
type Service struct {
	repos   repository.Repositories
	rules   SnapshotSource
	engine  *rules.Engine
	rewards *rewards.Manager
	sink    events.Sink
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
	locks   customerLocks
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout sets the per-submission processing budget.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock replaces the wall clock used for decision times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEngine overrides the default rules engine.
func WithEngine(e *rules.Engine) Option {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithSink sets where receipt events are published.
func WithSink(sink events.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// NewService creates a new receipt service.
func NewService(repos repository.Repositories, src SnapshotSource, rw *rewards.Manager, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repos:   repos,
		rules:   src,
		engine:  rules.NewEngine(),
		rewards: rw,
		sink:    events.Nop{},
		logger:  logger,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SubmitRequest is one uploaded receipt with its recognized text.
type SubmitRequest struct {
	CustomerID uuid.UUID
	// StoreID is the store the customer declared, if any.
	StoreID       *uuid.UUID
	RawText       string
	OCRConfidence *float64
	// SubmittedAt defaults to now.
	SubmittedAt time.Time
}

// Result is the persisted receipt with the verdict returned to the caller.
type Result struct {
	Receipt entity.Receipt
	Verdict entity.Verdict
	// Period is set when the receipt was approved.
	Period *visits.PeriodState
}

// Submit evaluates a new receipt. The receipt is stored as pending first and
// always leaves pending: on deadline it is force-flagged for manual review.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	start := time.Now()
	defer func() { metrics.ReceiptProcessingDuration.Observe(time.Since(start).Seconds()) }()

	if req.CustomerID == uuid.Nil {
		return nil, common.NewAppError("INVALID_INPUT", "customer_id is required", common.ErrInvalidInput)
	}
	if _, err := s.repos.Customers.GetByID(ctx, req.CustomerID); err != nil {
		return nil, err
	}
	var declared *entity.Store
	if req.StoreID != nil {
		st, err := s.repos.Stores.GetByID(ctx, *req.StoreID)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				return nil, common.NewAppError("INVALID_INPUT", fmt.Sprintf("store %s does not exist", *req.StoreID), common.ErrInvalidInput)
			}
			return nil, err
		}
		declared = st
	}
	if req.OCRConfidence != nil && (*req.OCRConfidence < 0 || *req.OCRConfidence > 1) {
		return nil, common.NewAppError("INVALID_INPUT", "ocr confidence must be within 0..1", common.ErrInvalidInput)
	}

	submittedAt := req.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = s.now()
	}
	rc := &entity.Receipt{
		ID:            uuid.New(),
		CustomerID:    req.CustomerID,
		RawText:       req.RawText,
		OCRConfidence: req.OCRConfidence,
		Status:        constants.ReceiptPending,
		SubmittedAt:   submittedAt.UTC(),
	}
	if declared != nil {
		id := declared.ID
		rc.StoreID = &id
	}
	if err := s.repos.Receipts.Create(ctx, rc); err != nil {
		s.logger.ErrorContext(ctx, "receipt.create.failed", "customer_id", req.CustomerID, "error", err)
		return nil, err
	}
	s.logger.InfoContext(ctx, "receipt.submitted", "receipt_id", rc.ID, "customer_id", rc.CustomerID, "declared_store", req.StoreID)

	return s.withinBudget(ctx, *rc, func(pctx context.Context, work entity.Receipt) (*Result, error) {
		return s.evaluate(pctx, work, declared, constants.ReceiptPending)
	})
}

// ResolveStore attaches the customer's chosen store to a receipt awaiting
// store selection and re-runs the rules.
func (s *Service) ResolveStore(ctx context.Context, receiptID, customerID, storeID uuid.UUID) (*Result, error) {
	rc, err := s.repos.Receipts.GetByID(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if rc.CustomerID != customerID {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("receipt %s not found for customer %s", receiptID, customerID), common.ErrNotFound)
	}
	if rc.Status != constants.ReceiptNeedsStoreSelection {
		return nil, common.Conflict("receipt", rc.ID, string(constants.ReceiptNeedsStoreSelection), string(rc.Status))
	}
	st, err := s.repos.Stores.GetByID(ctx, storeID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.NewAppError("INVALID_INPUT", fmt.Sprintf("store %s does not exist", storeID), common.ErrInvalidInput)
		}
		return nil, err
	}
	id := st.ID
	rc.StoreID = &id
	s.logger.InfoContext(ctx, "receipt.store_selected", "receipt_id", rc.ID, "store_id", st.ID)

	return s.withinBudget(ctx, *rc, func(pctx context.Context, work entity.Receipt) (*Result, error) {
		return s.evaluate(pctx, work, st, constants.ReceiptNeedsStoreSelection)
	})
}

// Decision is an administrator's ruling on a receipt held for review.
type Decision struct {
	ReceiptID uuid.UUID
	Approve   bool
	// StoreID is required to approve a receipt that has no resolved store.
	StoreID *uuid.UUID
	Note    string
}

// Resolve applies an administrator decision to a flagged receipt. Approval
// goes through the same visit and issuance path as an automatic approval.
func (s *Service) Resolve(ctx context.Context, d Decision) (*Result, error) {
	rc, err := s.repos.Receipts.GetByID(ctx, d.ReceiptID)
	if err != nil {
		return nil, err
	}
	if !rc.Status.AwaitingReview() {
		return nil, common.NewAppError("INVALID_TRANSITION",
			fmt.Sprintf("receipt %s is %s; only receipts awaiting review can be resolved", rc.ID, rc.Status), common.ErrInvalidTransition)
	}
	if d.StoreID != nil {
		st, err := s.repos.Stores.GetByID(ctx, *d.StoreID)
		if err != nil {
			return nil, err
		}
		id := st.ID
		rc.StoreID = &id
	}

	expected := rc.Status
	v := entity.Verdict{
		Status:     constants.ReceiptRejected,
		Flags:      append(append([]string(nil), rc.Flags...), constants.FlagManualRejected),
		FraudScore: rc.FraudScore,
		StoreID:    rc.StoreID,
	}
	reason := "rejected on manual review"
	var cfg *settings.Snapshot
	if d.Approve {
		if rc.StoreID == nil {
			return nil, common.NewAppError("INVALID_INPUT", "a store is required to approve a receipt without a resolved store", common.ErrInvalidInput)
		}
		if cfg, err = s.rules.Current(); err != nil {
			return nil, err
		}
		v.Status = constants.ReceiptApproved
		v.Flags[len(v.Flags)-1] = constants.FlagManualApproved
		reason = "approved on manual review"
	}
	if note := strings.TrimSpace(d.Note); note != "" {
		reason += ": " + note
	}
	v.Reason = reason

	next, err := s.persist(ctx, *rc, v, expected)
	if err != nil {
		return nil, err
	}
	res := &Result{Receipt: *next, Verdict: v}
	if d.Approve {
		if res, err = s.credit(ctx, res, cfg); err != nil {
			return nil, err
		}
	}
	s.decided(ctx, res, events.ReceiptResolved)
	return res, nil
}

// RequestManualReview lets a customer contest a rejected receipt.
func (s *Service) RequestManualReview(ctx context.Context, receiptID, customerID uuid.UUID, note string) (*entity.Receipt, error) {
	rc, err := s.repos.Receipts.GetByID(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	if rc.CustomerID != customerID {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("receipt %s not found for customer %s", receiptID, customerID), common.ErrNotFound)
	}
	if rc.Status != constants.ReceiptRejected {
		return nil, common.NewAppError("INVALID_TRANSITION",
			fmt.Sprintf("receipt %s is %s; only rejected receipts can be sent to manual review", rc.ID, rc.Status), common.ErrInvalidTransition)
	}

	reason := "customer requested manual review of: " + rc.Reason
	if note = strings.TrimSpace(note); note != "" {
		reason += " (" + note + ")"
	}
	v := entity.Verdict{
		Status:     constants.ReceiptFlaggedManualRequested,
		Reason:     reason,
		Flags:      rc.Flags,
		FraudScore: rc.FraudScore,
		StoreID:    rc.StoreID,
	}
	next, err := s.persist(ctx, *rc, v, constants.ReceiptRejected)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "receipt.review_requested", "receipt_id", rc.ID, "customer_id", customerID)
	return next, nil
}

// Get returns the stored receipt.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.Receipt, error) {
	return s.repos.Receipts.GetByID(ctx, id)
}

// ListForCustomer returns the customer's receipts, oldest first.
func (s *Service) ListForCustomer(ctx context.Context, customerID uuid.UUID, since *time.Time) ([]entity.Receipt, error) {
	if customerID == uuid.Nil {
		return nil, common.NewAppError("INVALID_INPUT", "customer_id is required", common.ErrInvalidInput)
	}
	return s.repos.Receipts.ListByCustomer(ctx, customerID, since)
}

// ListAwaitingReview returns receipts in the manual review queues.
func (s *Service) ListAwaitingReview(ctx context.Context, limit int) ([]entity.Receipt, error) {
	flagged, err := s.repos.Receipts.ListByStatus(ctx, constants.ReceiptFlagged, limit)
	if err != nil {
		return nil, err
	}
	requested, err := s.repos.Receipts.ListByStatus(ctx, constants.ReceiptFlaggedManualRequested, limit)
	if err != nil {
		return nil, err
	}
	out := append(requested, flagged...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type outcome struct {
	res *Result
	err error
}

// withinBudget runs fn under the processing budget. If the budget runs out
// before fn persists a decision, the receipt is flagged instead; if fn won
// that race its result is returned.
func (s *Service) withinBudget(ctx context.Context, rc entity.Receipt, fn func(context.Context, entity.Receipt) (*Result, error)) (*Result, error) {
	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		res, err := fn(pctx, rc)
		done <- outcome{res, err}
	}()

	var out outcome
	finished := false
	select {
	case out = <-done:
		finished = true
		if out.err == nil || pctx.Err() == nil {
			return out.res, out.err
		}
		// the pipeline gave up because the budget ran out
	case <-pctx.Done():
	}

	reason := timeoutReason
	if !errors.Is(pctx.Err(), context.DeadlineExceeded) {
		reason = cancelledReason
	}
	metrics.ReceiptTimeoutsTotal.Inc()
	s.logger.WarnContext(ctx, "receipt.timeout", "receipt_id", rc.ID, "budget", s.timeout, "cause", pctx.Err())

	// the caller's context may be gone; the flag must still land
	fctx, fcancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer fcancel()
	v := entity.Verdict{
		Status:  constants.ReceiptFlagged,
		Reason:  reason,
		Flags:   []string{constants.FlagProcessingTimeout},
		StoreID: rc.StoreID,
	}
	next, err := s.persist(fctx, rc, v, rc.Status)
	if errors.Is(err, common.ErrConcurrencyConflict) {
		// the pipeline persisted its decision first
		if !finished {
			out = <-done
		}
		return out.res, out.err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: flag receipt %s: %w", common.ErrProcessingTimeout, rc.ID, err)
	}
	res := &Result{Receipt: *next, Verdict: v}
	s.decided(fctx, res, events.ReceiptDecided)
	return res, nil
}

// evaluate runs extraction and the rules against rc and persists the verdict
// if rc still has status expected.
func (s *Service) evaluate(ctx context.Context, rc entity.Receipt, declared *entity.Store, expected constants.ReceiptStatus) (*Result, error) {
	cfg, err := s.rules.Current()
	if err != nil {
		s.logger.WarnContext(ctx, "receipt.config.unavailable", "receipt_id", rc.ID, "error", err)
		cfg = nil
	}

	ex := extract.New()
	if cfg != nil {
		ex = extract.New(extract.WithLocation(cfg.Location()))
	}
	out := ex.ExtractWithConfidence(rc.RawText, rc.OCRConfidence)
	rc.Fields = out.Fields
	rc.Confidences = out.Confidences

	release, err := s.locks.acquire(ctx, rc.CustomerID)
	if err != nil {
		return nil, err
	}
	defer release()

	var v entity.Verdict
	ec, err := s.buildContext(ctx, rc, declared)
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		s.logger.ErrorContext(ctx, "receipt.context.failed", "receipt_id", rc.ID, "error", err)
		v = entity.Verdict{
			Status:  constants.ReceiptFlagged,
			Reason:  "receipt could not be checked against history (" + err.Error() + "); requires manual review",
			Flags:   []string{constants.FlagInfrastructure},
			StoreID: rc.StoreID,
		}
	default:
		v = s.engine.Evaluate(rc.Fields, rc.Confidences, ec, cfg)
	}
	if v.StoreID == nil && declared != nil {
		id := declared.ID
		v.StoreID = &id
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next, err := s.persist(ctx, rc, v, expected)
	if err != nil {
		return nil, err
	}
	res := &Result{Receipt: *next, Verdict: v}
	if v.Status == constants.ReceiptApproved {
		// the decision is stored; finish the visit and issuance even if the budget runs out now
		if res, err = s.credit(context.WithoutCancel(ctx), res, cfg); err != nil {
			return nil, err
		}
	}
	s.decided(ctx, res, events.ReceiptDecided)
	return res, nil
}

func (s *Service) buildContext(ctx context.Context, rc entity.Receipt, declared *entity.Store) (rules.EvalContext, error) {
	ec := rules.EvalContext{
		ReceiptID:     rc.ID,
		DeclaredStore: declared,
		SubmittedAt:   rc.SubmittedAt,
	}
	stores, err := s.repos.Stores.List(ctx)
	if err != nil {
		return ec, fmt.Errorf("store catalog unavailable: %w", err)
	}
	ec.KnownStores = stores

	if rc.Fields.InvoiceNumber != "" {
		matches, err := s.repos.Receipts.FindByInvoice(ctx, rc.Fields.InvoiceNumber)
		if err != nil {
			return ec, fmt.Errorf("invoice lookup unavailable: %w", err)
		}
		ec.InvoiceMatches = matches
	}

	// a receipt submitted long ago may have been approved on review recently
	history, err := s.repos.Receipts.ListByCustomer(ctx, rc.CustomerID, nil)
	if err != nil {
		return ec, fmt.Errorf("customer history unavailable: %w", err)
	}
	ec.CustomerHistory = history
	return ec, nil
}

// persist writes v onto rc with an audit entry, guarded on the expected status.
func (s *Service) persist(ctx context.Context, rc entity.Receipt, v entity.Verdict, expected constants.ReceiptStatus) (*entity.Receipt, error) {
	now := s.now().UTC()
	next := rc
	next.Status = v.Status
	next.Reason = v.Reason
	next.Flags = append([]string(nil), v.Flags...)
	next.FraudScore = v.FraudScore
	if v.StoreID != nil {
		id := *v.StoreID
		next.StoreID = &id
	}
	next.DecidedAt = &now
	next.Audit = append(append([]entity.AuditEntry(nil), rc.Audit...), entity.AuditEntry{
		At:     now,
		Actor:  common.ActorFromContext(ctx),
		From:   expected,
		To:     v.Status,
		Reason: v.Reason,
	})
	if err := s.repos.Receipts.UpdateIfStatus(ctx, &next, expected); err != nil {
		if !errors.Is(err, common.ErrConcurrencyConflict) {
			s.logger.ErrorContext(ctx, "receipt.persist.failed", "receipt_id", rc.ID, "status", v.Status, "error", err)
		}
		return nil, err
	}
	return &next, nil
}

func (s *Service) decided(ctx context.Context, res *Result, kind events.Kind) {
	v := res.Verdict
	metrics.ReceiptsProcessedTotal.WithLabelValues(string(v.Status)).Inc()
	for _, f := range v.Flags {
		metrics.ReceiptFlagsTotal.WithLabelValues(f).Inc()
	}
	s.logger.InfoContext(ctx, "receipt.verdict",
		"receipt_id", res.Receipt.ID,
		"customer_id", res.Receipt.CustomerID,
		"status", v.Status,
		"fraud_score", v.FraudScore,
		"flags", v.Flags,
	)
	id := res.Receipt.ID
	s.sink.Publish(ctx, events.Event{
		Kind:       kind,
		At:         s.now().UTC(),
		CustomerID: res.Receipt.CustomerID,
		ReceiptID:  &id,
		RewardID:   v.RewardID,
		Status:     string(v.Status),
		Detail:     v.Reason,
	})
}
