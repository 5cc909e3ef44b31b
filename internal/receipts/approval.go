package receipts

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/settings"
	"github.com/joseph-ayodele/receipt-rewards/internal/visits"
)

const rewardPendingReason = "; reward issuance pending"

// tracker builds the period tracker for the snapshot in force.
func tracker(cfg *settings.Snapshot) *visits.Tracker {
	return visits.NewTracker(
		visits.WithPeriodLength(cfg.PeriodLength()),
		visits.WithPolicy(cfg.PeriodPolicy()),
		visits.WithLocation(cfg.Location()),
	)
}

// credit runs the visit bookkeeping for a freshly approved receipt. If the
// visit cannot be recorded the receipt is moved back to flagged so it lands
// in the review queue instead of staying approved without a visit.
func (s *Service) credit(ctx context.Context, res *Result, cfg *settings.Snapshot) (*Result, error) {
	err := s.approved(ctx, res, cfg)
	if err == nil {
		return res, nil
	}
	v := entity.Verdict{
		Status:     constants.ReceiptFlagged,
		Reason:     "approval could not be recorded (" + err.Error() + "); requires manual review",
		Flags:      append(append([]string(nil), res.Verdict.Flags...), constants.FlagInfrastructure),
		FraudScore: res.Verdict.FraudScore,
		StoreID:    res.Receipt.StoreID,
	}
	next, perr := s.persist(ctx, res.Receipt, v, constants.ReceiptApproved)
	if perr != nil {
		s.logger.ErrorContext(ctx, "receipt.revert.failed", "receipt_id", res.Receipt.ID, "error", perr)
		return nil, errors.Join(err, perr)
	}
	s.logger.WarnContext(ctx, "receipt.approval.reverted", "receipt_id", res.Receipt.ID, "error", err)
	return &Result{Receipt: *next, Verdict: v}, nil
}

// approved bumps the customer counter, appends the visit, then recounts the
// ledger and issues every reward multiple the count has reached. It fills
// the visit fields of res.Verdict.
//
// The visit is appended before the recount, so the last of several
// concurrent approvals sees all of their visits; duplicate issuers lose on
// the reward uniqueness key.
func (s *Service) approved(ctx context.Context, res *Result, cfg *settings.Snapshot) error {
	rc := res.Receipt
	if cfg == nil || rc.StoreID == nil || rc.DecidedAt == nil {
		return common.NewAppError("INTERNAL", "approved receipt "+rc.ID.String()+" lacks store, decision time or rules", common.ErrInternal)
	}
	decidedAt := *rc.DecidedAt

	if _, err := s.repos.Customers.IncrementVisits(ctx, rc.CustomerID, 1); err != nil {
		s.logger.ErrorContext(ctx, "receipt.counter.failed", "customer_id", rc.CustomerID, "error", err)
		return err
	}
	receiptID := rc.ID
	visit := &entity.Visit{
		CustomerID: rc.CustomerID,
		StoreID:    *rc.StoreID,
		ReceiptID:  &receiptID,
		VisitedAt:  decidedAt,
	}
	if err := s.repos.Visits.Append(ctx, visit); err != nil {
		s.logger.ErrorContext(ctx, "receipt.visit.failed", "receipt_id", rc.ID, "error", err)
		if _, cerr := s.repos.Customers.IncrementVisits(ctx, rc.CustomerID, -1); cerr != nil {
			s.logger.ErrorContext(ctx, "receipt.counter.rollback_failed", "customer_id", rc.CustomerID, "error", cerr)
		}
		return err
	}

	earned := false
	res.Verdict.RewardEarned = &earned
	ledger, err := s.repos.Visits.ListByCustomer(ctx, rc.CustomerID)
	if err != nil {
		s.pendingReward(ctx, res, err)
		return nil
	}
	now := decidedAt
	times := make([]time.Time, 0, len(ledger))
	for _, v := range ledger {
		times = append(times, v.VisitedAt)
		if v.VisitedAt.After(now) {
			now = v.VisitedAt
		}
	}
	state := tracker(cfg).ComputeState(times, now)
	count := state.VisitsInPeriod
	res.Verdict.VisitCount = &count
	res.Period = &state

	needed := cfg.VisitsNeeded()
	if !state.Active() || count < needed {
		return nil
	}
	if multiple, crossed := visits.CrossedMultiple(count, needed); crossed {
		s.logger.InfoContext(ctx, "receipt.visits.multiple", "receipt_id", rc.ID, "count", count, "multiple", multiple)
	}
	issued, err := s.rewards.EnsureIssued(ctx, rc.CustomerID, *rc.StoreID, state.Key(), count/needed, cfg)
	if len(issued) > 0 {
		earned = true
		res.Verdict.RewardID = &issued[len(issued)-1].ID
		if merr := s.repos.Visits.MarkRewardEarned(ctx, visit.ID); merr != nil {
			s.logger.ErrorContext(ctx, "receipt.visit.mark_failed", "visit_id", visit.ID, "error", merr)
		}
	}
	if err != nil {
		s.pendingReward(ctx, res, err)
	}
	return nil
}

// pendingReward marks a verdict whose visit was recorded but whose reward
// issuance failed. The next approval in the period issues the missing multiple.
func (s *Service) pendingReward(ctx context.Context, res *Result, err error) {
	s.logger.ErrorContext(ctx, "receipt.reward.failed", "receipt_id", res.Receipt.ID, "customer_id", res.Receipt.CustomerID, "error", err)
	res.Verdict.Flags = append(res.Verdict.Flags, constants.FlagRewardPending)
	res.Verdict.Reason += rewardPendingReason
}
