// Package rewards owns the reward lifecycle:
//
//	pending -> claimed -> redeemed -> used
//	any non-terminal state -> expired once its expiry passes
//
// Every transition is a compare-and-swap on the stored status, so concurrent
// requests for the same reward cannot both succeed.
package rewards

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/events"
	"github.com/joseph-ayodele/receipt-rewards/internal/metrics"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository"
	"github.com/joseph-ayodele/receipt-rewards/internal/settings"
)

// Manager issues rewards and drives their transitions.
type Manager struct {
	rewards   repository.RewardRepository
	customers repository.CustomerRepository
	sink      events.Sink
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithSink sets where reward events are published.
func WithSink(s events.Sink) Option {
	return func(m *Manager) {
		if s != nil {
			m.sink = s
		}
	}
}

// NewManager creates a new reward manager.
func NewManager(rewards repository.RewardRepository, customers repository.CustomerRepository, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		rewards:   rewards,
		customers: customers,
		sink:      events.Nop{},
		logger:    logger,
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// IssueRequest identifies the reward to issue.
type IssueRequest struct {
	CustomerID    uuid.UUID
	StoreID       uuid.UUID
	PeriodKey     string
	VisitMultiple int
}

// Issue creates a pending reward. A reward already issued for the same
// customer, period and multiple makes Issue fail with ErrRewardExists.
func (m *Manager) Issue(ctx context.Context, req IssueRequest, cfg *settings.Snapshot) (*entity.Reward, error) {
	if cfg == nil {
		return nil, common.NewAppError("CONFIG_UNAVAILABLE", "cannot issue reward without rules snapshot", common.ErrConfigUnavailable)
	}
	if req.CustomerID == uuid.Nil || req.PeriodKey == "" || req.VisitMultiple < 1 {
		return nil, common.NewAppError("INVALID_INPUT", "issue request needs customer, period key and a positive visit multiple", common.ErrInvalidInput)
	}

	now := m.now().UTC()
	r := &entity.Reward{
		ID:              uuid.New(),
		CustomerID:      req.CustomerID,
		StoreID:         req.StoreID,
		Code:            rewardCode(now),
		Status:          constants.RewardPending,
		DiscountPercent: cfg.DiscountPercent(),
		PeriodKey:       req.PeriodKey,
		VisitMultiple:   req.VisitMultiple,
		IssuedAt:        now,
		ExpiresAt:       now.Add(cfg.PeriodLength()),
	}
	if err := m.rewards.CreateUnique(ctx, r); err != nil {
		if errors.Is(err, common.ErrRewardExists) {
			metrics.RewardIssueRacesTotal.Inc()
			m.logger.DebugContext(ctx, "reward already issued", "customer_id", req.CustomerID, "period_key", req.PeriodKey, "multiple", req.VisitMultiple)
		}
		return nil, err
	}

	metrics.RewardsIssuedTotal.Inc()
	m.logger.InfoContext(ctx, "reward issued", "reward_id", r.ID, "code", r.Code, "customer_id", r.CustomerID, "multiple", r.VisitMultiple)
	m.publish(ctx, events.RewardIssued, r, "")
	return r, nil
}

// EnsureIssued issues any reward missing for multiples 1..upTo of the period.
// It returns only the rewards this call created.
func (m *Manager) EnsureIssued(ctx context.Context, customerID, storeID uuid.UUID, periodKey string, upTo int, cfg *settings.Snapshot) ([]*entity.Reward, error) {
	if upTo < 1 {
		return nil, nil
	}
	existing, err := m.rewards.ListByPeriod(ctx, customerID, periodKey)
	if err != nil {
		return nil, err
	}
	have := make(map[int]bool, len(existing))
	for _, r := range existing {
		have[r.VisitMultiple] = true
	}

	var created []*entity.Reward
	for multiple := 1; multiple <= upTo; multiple++ {
		if have[multiple] {
			continue
		}
		r, err := m.Issue(ctx, IssueRequest{CustomerID: customerID, StoreID: storeID, PeriodKey: periodKey, VisitMultiple: multiple}, cfg)
		if errors.Is(err, common.ErrRewardExists) {
			continue
		}
		if err != nil {
			return created, err
		}
		created = append(created, r)
	}
	return created, nil
}

// Get returns the reward, expiring it first if its expiry has passed.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*entity.Reward, error) {
	r, err := m.rewards.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.PastExpiry(m.now()) {
		r, _, err = m.expire(ctx, r)
		return r, err
	}
	return r, nil
}

// ListForCustomer returns the customer's rewards with lazy expiry applied.
func (m *Manager) ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]entity.Reward, error) {
	list, err := m.rewards.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	for i := range list {
		if list[i].PastExpiry(now) {
			r, _, err := m.expire(ctx, &list[i])
			if err != nil {
				return nil, err
			}
			list[i] = *r
		}
	}
	return list, nil
}

// Claim moves a pending reward to claimed on behalf of its owner.
func (m *Manager) Claim(ctx context.Context, id, customerID uuid.UUID) (*entity.Reward, error) {
	return m.advance(ctx, id, constants.RewardPending, constants.RewardClaimed, func(r *entity.Reward, now time.Time) error {
		if r.CustomerID != customerID {
			return common.NewAppError("NOT_FOUND", fmt.Sprintf("reward %s not found for customer %s", id, customerID), common.ErrNotFound)
		}
		r.ClaimedAt = &now
		return nil
	})
}

// Redeem assigns the discount code and payload and restarts the expiry at
// now plus the configured redemption window.
func (m *Manager) Redeem(ctx context.Context, id uuid.UUID, cfg *settings.Snapshot) (*entity.Reward, error) {
	if cfg == nil {
		return nil, common.NewAppError("CONFIG_UNAVAILABLE", "cannot redeem reward without rules snapshot", common.ErrConfigUnavailable)
	}
	return m.advance(ctx, id, constants.RewardClaimed, constants.RewardRedeemed, func(r *entity.Reward, now time.Time) error {
		phone := ""
		if m.customers != nil {
			c, err := m.customers.GetByID(ctx, r.CustomerID)
			switch {
			case err == nil:
				phone = c.Phone
			case !errors.Is(err, common.ErrNotFound):
				return err
			}
		}
		r.DiscountCode = discountCode()
		r.ExpiresAt = now.Add(cfg.RedemptionExpiry())
		payload, err := EncodePayload(RedemptionPayload{
			RewardID:        r.ID,
			DiscountCode:    r.DiscountCode,
			DiscountPercent: r.DiscountPercent,
			CustomerPhone:   phone,
			ExpiresAt:       r.ExpiresAt,
		})
		if err != nil {
			return err
		}
		r.RedemptionPayload = payload
		r.RedeemedAt = &now
		return nil
	})
}

// Use confirms a scanned redemption payload at storeID.
func (m *Manager) Use(ctx context.Context, payload string, storeID *uuid.UUID) (*entity.Reward, error) {
	p, err := DecodePayload(payload)
	if err != nil {
		return nil, err
	}
	return m.ConfirmUse(ctx, p.RewardID, p.DiscountCode, storeID)
}

// ConfirmUse marks a redeemed reward used when code matches the discount
// code assigned at redemption. A mismatch fails with ErrPayloadMismatch and
// leaves the reward untouched.
func (m *Manager) ConfirmUse(ctx context.Context, id uuid.UUID, code string, storeID *uuid.UUID) (*entity.Reward, error) {
	return m.advance(ctx, id, constants.RewardRedeemed, constants.RewardUsed, func(r *entity.Reward, now time.Time) error {
		if r.DiscountCode == "" || subtle.ConstantTimeCompare([]byte(r.DiscountCode), []byte(code)) != 1 {
			return common.NewAppError("PAYLOAD_MISMATCH", fmt.Sprintf("discount code does not match reward %s", id), common.ErrPayloadMismatch)
		}
		r.UsedAt = &now
		if storeID != nil {
			sid := *storeID
			r.UsedAtStoreID = &sid
		}
		return nil
	})
}

// ExpireDue expires up to limit overdue rewards and returns how many it expired.
func (m *Manager) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := m.rewards.ListExpirable(ctx, m.now(), limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range due {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, changed, err := m.expire(ctx, &due[i])
		if err != nil {
			m.logger.WarnContext(ctx, "failed to expire reward", "reward_id", due[i].ID, "error", err)
			continue
		}
		if changed {
			n++
		}
	}
	return n, nil
}

// advance applies from -> to with mutate, after lazily expiring the reward.
func (m *Manager) advance(ctx context.Context, id uuid.UUID, from, to constants.RewardStatus, mutate func(*entity.Reward, time.Time) error) (*entity.Reward, error) {
	cur, err := m.rewards.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	if cur.PastExpiry(now) {
		if _, _, err := m.expire(ctx, cur); err != nil {
			return nil, err
		}
		return nil, expiredError(cur)
	}
	if cur.Status != from {
		return nil, m.mismatch(cur, from, to)
	}

	next := *cur
	next.Status = to
	if err := mutate(&next, now); err != nil {
		return nil, err
	}
	if err := m.rewards.CompareAndSwap(ctx, from, &next); err != nil {
		if errors.Is(err, common.ErrConcurrencyConflict) {
			metrics.RewardConflictsTotal.Inc()
		}
		return nil, err
	}

	metrics.RewardTransitionsTotal.WithLabelValues(string(to)).Inc()
	m.logger.InfoContext(ctx, "reward transitioned", "reward_id", id, "from", from, "to", to, "actor", common.ActorFromContext(ctx))
	m.publish(ctx, events.RewardTransitioned, &next, string(from))
	return &next, nil
}

// expire moves r to expired and reports whether this call did it. Losing
// the race to another writer is not an error; the stored reward is returned.
func (m *Manager) expire(ctx context.Context, r *entity.Reward) (*entity.Reward, bool, error) {
	now := m.now().UTC()
	next := *r
	next.Status = constants.RewardExpired
	next.ExpiredAt = &now
	if err := m.rewards.CompareAndSwap(ctx, r.Status, &next); err != nil {
		if errors.Is(err, common.ErrConcurrencyConflict) {
			stored, gerr := m.rewards.GetByID(ctx, r.ID)
			return stored, false, gerr
		}
		return nil, false, err
	}
	metrics.RewardTransitionsTotal.WithLabelValues(string(constants.RewardExpired)).Inc()
	m.logger.InfoContext(ctx, "reward expired", "reward_id", r.ID, "from", r.Status, "expires_at", r.ExpiresAt)
	m.publish(ctx, events.RewardTransitioned, &next, string(r.Status))
	return &next, true, nil
}

var lifecycleRank = map[constants.RewardStatus]int{
	constants.RewardPending:  0,
	constants.RewardClaimed:  1,
	constants.RewardRedeemed: 2,
	constants.RewardUsed:     3,
	constants.RewardExpired:  4,
}

// mismatch classifies a transition whose precondition does not hold. A
// reward already past from was moved by someone else; one not yet at from
// is being asked to skip a step.
func (m *Manager) mismatch(cur *entity.Reward, from, to constants.RewardStatus) error {
	if cur.Status == constants.RewardExpired {
		return expiredError(cur)
	}
	if lifecycleRank[cur.Status] > lifecycleRank[from] {
		metrics.RewardConflictsTotal.Inc()
		return common.Conflict("reward", cur.ID, string(from), string(cur.Status))
	}
	return common.NewAppError("INVALID_TRANSITION",
		fmt.Sprintf("reward %s is %s; cannot move to %s", cur.ID, cur.Status, to), common.ErrInvalidTransition)
}

func expiredError(r *entity.Reward) error {
	return common.NewAppError("REWARD_EXPIRED",
		fmt.Sprintf("reward %s expired at %s", r.ID, r.ExpiresAt.UTC().Format(time.RFC3339)), common.ErrRewardExpired)
}

func (m *Manager) publish(ctx context.Context, kind events.Kind, r *entity.Reward, detail string) {
	id := r.ID
	m.sink.Publish(ctx, events.Event{
		Kind:       kind,
		At:         m.now().UTC(),
		CustomerID: r.CustomerID,
		RewardID:   &id,
		Status:     string(r.Status),
		Detail:     detail,
	})
}
