package rewards

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/events"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository/memstore"
	"github.com/joseph-ayodele/receipt-rewards/internal/settings"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	mgr      *Manager
	repos    repository.Repositories
	clock    *clock
	cfg      *settings.Snapshot
	customer *entity.Customer
	store    uuid.UUID
	rec      *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := memstore.New().Repositories()
	c := &clock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	rec := &events.Recorder{}
	cust, err := repos.Customers.Create(context.Background(), &entity.Customer{Name: "Ana", Phone: "+15550100"})
	require.NoError(t, err)
	return &fixture{
		mgr:      NewManager(repos.Rewards, repos.Customers, nil, WithClock(c.Now), WithSink(rec)),
		repos:    repos,
		clock:    c,
		cfg:      settings.MustSnapshot(settings.Defaults()),
		customer: cust,
		store:    uuid.New(),
		rec:      rec,
	}
}

func (f *fixture) issue(t *testing.T) *entity.Reward {
	t.Helper()
	r, err := f.mgr.Issue(context.Background(), IssueRequest{
		CustomerID:    f.customer.ID,
		StoreID:       f.store,
		PeriodKey:     "2026-03-01T00:00:00Z",
		VisitMultiple: 1,
	}, f.cfg)
	require.NoError(t, err)
	return r
}

func TestIssue(t *testing.T) {
	f := newFixture(t)
	r := f.issue(t)

	assert.Equal(t, constants.RewardPending, r.Status)
	assert.Equal(t, 10, r.DiscountPercent)
	assert.Regexp(t, `^RW-260314-[A-Z2-7]{6}$`, r.Code)
	assert.Empty(t, r.DiscountCode)
	assert.Len(t, f.rec.OfKind(events.RewardIssued), 1)

	_, err := f.mgr.Issue(context.Background(), IssueRequest{
		CustomerID: f.customer.ID, StoreID: f.store, PeriodKey: r.PeriodKey, VisitMultiple: 1,
	}, f.cfg)
	assert.ErrorIs(t, err, common.ErrRewardExists)
}

func TestIssue_RejectsBadRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Issue(context.Background(), IssueRequest{CustomerID: f.customer.ID, PeriodKey: "k"}, f.cfg)
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = f.mgr.Issue(context.Background(), IssueRequest{CustomerID: f.customer.ID, PeriodKey: "k", VisitMultiple: 1}, nil)
	assert.ErrorIs(t, err, common.ErrConfigUnavailable)
}

func TestIssue_ConcurrentYieldsExactlyOne(t *testing.T) {
	f := newFixture(t)
	req := IssueRequest{CustomerID: f.customer.ID, StoreID: f.store, PeriodKey: "p", VisitMultiple: 1}

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	won, lost := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.Issue(context.Background(), req, f.cfg)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
			} else if assert.ErrorIs(t, err, common.ErrRewardExists) {
				lost++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, n-1, lost)
	list, err := f.repos.Rewards.ListByPeriod(context.Background(), f.customer.ID, "p")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestEnsureIssued_FillsMissingMultiples(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.Issue(ctx, IssueRequest{CustomerID: f.customer.ID, StoreID: f.store, PeriodKey: "p", VisitMultiple: 1}, f.cfg)
	require.NoError(t, err)

	created, err := f.mgr.EnsureIssued(ctx, f.customer.ID, f.store, "p", 2, f.cfg)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, 2, created[0].VisitMultiple)

	created, err = f.mgr.EnsureIssued(ctx, f.customer.ID, f.store, "p", 2, f.cfg)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestLifecycle_ClaimRedeemUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.issue(t)

	claimed, err := f.mgr.Claim(ctx, r.ID, f.customer.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.RewardClaimed, claimed.Status)
	require.NotNil(t, claimed.ClaimedAt)

	f.clock.Advance(time.Hour)
	redeemed, err := f.mgr.Redeem(ctx, r.ID, f.cfg)
	require.NoError(t, err)
	assert.Equal(t, constants.RewardRedeemed, redeemed.Status)
	assert.Regexp(t, `^D-[A-Z2-7]{8}$`, redeemed.DiscountCode)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), redeemed.ExpiresAt)

	p, err := DecodePayload(redeemed.RedemptionPayload)
	require.NoError(t, err)
	assert.Equal(t, constants.RedemptionPayloadType, p.Type)
	assert.Equal(t, r.ID, p.RewardID)
	assert.Equal(t, redeemed.DiscountCode, p.DiscountCode)
	assert.Equal(t, "+15550100", p.CustomerPhone)
	assert.Equal(t, 10, p.DiscountPercent)

	till := uuid.New()
	used, err := f.mgr.Use(ctx, redeemed.RedemptionPayload, &till)
	require.NoError(t, err)
	assert.Equal(t, constants.RewardUsed, used.Status)
	require.NotNil(t, used.UsedAtStoreID)
	assert.Equal(t, till, *used.UsedAtStoreID)

	_, err = f.mgr.ConfirmUse(ctx, r.ID, redeemed.DiscountCode, nil)
	assert.ErrorIs(t, err, common.ErrConcurrencyConflict)
}

func TestClaim_WrongCustomer(t *testing.T) {
	f := newFixture(t)
	r := f.issue(t)
	_, err := f.mgr.Claim(context.Background(), r.ID, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)

	got, err := f.mgr.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.RewardPending, got.Status)
}

func TestRedeem_SkippingClaimIsInvalid(t *testing.T) {
	f := newFixture(t)
	r := f.issue(t)
	_, err := f.mgr.Redeem(context.Background(), r.ID, f.cfg)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestRedeemedRewardExpiresAfterWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.issue(t)
	_, err := f.mgr.Claim(ctx, r.ID, f.customer.ID)
	require.NoError(t, err)
	redeemed, err := f.mgr.Redeem(ctx, r.ID, f.cfg)
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)

	got, err := f.mgr.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.RewardExpired, got.Status)
	require.NotNil(t, got.ExpiredAt)

	_, err = f.mgr.ConfirmUse(ctx, r.ID, redeemed.DiscountCode, nil)
	assert.ErrorIs(t, err, common.ErrRewardExpired)
}

func TestUse_MismatchLeavesRewardRedeemed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.issue(t)
	_, err := f.mgr.Claim(ctx, r.ID, f.customer.ID)
	require.NoError(t, err)
	redeemed, err := f.mgr.Redeem(ctx, r.ID, f.cfg)
	require.NoError(t, err)

	_, err = f.mgr.ConfirmUse(ctx, r.ID, "D-AAAAAAAA", nil)
	assert.ErrorIs(t, err, common.ErrPayloadMismatch)

	tampered := strings.Replace(redeemed.RedemptionPayload, redeemed.DiscountCode, "D-AAAAAAAA", 1)
	_, err = f.mgr.Use(ctx, tampered, nil)
	assert.ErrorIs(t, err, common.ErrPayloadMismatch)

	_, err = f.mgr.Use(ctx, `{"type":"something_else"}`, nil)
	assert.ErrorIs(t, err, common.ErrPayloadMismatch)

	_, err = f.mgr.Use(ctx, "not json", nil)
	assert.ErrorIs(t, err, common.ErrPayloadMismatch)

	got, err := f.mgr.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.RewardRedeemed, got.Status)
}

func TestRedeem_ConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.issue(t)
	_, err := f.mgr.Claim(ctx, r.ID, f.customer.ID)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.mgr.Redeem(ctx, r.ID, f.cfg)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
				return
			}
			assert.ErrorIs(t, err, common.ErrConcurrencyConflict)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, won)
}

func TestExpireDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.issue(t)

	n, err := f.mgr.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(f.cfg.PeriodLength() + time.Minute)
	n, err = f.mgr.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.repos.Rewards.GetByID(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.RewardExpired, got.Status)

	n, err = f.mgr.ExpireDue(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListForCustomerAppliesExpiry(t *testing.T) {
	f := newFixture(t)
	f.issue(t)
	f.clock.Advance(f.cfg.PeriodLength() + time.Second)

	list, err := f.mgr.ListForCustomer(context.Background(), f.customer.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, constants.RewardExpired, list[0].Status)
}
