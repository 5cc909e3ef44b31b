package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
)

var rewardColumns = []string{
	"id", "customer_id", "store_id", "used_at_store_id", "code", "status",
	"discount_percent", "discount_code", "redemption_payload", "period_key", "visit_multiple",
	"issued_at", "claimed_at", "redeemed_at", "used_at", "expired_at", "expires_at",
}

type rewardRepository struct{ sqlStore }

// NewRewardRepository creates a SQL-backed RewardRepository.
func NewRewardRepository(drv *entsql.Driver, logger *slog.Logger) RewardRepository {
	return &rewardRepository{newSQLStore(drv, logger)}
}

// CreateUnique relies on the (customer_id, period_key, visit_multiple)
// unique index, so concurrent issuers race in the database.
func (r *rewardRepository) CreateUnique(ctx context.Context, rw *entity.Reward) error {
	if rw.ID == uuid.Nil {
		rw.ID = uuid.New()
	}
	ins := r.sql.Insert("rewards").
		Columns(rewardColumns...).
		Values(rw.ID, rw.CustomerID, rw.StoreID, nullUUID(rw.UsedAtStoreID), rw.Code, string(rw.Status),
			rw.DiscountPercent, rw.DiscountCode, rw.RedemptionPayload, rw.PeriodKey, rw.VisitMultiple,
			rw.IssuedAt.UTC(), nullTime(rw.ClaimedAt), nullTime(rw.RedeemedAt), nullTime(rw.UsedAt),
			nullTime(rw.ExpiredAt), rw.ExpiresAt.UTC())
	_, err := r.exec(ctx, ins)
	if err == nil {
		return nil
	}
	if isUnique(err) {
		existing, lerr := r.ListByPeriod(ctx, rw.CustomerID, rw.PeriodKey)
		if lerr != nil {
			return lerr
		}
		for _, e := range existing {
			if e.VisitMultiple == rw.VisitMultiple {
				return common.NewAppError("REWARD_EXISTS",
					"reward "+e.ID.String()+" already issued for this period and visit multiple", common.ErrRewardExists)
			}
		}
	}
	r.logger.Error("failed to create reward", "customer_id", rw.CustomerID, "period_key", rw.PeriodKey, "error", err)
	return dbError("create reward", err)
}

func (r *rewardRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Reward, error) {
	out, err := r.list(ctx, entsql.EQ("id", id), 0)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound("reward", id)
	}
	return &out[0], nil
}

func (r *rewardRepository) CompareAndSwap(ctx context.Context, expected constants.RewardStatus, next *entity.Reward) error {
	// the uniqueness key, code and issuance time are never rewritten
	upd := r.sql.Update("rewards").
		Set("store_id", next.StoreID).
		Set("used_at_store_id", nullUUID(next.UsedAtStoreID)).
		Set("status", string(next.Status)).
		Set("discount_percent", next.DiscountPercent).
		Set("discount_code", next.DiscountCode).
		Set("redemption_payload", next.RedemptionPayload).
		Set("claimed_at", nullTime(next.ClaimedAt)).
		Set("redeemed_at", nullTime(next.RedeemedAt)).
		Set("used_at", nullTime(next.UsedAt)).
		Set("expired_at", nullTime(next.ExpiredAt)).
		Set("expires_at", next.ExpiresAt.UTC()).
		Where(entsql.And(entsql.EQ("id", next.ID), entsql.EQ("status", string(expected))))
	n, err := r.exec(ctx, upd)
	if err != nil {
		r.logger.Error("failed to update reward", "reward_id", next.ID, "error", err)
		return dbError("update reward", err)
	}
	if n > 0 {
		return nil
	}
	cur, err := r.GetByID(ctx, next.ID)
	if err != nil {
		return err
	}
	return common.Conflict("reward", next.ID, string(expected), string(cur.Status))
}

func (r *rewardRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]entity.Reward, error) {
	return r.list(ctx, entsql.EQ("customer_id", customerID), 0)
}

func (r *rewardRepository) ListByPeriod(ctx context.Context, customerID uuid.UUID, periodKey string) ([]entity.Reward, error) {
	return r.list(ctx, entsql.And(entsql.EQ("customer_id", customerID), entsql.EQ("period_key", periodKey)), 0)
}

func (r *rewardRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]entity.Reward, error) {
	where := entsql.And(
		entsql.In("status", string(constants.RewardPending), string(constants.RewardClaimed), string(constants.RewardRedeemed)),
		entsql.LT("expires_at", now.UTC()),
	)
	return r.list(ctx, where, limit)
}

// list returns matching rewards ordered by issuance time.
func (r *rewardRepository) list(ctx context.Context, where *entsql.Predicate, limit int) ([]entity.Reward, error) {
	t := r.sql.Table("rewards")
	sel := r.sql.Select(rewardColumns...).From(t).Where(where)
	sel = sel.OrderBy(sel.C("issued_at"), sel.C("id"))
	if limit > 0 {
		sel = sel.Limit(limit)
	}
	var out []entity.Reward
	err := r.query(ctx, sel, func(rows *entsql.Rows) error {
		var (
			rw                                 entity.Reward
			usedAt                             uuid.NullUUID
			status                             string
			claimed, redeemed, used, expiredAt sql.NullTime
		)
		if err := rows.Scan(&rw.ID, &rw.CustomerID, &rw.StoreID, &usedAt, &rw.Code, &status,
			&rw.DiscountPercent, &rw.DiscountCode, &rw.RedemptionPayload, &rw.PeriodKey, &rw.VisitMultiple,
			&rw.IssuedAt, &claimed, &redeemed, &used, &expiredAt, &rw.ExpiresAt); err != nil {
			return err
		}
		rw.UsedAtStoreID = uuidPtr(usedAt)
		rw.Status = constants.RewardStatus(status)
		rw.IssuedAt = rw.IssuedAt.UTC()
		rw.ExpiresAt = rw.ExpiresAt.UTC()
		rw.ClaimedAt = timePtr(claimed)
		rw.RedeemedAt = timePtr(redeemed)
		rw.UsedAt = timePtr(used)
		rw.ExpiredAt = timePtr(expiredAt)
		out = append(out, rw)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list rewards", "error", err)
		return nil, dbError("list rewards", err)
	}
	return out, nil
}
