package repository

import (
	"context"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
)

var visitColumns = []string{"id", "customer_id", "store_id", "receipt_id", "visited_at", "reward_earned"}

type visitRepository struct{ sqlStore }

// NewVisitRepository creates a SQL-backed VisitRepository.
func NewVisitRepository(drv *entsql.Driver, logger *slog.Logger) VisitRepository {
	return &visitRepository{newSQLStore(drv, logger)}
}

func (r *visitRepository) Append(ctx context.Context, v *entity.Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	ins := r.sql.Insert("visits").
		Columns(visitColumns...).
		Values(v.ID, v.CustomerID, v.StoreID, nullUUID(v.ReceiptID), v.VisitedAt.UTC(), v.RewardEarned)
	if _, err := r.exec(ctx, ins); err != nil {
		if isUnique(err) && v.ReceiptID != nil {
			return common.NewAppError("ALREADY_EXISTS", "visit for receipt "+v.ReceiptID.String()+" already recorded", common.ErrInvalidInput)
		}
		r.logger.Error("failed to append visit", "customer_id", v.CustomerID, "error", err)
		return dbError("append visit", err)
	}
	return nil
}

func (r *visitRepository) MarkRewardEarned(ctx context.Context, id uuid.UUID) error {
	upd := r.sql.Update("visits").Set("reward_earned", true).Where(entsql.EQ("id", id))
	n, err := r.exec(ctx, upd)
	if err != nil {
		r.logger.Error("failed to mark visit", "visit_id", id, "error", err)
		return dbError("mark visit", err)
	}
	if n == 0 {
		return notFound("visit", id)
	}
	return nil
}

func (r *visitRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]entity.Visit, error) {
	t := r.sql.Table("visits")
	sel := r.sql.Select(visitColumns...).From(t).Where(entsql.EQ("customer_id", customerID))
	sel = sel.OrderBy(sel.C("visited_at"), sel.C("id"))
	var out []entity.Visit
	err := r.query(ctx, sel, func(rows *entsql.Rows) error {
		var (
			v       entity.Visit
			receipt uuid.NullUUID
		)
		if err := rows.Scan(&v.ID, &v.CustomerID, &v.StoreID, &receipt, &v.VisitedAt, &v.RewardEarned); err != nil {
			return err
		}
		v.ReceiptID = uuidPtr(receipt)
		v.VisitedAt = v.VisitedAt.UTC()
		out = append(out, v)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list visits", "customer_id", customerID, "error", err)
		return nil, dbError("list visits", err)
	}
	return out, nil
}
