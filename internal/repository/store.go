package repository

import (
	"context"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
)

var storeColumns = []string{"id", "name", "tax_id", "branch_name", "active", "created_at"}

type storeRepository struct{ sqlStore }

// NewStoreRepository creates a SQL-backed StoreRepository.
func NewStoreRepository(drv *entsql.Driver, logger *slog.Logger) StoreRepository {
	return &storeRepository{newSQLStore(drv, logger)}
}

func (r *storeRepository) Create(ctx context.Context, s *entity.Store) (*entity.Store, error) {
	out := *s
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now()
	}
	out.CreatedAt = out.CreatedAt.UTC()
	ins := r.sql.Insert("stores").
		Columns(storeColumns...).
		Values(out.ID, out.Name, out.TaxID, out.BranchName, out.Active, out.CreatedAt)
	if _, err := r.exec(ctx, ins); err != nil {
		r.logger.Error("failed to create store", "store_id", out.ID, "error", err)
		return nil, dbError("create store", err)
	}
	return &out, nil
}

func (r *storeRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Store, error) {
	out, err := r.list(ctx, entsql.EQ("id", id))
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, notFound("store", id)
	}
	return &out[0], nil
}

func (r *storeRepository) List(ctx context.Context) ([]entity.Store, error) {
	return r.list(ctx, nil)
}

func (r *storeRepository) list(ctx context.Context, where *entsql.Predicate) ([]entity.Store, error) {
	t := r.sql.Table("stores")
	sel := r.sql.Select(storeColumns...).From(t)
	if where != nil {
		sel = sel.Where(where)
	}
	sel = sel.OrderBy(sel.C("name"), sel.C("id"))
	var out []entity.Store
	err := r.query(ctx, sel, func(rows *entsql.Rows) error {
		var s entity.Store
		if err := rows.Scan(&s.ID, &s.Name, &s.TaxID, &s.BranchName, &s.Active, &s.CreatedAt); err != nil {
			return err
		}
		s.CreatedAt = s.CreatedAt.UTC()
		out = append(out, s)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list stores", "error", err)
		return nil, dbError("list stores", err)
	}
	return out, nil
}
