package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
)

var customerColumns = []string{"id", "name", "phone", "total_visits", "created_at", "updated_at"}

type customerRepository struct{ sqlStore }

// NewCustomerRepository creates a SQL-backed CustomerRepository.
func NewCustomerRepository(drv *entsql.Driver, logger *slog.Logger) CustomerRepository {
	return &customerRepository{newSQLStore(drv, logger)}
}

func (r *customerRepository) Create(ctx context.Context, c *entity.Customer) (*entity.Customer, error) {
	out := *c
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	now := time.Now().UTC()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.CreatedAt = out.CreatedAt.UTC()
	out.UpdatedAt = now
	ins := r.sql.Insert("customers").
		Columns(customerColumns...).
		Values(out.ID, out.Name, nullString(out.Phone), out.TotalVisits, out.CreatedAt, out.UpdatedAt)
	if _, err := r.exec(ctx, ins); err != nil {
		if isUnique(err) {
			if out.Phone != "" {
				if existing, lerr := r.GetByPhone(ctx, out.Phone); lerr == nil && existing.ID != out.ID {
					return nil, common.NewAppError("ALREADY_EXISTS", "phone already registered to customer "+existing.ID.String(), common.ErrAlreadyExists)
				}
			}
			return nil, common.NewAppError("ALREADY_EXISTS", "customer "+out.ID.String()+" already exists", common.ErrAlreadyExists)
		}
		r.logger.Error("failed to create customer", "customer_id", out.ID, "error", err)
		return nil, dbError("create customer", err)
	}
	return &out, nil
}

func (r *customerRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Customer, error) {
	c, err := r.first(ctx, entsql.EQ("id", id))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound("customer", id)
	}
	return c, nil
}

func (r *customerRepository) GetByPhone(ctx context.Context, phone string) (*entity.Customer, error) {
	c, err := r.first(ctx, entsql.EQ("phone", phone))
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, common.NewAppError("NOT_FOUND", "no customer with phone "+phone, common.ErrNotFound)
	}
	return c, nil
}

func (r *customerRepository) IncrementVisits(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	upd := r.sql.Update("customers").
		Add("total_visits", delta).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", id))
	n, err := r.exec(ctx, upd)
	if err != nil {
		r.logger.Error("failed to increment visits", "customer_id", id, "error", err)
		return 0, dbError("increment visits", err)
	}
	if n == 0 {
		return 0, notFound("customer", id)
	}
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return c.TotalVisits, nil
}

func (r *customerRepository) first(ctx context.Context, where *entsql.Predicate) (*entity.Customer, error) {
	t := r.sql.Table("customers")
	sel := r.sql.Select(customerColumns...).From(t).Where(where).Limit(1)
	var out *entity.Customer
	err := r.query(ctx, sel, func(rows *entsql.Rows) error {
		var (
			c     entity.Customer
			phone sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &phone, &c.TotalVisits, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return err
		}
		c.Phone = phone.String
		c.CreatedAt = c.CreatedAt.UTC()
		c.UpdatedAt = c.UpdatedAt.UTC()
		out = &c
		return nil
	})
	if err != nil {
		r.logger.Error("failed to load customer", "error", err)
		return nil, dbError("load customer", err)
	}
	return out, nil
}
