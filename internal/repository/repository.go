package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
)

// CustomerRepository persists loyalty members and their approved-visit counter.
type CustomerRepository interface {
	// Create fails with ErrAlreadyExists when the id or a non-empty phone is taken.
	Create(ctx context.Context, c *entity.Customer) (*entity.Customer, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Customer, error)
	GetByPhone(ctx context.Context, phone string) (*entity.Customer, error)
	// IncrementVisits atomically adds delta and returns the new total.
	IncrementVisits(ctx context.Context, id uuid.UUID, delta int) (int, error)
}

// StoreRepository exposes the participating store catalog.
type StoreRepository interface {
	Create(ctx context.Context, s *entity.Store) (*entity.Store, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Store, error)
	List(ctx context.Context) ([]entity.Store, error)
}

// ReceiptRepository persists receipts. Receipts are never deleted.
type ReceiptRepository interface {
	Create(ctx context.Context, r *entity.Receipt) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Receipt, error)
	// UpdateIfStatus overwrites the mutable fields of r only when the stored
	// status still equals expected; otherwise it fails with ErrConcurrencyConflict.
	UpdateIfStatus(ctx context.Context, r *entity.Receipt, expected constants.ReceiptStatus) error
	// FindByInvoice returns receipts of any customer carrying the invoice number.
	FindByInvoice(ctx context.Context, invoiceNumber string) ([]entity.Receipt, error)
	// ListByCustomer returns the customer's receipts submitted at or after since (all when nil), oldest first.
	ListByCustomer(ctx context.Context, customerID uuid.UUID, since *time.Time) ([]entity.Receipt, error)
	ListByStatus(ctx context.Context, status constants.ReceiptStatus, limit int) ([]entity.Receipt, error)
}

// VisitRepository is the append-only visit ledger.
type VisitRepository interface {
	Append(ctx context.Context, v *entity.Visit) error
	// MarkRewardEarned records that the visit's approval created a reward.
	MarkRewardEarned(ctx context.Context, id uuid.UUID) error
	// ListByCustomer returns visits ordered by VisitedAt ascending.
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]entity.Visit, error)
}

// RewardRepository persists rewards with guarded writes.
type RewardRepository interface {
	// CreateUnique inserts r unless a reward exists for the same
	// (customer, period key, visit multiple); then it fails with ErrRewardExists.
	CreateUnique(ctx context.Context, r *entity.Reward) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Reward, error)
	// CompareAndSwap stores next only when the stored status equals expected;
	// otherwise it fails with ErrConcurrencyConflict.
	CompareAndSwap(ctx context.Context, expected constants.RewardStatus, next *entity.Reward) error
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]entity.Reward, error)
	ListByPeriod(ctx context.Context, customerID uuid.UUID, periodKey string) ([]entity.Reward, error)
	// ListExpirable returns non-terminal rewards whose expiry is before now.
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]entity.Reward, error)
}

// Repositories bundles every repository the engine depends on.
type Repositories struct {
	Customers CustomerRepository
	Stores    StoreRepository
	Receipts  ReceiptRepository
	Visits    VisitRepository
	Rewards   RewardRepository
}
