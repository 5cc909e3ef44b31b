// Package memstore is an in-memory implementation of the repository
// interfaces. It backs tests and single-process deployments without a database.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/repository"
)

// MemoryStore holds all engine state in memory behind a single lock.
type MemoryStore struct {
	mu        sync.RWMutex
	customers map[uuid.UUID]entity.Customer
	stores    map[uuid.UUID]entity.Store
	receipts  map[uuid.UUID]entity.Receipt
	visits    []entity.Visit
	rewards   map[uuid.UUID]entity.Reward
	// rewardKeys enforces one reward per (customer, period, multiple).
	rewardKeys map[rewardKey]uuid.UUID
}

type rewardKey struct {
	customer uuid.UUID
	period   string
	multiple int
}

// New creates a new MemoryStore with empty state.
func New() *MemoryStore {
	return &MemoryStore{
		customers:  make(map[uuid.UUID]entity.Customer),
		stores:     make(map[uuid.UUID]entity.Store),
		receipts:   make(map[uuid.UUID]entity.Receipt),
		rewards:    make(map[uuid.UUID]entity.Reward),
		rewardKeys: make(map[rewardKey]uuid.UUID),
	}
}

// Repositories exposes the store through the repository interfaces.
func (s *MemoryStore) Repositories() repository.Repositories {
	return repository.Repositories{
		Customers: customers{s},
		Stores:    stores{s},
		Receipts:  receipts{s},
		Visits:    visits{s},
		Rewards:   rewards{s},
	}
}

// Reset clears all state.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = make(map[uuid.UUID]entity.Customer)
	s.stores = make(map[uuid.UUID]entity.Store)
	s.receipts = make(map[uuid.UUID]entity.Receipt)
	s.visits = nil
	s.rewards = make(map[uuid.UUID]entity.Reward)
	s.rewardKeys = make(map[rewardKey]uuid.UUID)
}

func notFound(kind string, id uuid.UUID) error {
	return common.NewAppError("NOT_FOUND", kind+" "+id.String()+" not found", common.ErrNotFound)
}

type customers struct{ s *MemoryStore }

func (r customers) Create(_ context.Context, c *entity.Customer) (*entity.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := *c
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if _, ok := r.s.customers[out.ID]; ok {
		return nil, common.NewAppError("ALREADY_EXISTS", "customer "+out.ID.String()+" already exists", common.ErrAlreadyExists)
	}
	if out.Phone != "" {
		for _, c := range r.s.customers {
			if c.Phone == out.Phone {
				return nil, common.NewAppError("ALREADY_EXISTS", "phone already registered to customer "+c.ID.String(), common.ErrAlreadyExists)
			}
		}
	}
	now := time.Now().UTC()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	r.s.customers[out.ID] = out
	return &out, nil
}

func (r customers) GetByID(_ context.Context, id uuid.UUID) (*entity.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.customers[id]
	if !ok {
		return nil, notFound("customer", id)
	}
	return &c, nil
}

func (r customers) GetByPhone(_ context.Context, phone string) (*entity.Customer, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.customers {
		if phone != "" && c.Phone == phone {
			c := c
			return &c, nil
		}
	}
	return nil, common.NewAppError("NOT_FOUND", "no customer with phone "+phone, common.ErrNotFound)
}

func (r customers) IncrementVisits(_ context.Context, id uuid.UUID, delta int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.customers[id]
	if !ok {
		return 0, notFound("customer", id)
	}
	c.TotalVisits += delta
	c.UpdatedAt = time.Now().UTC()
	r.s.customers[id] = c
	return c.TotalVisits, nil
}

type stores struct{ s *MemoryStore }

func (r stores) Create(_ context.Context, st *entity.Store) (*entity.Store, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := *st
	if out.ID == uuid.Nil {
		out.ID = uuid.New()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	r.s.stores[out.ID] = out
	return &out, nil
}

func (r stores) GetByID(_ context.Context, id uuid.UUID) (*entity.Store, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	st, ok := r.s.stores[id]
	if !ok {
		return nil, notFound("store", id)
	}
	return &st, nil
}

func (r stores) List(_ context.Context) ([]entity.Store, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]entity.Store, 0, len(r.s.stores))
	for _, st := range r.s.stores {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

type receipts struct{ s *MemoryStore }

func cloneReceipt(r entity.Receipt) entity.Receipt {
	out := r
	if r.StoreID != nil {
		id := *r.StoreID
		out.StoreID = &id
	}
	if r.OCRConfidence != nil {
		c := *r.OCRConfidence
		out.OCRConfidence = &c
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		out.DecidedAt = &t
	}
	if r.Fields.Date != nil {
		t := *r.Fields.Date
		out.Fields.Date = &t
	}
	if r.Fields.TotalAmount != nil {
		a := *r.Fields.TotalAmount
		out.Fields.TotalAmount = &a
	}
	if r.Confidences != nil {
		out.Confidences = make(entity.Confidences, len(r.Confidences))
		for k, v := range r.Confidences {
			out.Confidences[k] = v
		}
	}
	out.Flags = append([]string(nil), r.Flags...)
	out.Audit = append([]entity.AuditEntry(nil), r.Audit...)
	return out
}

func (r receipts) Create(_ context.Context, rc *entity.Receipt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if rc.ID == uuid.Nil {
		rc.ID = uuid.New()
	}
	if _, ok := r.s.receipts[rc.ID]; ok {
		return common.NewAppError("ALREADY_EXISTS", "receipt "+rc.ID.String()+" already exists", common.ErrInvalidInput)
	}
	r.s.receipts[rc.ID] = cloneReceipt(*rc)
	return nil
}

func (r receipts) GetByID(_ context.Context, id uuid.UUID) (*entity.Receipt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rc, ok := r.s.receipts[id]
	if !ok {
		return nil, notFound("receipt", id)
	}
	out := cloneReceipt(rc)
	return &out, nil
}

func (r receipts) UpdateIfStatus(_ context.Context, rc *entity.Receipt, expected constants.ReceiptStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.receipts[rc.ID]
	if !ok {
		return notFound("receipt", rc.ID)
	}
	if cur.Status != expected {
		return common.Conflict("receipt", rc.ID, string(expected), string(cur.Status))
	}
	next := cloneReceipt(*rc)
	// identity and submission data are immutable
	next.CustomerID = cur.CustomerID
	next.RawText = cur.RawText
	next.SubmittedAt = cur.SubmittedAt
	r.s.receipts[rc.ID] = next
	return nil
}

func (r receipts) FindByInvoice(_ context.Context, invoiceNumber string) ([]entity.Receipt, error) {
	if invoiceNumber == "" {
		return nil, nil
	}
	return r.filter(func(rc entity.Receipt) bool {
		return strings.EqualFold(rc.Fields.InvoiceNumber, invoiceNumber)
	}), nil
}

func (r receipts) ListByCustomer(_ context.Context, customerID uuid.UUID, since *time.Time) ([]entity.Receipt, error) {
	return r.filter(func(rc entity.Receipt) bool {
		return rc.CustomerID == customerID && (since == nil || !rc.SubmittedAt.Before(*since))
	}), nil
}

func (r receipts) ListByStatus(_ context.Context, status constants.ReceiptStatus, limit int) ([]entity.Receipt, error) {
	out := r.filter(func(rc entity.Receipt) bool { return rc.Status == status })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// filter returns matching receipts ordered by submission time.
func (r receipts) filter(match func(entity.Receipt) bool) []entity.Receipt {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []entity.Receipt
	for _, rc := range r.s.receipts {
		if match(rc) {
			out = append(out, cloneReceipt(rc))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

type visits struct{ s *MemoryStore }

func (r visits) Append(_ context.Context, v *entity.Visit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	out := *v
	if v.ReceiptID != nil {
		id := *v.ReceiptID
		out.ReceiptID = &id
		for _, existing := range r.s.visits {
			if existing.ReceiptID != nil && *existing.ReceiptID == id {
				return common.NewAppError("ALREADY_EXISTS", "visit for receipt "+id.String()+" already recorded", common.ErrInvalidInput)
			}
		}
	}
	r.s.visits = append(r.s.visits, out)
	return nil
}

func (r visits) MarkRewardEarned(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.visits {
		if r.s.visits[i].ID == id {
			r.s.visits[i].RewardEarned = true
			return nil
		}
	}
	return notFound("visit", id)
}

func (r visits) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]entity.Visit, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []entity.Visit
	for _, v := range r.s.visits {
		if v.CustomerID == customerID {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].VisitedAt.Before(out[j].VisitedAt) })
	return out, nil
}

type rewards struct{ s *MemoryStore }

func keyOf(rw entity.Reward) rewardKey {
	return rewardKey{customer: rw.CustomerID, period: rw.PeriodKey, multiple: rw.VisitMultiple}
}

func (r rewards) CreateUnique(_ context.Context, rw *entity.Reward) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	k := keyOf(*rw)
	if existing, ok := r.s.rewardKeys[k]; ok {
		return common.NewAppError("REWARD_EXISTS",
			"reward "+existing.String()+" already issued for this period and visit multiple", common.ErrRewardExists)
	}
	if rw.ID == uuid.Nil {
		rw.ID = uuid.New()
	}
	r.s.rewards[rw.ID] = *rw
	r.s.rewardKeys[k] = rw.ID
	return nil
}

func (r rewards) GetByID(_ context.Context, id uuid.UUID) (*entity.Reward, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rw, ok := r.s.rewards[id]
	if !ok {
		return nil, notFound("reward", id)
	}
	return &rw, nil
}

func (r rewards) CompareAndSwap(_ context.Context, expected constants.RewardStatus, next *entity.Reward) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.rewards[next.ID]
	if !ok {
		return notFound("reward", next.ID)
	}
	if cur.Status != expected {
		return common.Conflict("reward", next.ID, string(expected), string(cur.Status))
	}
	out := *next
	// uniqueness key and issuance facts never change
	out.CustomerID = cur.CustomerID
	out.PeriodKey = cur.PeriodKey
	out.VisitMultiple = cur.VisitMultiple
	out.Code = cur.Code
	out.IssuedAt = cur.IssuedAt
	r.s.rewards[next.ID] = out
	return nil
}

func (r rewards) ListByCustomer(_ context.Context, customerID uuid.UUID) ([]entity.Reward, error) {
	return r.filter(func(rw entity.Reward) bool { return rw.CustomerID == customerID }, 0), nil
}

func (r rewards) ListByPeriod(_ context.Context, customerID uuid.UUID, periodKey string) ([]entity.Reward, error) {
	return r.filter(func(rw entity.Reward) bool {
		return rw.CustomerID == customerID && rw.PeriodKey == periodKey
	}, 0), nil
}

func (r rewards) ListExpirable(_ context.Context, now time.Time, limit int) ([]entity.Reward, error) {
	return r.filter(func(rw entity.Reward) bool { return rw.PastExpiry(now) }, limit), nil
}

func (r rewards) filter(match func(entity.Reward) bool, limit int) []entity.Reward {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []entity.Reward
	for _, rw := range r.s.rewards {
		if match(rw) {
			out = append(out, rw)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.Before(out[j].IssuedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
