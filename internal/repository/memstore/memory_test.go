package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
)

func TestCustomersPhoneIsUnique(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created []*entity.Customer
		dupes   int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := repos.Customers.Create(ctx, &entity.Customer{Name: "Ana", Phone: "+15550100"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, common.ErrAlreadyExists)
				dupes++
				return
			}
			created = append(created, c)
		}()
	}
	wg.Wait()
	require.Len(t, created, 1)
	assert.Equal(t, 7, dupes)

	_, err := repos.Customers.Create(ctx, &entity.Customer{ID: created[0].ID, Name: "Ana", Phone: "+15550111"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	_, err = repos.Customers.Create(ctx, &entity.Customer{Name: "Ben"})
	require.NoError(t, err)
	_, err = repos.Customers.Create(ctx, &entity.Customer{Name: "Cho"})
	require.NoError(t, err)
}

func TestVisitsMarkRewardEarned(t *testing.T) {
	ctx := context.Background()
	repos := New().Repositories()
	customer := uuid.New()

	v := &entity.Visit{CustomerID: customer, StoreID: uuid.New(), VisitedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, repos.Visits.Append(ctx, v))
	require.NoError(t, repos.Visits.MarkRewardEarned(ctx, v.ID))

	list, err := repos.Visits.ListByCustomer(ctx, customer)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].RewardEarned)

	assert.ErrorIs(t, repos.Visits.MarkRewardEarned(ctx, uuid.New()), common.ErrNotFound)
}
