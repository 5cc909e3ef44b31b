package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-rewards/internal/common"
	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
)

func testConfig(dsn, rules string) *common.Config {
	cfg := common.LoadConfig()
	cfg.Database.DSN = dsn
	cfg.Rules.File = rules
	cfg.Pipeline.Workers = 1
	cfg.Pipeline.QueueSize = 4
	return cfg
}

func TestNew_MemoryStoreWithDefaults(t *testing.T) {
	a, err := New(context.Background(), testConfig(MemoryDSN, ""), nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	assert.Nil(t, a.DB)
	snap, err := a.Rules.Current()
	require.NoError(t, err)
	assert.Equal(t, 5, snap.VisitsNeeded())

	checks := a.HealthChecks()
	require.Contains(t, checks, "rules")
	assert.NotContains(t, checks, "database")
	assert.NoError(t, checks["rules"](context.Background()))
}

func TestNew_MissingRulesFileStartsUnavailable(t *testing.T) {
	a, err := New(context.Background(), testConfig(MemoryDSN, filepath.Join(t.TempDir(), "absent.yaml")), nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	_, err = a.Rules.Current()
	assert.ErrorIs(t, err, common.ErrConfigUnavailable)
	assert.Error(t, a.HealthChecks()["rules"](context.Background()))
}

func TestNew_SQLiteMigratesAndServesRepositories(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "loyalty.db")
	a, err := New(context.Background(), testConfig(dsn, ""), nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	require.NotNil(t, a.DB)
	assert.NoError(t, a.HealthChecks()["database"](context.Background()))

	c, err := a.Repos.Customers.Create(context.Background(), &entity.Customer{Name: "Ana", Phone: "+15550100"})
	require.NoError(t, err)
	got, err := a.Repos.Customers.GetByPhone(context.Background(), "+15550100")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
}

func TestRefreshRules_PicksUpFileChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("visits_needed: 5\n"), 0o644))

	a, err := New(context.Background(), testConfig(MemoryDSN, path), nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	first, err := a.Rules.Current()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("visits_needed: 3\n"), 0o644))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.RefreshRules(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s, err := a.Rules.Current()
		return err == nil && s.VisitsNeeded() == 3
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 5, first.VisitsNeeded())
}
