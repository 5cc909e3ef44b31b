package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-rewards/constants"
	"github.com/joseph-ayodele/receipt-rewards/internal/common"
)

func TestNewSnapshot_Defaults(t *testing.T) {
	s, err := NewSnapshot(Values{})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(500).Equal(s.MinAmount()))
	assert.Equal(t, 72*time.Hour, s.ValidityWindow())
	assert.Equal(t, 5, s.VisitsNeeded())
	assert.Equal(t, 10, s.DiscountPercent())
	assert.Equal(t, 7*24*time.Hour, s.RedemptionExpiry())
	assert.Equal(t, 45*24*time.Hour, s.PeriodLength())
	assert.Equal(t, constants.PeriodRollForward, s.PeriodPolicy())
	assert.Equal(t, time.UTC, s.Location())
}

func TestNewSnapshot_ClampsValidityWindow(t *testing.T) {
	v := Defaults()
	v.ValidityHours = 10000
	s, err := NewSnapshot(v)
	require.NoError(t, err)
	assert.Equal(t, 720*time.Hour, s.ValidityWindow())
}

func TestNewSnapshot_Invalid(t *testing.T) {
	tests := map[string]func(*Values){
		"amount":   func(v *Values) { v.MinAmount = "five hundred" },
		"negative": func(v *Values) { v.MinAmount = "-1" },
		"discount": func(v *Values) { v.DiscountPercent = 150 },
		"policy":   func(v *Values) { v.PeriodPolicy = "forever" },
		"timezone": func(v *Values) { v.Timezone = "Mars/Olympus" },
		"store":    func(v *Values) { v.Stores = map[string]StoreValues{"not-a-uuid": {}} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			v := Defaults()
			mutate(&v)
			_, err := NewSnapshot(v)
			assert.Error(t, err)
		})
	}
}

func TestSnapshot_StoreOverrides(t *testing.T) {
	id := uuid.New()
	v := Defaults()
	v.Stores = map[string]StoreValues{
		id.String(): {TaxID: "1-31-04793-9", BranchName: " Uptown ", MinAmount: "250"},
	}
	s := MustSnapshot(v)

	o, ok := s.Override(id)
	require.True(t, ok)
	assert.Equal(t, "131047939", o.TaxID)
	assert.Equal(t, "Uptown", o.BranchName)
	assert.True(t, decimal.NewFromInt(250).Equal(s.MinAmountFor(id)))
	assert.True(t, decimal.NewFromInt(500).Equal(s.MinAmountFor(uuid.New())))
}

func TestParseYAML(t *testing.T) {
	doc := []byte(`
min_amount: "750.50"
visits_needed: 4
period_policy: reset
stores:
  "5f0c3a52-6b1e-4c7e-9a55-0f0e1f3c2a10":
    tax_id: "900123456"
`)
	v, err := ParseYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, "750.50", v.MinAmount)
	assert.Equal(t, 4, v.VisitsNeeded)
	assert.Equal(t, "reset", v.PeriodPolicy)
	require.Contains(t, v.Stores, "5f0c3a52-6b1e-4c7e-9a55-0f0e1f3c2a10")

	s, err := NewSnapshot(v)
	require.NoError(t, err)
	assert.Equal(t, constants.PeriodReset, s.PeriodPolicy())
	assert.Equal(t, 72*time.Hour, s.ValidityWindow())
}

func TestParseYAML_SchemaViolations(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown key":   "min_amount: \"500\"\nbonus: 3\n",
		"bad policy":    "period_policy: sometimes\n",
		"zero visits":   "visits_needed: 0\n",
		"amount format": "min_amount: \"5OO\"\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseYAML_Empty(t *testing.T) {
	v, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, Values{}, v)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("visits_needed: 3\n"), 0o600))

	v, err := FileSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v.VisitsNeeded)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.yaml")}.Load(context.Background())
	assert.Error(t, err)
}

type flakySource struct {
	values Values
	err    error
}

func (f *flakySource) Load(context.Context) (Values, error) { return f.values, f.err }

func TestProvider_CurrentBeforeLoad(t *testing.T) {
	p := NewProvider(&flakySource{}, nil)
	_, err := p.Current()
	assert.ErrorIs(t, err, common.ErrConfigUnavailable)
}

func TestProvider_RefreshSwapsAndKeepsOldOnFailure(t *testing.T) {
	src := &flakySource{values: Defaults()}
	p := NewProvider(src, nil)

	first, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version())

	src.values.VisitsNeeded = 8
	second, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version())
	assert.Equal(t, 8, second.VisitsNeeded())
	// a holder of the first snapshot is unaffected
	assert.Equal(t, 5, first.VisitsNeeded())

	src.err = errors.New("disk gone")
	_, err = p.Refresh(context.Background())
	assert.ErrorIs(t, err, common.ErrConfigUnavailable)

	src.err = nil
	src.values.DiscountPercent = 0
	src.values.MinAmount = "abc"
	_, err = p.Refresh(context.Background())
	assert.ErrorIs(t, err, common.ErrConfigUnavailable)

	cur, err := p.Current()
	require.NoError(t, err)
	assert.Same(t, second, cur)
}
