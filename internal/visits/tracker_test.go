package visits

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipt-rewards/constants"
)

var day0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func days(n ...int) []time.Time {
	out := make([]time.Time, 0, len(n))
	for _, d := range n {
		out = append(out, day0.AddDate(0, 0, d))
	}
	return out
}

func TestComputeState_NoHistory(t *testing.T) {
	st := NewTracker().ComputeState(nil, day0)
	assert.False(t, st.Active())
	assert.Zero(t, st.VisitsInPeriod)
	assert.Empty(t, st.Key())
}

func TestComputeState_WithinPeriod(t *testing.T) {
	tr := NewTracker(WithPeriodLength(45 * 24 * time.Hour))
	st := tr.ComputeState(days(0, 3, 10, 20), day0.AddDate(0, 0, 20))

	require.True(t, st.Active())
	assert.Equal(t, day0, st.PeriodStart)
	assert.Equal(t, day0.AddDate(0, 0, 45), st.PeriodEnd)
	assert.Equal(t, 4, st.VisitsInPeriod)
	assert.Equal(t, 25, st.DaysRemaining)
	assert.Equal(t, PeriodKey(day0), st.Key())
}

func TestComputeState_InputOrderIrrelevant(t *testing.T) {
	tr := NewTracker()
	now := day0.AddDate(0, 0, 12)
	a := tr.ComputeState(days(0, 5, 12), now)
	b := tr.ComputeState(days(12, 0, 5), now)
	assert.Equal(t, a, b)
}

func TestComputeState_IgnoresFutureApprovals(t *testing.T) {
	st := NewTracker().ComputeState(days(0, 1, 30), day0.AddDate(0, 0, 2))
	assert.Equal(t, 2, st.VisitsInPeriod)
}

func TestComputeState_ApprovalAfterEndOpensNewPeriod(t *testing.T) {
	tr := NewTracker(WithPeriodLength(10 * 24 * time.Hour))
	st := tr.ComputeState(days(0, 2, 4, 15, 16), day0.AddDate(0, 0, 16))

	assert.Equal(t, day0.AddDate(0, 0, 15), st.PeriodStart)
	assert.Equal(t, 2, st.VisitsInPeriod)
	assert.False(t, st.Expired)
}

func TestComputeState_LapsedRollForward(t *testing.T) {
	tr := NewTracker(WithPeriodLength(10*24*time.Hour), WithPolicy(constants.PeriodRollForward))
	// period [0,10] lapsed at now=12; roll forward to the latest approval (day 8)
	st := tr.ComputeState(days(0, 8), day0.AddDate(0, 0, 12))

	assert.False(t, st.Expired)
	assert.Equal(t, day0.AddDate(0, 0, 8), st.PeriodStart)
	assert.Equal(t, 1, st.VisitsInPeriod)
	assert.Equal(t, 6, st.DaysRemaining)
}

func TestComputeState_LapsedRollForwardEverythingOld(t *testing.T) {
	tr := NewTracker(WithPeriodLength(10 * 24 * time.Hour))
	st := tr.ComputeState(days(0, 3), day0.AddDate(0, 0, 30))

	assert.True(t, st.Expired)
	assert.False(t, st.Active())
	assert.Zero(t, st.VisitsInPeriod)
	assert.Zero(t, st.DaysRemaining)
}

func TestComputeState_LapsedReset(t *testing.T) {
	tr := NewTracker(WithPeriodLength(10*24*time.Hour), WithPolicy(constants.PeriodReset))
	st := tr.ComputeState(days(0, 8), day0.AddDate(0, 0, 12))

	assert.True(t, st.Expired)
	assert.Zero(t, st.VisitsInPeriod)

	// the next approval opens a fresh period
	st = tr.ComputeState(days(0, 8, 12), day0.AddDate(0, 0, 12))
	assert.False(t, st.Expired)
	assert.Equal(t, day0.AddDate(0, 0, 12), st.PeriodStart)
	assert.Equal(t, 1, st.VisitsInPeriod)
}

func TestStreaks(t *testing.T) {
	tr := NewTracker()

	tests := []struct {
		name    string
		visits  []time.Time
		now     time.Time
		current int
		longest int
	}{
		{"single today", days(0), day0, 1, 1},
		{"three in a row", days(0, 1, 2), day0.AddDate(0, 0, 2), 3, 3},
		{"alive from yesterday", days(0, 1, 2), day0.AddDate(0, 0, 3), 3, 3},
		{"broken", days(0, 1, 2), day0.AddDate(0, 0, 5), 0, 3},
		{"same day counted once", append(days(0, 1), day0.AddDate(0, 0, 1).Add(3*time.Hour)), day0.AddDate(0, 0, 1).Add(5*time.Hour), 2, 2},
		{"longest earlier", days(0, 1, 2, 3, 7, 8), day0.AddDate(0, 0, 8), 2, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tr.ComputeState(tt.visits, tt.now)
			assert.Equal(t, tt.current, st.CurrentStreak)
			assert.Equal(t, tt.longest, st.LongestStreak)
		})
	}
}

func TestStreaks_UseConfiguredCalendar(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	tr := NewTracker(WithLocation(loc))
	// 20:00 UTC on day 0 is already day 1 at UTC+5
	a := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	b := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	st := tr.ComputeState([]time.Time{a, b}, b)
	assert.Equal(t, 1, st.CurrentStreak)
}

func TestCrossedMultiple(t *testing.T) {
	m, ok := CrossedMultiple(5, 5)
	assert.True(t, ok)
	assert.Equal(t, 1, m)

	m, ok = CrossedMultiple(10, 5)
	assert.True(t, ok)
	assert.Equal(t, 2, m)

	_, ok = CrossedMultiple(6, 5)
	assert.False(t, ok)
	_, ok = CrossedMultiple(0, 5)
	assert.False(t, ok)
	_, ok = CrossedMultiple(5, 0)
	assert.False(t, ok)
}
