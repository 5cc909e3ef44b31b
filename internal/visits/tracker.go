// Package visits derives reward-period and streak state from the ledger of
// approved receipts. Nothing here is stored; state is recomputed from the
// append-only history on every call.
package visits

import (
	"sort"
	"time"

	"github.com/joseph-ayodele/receipt-rewards/constants"
)

// PeriodState is the eligibility window and streak summary at a point in time.
type PeriodState struct {
	PeriodStart    time.Time `json:"period_start"`
	PeriodEnd      time.Time `json:"period_end"`
	VisitsInPeriod int       `json:"visits_in_period"`
	Expired        bool      `json:"expired"`
	DaysRemaining  int       `json:"days_remaining"`
	CurrentStreak  int       `json:"current_streak"`
	LongestStreak  int       `json:"longest_streak"`
}

// Active reports whether a period is open; false under the reset policy
// after a lapse, or when there is no history.
func (s PeriodState) Active() bool {
	return !s.PeriodStart.IsZero() && !s.Expired
}

// Key identifies the period for reward uniqueness.
func (s PeriodState) Key() string {
	return PeriodKey(s.PeriodStart)
}

// PeriodKey formats a period start as the stable key stored on rewards.
func PeriodKey(start time.Time) string {
	if start.IsZero() {
		return ""
	}
	return start.UTC().Format(time.RFC3339)
}

// Tracker computes PeriodState. It is immutable and safe for concurrent use.
type Tracker struct {
	length time.Duration
	policy constants.PeriodPolicy
	loc    *time.Location
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPeriodLength sets how long a period stays open after it starts.
func WithPeriodLength(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.length = d
		}
	}
}

// WithPolicy selects what happens once the current period lapses.
func WithPolicy(p constants.PeriodPolicy) Option {
	return func(t *Tracker) {
		if p != "" {
			t.policy = p
		}
	}
}

// WithLocation sets the calendar used for streak days.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// NewTracker creates a tracker with the default period length and policy.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		length: constants.DefaultPeriodDays * 24 * time.Hour,
		policy: constants.PeriodRollForward,
		loc:    time.UTC,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// ComputeState derives the period and streaks from the decision times of a
// customer's approved receipts. Input order does not matter.
//
// The period opens at the first approval. An approval that lands after the
// current period end opens a new period at that approval. If now is past the
// end, roll_forward restarts the period at the latest approval, while reset
// reports an expired, empty period until the next approval arrives.
func (t *Tracker) ComputeState(approvedAt []time.Time, now time.Time) PeriodState {
	ts := make([]time.Time, 0, len(approvedAt))
	for _, a := range approvedAt {
		if !a.IsZero() && !a.After(now) {
			ts = append(ts, a)
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

	var st PeriodState
	st.CurrentStreak, st.LongestStreak = t.streaks(ts, now)
	if len(ts) == 0 {
		return st
	}

	start := ts[0]
	for _, a := range ts[1:] {
		if a.After(start.Add(t.length)) {
			start = a
		}
	}
	end := start.Add(t.length)

	if now.After(end) {
		switch t.policy {
		case constants.PeriodReset:
			st.Expired = true
			st.PeriodStart = start
			st.PeriodEnd = end
			st.VisitsInPeriod = 0
			return st
		default:
			start = ts[len(ts)-1]
			end = start.Add(t.length)
			if now.After(end) {
				// even the latest approval has lapsed
				st.Expired = true
			}
		}
	}

	st.PeriodStart = start
	st.PeriodEnd = end
	if !st.Expired {
		st.VisitsInPeriod = countWithin(ts, start, end)
		st.DaysRemaining = daysBetween(now, end)
	}
	return st
}

func countWithin(ts []time.Time, start, end time.Time) int {
	n := 0
	for _, a := range ts {
		if !a.Before(start) && !a.After(end) {
			n++
		}
	}
	return n
}

func daysBetween(now, end time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// streaks counts runs of consecutive calendar days. The current streak is
// still alive when the latest visit day is today or yesterday.
func (t *Tracker) streaks(sorted []time.Time, now time.Time) (current, longest int) {
	if len(sorted) == 0 {
		return 0, 0
	}
	days := make([]time.Time, 0, len(sorted))
	for i := len(sorted) - 1; i >= 0; i-- {
		d := civilDay(sorted[i], t.loc)
		if len(days) == 0 || !days[len(days)-1].Equal(d) {
			days = append(days, d)
		}
	}
	// days is distinct and descending

	run := 1
	longest = 1
	for i := 1; i < len(days); i++ {
		if days[i-1].AddDate(0, 0, -1).Equal(days[i]) {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	today := civilDay(now, t.loc)
	if !days[0].Equal(today) && !days[0].Equal(today.AddDate(0, 0, -1)) {
		return 0, longest
	}
	current = 1
	for i := 1; i < len(days); i++ {
		if !days[i-1].AddDate(0, 0, -1).Equal(days[i]) {
			break
		}
		current++
	}
	return current, longest
}

// civilDay maps t to midnight UTC of its calendar date in loc, so days
// compare by value regardless of DST shifts.
func civilDay(t time.Time, loc *time.Location) time.Time {
	l := t.In(loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, time.UTC)
}

// CrossedMultiple returns the visit multiple reached when count lands exactly
// on a multiple of needed.
func CrossedMultiple(count, needed int) (int, bool) {
	if needed <= 0 || count <= 0 || count%needed != 0 {
		return 0, false
	}
	return count / needed, true
}
