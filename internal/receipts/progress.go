package receipts

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/receipt-rewards/internal/entity"
	"github.com/joseph-ayodele/receipt-rewards/internal/visits"
)

// Progress summarizes a customer's standing in the loyalty program.
type Progress struct {
	Customer     entity.Customer    `json:"customer"`
	Period       visits.PeriodState `json:"period"`
	VisitsNeeded int                `json:"visits_needed"`
	// VisitsToNextReward is 0 when the current period is not active.
	VisitsToNextReward int             `json:"visits_to_next_reward"`
	Rewards            []entity.Reward `json:"rewards"`
}

// CustomerProgress recomputes the period state from the visit ledger at now.
func (s *Service) CustomerProgress(ctx context.Context, customerID uuid.UUID) (*Progress, error) {
	cfg, err := s.rules.Current()
	if err != nil {
		return nil, err
	}
	cust, err := s.repos.Customers.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	ledger, err := s.repos.Visits.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	times := make([]time.Time, 0, len(ledger))
	for _, v := range ledger {
		times = append(times, v.VisitedAt)
	}
	state := tracker(cfg).ComputeState(times, s.now())

	rw, err := s.rewards.ListForCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	p := &Progress{
		Customer:     *cust,
		Period:       state,
		VisitsNeeded: cfg.VisitsNeeded(),
		Rewards:      rw,
	}
	if state.Active() {
		p.VisitsToNextReward = cfg.VisitsNeeded() - state.VisitsInPeriod%cfg.VisitsNeeded()
	}
	return p, nil
}
