package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/joseph-ayodele/receipt-rewards/internal/common"
)

// Source produces raw rule values, e.g. from a file or an admin store.
type Source interface {
	Load(ctx context.Context) (Values, error)
}

// StaticSource always returns the same values.
type StaticSource Values

func (s StaticSource) Load(context.Context) (Values, error) { return Values(s), nil }

// Provider hands out the current snapshot. Refresh is the only way a new
// snapshot comes into existence; holders of an older one are unaffected.
type Provider struct {
	src     Source
	logger  *slog.Logger
	current atomic.Pointer[Snapshot]
	seq     atomic.Int64
}

// NewProvider creates a provider over src. Current fails until the first Refresh succeeds.
func NewProvider(src Source, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{src: src, logger: logger}
}

// NewStaticProvider returns a provider already loaded with v.
func NewStaticProvider(v Values) (*Provider, error) {
	p := NewProvider(StaticSource(v), nil)
	if _, err := p.Refresh(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// Current returns the active snapshot, or ErrConfigUnavailable if none was ever loaded.
func (p *Provider) Current() (*Snapshot, error) {
	s := p.current.Load()
	if s == nil {
		return nil, common.NewAppError("CONFIG_UNAVAILABLE", "no rules snapshot loaded", common.ErrConfigUnavailable)
	}
	return s, nil
}

// Refresh loads values from the source and publishes a new snapshot.
// On failure the previous snapshot stays active.
func (p *Provider) Refresh(ctx context.Context) (*Snapshot, error) {
	v, err := p.src.Load(ctx)
	if err != nil {
		p.logger.Error("settings refresh failed", "error", err)
		return nil, common.NewAppError("CONFIG_UNAVAILABLE", "load rules", fmt.Errorf("%w: %v", common.ErrConfigUnavailable, err))
	}
	s, err := NewSnapshot(v)
	if err != nil {
		p.logger.Error("settings rejected", "error", err)
		return nil, common.NewAppError("CONFIG_INVALID", "validate rules", fmt.Errorf("%w: %v", common.ErrConfigUnavailable, err))
	}
	s.version = p.seq.Add(1)
	p.current.Store(s)
	p.logger.Info("settings refreshed",
		"version", s.version,
		"min_amount", s.minAmount.String(),
		"visits_needed", s.visitsNeeded,
		"store_overrides", len(s.overrides),
	)
	return s, nil
}
