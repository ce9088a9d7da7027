package dispatch

import (
	"context"
	"time"

	"github.com/keyrush/locksmith-dispatch/internal/audit"
	"github.com/keyrush/locksmith-dispatch/pkg/logging"
)

// OfferExpirer demotes overdue pending offers.
type OfferExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) ([]*Offer, error)
}

// SessionSweeper demotes idle funnel sessions.
type SessionSweeper interface {
	AbandonStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper runs the periodic maintenance loops: offer expiry with wave
// progression, and session abandonment.
type Sweeper struct {
	engine   *Engine
	expirer  OfferExpirer
	sessions SessionSweeper
	logger   *logging.Logger

	interval     time.Duration
	abandonAfter time.Duration
}

// NewSweeper builds the maintenance loop. sessions may be nil when the
// process only handles offers.
func NewSweeper(engine *Engine, expirer OfferExpirer, sessions SessionSweeper, interval, abandonAfter time.Duration, logger *logging.Logger) *Sweeper {
	if engine == nil {
		panic("dispatch: engine required")
	}
	if expirer == nil {
		panic("dispatch: offer expirer required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{
		engine:       engine,
		expirer:      expirer,
		sessions:     sessions,
		logger:       logger,
		interval:     interval,
		abandonAfter: abandonAfter,
	}
}

// Run ticks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOffers(ctx)
			s.SweepSessions(ctx)
		}
	}
}

// SweepOffers expires overdue offers and progresses waves for jobs whose
// current wave fully timed out.
func (s *Sweeper) SweepOffers(ctx context.Context) {
	expired, err := s.expirer.ExpireStale(ctx, time.Now())
	if err != nil {
		s.logger.Error("offer expiry failed", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	jobIDs := map[string]struct{}{}
	for _, o := range expired {
		s.engine.metrics.ObserveOffer("expired")
		s.engine.logEvent(ctx, "job_offer", o.ID, audit.EventOfferExpired, map[string]any{
			"locksmith_id": o.LocksmithID,
			"wave_number":  o.WaveNumber,
		})
		if o.JobID != "" {
			jobIDs[o.JobID] = struct{}{}
		}
	}
	s.logger.Info("offers expired", "count", len(expired))

	for jobID := range jobIDs {
		s.engine.progressWave(ctx, jobID)
	}
}

// SweepSessions abandons funnel sessions idle past the configured window.
func (s *Sweeper) SweepSessions(ctx context.Context) {
	if s.sessions == nil || s.abandonAfter <= 0 {
		return
	}
	if _, err := s.sessions.AbandonStale(ctx, s.abandonAfter); err != nil {
		s.logger.Error("session sweep failed", "error", err)
	}
}
