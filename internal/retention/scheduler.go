// Package retention runs the periodic cleanup task: reclaiming expired
// visibility leases and, in Delete mode, removing aged messages.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/qlite/qlite/internal/common/metrics"
	"github.com/qlite/qlite/internal/config"
	"github.com/qlite/qlite/internal/engine"
)

// Scheduler ticks at a cadence derived from the configured cleanup interval
// and runs one cleanup pass per tick. Errors are logged and the next tick
// retries; the scheduler never halts on a failed pass.
type Scheduler struct {
	engine *engine.Engine
	cfg    config.RetentionConfig

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(eng *engine.Engine, cfg config.RetentionConfig) *Scheduler {
	return &Scheduler{
		engine: eng,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
}

// Interval maps cleanup_interval_seconds onto the coarse cron-like buckets:
// sub-minute intervals run every minute, sub-hour intervals every whole
// minute multiple, larger intervals every whole hour multiple. Retention is
// best-effort background work, so the coarseness is intentional.
func Interval(cleanupIntervalSeconds int) time.Duration {
	switch {
	case cleanupIntervalSeconds < 60:
		return time.Minute
	case cleanupIntervalSeconds < 3600:
		return time.Duration(cleanupIntervalSeconds/60) * time.Minute
	default:
		return time.Duration(cleanupIntervalSeconds/3600) * time.Hour
	}
}

// Start launches the background loop.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	interval := Interval(s.cfg.CleanupIntervalSeconds)
	metrics.RetentionActive.Set(1)
	log.Info().
		Dur("interval", interval).
		Str("mode", string(s.cfg.Mode)).
		Msg("Retention scheduler started")

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

func (s *Scheduler) runOnce(ctx context.Context) {
	metrics.RetentionRuns.Inc()
	affected, err := s.engine.CleanupExpired(ctx, s.cfg)
	if err != nil {
		log.Error().Err(err).Msg("Retention cleanup failed")
		return
	}
	metrics.RetentionAffected.Add(float64(affected))
	if affected > 0 {
		action := "messages reset for retry"
		if s.cfg.Mode == config.RetentionDelete {
			action = "expired messages deleted"
		}
		log.Info().Int64("affected", affected).Str("action", action).Msg("Retention cleanup completed")
	} else {
		log.Debug().Msg("Retention cleanup completed: nothing to do")
	}
}

// Stop halts the loop and waits for the in-flight pass to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		} else {
			close(s.done) // never started
		}
		metrics.RetentionActive.Set(0)
	})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
