package engine

import (
	"context"
	"time"

	"github.com/qlite/qlite/internal/config"
)

// CleanupExpired runs one retention pass and returns the number of affected
// rows.
//
// KeepForever mode only reclaims leases: processing messages whose
// visibility deadline has passed go back to active. This is what eventually
// redelivers messages abandoned by crashed consumers.
//
// Delete mode physically removes messages older than DeleteAfterDays,
// regardless of status, in batches of BatchSize.
func (e *Engine) CleanupExpired(ctx context.Context, rcfg config.RetentionConfig) (int64, error) {
	now := e.now()
	switch rcfg.Mode {
	case config.RetentionDelete:
		days := rcfg.DeleteAfterDays
		if days <= 0 {
			days = 14
		}
		cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
		return e.store.DeleteOlderThan(ctx, cutoff, rcfg.BatchSize)
	default:
		return e.store.ReclaimExpired(ctx, now)
	}
}
