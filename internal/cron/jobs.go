package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flemzord/reddichat/internal/storage"
	"github.com/flemzord/reddichat/internal/store"
)

// AttachmentStore is the subset of store.Store needed to purge orphans.
type AttachmentStore interface {
	OrphanedAttachments(ctx context.Context, cutoff time.Time, limit int) ([]store.Attachment, error)
	DeleteAttachment(ctx context.Context, id string) error
}

// ObjectDeleter removes stored objects.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// PurgeCounter counts purged attachments. *telemetry.Metrics satisfies it.
type PurgeCounter interface {
	AttachmentsPurged(n int)
}

// AttachmentCleanupJob deletes attachments that were uploaded but never
// linked to a message once they are older than TTL. The object goes
// first so a failure leaves the row for the next tick.
type AttachmentCleanupJob struct {
	Store        AttachmentStore
	Storage      ObjectDeleter // nil when uploads are disabled
	TTL          time.Duration // default 24h
	BatchSize    int           // default 100
	Metrics      PurgeCounter  // optional
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "17 * * * *"
	Now          func() time.Time
}

// Compile-time interface check.
var _ Job = (*AttachmentCleanupJob)(nil)

// Name implements Job.
func (j *AttachmentCleanupJob) Name() string { return "attachment_cleanup" }

// Schedule implements Job.
func (j *AttachmentCleanupJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "17 * * * *"
}

// Run purges one batch of orphans.
func (j *AttachmentCleanupJob) Run(ctx context.Context) error {
	ttl := j.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	batch := j.BatchSize
	if batch <= 0 {
		batch = 100
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}

	orphans, err := j.Store.OrphanedAttachments(ctx, now().Add(-ttl), batch)
	if err != nil {
		return fmt.Errorf("cron: list orphaned attachments: %w", err)
	}

	var errs []error
	purged := 0
	for _, a := range orphans {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if j.Storage != nil && a.Key != "" {
			if err := j.Storage.Delete(ctx, a.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
				errs = append(errs, fmt.Errorf("delete object %s: %w", a.Key, err))
				continue
			}
		}
		if err := j.Store.DeleteAttachment(ctx, a.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete attachment %s: %w", a.ID, err))
			continue
		}
		purged++
	}

	if purged > 0 {
		if j.Metrics != nil {
			j.Metrics.AttachmentsPurged(purged)
		}
		j.Logger.Info("cron: purged orphaned attachments", "count", purged)
	}
	if len(errs) > 0 {
		return fmt.Errorf("cron: attachment cleanup: %w", errors.Join(errs...))
	}
	return nil
}

// Sweeper drops idle rate limiter buckets. *security.RateLimiter
// satisfies it.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// RateLimitSweepJob keeps the rate limiter from growing with every user
// and address ever seen.
type RateLimitSweepJob struct {
	Limiter      Sweeper
	Idle         time.Duration // default 10m
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/5 * * * *"
}

// Compile-time interface check.
var _ Job = (*RateLimitSweepJob)(nil)

// Name implements Job.
func (j *RateLimitSweepJob) Name() string { return "ratelimit_sweep" }

// Schedule implements Job.
func (j *RateLimitSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/5 * * * *"
}

// Run removes buckets idle longer than Idle.
func (j *RateLimitSweepJob) Run(_ context.Context) error {
	idle := j.Idle
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	if n := j.Limiter.Sweep(idle); n > 0 {
		j.Logger.Debug("cron: swept idle rate limit buckets", "count", n)
	}
	return nil
}
