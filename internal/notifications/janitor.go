package notifications

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Janitor deletes resolved order-update notifications older than the retention window.
type Janitor struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	nowFunc   func() time.Time
}

func NewJanitor(store *Store, retention, interval time.Duration, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Janitor{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Run does one pass immediately and then one per interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	j.pass(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.pass(ctx)
		}
	}
}

func (j *Janitor) pass(ctx context.Context) {
	n, err := j.RunOnce(ctx)
	if err != nil {
		j.logger.Error("notification cleanup failed", zap.Error(err))
		return
	}
	j.logger.Info("notification cleanup finished", zap.Int("deleted", n))
}

// RunOnce performs a single cleanup pass and returns how many notifications were deleted.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	resolved, err := j.store.ListResolved(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := j.nowFunc().Add(-j.retention)
	deleted := 0
	for _, n := range resolved {
		if !isCleanupTitle(n.Title) || n.UpdatedAt.After(cutoff) {
			continue
		}
		if err := j.store.Delete(ctx, n.NotificationID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func isCleanupTitle(title string) bool {
	for _, t := range CleanupTitles {
		if t == title {
			return true
		}
	}
	return false
}
