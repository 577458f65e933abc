package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/clinic-api/internal/repository"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
)

// OutboxCleanupWorker deletes published outbox rows past the retention window.
type OutboxCleanupWorker struct {
	repo      repository.OutboxRepository
	retention time.Duration
	interval  time.Duration
	logger    *logger.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewOutboxCleanupWorker(
	repo repository.OutboxRepository,
	retention, interval time.Duration,
	log *logger.Logger,
	m *metrics.Metrics,
) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:      repo,
		retention: retention,
		interval:  interval,
		logger:    log.With("outbox_cleanup"),
		metrics:   m,
		now:       time.Now,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Cleanup(ctx); err != nil {
				w.logger.Error(err, "outbox cleanup failed")
			}
		}
	}
}

func (w *OutboxCleanupWorker) Cleanup(ctx context.Context) (int64, error) {
	cutoff := w.now().Add(-w.retention)

	rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up outbox events: %w", err)
	}

	if rows > 0 {
		w.metrics.OutboxCleaned.Add(float64(rows))
		w.logger.Info("cleaned up outbox events", "count", rows, "cutoff", cutoff.Format(time.RFC3339))
	}
	return rows, nil
}
