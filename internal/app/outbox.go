package app

import (
	"context"
	"sync"

	"github.com/jwalitptl/clinic-api/internal/config"
	internalworker "github.com/jwalitptl/clinic-api/internal/worker"
	"github.com/jwalitptl/clinic-api/pkg/logger"
	"github.com/jwalitptl/clinic-api/pkg/metrics"
	"github.com/jwalitptl/clinic-api/pkg/worker"
)

// RunOutbox starts the outbox processor and the cleanup worker and blocks
// until ctx is cancelled and both have returned.
func RunOutbox(ctx context.Context, cfg config.OutboxConfig, infra *Infra, log *logger.Logger, m *metrics.Metrics) error {
	processor, err := worker.NewOutboxProcessor(infra.Outbox, infra.Broker, worker.OutboxProcessorConfig{
		BatchSize:     cfg.BatchSize,
		PollInterval:  cfg.PollInterval,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay,
		MaxFailures:   cfg.MaxFailures,
		ChannelPrefix: cfg.ChannelPrefix,
	}, log, m)
	if err != nil {
		return err
	}
	cleanup := internalworker.NewOutboxCleanupWorker(infra.Outbox, cfg.Retention, cfg.CleanupInterval, log, m)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()
	wg.Wait()

	return nil
}
