package inbound

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/shandysiswandi/courier/internal/pkg/config"
	"github.com/shandysiswandi/courier/internal/pkg/goroutine"
	"github.com/shandysiswandi/courier/internal/shared/event"
)

const (
	// sweeperRetries and sweeperClaims name the maintenance loops in the
	// modules.delivery.worker_names config list.
	sweeperRetries = "sweeper_retries"
	sweeperClaims  = "sweeper_claims"

	defaultPollInterval  = time.Second
	defaultSweepInterval = 30 * time.Second
	defaultBatchSize     = 32
)

// RegisterWorkers starts the queue polling loops and the maintenance
// sweepers. Only workers listed under modules.delivery.worker_names run, so
// deployments can split consuming and sweeping across instances.
func RegisterWorkers(ctx context.Context, cfg config.Config, routine *goroutine.Manager, uc uc) {
	pollInterval := cfg.GetSecond("modules.delivery.poll_interval_seconds")
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	sweepInterval := cfg.GetSecond("modules.delivery.sweep_interval_seconds")
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	batch := cfg.GetInt("modules.delivery.batch_size")
	if batch <= 0 {
		batch = defaultBatchSize
	}

	enabledNames := cfg.GetArray("modules.delivery.worker_names")

	var workers = []struct {
		name     string
		interval time.Duration
		run      func(ctx context.Context) (int, error)
	}{
		{
			name:     event.EmailSendConsumerDelivery,
			interval: pollInterval,
			run: func(ctx context.Context) (int, error) {
				return uc.Consume(ctx, batch)
			},
		},
		{
			name:     event.EmailInboundConsumerDelivery,
			interval: pollInterval,
			run: func(ctx context.Context) (int, error) {
				return uc.ConsumeInbound(ctx, batch)
			},
		},
		{
			name:     sweeperRetries,
			interval: sweepInterval,
			run: func(ctx context.Context) (int, error) {
				return uc.SweepDueRetries(ctx, int32(batch))
			},
		},
		{
			name:     sweeperClaims,
			interval: sweepInterval,
			run: func(ctx context.Context) (int, error) {
				return uc.SweepExpiredClaims(ctx, int32(batch))
			},
		},
	}

	for _, worker := range workers {
		if len(enabledNames) > 0 && slices.Contains(enabledNames, worker.name) {
			routine.Go(ctx, func(pCtx context.Context) error {
				slog.InfoContext(pCtx, "Running job for handling worker", "worker", worker.name)
				return runLoop(pCtx, worker.name, worker.interval, worker.run)
			})
		}
	}
}

// runLoop polls until the context is canceled. Errors are logged and the loop
// keeps going; a broker outage should not take the worker down.
func runLoop(ctx context.Context, name string, interval time.Duration, run func(ctx context.Context) (int, error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := run(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "worker iteration failed", "worker", name, "error", err)
		}

		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "worker stopped", "worker", name)
			return nil
		case <-ticker.C:
		}
	}
}
