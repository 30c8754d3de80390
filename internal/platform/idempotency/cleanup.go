package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Cleaner purges expired records in batches.
type Cleaner struct {
	store     Store
	batchSize int
	clock     func() time.Time
	logger    *zap.Logger

	scheduler gocron.Scheduler
	cancel    context.CancelFunc
}

// NewCleaner constructs a cleaner removing at most batchSize records per run.
func NewCleaner(store Store, batchSize int, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{store: store, batchSize: batchSize, clock: time.Now, logger: logger}
}

// Run performs one purge and reports how many records were removed.
func (c *Cleaner) Run(ctx context.Context) (int, error) {
	if c == nil || c.store == nil {
		return 0, errors.New("idempotency: cleaner not configured")
	}
	removed, err := c.store.CleanupExpired(ctx, c.clock(), c.batchSize)
	if err != nil {
		return 0, err
	}
	c.logger.Info("idempotency cleanup", zap.Int("removed", removed))
	return removed, nil
}

// Start schedules Run every interval until Stop. Overlapping runs are skipped.
func (c *Cleaner) Start(interval time.Duration) error {
	if interval <= 0 {
		return errors.New("idempotency: cleanup interval must be positive")
	}
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if _, err := c.Run(ctx); err != nil {
				c.logger.Warn("idempotency cleanup failed", zap.Error(err))
			}
		}),
		gocron.WithName("idempotency-cleanup"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = scheduler.Shutdown()
		return err
	}
	c.scheduler = scheduler
	c.cancel = cancel
	scheduler.Start()
	return nil
}

// Stop cancels a running purge and shuts the scheduler down.
func (c *Cleaner) Stop() error {
	if c == nil || c.scheduler == nil {
		return nil
	}
	c.cancel()
	return c.scheduler.Shutdown()
}
