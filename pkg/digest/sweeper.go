package digest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// FlushHandler receives every bucket flushed by a Sweeper.
type FlushHandler func(ctx context.Context, bucket *Bucket) error

// Sweeper periodically consumes closed buckets so windows nobody reads get flushed.
type Sweeper struct {
	batcher *Batcher
	handler FlushHandler
	spec    string
	logger  *slog.Logger
	cron    *cron.Cron
	mutex   sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewSweeper creates a sweeper running on the given cron spec (for example "@every 1m").
func NewSweeper(batcher *Batcher, spec string, handler FlushHandler, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		batcher: batcher,
		handler: handler,
		spec:    spec,
		logger:  logger.With("module", "digest_sweeper"),
	}
}

// Start schedules the sweep job.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cron != nil {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := s.cron.AddFunc(s.spec, s.Sweep); err != nil {
		s.cron = nil
		s.cancel()

		return fmt.Errorf("invalid sweep schedule '%s': %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("Digest sweeper started", "schedule", s.spec)

	return nil
}

// Sweep flushes every closed bucket once.
func (s *Sweeper) Sweep() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	flushed, err := s.batcher.ConsumeClosed(ctx, s.handler)
	if err != nil {
		s.logger.Error("Digest sweep failed", "error", err)

		return
	}

	if flushed > 0 {
		s.logger.Info("Digest sweep flushed buckets", "count", flushed)
	}
}

// Stop halts the sweep job and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
	s.cancel()
	s.cron = nil

	s.logger.Info("Digest sweeper stopped")
}
