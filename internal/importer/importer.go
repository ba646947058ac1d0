// Package importer periodically feeds catalog images to the scheduler.
package importer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"image-store/internal/config"
	"image-store/internal/domain"
	"image-store/internal/repository/catalog"

	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"
)

// Result counts what one cycle did. Skipped keys are tracked or cooling down
// and are not part of Loaded.
type Result struct {
	Paused    bool
	Loaded    int
	Submitted int
	Rejected  int
	Skipped   int
}

// Importer runs at most one cycle at a time. A cycle older than the
// configured timeout is considered stuck: the next tick cancels it and
// starts a new generation. Only the current generation may clear the
// running marker.
type Importer struct {
	catalog   ImageCatalog
	scheduler JobScheduler
	logger    *zlog.Zerolog

	interval  time.Duration
	timeout   time.Duration
	batchSize int

	mu         sync.Mutex
	running    bool
	generation uint64
	startedAt  time.Time
	cancel     context.CancelFunc

	wg sync.WaitGroup
}

func New(cfg *config.Config, images ImageCatalog, scheduler JobScheduler, logger *zlog.Zerolog) *Importer {
	return &Importer{
		catalog:   images,
		scheduler: scheduler,
		logger:    logger,
		interval:  cfg.Importer.Interval,
		timeout:   cfg.Importer.Timeout,
		batchSize: cfg.Importer.BatchSize,
	}
}

// Run ticks until ctx is done, then cancels the current cycle and waits for
// every started cycle to return.
func (i *Importer) Run(ctx context.Context) {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()

	i.logger.Info().
		Dur("interval", i.interval).
		Dur("timeout", i.timeout).
		Int("batch_size", i.batchSize).
		Msg("Importer started")

	for {
		select {
		case <-ctx.Done():
			i.wg.Wait()
			i.logger.Info().Msg("Importer stopped")
			return
		case <-ticker.C:
			i.wg.Add(1)
			go func() {
				defer i.wg.Done()
				i.tick(ctx)
			}()
		}
	}
}

func (i *Importer) tick(ctx context.Context) {
	res, err := i.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrCycleRunning):
		return
	case errors.Is(err, context.Canceled):
		i.logger.Debug().Msg("Import cycle cancelled")
	case err != nil:
		i.logger.Error().Err(err).Msg("Import cycle failed")
	case res.Submitted > 0 || res.Rejected > 0:
		i.logger.Info().
			Int("loaded", res.Loaded).
			Int("submitted", res.Submitted).
			Int("rejected", res.Rejected).
			Int("skipped", res.Skipped).
			Msg("Import cycle finished")
	}
}

// RunOnce runs one cycle unless a healthy one is already running, in which
// case it returns ErrCycleRunning.
func (i *Importer) RunOnce(ctx context.Context) (Result, error) {
	gen, cycleCtx, ok := i.begin(ctx)
	if !ok {
		return Result{}, ErrCycleRunning
	}
	defer i.finish(gen)

	return i.cycle(cycleCtx)
}

func (i *Importer) begin(ctx context.Context) (uint64, context.Context, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		age := time.Since(i.startedAt)
		if age < i.timeout {
			return 0, nil, false
		}
		i.logger.Warn().
			Uint64("generation", i.generation).
			Dur("age", age).
			Msg("Import cycle stuck, forcing reset")
		i.cancel()
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	i.generation++
	i.running = true
	i.startedAt = time.Now()
	i.cancel = cancel

	return i.generation, cycleCtx, true
}

func (i *Importer) finish(gen uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.generation != gen {
		return
	}
	i.running = false
	i.cancel()
	i.cancel = nil
}

func (i *Importer) cycle(ctx context.Context) (Result, error) {
	if i.scheduler.Status() == domain.QueuePaused {
		return Result{Paused: true}, nil
	}

	var res Result
	// tracked and cooling keys do not count towards the batch
	records, err := i.catalog.ScanImages(ctx, catalog.AnyCamera, i.batchSize, func(key string) bool {
		if i.scheduler.Tracked(key) || i.scheduler.CoolingDown(key) {
			res.Skipped++
			return true
		}
		return false
	})
	if err != nil {
		return Result{}, err
	}

	res.Loaded = len(records)
	var submitted, rejected atomic.Int64
	var g errgroup.Group

	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		job := domain.QueueJob{
			Key:      rec.Key,
			Pathname: rec.Path,
			Camera:   rec.Camera,
			Format:   rec.Format,
		}
		if date, err := domain.EventTime(rec.EventID); err == nil {
			job.Date = date
		} else {
			i.logger.Debug().Err(err).Str("key", rec.Key).Msg("Record has no usable event id")
		}

		g.Go(func() error {
			if err := i.scheduler.QueueJob(ctx, job); err != nil {
				rejected.Add(1)
				i.logger.Warn().Err(err).Str("key", job.Key).Msg("Job rejected")
				return nil
			}
			submitted.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Submitted = int(submitted.Load())
	res.Rejected = int(rejected.Load())

	return res, ctx.Err()
}
