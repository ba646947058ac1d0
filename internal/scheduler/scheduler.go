// Package scheduler turns catalog images into thumbnail jobs for the
// external processor. Admission is advisory (see Status), dispatch is
// bounded by MaxThreads.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"image-store/internal/cache"
	"image-store/internal/config"
	"image-store/internal/domain"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

// NamespaceFailedJobs holds keys whose last dispatch failed.
const NamespaceFailedJobs = "failed-jobs"

type Scheduler struct {
	client    *http.Client
	url       string
	retries   retry.Strategy
	cooldown  time.Duration
	photos    PhotoStore
	catalog   ImageCatalog
	publisher Publisher
	failures  *cache.Cache
	logger    *zlog.Zerolog

	maxThreads int
	maxQueue   int

	mu       sync.Mutex
	queue    []domain.QueueJob
	pending  int
	inFlight int
	tracked  map[string]struct{}
	stopped  bool

	wg sync.WaitGroup
}

func New(
	cfg *config.Config,
	client *http.Client,
	photos PhotoStore,
	catalog ImageCatalog,
	failures *cache.Cache,
	logger *zlog.Zerolog,
) *Scheduler {
	return &Scheduler{
		client:     client,
		url:        cfg.ProcessorURL(),
		retries:    cfg.ProcessorRetryStrategy(),
		cooldown:   cfg.Processor.FailureCooldown,
		photos:     photos,
		catalog:    catalog,
		failures:   failures,
		logger:     logger,
		maxThreads: cfg.Scheduler.MaxThreads,
		maxQueue:   cfg.Scheduler.MaxQueue,
		tracked:    make(map[string]struct{}),
	}
}

// SetPublisher enables photo-created events. Call before the first job.
func (s *Scheduler) SetPublisher(p Publisher) {
	s.publisher = p
}

// QueueJob validates job and appends it to the work queue. Every violation
// is reported, not only the first. The job counts as pending while it is
// being validated; a dispatch check runs afterwards whatever the outcome.
// QueueJob accepts jobs even when Status is QueuePaused.
func (s *Scheduler) QueueJob(ctx context.Context, job domain.QueueJob) (err error) {
	s.mu.Lock()
	if job.Key != "" {
		if _, ok := s.tracked[job.Key]; ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrJobAlreadyTracked, job.Key)
		}
		s.tracked[job.Key] = struct{}{}
	}
	s.pending++
	s.mu.Unlock()

	accepted := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("key", job.Key).Msg("Panic recovered while validating job")
			err = fmt.Errorf("%w: panic: %v", ErrInvalidJob, r)
			accepted = false
		}

		s.mu.Lock()
		s.pending--
		if accepted {
			s.queue = append(s.queue, job)
		} else if job.Key != "" {
			delete(s.tracked, job.Key)
		}
		s.mu.Unlock()

		s.checkQueue()
	}()

	if violations := s.validate(ctx, job); len(violations) > 0 {
		return &ValidationError{Key: job.Key, Violations: violations}
	}

	accepted = true
	s.logger.Debug().Str("key", job.Key).Str("camera", job.Camera).Msg("Job queued")
	return nil
}

func (s *Scheduler) validate(ctx context.Context, job domain.QueueJob) []string {
	var violations []string

	if job.Pathname == "" {
		violations = append(violations, "pathname not specified")
	} else if info, err := os.Stat(job.Pathname); err != nil || !info.Mode().IsRegular() {
		violations = append(violations, fmt.Sprintf("file %q does not exist or is not a regular file", job.Pathname))
	}

	if job.Camera == "" {
		violations = append(violations, "camera not specified")
	} else {
		exists, err := s.photos.CameraExists(ctx, job.Camera)
		switch {
		case err != nil:
			violations = append(violations, fmt.Sprintf("camera %q could not be checked: %v", job.Camera, err))
		case !exists:
			violations = append(violations, fmt.Sprintf("camera %q unknown", job.Camera))
		}
	}

	if job.Date.IsZero() {
		violations = append(violations, "image date not specified")
	}

	return violations
}

// checkQueue starts queued jobs until MaxThreads are in flight.
func (s *Scheduler) checkQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.stopped && len(s.queue) > 0 && s.inFlight < s.maxThreads {
		job := s.queue[0]
		s.queue[0] = domain.QueueJob{}
		s.queue = s.queue[1:]
		s.inFlight++

		s.wg.Add(1)
		go s.run(job)
	}
}

func (s *Scheduler) run(job domain.QueueJob) {
	start := time.Now()

	err := s.safeDispatch(job)
	if err != nil {
		if s.cooldown > 0 && job.Key != "" {
			s.failures.SetWithTTL(NamespaceFailedJobs, job.Key, err.Error(), s.cooldown)
		}
		s.logger.Warn().
			Err(err).
			Str("key", job.Key).
			Str("pathname", job.Pathname).
			Dur("cooldown", s.cooldown).
			Msg("Thumbnail job failed, image stays in catalog")
	} else {
		s.logger.Info().
			Str("key", job.Key).
			Str("camera", job.Camera).
			Dur("duration", time.Since(start)).
			Msg("Thumbnail job completed")
	}

	s.mu.Lock()
	s.inFlight--
	delete(s.tracked, job.Key)
	s.mu.Unlock()

	// refill before Done so Wait never sees a transient zero
	s.checkQueue()
	s.wg.Done()
}

func (s *Scheduler) safeDispatch(job domain.QueueJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("key", job.Key).
				Msg("Panic recovered while dispatching job")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.dispatch(context.Background(), job)
}

func (s *Scheduler) dispatch(ctx context.Context, job domain.QueueJob) error {
	specs, err := s.photos.ThumbnailSpecs()
	if err != nil {
		return fmt.Errorf("failed to get thumbnail specs: %w", err)
	}
	if len(specs) == 0 {
		return ErrNoThumbnailSpecs
	}

	mediaType, err := s.mediaType(job)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	req := domain.JobRequest{Pathname: job.Pathname, Commands: make([]domain.JobCommand, 0, len(names))}
	for _, name := range names {
		req.Commands = append(req.Commands, specs[name].Command())
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	resp, err := s.post(ctx, body)
	if err != nil {
		return err
	}

	p := domain.Photo{
		Camera:    job.Camera,
		MediaType: mediaType,
		Filename:  resp.Pathname,
		Date:      job.Date,
	}
	if p.Filename == "" {
		p.Filename = job.Pathname
	}
	thumbnails := make([]string, 0, len(resp.Commands))
	for _, cmd := range resp.Commands {
		filename := filepath.Join(resp.OutputDir, cmd.Filename)
		p.Thumbnails = append(p.Thumbnails, domain.Thumbnail{Spec: cmd.SpecName, Filename: filename})
		thumbnails = append(thumbnails, filename)
	}

	id, err := s.photos.CreatePhoto(ctx, p)
	if err != nil {
		return fmt.Errorf("failed to create photo: %w", err)
	}

	if err := s.catalog.RemoveImage(ctx, job.Key); err != nil {
		s.logger.Error().Err(err).Int64("photo_id", id).Str("key", job.Key).Msg("Photo created but catalog record kept")
		return fmt.Errorf("failed to remove %s from catalog: %w", job.Key, err)
	}

	if s.publisher != nil {
		event := domain.PhotoCreated{
			PhotoID:    id,
			Camera:     p.Camera,
			Filename:   p.Filename,
			Date:       p.Date,
			Thumbnails: thumbnails,
		}
		if err := s.publisher.PublishPhotoCreated(ctx, event); err != nil {
			s.logger.Error().Err(err).Int64("photo_id", id).Msg("Failed to publish photo event")
		}
	}

	return nil
}

// mediaType resolves the job's format, or the pathname extension when the
// format is unset, to a bootstrapped MIME type.
func (s *Scheduler) mediaType(job domain.QueueJob) (string, error) {
	ext := job.Format
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(job.Pathname), ".")
	}
	if ext == "" {
		return domain.DefaultMediaType, nil
	}
	mt, err := s.photos.MediaTypeByExtension(ext)
	if err != nil {
		return "", fmt.Errorf("failed to resolve media type of %s: %w", job.Pathname, err)
	}
	return mt.TypeName, nil
}

// post sends one job. Only transport failures are retried; a response with
// a status other than 200 is final.
func (s *Scheduler) post(ctx context.Context, body []byte) (*domain.JobResponse, error) {
	var (
		out   *domain.JobResponse
		final error
	)

	err := retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			final = fmt.Errorf("failed to build request: %w", err)
			return nil
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		res, err := s.client.Do(req)
		if err != nil {
			s.logger.Debug().Err(err).Str("url", s.url).Msg("Processor request failed")
			return err
		}
		defer res.Body.Close()

		if res.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
			final = fmt.Errorf("%w: status %d", ErrProcessorStatus, res.StatusCode)
			return nil
		}

		var jr domain.JobResponse
		if err := json.NewDecoder(res.Body).Decode(&jr); err != nil {
			final = fmt.Errorf("failed to decode processor response: %w", err)
			return nil
		}
		out = &jr
		return nil
	}, s.retries)
	if err != nil {
		return nil, fmt.Errorf("processor unreachable: %w", err)
	}
	if final != nil {
		return nil, final
	}
	return out, nil
}

// Status reports QueuePaused once queued plus pending jobs reach MaxQueue.
func (s *Scheduler) Status() domain.QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Scheduler) statusLocked() domain.QueueStatus {
	if len(s.queue)+s.pending >= s.maxQueue {
		return domain.QueuePaused
	}
	return domain.QueueOpen
}

func (s *Scheduler) Stats() domain.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.QueueStats{
		Status:     s.statusLocked(),
		Queued:     len(s.queue),
		Pending:    s.pending,
		InFlight:   s.inFlight,
		MaxThreads: s.maxThreads,
		MaxQueue:   s.maxQueue,
	}
}

// Tracked reports whether key is pending, queued or in flight.
func (s *Scheduler) Tracked(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[key]
	return ok
}

// CoolingDown reports whether key failed recently.
func (s *Scheduler) CoolingDown(key string) bool {
	_, ok := s.failures.Get(NamespaceFailedJobs, key)
	return ok
}

// Stop prevents further dispatches. Queued jobs are dropped; their images
// stay in the catalog.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if n := len(s.queue); n > 0 {
		s.logger.Info().Int("dropped", n).Msg("Scheduler stopped with queued jobs")
	}
	for _, job := range s.queue {
		delete(s.tracked, job.Key)
	}
	s.queue = nil
}

// Wait blocks until in-flight jobs finish or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
