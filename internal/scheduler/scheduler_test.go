package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"image-store/internal/cache"
	"image-store/internal/config"
	"image-store/internal/domain"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"
)

const jobURL = "http://imageprocessor:80/job"

type fakePhotos struct {
	mu        sync.Mutex
	cameras   map[string]bool
	cameraErr error
	specs     map[string]domain.ThumbnailSpec
	types     map[string]string
	created   []domain.Photo
	nextID    int64
}

func (f *fakePhotos) CameraExists(_ context.Context, name string) (bool, error) {
	if f.cameraErr != nil {
		return false, f.cameraErr
	}
	return f.cameras[name], nil
}

func (f *fakePhotos) CreatePhoto(_ context.Context, p domain.Photo) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.created = append(f.created, p)
	return f.nextID, nil
}

func (f *fakePhotos) ThumbnailSpecs() (map[string]domain.ThumbnailSpec, error) {
	out := make(map[string]domain.ThumbnailSpec, len(f.specs))
	for k, v := range f.specs {
		out[k] = v.Clone()
	}
	return out, nil
}

func (f *fakePhotos) MediaTypeByExtension(ext string) (domain.MediaType, error) {
	name, ok := f.types[ext]
	if !ok {
		return domain.MediaType{}, fmt.Errorf("unknown extension %q", ext)
	}
	return domain.MediaType{TypeName: name, Extension: ext}, nil
}

func (f *fakePhotos) photos() []domain.Photo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Photo(nil), f.created...)
}

type fakeCatalog struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeCatalog) RemoveImage(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, key)
	return nil
}

func (f *fakeCatalog) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removed...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.PhotoCreated
}

func (f *fakePublisher) PublishPhotoCreated(_ context.Context, e domain.PhotoCreated) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

type fixture struct {
	scheduler *Scheduler
	transport *httpmock.MockTransport
	photos    *fakePhotos
	catalog   *fakeCatalog
	dir       string
}

func newFixture(t *testing.T, maxThreads, maxQueue, attempts int) *fixture {
	t.Helper()

	cfg := &config.Config{
		Processor: config.ProcessorConfig{
			Host:            "imageprocessor",
			Port:            80,
			JobPath:         "/job",
			RetryAttempts:   attempts,
			FailureCooldown: time.Minute,
		},
		Scheduler: config.SchedulerConfig{MaxThreads: maxThreads, MaxQueue: maxQueue},
		Retry:     config.RetryConfig{Attempts: 1, Delay: time.Millisecond, Backoff: 1},
	}

	transport := httpmock.NewMockTransport()
	photos := &fakePhotos{
		cameras: map[string]bool{"front-door": true, "garage": true},
		specs: map[string]domain.ThumbnailSpec{
			"small": {ID: 1, Name: "small", Params: map[string]any{"size": 200}},
		},
		types: map[string]string{"jpg": "image/jpeg", "png": "image/png"},
	}
	catalog := &fakeCatalog{}
	logger := zlog.Zerolog{}

	s := New(cfg, &http.Client{Transport: transport}, photos, catalog, cache.New(time.Minute), &logger)

	return &fixture{
		scheduler: s,
		transport: transport,
		photos:    photos,
		catalog:   catalog,
		dir:       t.TempDir(),
	}
}

func (f *fixture) job(t *testing.T, key string) domain.QueueJob {
	t.Helper()
	path := filepath.Join(f.dir, key+".jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))
	return domain.QueueJob{
		Key:      key,
		Pathname: path,
		Camera:   "front-door",
		Date:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		st := f.scheduler.Stats()
		return st.InFlight == 0 && st.Queued == 0 && st.Pending == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func okResponse(req *http.Request) (*http.Response, error) {
	var jr domain.JobRequest
	if err := json.NewDecoder(req.Body).Decode(&jr); err != nil {
		return httpmock.NewStringResponse(http.StatusBadRequest, err.Error()), nil
	}
	return httpmock.NewJsonResponse(http.StatusOK, domain.JobResponse{
		Pathname:  jr.Pathname,
		OutputDir: "/out",
		Commands:  []domain.JobResult{{Filename: "t1.jpg", SpecName: "small"}},
	})
}

func TestQueueJobCollectsAllViolations(t *testing.T) {
	f := newFixture(t, 1, 10, 1)

	err := f.scheduler.QueueJob(context.Background(), domain.QueueJob{
		Key:      "image:meta:attic:1",
		Pathname: filepath.Join(f.dir, "missing.jpg"),
		Camera:   "attic",
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, ErrInvalidJob)
	assert.Len(t, verr.Violations, 3)

	st := f.scheduler.Stats()
	assert.Zero(t, st.Pending)
	assert.Zero(t, st.Queued)
	assert.False(t, f.scheduler.Tracked("image:meta:attic:1"))
	assert.Zero(t, f.transport.GetTotalCallCount())
}

func TestQueueJobRejectsDirectoryAndEmptyFields(t *testing.T) {
	f := newFixture(t, 1, 10, 1)
	ctx := context.Background()

	err := f.scheduler.QueueJob(ctx, domain.QueueJob{Key: "a", Pathname: f.dir, Camera: "garage", Date: time.Now()})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 1)

	err = f.scheduler.QueueJob(ctx, domain.QueueJob{Key: "b"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"pathname not specified", "camera not specified", "image date not specified"}, verr.Violations)
}

func TestQueueJobCameraLookupFailureIsViolation(t *testing.T) {
	f := newFixture(t, 1, 10, 1)
	f.photos.cameraErr = errors.New("db down")

	err := f.scheduler.QueueJob(context.Background(), f.job(t, "k"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Contains(t, verr.Violations[0], "db down")
}

func TestStatus(t *testing.T) {
	tests := []struct {
		queued, pending, maxQueue int
		want                      domain.QueueStatus
	}{
		{0, 0, 1, domain.QueueOpen},
		{0, 0, 0, domain.QueuePaused},
		{3, 1, 5, domain.QueueOpen},
		{3, 2, 5, domain.QueuePaused},
		{5, 0, 5, domain.QueuePaused},
		{0, 5, 5, domain.QueuePaused},
		{7, 3, 5, domain.QueuePaused},
		{2, 0, 20, domain.QueueOpen},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d+%d/%d", tt.queued, tt.pending, tt.maxQueue), func(t *testing.T) {
			f := newFixture(t, 1, tt.maxQueue, 1)
			f.scheduler.queue = make([]domain.QueueJob, tt.queued)
			f.scheduler.pending = tt.pending

			assert.Equal(t, tt.want, f.scheduler.Status())
		})
	}
}

func TestDispatchSuccess(t *testing.T) {
	f := newFixture(t, 2, 10, 1)
	pub := &fakePublisher{}
	f.scheduler.SetPublisher(pub)

	var got domain.JobRequest
	f.transport.RegisterResponder(http.MethodPost, jobURL, func(req *http.Request) (*http.Response, error) {
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			return nil, err
		}
		return httpmock.NewJsonResponse(http.StatusOK, domain.JobResponse{
			Pathname:  got.Pathname,
			OutputDir: "/out",
			Commands:  []domain.JobResult{{Filename: "t1.jpg", SpecName: "small"}},
		})
	})

	job := f.job(t, "image:meta:front-door:abc")
	require.NoError(t, f.scheduler.QueueJob(context.Background(), job))
	f.waitIdle(t)

	assert.Equal(t, job.Pathname, got.Pathname)
	require.Len(t, got.Commands, 1)
	assert.Equal(t, "small", got.Commands[0][domain.CommandFilename])
	assert.EqualValues(t, 200, got.Commands[0]["size"])

	photos := f.photos.photos()
	require.Len(t, photos, 1)
	assert.Equal(t, "front-door", photos[0].Camera)
	assert.Equal(t, job.Date, photos[0].Date)
	assert.Equal(t, job.Pathname, photos[0].Filename)
	assert.Equal(t, "image/jpeg", photos[0].MediaType)
	assert.Equal(t, []domain.Thumbnail{{Spec: "small", Filename: "/out/t1.jpg"}}, photos[0].Thumbnails)

	assert.Equal(t, []string{job.Key}, f.catalog.keys())
	require.Len(t, pub.events, 1)
	assert.Equal(t, []string{"/out/t1.jpg"}, pub.events[0].Thumbnails)

	assert.False(t, f.scheduler.Tracked(job.Key))
	assert.False(t, f.scheduler.CoolingDown(job.Key))
}

func TestDispatchRecordsMediaTypeOfFormat(t *testing.T) {
	f := newFixture(t, 1, 10, 1)
	f.transport.RegisterResponder(http.MethodPost, jobURL, okResponse)

	path := filepath.Join(f.dir, "1700000000000-0.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o644))
	png := domain.QueueJob{Key: "png", Pathname: path, Camera: "garage", Format: "png", Date: time.Now()}
	require.NoError(t, f.scheduler.QueueJob(context.Background(), png))
	f.waitIdle(t)

	bmp := f.job(t, "bmp")
	bmp.Format = "bmp"
	require.NoError(t, f.scheduler.QueueJob(context.Background(), bmp))
	f.waitIdle(t)

	photos := f.photos.photos()
	require.Len(t, photos, 1)
	assert.Equal(t, "image/png", photos[0].MediaType)

	// unknown formats fail before the processor is called
	assert.Equal(t, 1, f.transport.GetTotalCallCount())
	assert.True(t, f.scheduler.CoolingDown("bmp"))
	assert.Equal(t, []string{"png"}, f.catalog.keys())
}

func TestDispatchNon200KeepsImageAndFreesSlot(t *testing.T) {
	f := newFixture(t, 1, 10, 1)

	bad := f.job(t, "bad")
	f.transport.RegisterResponder(http.MethodPost, jobURL, func(req *http.Request) (*http.Response, error) {
		var jr domain.JobRequest
		if err := json.NewDecoder(req.Body).Decode(&jr); err != nil {
			return nil, err
		}
		if jr.Pathname == bad.Pathname {
			return httpmock.NewStringResponse(http.StatusInternalServerError, "boom"), nil
		}
		return httpmock.NewJsonResponse(http.StatusOK, domain.JobResponse{
			Pathname:  jr.Pathname,
			OutputDir: "/out",
			Commands:  []domain.JobResult{{Filename: "t1.jpg", SpecName: "small"}},
		})
	})

	require.NoError(t, f.scheduler.QueueJob(context.Background(), bad))
	f.waitIdle(t)

	assert.Empty(t, f.photos.photos())
	assert.Empty(t, f.catalog.keys())
	assert.True(t, f.scheduler.CoolingDown("bad"))
	assert.False(t, f.scheduler.Tracked("bad"))

	good := f.job(t, "good")
	require.NoError(t, f.scheduler.QueueJob(context.Background(), good))
	f.waitIdle(t)

	assert.Len(t, f.photos.photos(), 1)
	assert.Equal(t, []string{"good"}, f.catalog.keys())
}

func TestDispatchRetriesTransportFailure(t *testing.T) {
	f := newFixture(t, 1, 10, 2)

	var calls atomic.Int32
	f.transport.RegisterResponder(http.MethodPost, jobURL, func(req *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection reset")
		}
		return okResponse(req)
	})

	require.NoError(t, f.scheduler.QueueJob(context.Background(), f.job(t, "k")))
	f.waitIdle(t)

	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, f.photos.photos(), 1)
	assert.False(t, f.scheduler.CoolingDown("k"))
}

func TestDispatchTransportFailureWithoutRetry(t *testing.T) {
	f := newFixture(t, 1, 10, 1)
	f.transport.RegisterResponder(http.MethodPost, jobURL, httpmock.NewErrorResponder(errors.New("no route to host")))

	require.NoError(t, f.scheduler.QueueJob(context.Background(), f.job(t, "k")))
	f.waitIdle(t)

	assert.Equal(t, 1, f.transport.GetTotalCallCount())
	assert.Empty(t, f.photos.photos())
	assert.Empty(t, f.catalog.keys())
	assert.True(t, f.scheduler.CoolingDown("k"))
}

func TestCheckQueueNeverExceedsMaxThreads(t *testing.T) {
	const maxThreads = 2
	f := newFixture(t, maxThreads, 100, 1)

	var current, peak atomic.Int32
	release := make(chan struct{})
	f.transport.RegisterResponder(http.MethodPost, jobURL, func(req *http.Request) (*http.Response, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		current.Add(-1)
		return okResponse(req)
	})

	for i := range 6 {
		require.NoError(t, f.scheduler.QueueJob(context.Background(), f.job(t, fmt.Sprintf("k%d", i))))
	}

	require.Eventually(t, func() bool { return current.Load() == maxThreads }, time.Second, 5*time.Millisecond)
	st := f.scheduler.Stats()
	assert.Equal(t, maxThreads, st.InFlight)
	assert.Equal(t, 4, st.Queued)

	close(release)
	f.waitIdle(t)

	assert.LessOrEqual(t, peak.Load(), int32(maxThreads))
	assert.Len(t, f.photos.photos(), 6)
}

func TestQueueJobRejectsTrackedKey(t *testing.T) {
	f := newFixture(t, 1, 10, 1)

	release := make(chan struct{})
	f.transport.RegisterResponder(http.MethodPost, jobURL, func(req *http.Request) (*http.Response, error) {
		<-release
		return okResponse(req)
	})

	job := f.job(t, "dup")
	require.NoError(t, f.scheduler.QueueJob(context.Background(), job))
	assert.True(t, f.scheduler.Tracked("dup"))
	assert.ErrorIs(t, f.scheduler.QueueJob(context.Background(), job), ErrJobAlreadyTracked)

	close(release)
	f.waitIdle(t)
	assert.Len(t, f.photos.photos(), 1)
}

func TestStopAndWait(t *testing.T) {
	f := newFixture(t, 1, 10, 1)

	release := make(chan struct{})
	f.transport.RegisterResponder(http.MethodPost, jobURL, func(req *http.Request) (*http.Response, error) {
		<-release
		return okResponse(req)
	})

	require.NoError(t, f.scheduler.QueueJob(context.Background(), f.job(t, "first")))
	require.NoError(t, f.scheduler.QueueJob(context.Background(), f.job(t, "second")))
	assert.Equal(t, 1, f.scheduler.Stats().Queued)

	f.scheduler.Stop()
	assert.Zero(t, f.scheduler.Stats().Queued)
	assert.False(t, f.scheduler.Tracked("second"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.scheduler.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, f.scheduler.Wait(context.Background()))
	assert.Equal(t, 1, f.transport.GetTotalCallCount())
	assert.Equal(t, []string{"first"}, f.catalog.keys())
}
