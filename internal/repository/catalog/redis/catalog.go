package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"image-store/internal/config"
	"image-store/internal/domain"
	"image-store/internal/repository/catalog"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/zlog"
)

const keySuffixLength = 16

// Catalog stores uploaded images on disk and tracks them in Redis: one
// ordered stream per camera plus one metadata hash per image.
//
// Key generation checks EXISTS before use. Two writers for the same camera
// could in theory pick the same suffix between the check and the HSET; with
// a single writer per camera and 16 random hex characters this is accepted.
type Catalog struct {
	client *goredis.Client
	cfg    *config.Config
	logger *zlog.Zerolog

	mu   sync.Mutex
	dirs map[string]struct{}
}

func NewCatalog(client *goredis.Client, cfg *config.Config, logger *zlog.Zerolog) *Catalog {
	return &Catalog{
		client: client,
		cfg:    cfg,
		logger: logger,
		dirs:   make(map[string]struct{}),
	}
}

func (c *Catalog) StoreImage(ctx context.Context, meta domain.UploadMetadata, data []byte) (*domain.ImageRecord, error) {
	if meta.Camera == "" {
		return nil, catalog.ErrCameraRequired
	}
	format := meta.Format
	if format == "" {
		format = c.cfg.Catalog.DefaultFormat
	}

	dir, err := c.cameraDir(meta.Camera)
	if err != nil {
		return nil, err
	}

	key, err := c.newMetadataKey(ctx, meta.Camera)
	if err != nil {
		return nil, err
	}

	stream := catalog.StreamKey(meta.Camera)
	eventID, err := c.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		Values: []any{catalog.FieldVersion, meta.Version, catalog.FieldStreamMetadata, key},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to append to %s: %w", stream, err)
	}

	if err := c.ensureDir(dir); err != nil {
		return nil, err
	}

	filename := eventID + "." + format
	path := filepath.Join(dir, filename)
	if err := writeFileSync(path, data); err != nil {
		return nil, fmt.Errorf("failed to write image %s: %w", path, err)
	}

	rec := &domain.ImageRecord{
		Key:      key,
		Camera:   meta.Camera,
		Version:  meta.Version,
		Format:   format,
		Stream:   stream,
		EventID:  eventID,
		Path:     path,
		Filename: filename,
	}
	if err := c.client.HSet(ctx, key, catalog.Fields(rec)...).Err(); err != nil {
		return nil, fmt.Errorf("failed to save metadata %s: %w", key, err)
	}

	c.logger.Debug().
		Str("key", key).
		Str("camera", meta.Camera).
		Str("event", eventID).
		Int("size", len(data)).
		Msg("Image stored")

	return rec, nil
}

func (c *Catalog) LoadImage(ctx context.Context, key string) (*domain.ImageRecord, error) {
	h, err := c.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", key, err)
	}
	return catalog.RecordFromHash(key, h)
}

// LoadImages scans metadata keys for camera ("" or "*" for any) and returns
// at most limit valid records. A non-positive limit means the scheduler's
// maximum queue depth.
func (c *Catalog) LoadImages(ctx context.Context, camera string, limit int) ([]domain.ImageRecord, error) {
	return c.ScanImages(ctx, camera, limit, nil)
}

// ScanImages is LoadImages with a filter: keys for which skip returns true
// are passed over without being loaded and do not count towards limit.
func (c *Catalog) ScanImages(ctx context.Context, camera string, limit int, skip func(key string) bool) ([]domain.ImageRecord, error) {
	if limit <= 0 {
		limit = c.cfg.Scheduler.MaxQueue
	}

	var (
		records []domain.ImageRecord
		cursor  uint64
		seen    = make(map[string]struct{})
		pattern = catalog.MetaPattern(camera)
	)

	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, c.cfg.Catalog.ScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
		}

		for _, key := range keys {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			if skip != nil && skip(key) {
				continue
			}

			rec, err := c.LoadImage(ctx, key)
			if errors.Is(err, catalog.ErrInvalidRecord) || errors.Is(err, catalog.ErrImageNotFound) {
				c.logger.Debug().Err(err).Str("key", key).Msg("Skipping metadata key")
				continue
			}
			if err != nil {
				return nil, err
			}

			records = append(records, *rec)
			if len(records) >= limit {
				return records, nil
			}
		}

		cursor = next
		if cursor == 0 {
			return records, nil
		}
	}
}

// RemoveImage deletes the metadata record. The image file is left in place.
func (c *Catalog) RemoveImage(ctx context.Context, key string) error {
	n, err := c.client.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", catalog.ErrImageNotFound, key)
	}
	return nil
}

// Cameras lists every camera that has an event stream.
func (c *Catalog) Cameras(ctx context.Context) ([]string, error) {
	var (
		cameras []string
		cursor  uint64
		seen    = make(map[string]struct{})
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, catalog.StreamPrefix+"*", c.cfg.Catalog.ScanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan streams: %w", err)
		}
		for _, key := range keys {
			name := strings.TrimPrefix(key, catalog.StreamPrefix)
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				cameras = append(cameras, name)
			}
		}
		cursor = next
		if cursor == 0 {
			return cameras, nil
		}
	}
}

func (c *Catalog) newMetadataKey(ctx context.Context, camera string) (string, error) {
	for {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:keySuffixLength]
		key := catalog.MetadataKey(camera, suffix)

		n, err := c.client.Exists(ctx, key).Result()
		if err != nil {
			return "", fmt.Errorf("failed to check key %s: %w", key, err)
		}
		if n == 0 {
			return key, nil
		}
		c.logger.Warn().Str("key", key).Msg("Metadata key collision, regenerating")
	}
}

// cameraDir returns the image directory of camera, which must be a direct
// child of the images path.
func (c *Catalog) cameraDir(camera string) (string, error) {
	root := filepath.Clean(c.cfg.Catalog.ImagesPath)
	dir := filepath.Join(root, camera)
	if filepath.Dir(dir) != root {
		return "", fmt.Errorf("%w: %q", catalog.ErrInvalidCamera, camera)
	}
	return dir, nil
}

func (c *Catalog) ensureDir(dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.dirs[dir]; ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	c.dirs[dir] = struct{}{}
	return nil
}

func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if _, err = f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
