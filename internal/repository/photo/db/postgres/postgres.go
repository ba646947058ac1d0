package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"image-store/internal/cache"
	"image-store/internal/domain"
	"image-store/internal/repository/photo"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
	"golang.org/x/sync/errgroup"
)

// NamespaceCameraExists holds CameraExists answers.
const NamespaceCameraExists = "camera-exists"

const (
	querySchemaVersion = `SELECT config_value FROM config WHERE config_name = $1`
	queryMediaTypes    = `SELECT id, type_name, extension FROM mediatype`
	queryTags          = `SELECT id, tag_name, service_tag, descr FROM tag`
	queryCameras       = `SELECT id, name, descr FROM camera`
	queryCameraTags    = `SELECT camera, tag FROM tag_camera`
	querySpecs         = `SELECT id, name, descr, spec FROM thumbnail_spec`
	queryCameraExists  = `SELECT EXISTS(SELECT 1 FROM camera WHERE name = $1)`

	insertPhoto = `
		INSERT INTO photo (camera, mediatype, filename, photo_dt)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	insertThumbnail = `INSERT INTO thumbnail (photo, spec, filename) VALUES ($1, $2, $3)`
)

type snapshot struct {
	schemaVersion string
	mediaTypes    map[string]domain.MediaType
	tags          map[int64]domain.Tag
	cameras       map[string]*domain.Camera
	specs         map[string]domain.ThumbnailSpec
}

// PhotoStore is the data access layer over the photo database. Reference
// tables are loaded once by Bootstrap and served from memory afterwards.
type PhotoStore struct {
	db      *dbpg.DB
	retries retry.Strategy
	cache   *cache.Cache
	logger  *zlog.Zerolog

	once    sync.Once
	bootErr error

	mu   sync.RWMutex
	snap *snapshot

	// cameras seen by CreatePhoto but missing from the snapshot
	lateCameras sync.Map
}

func NewPhotoStore(db *dbpg.DB, retries retry.Strategy, c *cache.Cache, logger *zlog.Zerolog) *PhotoStore {
	return &PhotoStore{
		db:      db,
		retries: retries,
		cache:   c,
		logger:  logger,
	}
}

// Bootstrap loads the reference snapshot. Only the first call queries the
// database; later calls return its result.
func (s *PhotoStore) Bootstrap(ctx context.Context) error {
	s.once.Do(func() {
		snap, err := s.load(ctx)
		if err != nil {
			s.bootErr = fmt.Errorf("%w: %w", photo.ErrBootstrap, err)
			return
		}

		s.mu.Lock()
		s.snap = snap
		s.mu.Unlock()

		s.logger.Info().
			Str("schema_version", snap.schemaVersion).
			Int("media_types", len(snap.mediaTypes)).
			Int("cameras", len(snap.cameras)).
			Int("tags", len(snap.tags)).
			Int("thumbnail_specs", len(snap.specs)).
			Msg("Reference data loaded")
	})
	return s.bootErr
}

func (s *PhotoStore) load(ctx context.Context) (*snapshot, error) {
	snap := &snapshot{
		mediaTypes: make(map[string]domain.MediaType),
		tags:       make(map[int64]domain.Tag),
		cameras:    make(map[string]*domain.Camera),
		specs:      make(map[string]domain.ThumbnailSpec),
	}
	camerasByID := make(map[int64]*domain.Camera)
	var cameraTags [][2]int64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		row, err := s.db.QueryRowWithRetry(gctx, s.retries, querySchemaVersion, "schema_version")
		if err != nil {
			return fmt.Errorf("failed to query schema version: %w", err)
		}
		if err := row.Scan(&snap.schemaVersion); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return photo.ErrSchemaVersionMiss
			}
			return fmt.Errorf("failed to scan schema version: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return s.queryEach(gctx, queryMediaTypes, func(rows *sql.Rows) error {
			var mt domain.MediaType
			if err := rows.Scan(&mt.ID, &mt.TypeName, &mt.Extension); err != nil {
				return err
			}
			snap.mediaTypes[mt.TypeName] = mt
			return nil
		})
	})

	g.Go(func() error {
		return s.queryEach(gctx, queryTags, func(rows *sql.Rows) error {
			var (
				t     domain.Tag
				descr sql.NullString
			)
			if err := rows.Scan(&t.ID, &t.Name, &t.IsServiceTag, &descr); err != nil {
				return err
			}
			t.Description = descr.String
			snap.tags[t.ID] = t
			return nil
		})
	})

	g.Go(func() error {
		return s.queryEach(gctx, queryCameras, func(rows *sql.Rows) error {
			var (
				cam   domain.Camera
				descr sql.NullString
			)
			if err := rows.Scan(&cam.ID, &cam.Name, &descr); err != nil {
				return err
			}
			cam.Description = descr.String
			cam.Tags = []domain.Tag{}
			snap.cameras[cam.Name] = &cam
			camerasByID[cam.ID] = &cam
			return nil
		})
	})

	g.Go(func() error {
		return s.queryEach(gctx, queryCameraTags, func(rows *sql.Rows) error {
			var pair [2]int64
			if err := rows.Scan(&pair[0], &pair[1]); err != nil {
				return err
			}
			cameraTags = append(cameraTags, pair)
			return nil
		})
	})

	g.Go(func() error {
		return s.queryEach(gctx, querySpecs, func(rows *sql.Rows) error {
			var (
				spec  domain.ThumbnailSpec
				descr sql.NullString
				raw   []byte
			)
			if err := rows.Scan(&spec.ID, &spec.Name, &descr, &raw); err != nil {
				return err
			}
			spec.Description = descr.String
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &spec.Params); err != nil {
					return fmt.Errorf("thumbnail spec %s: %w", spec.Name, err)
				}
			}
			snap.specs[spec.Name] = spec
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, ct := range cameraTags {
		cam, ok := camerasByID[ct[0]]
		if !ok {
			s.logger.Warn().Int64("camera", ct[0]).Msg("Tag assigned to unknown camera")
			continue
		}
		tag, ok := snap.tags[ct[1]]
		if !ok {
			s.logger.Warn().Int64("tag", ct[1]).Str("camera", cam.Name).Msg("Unknown tag assigned to camera")
			continue
		}
		cam.Tags = append(cam.Tags, tag)
	}

	return snap, nil
}

// queryEach runs query and hands every row to scan.
func (s *PhotoStore) queryEach(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryWithRetry(ctx, s.retries, query)
	if err != nil {
		return fmt.Errorf("failed to run %q: %w", query, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("failed to scan %q: %w", query, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating %q: %w", query, err)
	}
	return nil
}

func (s *PhotoStore) snapshot() (*snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, photo.ErrNotBootstrapped
	}
	return s.snap, nil
}

// CameraExists answers from the cache when it can and queries the camera
// table otherwise.
func (s *PhotoStore) CameraExists(ctx context.Context, name string) (bool, error) {
	v, err := s.cache.GetOrLoad(ctx, NamespaceCameraExists, name, func(ctx context.Context) (any, error) {
		row, err := s.db.QueryRowWithRetry(ctx, s.retries, queryCameraExists, name)
		if err != nil {
			return nil, fmt.Errorf("failed to query camera %s: %w", name, err)
		}
		var exists bool
		if err := row.Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to scan camera %s: %w", name, err)
		}
		return exists, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// InvalidateCameras forgets every cached CameraExists answer.
func (s *PhotoStore) InvalidateCameras() {
	s.cache.Invalidate(NamespaceCameraExists)
}

// CreatePhoto stores p and its thumbnails in one transaction on a single
// leased connection and returns the new photo id. The connection goes back
// to the pool whatever the outcome.
func (s *PhotoStore) CreatePhoto(ctx context.Context, p domain.Photo) (id int64, err error) {
	snap, err := s.snapshot()
	if err != nil {
		return 0, err
	}

	cam, ok := snap.cameras[p.Camera]
	if !ok {
		if _, seen := s.lateCameras.LoadOrStore(p.Camera, struct{}{}); !seen {
			s.logger.Warn().
				Str("camera", p.Camera).
				Msg("Camera missing from reference snapshot, restart to load cameras added after startup")
		}
		return 0, fmt.Errorf("%w: %s", photo.ErrUnknownCamera, p.Camera)
	}
	mediaType := p.MediaType
	if mediaType == "" {
		mediaType = domain.DefaultMediaType
	}
	mt, ok := snap.mediaTypes[mediaType]
	if !ok {
		return 0, fmt.Errorf("%w: %s", photo.ErrUnknownMediaType, mediaType)
	}
	thumbs := make([]domain.Thumbnail, len(p.Thumbnails))
	for i, t := range p.Thumbnails {
		spec, ok := snap.specs[t.Spec]
		if !ok {
			return 0, fmt.Errorf("%w: %s", photo.ErrUnknownSpec, t.Spec)
		}
		thumbs[i] = t
		thumbs[i].SpecID = spec.ID
	}

	conn, err := s.db.Master.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to lease connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Error().Err(rbErr).Str("camera", p.Camera).Msg("Rollback failed")
			}
		}
	}()

	if err = tx.QueryRowContext(ctx, insertPhoto, cam.ID, mt.ID, p.Filename, p.Date).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert photo: %w", err)
	}

	for _, t := range thumbs {
		if _, err = tx.ExecContext(ctx, insertThumbnail, id, t.SpecID, t.Filename); err != nil {
			return 0, fmt.Errorf("failed to insert thumbnail %s: %w", t.Spec, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit photo: %w", err)
	}

	s.logger.Debug().
		Int64("photo_id", id).
		Str("camera", p.Camera).
		Int("thumbnails", len(thumbs)).
		Msg("Photo created")

	return id, nil
}

// ThumbnailSpecs returns a copy of the bootstrapped specs keyed by name.
func (s *PhotoStore) ThumbnailSpecs() (map[string]domain.ThumbnailSpec, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.ThumbnailSpec, len(snap.specs))
	for name, spec := range snap.specs {
		out[name] = spec.Clone()
	}
	return out, nil
}

// MediaTypes returns a copy of the bootstrapped media types keyed by MIME type.
func (s *PhotoStore) MediaTypes() (map[string]domain.MediaType, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.MediaType, len(snap.mediaTypes))
	for k, v := range snap.mediaTypes {
		out[k] = v
	}
	return out, nil
}

// MediaTypeByExtension finds the bootstrapped media type stored with file
// extension ext ("png" or ".png"), ignoring case. When several types share
// an extension the one with the lowest id wins.
func (s *PhotoStore) MediaTypeByExtension(ext string) (domain.MediaType, error) {
	snap, err := s.snapshot()
	if err != nil {
		return domain.MediaType{}, err
	}
	ext = strings.TrimPrefix(ext, ".")

	var (
		found domain.MediaType
		ok    bool
	)
	for _, mt := range snap.mediaTypes {
		if !strings.EqualFold(mt.Extension, ext) {
			continue
		}
		if !ok || mt.ID < found.ID {
			found, ok = mt, true
		}
	}
	if !ok {
		return domain.MediaType{}, fmt.Errorf("%w: extension %q", photo.ErrUnknownMediaType, ext)
	}
	return found, nil
}

// Camera returns a copy of a bootstrapped camera with its tags.
func (s *PhotoStore) Camera(name string) (domain.Camera, error) {
	snap, err := s.snapshot()
	if err != nil {
		return domain.Camera{}, err
	}
	cam, ok := snap.cameras[name]
	if !ok {
		return domain.Camera{}, fmt.Errorf("%w: %s", photo.ErrUnknownCamera, name)
	}
	out := *cam
	out.Tags = append([]domain.Tag(nil), cam.Tags...)
	return out, nil
}

func (s *PhotoStore) SchemaVersion() (string, error) {
	snap, err := s.snapshot()
	if err != nil {
		return "", err
	}
	return snap.schemaVersion, nil
}
