package catalog

import (
	"fmt"
	"path/filepath"
	"strings"

	"image-store/internal/domain"
)

const (
	MetaPrefix   = "image:meta:"
	StreamPrefix = "image:stream:"
	AnyCamera    = "*"
)

// Hash field names of a metadata record.
const (
	FieldVersion     = "v"
	FieldFilename    = "filename"
	FieldPath        = "path"
	FieldMetadataKey = "metadataKey"
	FieldStream      = "stream"
	FieldEvent       = "event"

	// FieldStreamMetadata is the stream entry field pointing back at the record.
	FieldStreamMetadata = "metadata"
)

func MetadataKey(camera, suffix string) string {
	return MetaPrefix + camera + ":" + suffix
}

func StreamKey(camera string) string {
	return StreamPrefix + camera
}

// MetaPattern is the SCAN pattern for one camera, or for all of them when
// camera is empty or "*".
func MetaPattern(camera string) string {
	if camera == "" || camera == AnyCamera {
		return MetaPrefix + "*"
	}
	return MetaPrefix + camera + ":*"
}

// CameraFromKey extracts <camera> from image:meta:<camera>:<suffix>.
func CameraFromKey(key string) string {
	rest := strings.TrimPrefix(key, MetaPrefix)
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		return rest[:i]
	}
	return ""
}

func RecordFromHash(key string, h map[string]string) (*domain.ImageRecord, error) {
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrImageNotFound, key)
	}
	if h[FieldStream] == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRecord, key)
	}

	return &domain.ImageRecord{
		Key:      key,
		Camera:   CameraFromKey(key),
		Version:  h[FieldVersion],
		Format:   strings.TrimPrefix(filepath.Ext(h[FieldFilename]), "."),
		Stream:   h[FieldStream],
		EventID:  h[FieldEvent],
		Path:     h[FieldPath],
		Filename: h[FieldFilename],
	}, nil
}

// Fields renders a record as HSET arguments.
func Fields(r *domain.ImageRecord) []any {
	return []any{
		FieldVersion, r.Version,
		FieldFilename, r.Filename,
		FieldPath, r.Path,
		FieldMetadataKey, r.Key,
		FieldStream, r.Stream,
		FieldEvent, r.EventID,
	}
}
