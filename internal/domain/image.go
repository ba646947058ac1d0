package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ImageRecord is an uploaded image waiting in the catalog for processing.
type ImageRecord struct {
	Key      string
	Camera   string
	Version  string
	Format   string
	Stream   string
	EventID  string
	Path     string
	Filename string
}

// UploadMetadata is what the ingress endpoint knows about an upload.
type UploadMetadata struct {
	Version string
	Camera  string
	Format  string
}

type Photo struct {
	ID         int64
	Camera     string
	MediaType  string
	Filename   string
	Date       time.Time
	Thumbnails []Thumbnail
}

type Thumbnail struct {
	PhotoID  int64
	Spec     string
	SpecID   int64
	Filename string
}

// ReconcileReport summarises one catalog consistency sweep.
type ReconcileReport struct {
	Checked          int           `json:"checked"`
	Corrected        int           `json:"corrected"`
	Renamed          int           `json:"renamed"`
	NotNeedingRename int           `json:"not_needing_rename"`
	Duplicates       int           `json:"duplicates"`
	Errors           int           `json:"errors"`
	Duration         time.Duration `json:"duration"`
}

const (
	FormatJPG = "jpg"

	// LegacyExtension is what early uploads were saved with before the
	// format was resolved.
	LegacyExtension = "undefined"

	DefaultMediaType = "image/jpeg"
)

// EventTime decodes a stream entry id of the form <unix-ms>-<seq>.
func EventTime(eventID string) (time.Time, error) {
	ms, _, found := strings.Cut(eventID, "-")
	if !found || ms == "" {
		return time.Time{}, fmt.Errorf("malformed event id %q", eventID)
	}
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed event id %q: %w", eventID, err)
	}
	return time.UnixMilli(v).UTC(), nil
}
