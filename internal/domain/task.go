package domain

import "time"

// QueueJob is the in-memory scheduling unit. Key is the catalog metadata key.
type QueueJob struct {
	Key      string
	Pathname string
	Camera   string
	// Format is the stored file extension, e.g. "png".
	Format string
	Date   time.Time
}

type QueueStatus string

const (
	QueueOpen   QueueStatus = "open"
	QueuePaused QueueStatus = "paused"
)

type QueueStats struct {
	Status     QueueStatus `json:"status"`
	Queued     int         `json:"queued"`
	Pending    int         `json:"pending"`
	InFlight   int         `json:"in_flight"`
	MaxThreads int         `json:"max_threads"`
	MaxQueue   int         `json:"max_queue"`
}

// JobCommand is one thumbnail instruction: the output filename merged with
// the thumbnail spec's transform parameters.
type JobCommand map[string]any

type JobRequest struct {
	Pathname string       `json:"pathname" validate:"required"`
	Commands []JobCommand `json:"commands" validate:"required,min=1"`
}

type JobResult struct {
	Filename string `json:"filename"`
	SpecName string `json:"specname"`
}

type JobResponse struct {
	Pathname  string      `json:"pathname"`
	OutputDir string      `json:"outputDir"`
	Commands  []JobResult `json:"commands"`
}

// PhotoCreated is published after a photo and its thumbnails are persisted.
type PhotoCreated struct {
	PhotoID    int64     `json:"photo_id"`
	Camera     string    `json:"camera"`
	Filename   string    `json:"filename"`
	Date       time.Time `json:"date"`
	Thumbnails []string  `json:"thumbnails"`
}

const (
	CommandFilename = "filename"
	CommandOp       = "op"
)

const (
	OpThumbnail = "thumbnail"
	OpResize    = "resize"
	OpWatermark = "watermark"
)

const (
	ParamWidth      = "width"
	ParamHeight     = "height"
	ParamSize       = "size"
	ParamText       = "text"
	ParamOpacity    = "opacity"
	ParamKeepAspect = "keep_aspect"
	ParamCropToFit  = "crop_to_fit"
	ParamPosition   = "position"
	ParamFontSize   = "font_size"
	ParamColor      = "color"
)

const (
	DefaultThumbnailSize    = 200
	DefaultJPEGQuality      = 85
	DefaultWatermarkText    = "© image-store"
	DefaultWatermarkOpacity = 0.5
	DefaultWatermarkSize    = 24
)
