package admin

import (
	"context"

	"image-store/internal/domain"
)

type queueStats interface {
	Stats() domain.QueueStats
}

type catalogAdmin interface {
	CorrectImages(ctx context.Context) (domain.ReconcileReport, error)
	Cameras(ctx context.Context) ([]string, error)
}

type schemaSource interface {
	SchemaVersion() (string, error)
}
