package importer

import (
	"context"

	"image-store/internal/domain"
)

type ImageCatalog interface {
	ScanImages(ctx context.Context, camera string, limit int, skip func(key string) bool) ([]domain.ImageRecord, error)
}

type JobScheduler interface {
	Status() domain.QueueStatus
	QueueJob(ctx context.Context, job domain.QueueJob) error
	Tracked(key string) bool
	CoolingDown(key string) bool
}
