package job

import (
	"context"

	"image-store/internal/domain"
)

type jobProcessor interface {
	Process(ctx context.Context, req domain.JobRequest) (*domain.JobResponse, error)
}
