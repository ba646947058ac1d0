package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"image-store/internal/domain"

	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

type Producer interface {
	Send(ctx context.Context, strategy retry.Strategy, key, value []byte) error
	Close() error
}

// PhotoPublisher announces persisted photos. Messages are keyed by camera so
// events of one camera stay ordered within a partition.
type PhotoPublisher struct {
	producer Producer
	retries  retry.Strategy
	logger   *zlog.Zerolog
}

func NewPhotoPublisher(producer Producer, retries retry.Strategy, logger *zlog.Zerolog) *PhotoPublisher {
	return &PhotoPublisher{
		producer: producer,
		retries:  retries,
		logger:   logger,
	}
}

func (p *PhotoPublisher) PublishPhotoCreated(ctx context.Context, event domain.PhotoCreated) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal photo event: %w", err)
	}

	if err := p.producer.Send(ctx, p.retries, []byte(event.Camera), value); err != nil {
		return fmt.Errorf("failed to publish photo %d: %w", event.PhotoID, err)
	}

	p.logger.Debug().
		Int64("photo_id", event.PhotoID).
		Str("camera", event.Camera).
		Msg("Photo event published")
	return nil
}

func (p *PhotoPublisher) Close() error {
	return p.producer.Close()
}
