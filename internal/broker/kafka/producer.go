package kafka

import (
	"context"
	"errors"
	"sync"

	"image-store/internal/config"

	wbkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
)

var ErrProducerClosed = errors.New("photo event producer closed")

// ProducerClient writes photo-created events to the photos topic. Close may
// be called more than once; sends after Close fail with ErrProducerClosed.
type ProducerClient struct {
	producer *wbkafka.Producer
	topic    string

	mu     sync.RWMutex
	closed bool
}

func NewProducerClient(cfg *config.Config) *ProducerClient {
	return &ProducerClient{
		producer: wbkafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.PhotosTopic),
		topic:    cfg.Kafka.PhotosTopic,
	}
}

func (p *ProducerClient) Topic() string {
	return p.topic
}

func (p *ProducerClient) Send(ctx context.Context, strategy retry.Strategy, key, value []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	return p.producer.SendWithRetry(ctx, strategy, key, value)
}

func (p *ProducerClient) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}
