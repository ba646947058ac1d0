package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"image-store/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"
)

type recordingProducer struct {
	keys   [][]byte
	values [][]byte
	err    error
	closed bool
}

func (p *recordingProducer) Send(_ context.Context, _ retry.Strategy, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func (p *recordingProducer) Close() error {
	p.closed = true
	return nil
}

func TestPublishPhotoCreated(t *testing.T) {
	producer := &recordingProducer{}
	logger := zlog.Zerolog{}
	pub := NewPhotoPublisher(producer, retry.Strategy{Attempts: 1}, &logger)

	event := domain.PhotoCreated{
		PhotoID:    42,
		Camera:     "front-door",
		Filename:   "/images/front-door/1-0.jpg",
		Date:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Thumbnails: []string{"/out/t1.jpg"},
	}
	require.NoError(t, pub.PublishPhotoCreated(context.Background(), event))

	require.Len(t, producer.values, 1)
	assert.Equal(t, []byte("front-door"), producer.keys[0])

	var got domain.PhotoCreated
	require.NoError(t, json.Unmarshal(producer.values[0], &got))
	assert.Equal(t, event, got)

	require.NoError(t, pub.Close())
	assert.True(t, producer.closed)
}

func TestPublishPhotoCreatedError(t *testing.T) {
	producer := &recordingProducer{err: errors.New("leader not available")}
	logger := zlog.Zerolog{}
	pub := NewPhotoPublisher(producer, retry.Strategy{Attempts: 1}, &logger)

	err := pub.PublishPhotoCreated(context.Background(), domain.PhotoCreated{PhotoID: 1})
	assert.ErrorContains(t, err, "leader not available")
}
