package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTime(t *testing.T) {
	got, err := EventTime("1700000000123-4")
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000123).UTC(), got)

	for _, id := range []string{"", "1700000000123", "-1", "abc-0"} {
		_, err := EventTime(id)
		assert.Error(t, err, "id %q", id)
	}
}

func TestThumbnailSpecCommandAndClone(t *testing.T) {
	spec := ThumbnailSpec{ID: 1, Name: "small", Params: map[string]any{"size": 64, "filename": "ignored"}}

	cmd := spec.Command()
	assert.Equal(t, "small", cmd[CommandFilename])
	assert.Equal(t, 64, cmd["size"])

	clone := spec.Clone()
	clone.Params["size"] = 128
	assert.Equal(t, 64, spec.Params["size"])
}
