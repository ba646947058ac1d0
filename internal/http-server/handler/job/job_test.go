package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"image-store/internal/domain"
	"image-store/internal/usecase/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/zlog"
)

type stubProcessor struct {
	err error
	got domain.JobRequest
}

func (s *stubProcessor) Process(_ context.Context, req domain.JobRequest) (*domain.JobResponse, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &domain.JobResponse{
		Pathname:  req.Pathname,
		OutputDir: "/out",
		Commands:  []domain.JobResult{{Filename: "t1.jpg", SpecName: "small"}},
	}, nil
}

func post(p *stubProcessor, body string) *httptest.ResponseRecorder {
	logger := zlog.Zerolog{}
	h := NewJobHandler(p, &logger)
	rec := httptest.NewRecorder()
	h.ProcessJob(rec, httptest.NewRequest(http.MethodPost, "/job", strings.NewReader(body)))
	return rec
}

const validJob = `{"pathname":"/images/cam/1-0.jpg","commands":[{"filename":"small","size":200}]}`

func TestProcessJob(t *testing.T) {
	p := &stubProcessor{}
	rec := post(p, validJob)

	require.Equal(t, http.StatusOK, rec.Code)
	var got domain.JobResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "/out", got.OutputDir)
	assert.Equal(t, []domain.JobResult{{Filename: "t1.jpg", SpecName: "small"}}, got.Commands)
	assert.Equal(t, "small", p.got.Commands[0]["filename"])
}

func TestProcessJobRejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed", `{"pathname":`, nil, http.StatusBadRequest},
		{"no commands", `{"pathname":"/a.jpg","commands":[]}`, nil, http.StatusBadRequest},
		{"no pathname", `{"commands":[{"filename":"x"}]}`, nil, http.StatusBadRequest},
		{"missing source", validJob, fmt.Errorf("open: %w", processor.ErrSourceMissing), http.StatusNotFound},
		{"bad command", validJob, processor.ErrUnsupportedOperation, http.StatusUnprocessableEntity},
		{"disk full", validJob, errors.New("no space left on device"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(&stubProcessor{err: tt.err}, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}
