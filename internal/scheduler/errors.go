package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidJob        = errors.New("invalid job")
	ErrJobAlreadyTracked = errors.New("job already pending, queued or in flight")
	ErrProcessorStatus   = errors.New("processor rejected job")
	ErrNoThumbnailSpecs  = errors.New("no thumbnail specs configured")
)

// ValidationError lists every reason a job was refused.
type ValidationError struct {
	Key        string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job %q: %s", e.Key, strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidJob
}
