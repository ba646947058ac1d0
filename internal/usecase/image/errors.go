package image

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrEmptyImage           = errors.New("empty image")
)
