package processor

import "errors"

var (
	ErrSourceMissing        = errors.New("source image not found")
	ErrDecode               = errors.New("failed to decode image")
	ErrInvalidCommand       = errors.New("invalid command")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrUnsupportedFormat    = errors.New("unsupported output format")
)
