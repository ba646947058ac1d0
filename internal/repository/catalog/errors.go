package catalog

import "errors"

var (
	ErrImageNotFound      = errors.New("image not found")
	ErrInvalidRecord      = errors.New("metadata record has no stream reference")
	ErrCameraRequired     = errors.New("camera is required")
	ErrInvalidCamera      = errors.New("camera does not name a directory under the images path")
	ErrRenamedFileMissing = errors.New("renamed file not found")
)
