package image

import "errors"

var ErrInvalidPath = errors.New("invalid version or camera")
