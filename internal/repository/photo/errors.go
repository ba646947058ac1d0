package photo

import "errors"

var (
	ErrBootstrap         = errors.New("reference data bootstrap failed")
	ErrNotBootstrapped   = errors.New("reference data not loaded")
	ErrUnknownCamera     = errors.New("unknown camera")
	ErrUnknownMediaType  = errors.New("unknown media type")
	ErrUnknownSpec       = errors.New("unknown thumbnail spec")
	ErrSchemaVersionMiss = errors.New("schema version not configured")
)
