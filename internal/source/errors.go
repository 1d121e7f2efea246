package source

import "codeberg.org/mutker/eegpipe/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrTransport     = errors.ErrTransport
	ErrMalformed     = errors.ErrInvalidArgument
)
