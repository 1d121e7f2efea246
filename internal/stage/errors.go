package stage

import "codeberg.org/mutker/eegpipe/internal/errors"

const (
	ErrInvalidConfig    = errors.ErrInvalidConfig
	ErrInvalidStage     = errors.ErrInvalidConfig
	ErrInsufficientData = errors.ErrInsufficientData
	ErrUnknownStage     = errors.ErrInvalidConfig
)
