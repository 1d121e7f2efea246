package pipeline

import "codeberg.org/mutker/eegpipe/internal/errors"

const (
	ErrInvalidConfig    = errors.ErrInvalidConfig
	ErrInvalidOperation = errors.ErrInvalidOperation
	ErrShapeMismatch    = errors.ErrShapeMismatch
	ErrInsufficientData = errors.ErrInsufficientData
	ErrTransport        = errors.ErrTransport
	ErrStageFailed      = errors.ErrOperationFailed
)
