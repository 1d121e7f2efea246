package buffer

import "codeberg.org/mutker/eegpipe/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrShapeMismatch = errors.ErrShapeMismatch
	ErrRange         = errors.ErrRange
)

type shapeMismatch struct {
	Seq      uint64
	Expected int
	Got      int
}
