// Package errors provides coded errors shared by every eegpipe package.
//
// Packages declare their own codes next to the code that raises them and
// create errors through a Factory. Callers classify failures with HasCode
// instead of comparing messages.
package errors

// ErrorCode identifies a class of failure
type ErrorCode string

// Error is a coded error with optional context
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory creates coded errors
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
