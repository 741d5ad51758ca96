package gpu

import "github.com/drewdorris/xv6-d00m/internal/faulterr"

// Error, FatalError, and ErrorCode mirror the core's internal taxonomy at
// the package boundary so callers never need to import internal/faulterr
// directly.
type (
	Error      = faulterr.Error
	FatalError = faulterr.FatalError
	ErrorCode  = faulterr.ErrorCode
)

const (
	ErrCodeConfigMismatch    = faulterr.ErrCodeConfigMismatch
	ErrCodeProtocolViolation = faulterr.ErrCodeProtocolViolation
	ErrCodeOwnershipDenied   = faulterr.ErrCodeOwnershipDenied
	ErrCodeNoProcess         = faulterr.ErrCodeNoProcess
)

// SetOnFatal overrides what happens when the core encounters an
// unrecoverable condition (configuration mismatch, protocol violation).
// The default panics, mirroring "terminate the kernel with a descriptive
// message"; tests may install a recorder instead so a halt can be asserted
// on without crashing the test binary.
func SetOnFatal(fn func(error)) {
	faulterr.OnFatal = fn
}

// IsCode reports whether err (or any error it wraps) carries code.
func IsCode(err error, code ErrorCode) bool {
	return faulterr.IsCode(err, code)
}
