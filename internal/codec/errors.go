package codec

import (
	"fmt"

	"github.com/odi-dev/odi/internal/odierr"
)

// EncodingError wraps the error returned by the value's Validate method when
// Encode rejects it (e.g. an unknown Issue status or an empty title). Encode
// sees only the value itself, not its prior state, so it does not check
// status-transition legality.
type EncodingError struct {
	Reason string
	Err    error
}

func (e *EncodingError) Error() string { return fmt.Sprintf("encode: %s: %v", e.Reason, e.Err) }
func (e *EncodingError) Unwrap() error { return e.Err }

// DecodeError signals a version mismatch or truncated/malformed payload.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode: %s", e.Reason) }
func (e *DecodeError) Unwrap() error { return odierr.ErrCorruption }

func newDecodeError(format string, args ...any) error {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// CorruptionError signals that decompression succeeded but the decoded
// fields fail validation, or a field's canonical encoding is self-inconsistent.
type CorruptionError struct {
	Reason string
	Err    error
}

func (e *CorruptionError) Error() string { return fmt.Sprintf("corruption: %s: %v", e.Reason, e.Err) }
func (e *CorruptionError) Unwrap() error { return odierr.ErrCorruption }
