// Package stream provides transfer error classification.
//
// This file defines sentinel errors and error wrappers for classifying
// stream transfer failures. These enable callers to use errors.Is/errors.As
// for typed assertions rather than string matching.
package stream

import (
	"errors"
	"fmt"
)

// Sentinel errors for transfer failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrShortInput indicates the input source was exhausted before the
	// declared length was reached. Signals a truncated package.
	ErrShortInput = errors.New("input exhausted before declared length")

	// ErrChecksumMismatch indicates the accumulated additive checksum does
	// not equal the expected value. The declared length was still fully
	// drained from the input.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrDigestMismatch indicates the accumulated cryptographic digest does
	// not equal the expected value. The declared length was still fully
	// drained from the input.
	ErrDigestMismatch = errors.New("digest mismatch")

	// ErrInput indicates a non-retryable read failure from the input source.
	ErrInput = errors.New("input read error")

	// ErrSink indicates a write failure on the output sink.
	ErrSink = errors.New("sink write error")

	// ErrCodec indicates a decompression failure or an unknown codec name.
	ErrCodec = errors.New("codec error")

	// ErrDigestAlgo indicates an unknown digest algorithm name.
	ErrDigestAlgo = errors.New("unknown digest algorithm")
)

// TransferError wraps an underlying error with transfer classification.
// It preserves the original error in the chain for inspection via errors.As.
type TransferError struct {
	// Kind is the sentinel error for classification (e.g. ErrShortInput).
	Kind error
	// Op is the operation that failed (e.g. "read", "write", "verify").
	Op string
	// Detail carries context such as expected/actual values.
	Detail string
	// Err is the underlying error, may be nil for pure verification failures.
	Err error
}

func (e *TransferError) Error() string {
	switch {
	case e.Detail != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Detail, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Detail)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *TransferError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// newTransferError creates a classified transfer error.
func newTransferError(kind error, op, detail string, err error) *TransferError {
	return &TransferError{Kind: kind, Op: op, Detail: detail, Err: err}
}

// IsIntegrityError reports whether err is a verification failure
// (checksum or digest mismatch) after a fully drained transfer.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrDigestMismatch)
}
