// Package stream implements the verified copy primitive every handler uses
// to consume its artifact's bytes from the package stream.
//
// Transfer reads a fixed-length byte range from a sequential, non-seekable
// source, optionally decompresses, optionally writes to a sink, and
// incrementally computes an additive checksum and a cryptographic digest.
// The declared length is a hard ceiling: Transfer never reads past it, and
// it fully drains it even when verification fails, so the stream stays
// framed for the next artifact.
package stream

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/justapithecus/smelt/types"
)

const (
	// copyBufferSize is the transfer loop buffer size.
	copyBufferSize = 32 * 1024

	// readRetries bounds retries of transient input errors within a single
	// read call. Retries never cross artifact boundaries.
	readRetries = 3
)

// Spec describes one verified transfer.
type Spec struct {
	// Length is the number of on-wire bytes to consume from the input.
	Length int64
	// Sink receives the verified (post-decompression) bytes. Nil means the
	// bytes are consumed and validated but discarded.
	Sink io.Writer
	// Skip excludes the first Skip bytes of the verified stream from the
	// sink while still including them in checksum/digest computation.
	// Supports resuming a previously partial write without re-validating
	// from zero: skip affects output placement, not validation scope.
	Skip int64
	// Codec names the decompression codec, CodecNone for raw payloads.
	// Checksum and digest are computed over the decompressed stream,
	// matching what the artifact's declared hash represents.
	Codec Codec
	// Checksum is the expected additive checksum, nil to skip the check.
	Checksum *uint32
	// Digest is the expected hex-encoded digest, empty to skip the check.
	Digest     string
	DigestAlgo types.DigestAlgo
}

// Transfer performs one verified copy and returns the number of bytes
// written to the sink.
//
// Error classification (see errors.go): ErrShortInput when the source ends
// before Length bytes, ErrChecksumMismatch/ErrDigestMismatch when the
// declared values do not match the accumulated ones. On a verification
// failure the full Length has already been drained from the input.
func Transfer(input io.Reader, spec Spec) (int64, error) {
	if spec.Length < 0 {
		return 0, newTransferError(ErrInput, "transfer", fmt.Sprintf("negative length %d", spec.Length), nil)
	}
	if spec.Skip < 0 {
		return 0, newTransferError(ErrInput, "transfer", fmt.Sprintf("negative skip %d", spec.Skip), nil)
	}

	var (
		hasher   hashAccumulator
		expected []byte
	)
	if spec.Digest != "" {
		raw, err := hex.DecodeString(spec.Digest)
		if err != nil {
			return 0, newTransferError(ErrDigestAlgo, "verify", "malformed expected digest", err)
		}
		expected = raw
		h, err := newDigest(spec.DigestAlgo)
		if err != nil {
			return 0, err
		}
		hasher = h
	}

	source := &retryingSource{r: input, remaining: spec.Length}

	inflated, err := spec.Codec.newDecompressor(source)
	if err != nil {
		// Decoder construction may have consumed header bytes; keep the
		// stream framed regardless.
		_ = source.drain()
		return 0, err
	}

	var (
		sum      checksum
		written  int64
		verified int64
		copyErr  error
	)
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := inflated.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			sum.add(chunk)
			if hasher != nil {
				hasher.Write(chunk)
			}
			if spec.Sink != nil {
				// Skip applies to stream placement within the verified
				// stream, not to what gets validated.
				start := int64(0)
				if verified < spec.Skip {
					start = min(spec.Skip-verified, int64(n))
				}
				if start < int64(n) {
					wn, werr := spec.Sink.Write(chunk[start:])
					written += int64(wn)
					if werr != nil {
						copyErr = newTransferError(ErrSink, "write", "", werr)
						break
					}
				}
			}
			verified += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			copyErr = source.classify(rerr)
			break
		}
	}
	_ = inflated.Close()

	// Drain whatever of the declared length the decompressor did not
	// consume, so the stream stays framed for the next artifact.
	drainErr := source.drain()

	if copyErr != nil {
		return written, copyErr
	}
	if drainErr != nil {
		return written, drainErr
	}

	if spec.Checksum != nil && sum.value() != *spec.Checksum {
		return written, newTransferError(ErrChecksumMismatch, "verify",
			fmt.Sprintf("computed 0x%08x, declared 0x%08x", sum.value(), *spec.Checksum), nil)
	}
	if hasher != nil {
		computed := hasher.Sum(nil)
		if !bytes.Equal(computed, expected) {
			return written, newTransferError(ErrDigestMismatch, "verify",
				fmt.Sprintf("computed %s, declared %s", hex.EncodeToString(computed), spec.Digest), nil)
		}
	}

	return written, nil
}

// TransferArtifact builds a Spec from an artifact descriptor and runs
// Transfer. This is the form handlers normally use.
func TransferArtifact(input io.Reader, art *types.ArtifactDescriptor, sink io.Writer, skip int64) (int64, error) {
	codec, err := ParseCodec(art.Compression)
	if err != nil {
		return 0, err
	}
	return Transfer(input, Spec{
		Length:     art.Length,
		Sink:       sink,
		Skip:       skip,
		Codec:      codec,
		Checksum:   art.Checksum,
		Digest:     art.Digest,
		DigestAlgo: art.DigestAlgo,
	})
}

// hashAccumulator is the subset of hash.Hash the transfer loop needs.
type hashAccumulator interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// retryingSource reads at most `remaining` bytes from the wrapped reader,
// applying a small bounded retry to transient errors and stalled reads.
// It never returns a bare io.EOF while declared bytes are outstanding:
// premature stream end surfaces as ErrShortInput.
type retryingSource struct {
	r         io.Reader
	remaining int64
	short     bool
}

func (s *retryingSource) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}

	var zeroReads, transient int
	for {
		n, err := s.r.Read(p)
		if n > 0 {
			s.remaining -= int64(n)
			// A non-nil error alongside data is surfaced on the next call.
			return n, nil
		}
		switch {
		case err == nil:
			zeroReads++
			if zeroReads > readRetries {
				return 0, newTransferError(ErrInput, "read", "stalled input", nil)
			}
		case err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF):
			s.short = true
			return 0, newTransferError(ErrShortInput, "read",
				fmt.Sprintf("%d bytes missing", s.remaining), err)
		case isTransient(err):
			transient++
			if transient > readRetries {
				return 0, newTransferError(ErrInput, "read", "transient error persisted", err)
			}
		default:
			return 0, newTransferError(ErrInput, "read", "", err)
		}
	}
}

// drain consumes any outstanding declared bytes, discarding them.
func (s *retryingSource) drain() error {
	if s.remaining <= 0 {
		return nil
	}
	buf := make([]byte, copyBufferSize)
	for s.remaining > 0 {
		if _, err := s.Read(buf); err != nil {
			return err
		}
	}
	return nil
}

// classify maps an error surfaced through a decompressor back onto the
// transfer taxonomy. Errors originating from the source pass through.
func (s *retryingSource) classify(err error) error {
	var terr *TransferError
	if errors.As(err, &terr) {
		return err
	}
	if s.short || errors.Is(err, io.ErrUnexpectedEOF) {
		return newTransferError(ErrShortInput, "read", "", err)
	}
	return newTransferError(ErrCodec, "inflate", "", err)
}

// isTransient reports whether a read error is worth a bounded retry.
func isTransient(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return true
	}
	var tempErr interface{ Temporary() bool }
	return errors.As(err, &tempErr) && tempErr.Temporary()
}
