package stream

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies the compression codec an artifact payload is wrapped in.
// The empty codec means the payload is stored uncompressed.
type Codec string

const (
	// CodecNone indicates uncompressed data.
	CodecNone Codec = ""
	// CodecZstd indicates a zstd frame.
	CodecZstd Codec = "zstd"
	// CodecLZ4 indicates an lz4 frame.
	CodecLZ4 Codec = "lz4"
	// CodecGzip indicates a gzip stream.
	CodecGzip Codec = "gzip"
)

// String returns the codec name, "none" for the empty codec.
func (c Codec) String() string {
	if c == CodecNone {
		return "none"
	}
	return string(c)
}

// ParseCodec parses a codec from its string representation.
// Both "" and "none" mean uncompressed.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "", "none":
		return CodecNone, nil
	case "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	case "gzip":
		return CodecGzip, nil
	default:
		return CodecNone, newTransferError(ErrCodec, "parse", fmt.Sprintf("unknown codec %q", name), nil)
	}
}

// newDecompressor wraps r in a streaming decompressor for the codec.
// The returned closer releases decoder resources; it does not close r.
func (c Codec) newDecompressor(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecNone:
		return io.NopCloser(r), nil

	case CodecZstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, newTransferError(ErrCodec, "inflate", "zstd decoder", err)
		}
		return decoder.IOReadCloser(), nil

	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil

	case CodecGzip:
		decoder, err := gzip.NewReader(r)
		if err != nil {
			return nil, newTransferError(ErrCodec, "inflate", "gzip decoder", err)
		}
		return decoder, nil

	default:
		return nil, newTransferError(ErrCodec, "inflate", fmt.Sprintf("unsupported codec %q", c), nil)
	}
}
