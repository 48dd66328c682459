//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies what an artifact installs. Categories are bit flags
// so that a handler's capability set can be expressed as a union.
type Category uint8

const (
	// CategoryImage is a raw image written to a device or volume.
	CategoryImage Category = 1 << iota
	// CategoryFile is a file installed into a filesystem.
	CategoryFile
	// CategoryScript is an interpreted artifact executed by a scripting handler.
	CategoryScript
	// CategoryPartition is a partition-table directive.
	CategoryPartition
)

// String returns the canonical lowercase name of a category.
func (c Category) String() string {
	switch c {
	case CategoryImage:
		return "image"
	case CategoryFile:
		return "file"
	case CategoryScript:
		return "script"
	case CategoryPartition:
		return "partition"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCategory parses a category from its string representation.
func ParseCategory(name string) (Category, error) {
	switch strings.ToLower(name) {
	case "image":
		return CategoryImage, nil
	case "file":
		return CategoryFile, nil
	case "script":
		return CategoryScript, nil
	case "partition":
		return CategoryPartition, nil
	default:
		return 0, fmt.Errorf("unknown artifact category: %q", name)
	}
}

// DigestAlgo names the cryptographic digest algorithm declared for an artifact.
type DigestAlgo string

const (
	// DigestNone means no digest was declared.
	DigestNone DigestAlgo = ""
	// DigestSHA256 is the SHA-256 digest.
	DigestSHA256 DigestAlgo = "sha256"
	// DigestBLAKE3 is the 32-byte BLAKE3 digest.
	DigestBLAKE3 DigestAlgo = "blake3"
)

// ArtifactDescriptor describes one unit of an update package. Descriptors are
// produced by the manifest loader and are immutable once dispatch begins.
//
// Length is the on-wire byte count the artifact occupies in the package
// stream. It is always known up front and is the framing authority: a handler
// must consume exactly Length bytes from the stream cursor.
//
// InstalledSize is the post-decompression byte count. It is zero when the
// artifact is not compressed (Length applies) and must be declared when a
// caller needs upfront space reservation for a compressed artifact, because
// the true installed size is only known downstream of decompression.
type ArtifactDescriptor struct {
	// Type is the handler type tag, e.g. "raw", "rawfile", "lua", "remote".
	Type string
	// Category is the artifact category; validated against the handler's
	// capability set before any bytes are consumed.
	Category Category
	// Length is the declared on-wire byte length.
	Length int64
	// InstalledSize is the declared post-decompression size, 0 if n/a.
	InstalledSize int64
	// Destination designates where the artifact lands: a device path, a
	// filesystem path, or a volume name. Empty for verify-only artifacts.
	Destination string
	// Compression names the codec the payload is compressed with ("" = none).
	Compression string
	// Checksum is the expected additive 32-bit checksum over the verified
	// (post-decompression) byte stream. Nil when not declared.
	Checksum *uint32
	// Digest is the expected hex-encoded digest over the verified stream,
	// empty when not declared. DigestAlgo selects the algorithm.
	Digest     string
	DigestAlgo DigestAlgo
	// Properties is a flat handler-specific property bag.
	Properties map[string]string
}

// Validate checks descriptor fields that every handler relies on.
func (a *ArtifactDescriptor) Validate() error {
	if a.Type == "" {
		return errors.New("artifact type tag is required")
	}
	switch a.Category {
	case CategoryImage, CategoryFile, CategoryScript, CategoryPartition:
	default:
		return fmt.Errorf("artifact %q: invalid category %d", a.Type, a.Category)
	}
	if a.Length < 0 {
		return fmt.Errorf("artifact %q: negative declared length %d", a.Type, a.Length)
	}
	if a.InstalledSize < 0 {
		return fmt.Errorf("artifact %q: negative installed size %d", a.Type, a.InstalledSize)
	}
	if a.Digest != "" && a.DigestAlgo == DigestNone {
		return fmt.Errorf("artifact %q: digest declared without an algorithm", a.Type)
	}
	return nil
}

// Property returns a property value and whether it was present.
func (a *ArtifactDescriptor) Property(key string) (string, bool) {
	v, ok := a.Properties[key]
	return v, ok
}
