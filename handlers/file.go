package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/iox"
	"github.com/justapithecus/smelt/stream"
	"github.com/justapithecus/smelt/types"
)

// partSuffix marks the staging file of a two-phase file install.
const partSuffix = ".part"

// File installs file artifacts with a two-phase write: bytes are staged in
// a sibling .part file and renamed over the destination only after the
// artifact verified. A .part left behind by an interrupted install is
// resumed: its size becomes the skip offset, so already-staged bytes are
// re-validated but not rewritten.
//
// Properties:
//   - "mode": octal permission bits for the installed file (default 0644)
type File struct{}

// Install stages, verifies, and atomically installs the artifact.
func (File) Install(ctx context.Context, art *types.ArtifactDescriptor, cursor *handler.Cursor, _ any) error {
	if art.Destination == "" {
		return errors.New("file: artifact has no destination")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	mode := os.FileMode(0o644)
	if prop, ok := art.Property("mode"); ok {
		bits, err := strconv.ParseUint(prop, 8, 32)
		if err != nil {
			return fmt.Errorf("file: bad mode property %q: %w", prop, err)
		}
		mode = os.FileMode(bits)
	}

	part := art.Destination + partSuffix
	skip := resumeOffset(part, art)

	staging, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("file: open staging %s: %w", part, err)
	}

	if _, err := stream.TransferArtifact(cursor, art, staging, skip); err != nil {
		// The staged bytes failed verification; they cannot seed a resume.
		iox.DiscardClose(staging)
		os.Remove(part)
		return err
	}
	if err := staging.Sync(); err != nil {
		iox.DiscardClose(staging)
		return fmt.Errorf("file: sync staging %s: %w", part, err)
	}
	if err := staging.Close(); err != nil {
		return fmt.Errorf("file: close staging %s: %w", part, err)
	}

	if err := os.Chmod(part, mode); err != nil {
		return fmt.Errorf("file: chmod staging %s: %w", part, err)
	}
	if err := os.Rename(part, art.Destination); err != nil {
		return fmt.Errorf("file: install %s: %w", art.Destination, err)
	}
	return nil
}

// resumeOffset returns how many verified bytes are already staged. A
// staging file at least as large as the expected output cannot be resumed
// and is discarded.
func resumeOffset(part string, art *types.ArtifactDescriptor) int64 {
	info, err := os.Stat(part)
	if err != nil {
		return 0
	}

	expected := art.Length
	if art.InstalledSize > 0 {
		expected = art.InstalledSize
	}
	if info.Size() >= expected {
		os.Remove(part)
		return 0
	}
	return info.Size()
}
