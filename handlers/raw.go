// Package handlers provides the built-in artifact handlers: raw image
// writes, file installation with atomic replace, and verify-only readback.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/iox"
	"github.com/justapithecus/smelt/stream"
	"github.com/justapithecus/smelt/types"
)

// Raw writes image artifacts directly to the destination path, typically a
// block device or UBI volume node. The write is not transactional: a raw
// image destination is expected to be the inactive slot of an A/B scheme.
type Raw struct{}

// Install streams the artifact to the destination and fsyncs it. When the
// descriptor declares an installed size, the decompressed byte count is
// checked against it after the write.
func (Raw) Install(ctx context.Context, art *types.ArtifactDescriptor, cursor *handler.Cursor, _ any) error {
	if art.Destination == "" {
		return errors.New("raw: artifact has no destination")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dev, err := os.OpenFile(art.Destination, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return fmt.Errorf("raw: open %s: %w", art.Destination, err)
	}

	written, terr := stream.TransferArtifact(cursor, art, dev, 0)
	if terr != nil {
		iox.DiscardClose(dev)
		return terr
	}
	if err := dev.Sync(); err != nil {
		iox.DiscardClose(dev)
		return fmt.Errorf("raw: sync %s: %w", art.Destination, err)
	}
	if err := dev.Close(); err != nil {
		return fmt.Errorf("raw: close %s: %w", art.Destination, err)
	}

	if art.InstalledSize > 0 && written != art.InstalledSize {
		return fmt.Errorf("raw: wrote %d bytes, descriptor declares installed size %d",
			written, art.InstalledSize)
	}
	return nil
}
