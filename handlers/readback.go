package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/iox"
	"github.com/justapithecus/smelt/stream"
	"github.com/justapithecus/smelt/types"
)

// Readback verifies an artifact's byte range without installing anything:
// the declared bytes are consumed, validated against the declared checksum
// and digest, and discarded. Used for packages that carry a verification
// pass over content installed by an earlier artifact.
type Readback struct{}

// Install consumes and verifies the artifact's declared range. Nothing is
// written; a nil-backed CountWriter accounts for the verified size so an
// installed-size declaration can be checked too.
func (Readback) Install(ctx context.Context, art *types.ArtifactDescriptor, cursor *handler.Cursor, _ any) error {
	if art.Checksum == nil && art.Digest == "" {
		return errors.New("readback: artifact declares nothing to verify against")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	counter := &iox.CountWriter{}
	if _, err := stream.TransferArtifact(cursor, art, counter, 0); err != nil {
		return err
	}
	if art.InstalledSize > 0 && counter.N != art.InstalledSize {
		return fmt.Errorf("readback: verified %d bytes, descriptor declares installed size %d",
			counter.N, art.InstalledSize)
	}
	return nil
}
