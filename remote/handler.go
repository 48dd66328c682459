package remote

import (
	"context"
	"fmt"

	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/stream"
	"github.com/justapithecus/smelt/types"
)

// Install delegates an artifact to an external peer process. A NACK or
// transport failure is reported as the artifact's failure; if delegation
// fails before or during the transfer, the dispatcher's failure policy
// decides whether the run continues past the remaining bytes.
//
// The registered configuration payload must be a *Config. Compressed
// artifacts are relayed as their on-wire bytes: the peer owns inflation,
// and integrity verification against the decompressed stream happens on
// its side. Uncompressed artifacts are verified in flight as usual.
//
// Register it for a delegated type tag:
//
//	registry.Register("delegate", handler.CapAll, handler.Func(remote.Install), &remote.Config{
//		Endpoint: "/run/smelt/peer.sock",
//	})
func Install(ctx context.Context, art *types.ArtifactDescriptor, cursor *handler.Cursor, config any) error {
	cfg, ok := config.(*Config)
	if !ok || cfg == nil {
		return fmt.Errorf("%w: handler config is %T, want *remote.Config", ErrProtocol, config)
	}

	session := NewSession(*cfg)
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		return err
	}
	if err := session.Init(art.Length); err != nil {
		return err
	}

	spec := stream.Spec{
		Length: art.Length,
		Sink:   newChunkWriter(session),
	}
	if art.Compression == "" {
		spec.Checksum = art.Checksum
		spec.Digest = art.Digest
		spec.DigestAlgo = art.DigestAlgo
	}

	if _, err := stream.Transfer(cursor, spec); err != nil {
		return err
	}
	if err := spec.Sink.(*chunkWriter).Flush(); err != nil {
		return err
	}
	return session.Complete()
}

// chunkWriter packs an io.Writer byte stream into DATA chunks of the
// session's configured size. Each full chunk blocks on its ACK before
// Write returns, so sink backpressure propagates to the transfer loop.
type chunkWriter struct {
	session *Session
	buf     []byte
	n       int
}

func newChunkWriter(session *Session) *chunkWriter {
	return &chunkWriter{session: session, buf: make([]byte, session.ChunkSize())}
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		c := copy(w.buf[w.n:], p)
		w.n += c
		p = p[c:]
		written += c
		if w.n == len(w.buf) {
			if err := w.flushChunk(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush sends the buffered partial chunk, if any.
func (w *chunkWriter) Flush() error {
	if w.n == 0 {
		return nil
	}
	return w.flushChunk()
}

func (w *chunkWriter) flushChunk() error {
	err := w.session.Send(w.buf[:w.n])
	w.n = 0
	return err
}
