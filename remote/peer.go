package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/justapithecus/smelt/log"
)

// Receiver opens the sink for one delegated artifact. The declared length
// is the peer's only sizing signal before bytes arrive; returning an error
// NACKs the INIT before any DATA is accepted.
type Receiver interface {
	Open(declared int64) (io.WriteCloser, error)
}

// ReceiverFunc adapts a function to the Receiver interface.
type ReceiverFunc func(declared int64) (io.WriteCloser, error)

// Open calls f.
func (f ReceiverFunc) Open(declared int64) (io.WriteCloser, error) { return f(declared) }

// Peer is the accepting side of the delegation protocol. It serves the
// reference peer binary and in-process tests; production deployments
// typically replace it with the target subsystem's own listener.
type Peer struct {
	listener net.Listener
	receiver Receiver
	logger   *log.SugaredLogger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewPeer listens on the given unix-domain socket path. A stale socket
// file from a previous run is removed first.
func NewPeer(endpoint string, receiver Receiver, logger *log.SugaredLogger) (*Peer, error) {
	if receiver == nil {
		return nil, errors.New("peer requires a receiver")
	}
	if err := os.Remove(endpoint); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", endpoint)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", endpoint, err)
	}
	return &Peer{
		listener: listener,
		receiver: receiver,
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Addr returns the listening address.
func (p *Peer) Addr() net.Addr { return p.listener.Addr() }

// Serve accepts delegation sessions until the context is cancelled or the
// listener is closed. Each session is one connection, handled concurrently;
// the protocol within a session stays strictly synchronous.
func (p *Peer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		p.listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		p.track(conn)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.untrack(conn)
			p.HandleConn(conn)
		}()
	}
}

// Close stops the listener and tears down in-flight sessions.
func (p *Peer) Close() error {
	err := p.listener.Close()
	p.mu.Lock()
	for conn := range p.conns {
		conn.Close()
	}
	p.mu.Unlock()
	return err
}

func (p *Peer) track(conn net.Conn) {
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()
}

func (p *Peer) untrack(conn net.Conn) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
}

// HandleConn runs one delegation session over an established connection.
// Exported so tests can drive the peer over a pipe without a listener.
func (p *Peer) HandleConn(conn net.Conn) {
	defer conn.Close()

	receiver := newPeerReceiver(p.receiver, p.logger)
	defer receiver.close()

	for {
		command, payload, err := ReadMessage(conn)
		if err != nil {
			if err != io.EOF {
				p.logf("session read: %v", err)
			} else if !receiver.done() {
				p.logf("session ended with %d of %d declared bytes", receiver.received, receiver.declared)
			}
			return
		}

		reply, reason := receiver.handle(command, payload)
		if reply == ReplyNack {
			p.logf("rejecting %s: %s", command, reason)
		}
		if err := WriteMessage(conn, reply, []byte(reason)); err != nil {
			p.logf("session write: %v", err)
			return
		}
		if reply == ReplyNack {
			return
		}
	}
}

func (p *Peer) logf(template string, args ...any) {
	if p.logger != nil {
		p.logger.Infof(template, args...)
	}
}

// peerReceiver tracks one session's receive state.
type peerReceiver struct {
	receiver Receiver
	logger   *log.SugaredLogger

	sink     io.WriteCloser
	declared int64
	received int64
	started  bool
}

func newPeerReceiver(receiver Receiver, logger *log.SugaredLogger) *peerReceiver {
	return &peerReceiver{receiver: receiver, logger: logger}
}

// handle applies one agent command and returns the reply plus an optional
// NACK reason. NACK reasons travel in the reply payload frame.
func (r *peerReceiver) handle(command string, payload []byte) (string, string) {
	switch command {
	case CmdInit:
		return r.handleInit(payload)
	case CmdData:
		return r.handleData(payload)
	default:
		return ReplyNack, fmt.Sprintf("unknown command %q", command)
	}
}

func (r *peerReceiver) handleInit(payload []byte) (string, string) {
	if r.started {
		return ReplyNack, "duplicate INIT"
	}
	declared, err := parseDeclaredLength(payload)
	if err != nil {
		return ReplyNack, err.Error()
	}

	sink, err := r.receiver.Open(declared)
	if err != nil {
		return ReplyNack, err.Error()
	}

	r.sink = sink
	r.declared = declared
	r.started = true
	return ReplyAck, ""
}

func (r *peerReceiver) handleData(payload []byte) (string, string) {
	if !r.started {
		return ReplyNack, "DATA before INIT"
	}
	if len(payload) == 0 {
		return ReplyNack, "empty DATA chunk"
	}
	if r.received+int64(len(payload)) > r.declared {
		return ReplyNack, fmt.Sprintf("%d cumulative bytes exceed declared %d",
			r.received+int64(len(payload)), r.declared)
	}

	if _, err := r.sink.Write(payload); err != nil {
		return ReplyNack, fmt.Sprintf("sink write: %v", err)
	}
	r.received += int64(len(payload))

	if r.received == r.declared {
		if err := r.closeSink(); err != nil {
			return ReplyNack, fmt.Sprintf("sink close: %v", err)
		}
		if r.logger != nil {
			r.logger.Infof("received %d bytes", r.received)
		}
	}
	return ReplyAck, ""
}

func (r *peerReceiver) done() bool {
	return !r.started || r.received == r.declared
}

func (r *peerReceiver) close() {
	_ = r.closeSink()
}

func (r *peerReceiver) closeSink() error {
	if r.sink == nil {
		return nil
	}
	err := r.sink.Close()
	r.sink = nil
	return err
}

// parseDeclaredLength decodes the INIT payload: the total transfer length
// as ASCII decimal, no sign, no padding.
func parseDeclaredLength(payload []byte) (int64, error) {
	if len(payload) == 0 {
		return 0, errors.New("empty INIT payload")
	}
	if len(payload) > 18 {
		return 0, fmt.Errorf("INIT length %q out of range", payload)
	}
	var length int64
	for _, c := range payload {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("malformed INIT length %q", payload)
		}
		length = length*10 + int64(c-'0')
	}
	return length, nil
}
