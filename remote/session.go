package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/justapithecus/smelt/metrics"
)

// Defaults for delegation sessions.
const (
	// DefaultChunkSize is the default DATA chunk size. Chunk size is an
	// implementation choice, not protocol-mandated.
	DefaultChunkSize = 256 * 1024
	// DefaultReplyTimeout bounds the wait for each ACK/NACK.
	DefaultReplyTimeout = 30 * time.Second
)

// State is the delegation session state. The happy path is
// Disconnected → Connected → Initialized → Transferring → Completed;
// Failed is reachable from any non-terminal state.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateInitialized
	StateTransferring
	StateCompleted
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateInitialized:
		return "initialized"
	case StateTransferring:
		return "transferring"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// NackError is returned when the peer rejects a command. The first NACK
// received at any point is terminal for the session.
type NackError struct {
	// Command is the command that was rejected.
	Command string
	// Reason is the optional NACK payload.
	Reason string
}

func (e *NackError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("peer rejected %s: %s", e.Command, e.Reason)
	}
	return fmt.Sprintf("peer rejected %s", e.Command)
}

// ErrProtocol indicates a local protocol violation (e.g. sending more
// cumulative bytes than declared). Checked before the violating message
// would go on the wire.
var ErrProtocol = errors.New("delegation protocol violation")

// Config configures a delegation session. It is the opaque configuration
// payload registered with the remote handler entry.
type Config struct {
	// Endpoint is the unix-domain socket path of the external peer.
	Endpoint string
	// ChunkSize overrides DefaultChunkSize. Capped at MaxChunkSize.
	ChunkSize int
	// ReplyTimeout overrides DefaultReplyTimeout.
	ReplyTimeout time.Duration
	// Collector records chunk acknowledgement metrics. May be nil.
	Collector *metrics.Collector
}

// normalized returns the config with defaults applied.
func (c Config) normalized() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkSize > MaxChunkSize {
		c.ChunkSize = MaxChunkSize
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = DefaultReplyTimeout
	}
	return c
}

// Session is one per-artifact delegation exchange. The agent is always the
// connecting/client side; the peer never initiates. Sessions are not reused
// across artifacts and are not safe for concurrent use — the protocol is
// fully synchronous, one outstanding message at a time.
type Session struct {
	cfg      Config
	conn     net.Conn
	state    State
	declared int64
	acked    int64
}

// NewSession creates a session in StateDisconnected.
func NewSession(cfg Config) *Session {
	return &Session{cfg: cfg.normalized(), state: StateDisconnected}
}

// State returns the current session state.
func (s *Session) State() State { return s.state }

// Acked returns the cumulative bytes acknowledged by the peer.
func (s *Session) Acked() int64 { return s.acked }

// ChunkSize returns the effective chunk size.
func (s *Session) ChunkSize() int { return s.cfg.ChunkSize }

// Connect opens the channel to the configured endpoint.
// Failure to connect is terminal and is reported as the artifact's failure.
func (s *Session) Connect(ctx context.Context) error {
	if s.state != StateDisconnected {
		return s.fail(fmt.Errorf("%w: connect in state %s", ErrProtocol, s.state))
	}
	if s.cfg.Endpoint == "" {
		return s.fail(fmt.Errorf("%w: no endpoint configured", ErrProtocol))
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", s.cfg.Endpoint)
	if err != nil {
		return s.fail(fmt.Errorf("connect %s: %w", s.cfg.Endpoint, err))
	}
	s.conn = conn
	s.state = StateConnected
	return nil
}

// Init announces the artifact's total declared byte length. This message is
// the peer's only chance to pre-allocate resources. Blocks for a single
// ACK or NACK reply.
func (s *Session) Init(length int64) error {
	if s.state != StateConnected {
		return s.fail(fmt.Errorf("%w: init in state %s", ErrProtocol, s.state))
	}
	if length < 0 {
		return s.fail(fmt.Errorf("%w: negative declared length %d", ErrProtocol, length))
	}

	if err := WriteMessage(s.conn, CmdInit, strconv.AppendInt(nil, length, 10)); err != nil {
		return s.fail(fmt.Errorf("send INIT: %w", err))
	}
	if err := s.awaitAck(CmdInit); err != nil {
		return err
	}

	s.declared = length
	s.state = StateInitialized
	return nil
}

// Send transmits one chunk of artifact bytes and blocks for its ACK/NACK.
// The protocol is never pipelined: exactly one reply per DATA message
// before the next chunk is sent. Cumulative bytes exceeding the declared
// length is a protocol violation, failed before the chunk leaves.
func (s *Session) Send(chunk []byte) error {
	if s.state != StateInitialized && s.state != StateTransferring {
		return s.fail(fmt.Errorf("%w: data in state %s", ErrProtocol, s.state))
	}
	if len(chunk) == 0 {
		return s.fail(fmt.Errorf("%w: empty DATA chunk", ErrProtocol))
	}
	if s.acked+int64(len(chunk)) > s.declared {
		return s.fail(fmt.Errorf("%w: %d cumulative bytes would exceed declared %d",
			ErrProtocol, s.acked+int64(len(chunk)), s.declared))
	}

	if err := WriteMessage(s.conn, CmdData, chunk); err != nil {
		return s.fail(fmt.Errorf("send DATA: %w", err))
	}
	if err := s.awaitAck(CmdData); err != nil {
		return err
	}

	s.acked += int64(len(chunk))
	s.state = StateTransferring
	s.cfg.Collector.IncChunkAcked()
	s.cfg.Collector.AddBytesWritten(int64(len(chunk)))
	return nil
}

// Complete verifies that the cumulative bytes sent equal the declared
// length exactly and terminates the session. No final commit message is
// required beyond the last chunk's ACK.
func (s *Session) Complete() error {
	if s.state != StateTransferring && !(s.state == StateInitialized && s.declared == 0) {
		return s.fail(fmt.Errorf("%w: complete in state %s", ErrProtocol, s.state))
	}
	if s.acked != s.declared {
		return s.fail(fmt.Errorf("%w: %d of %d declared bytes acknowledged",
			ErrProtocol, s.acked, s.declared))
	}

	s.state = StateCompleted
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// Close releases the channel. A session closed before completion ends in
// StateFailed.
func (s *Session) Close() error {
	if s.state != StateCompleted && s.state != StateFailed {
		s.state = StateFailed
	}
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

// awaitAck blocks for one reply to the given command.
func (s *Session) awaitAck(command string) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReplyTimeout)); err != nil {
		return s.fail(fmt.Errorf("arm reply timeout: %w", err))
	}
	reply, payload, err := ReadReply(s.conn)
	if err != nil {
		return s.fail(fmt.Errorf("await %s reply: %w", command, err))
	}
	_ = s.conn.SetReadDeadline(time.Time{})

	if reply == ReplyNack {
		if command == CmdData {
			s.cfg.Collector.IncChunkNacked()
		}
		return s.fail(&NackError{Command: command, Reason: string(payload)})
	}
	return nil
}

// fail moves the session to the terminal Failed state and closes the
// channel. Failures are not retried at this layer: retry policy, if any,
// belongs to the surrounding installation-transaction layer.
func (s *Session) fail(err error) error {
	s.state = StateFailed
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	return err
}
