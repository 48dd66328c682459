// Package remote implements the delegation wire protocol a handler may use
// to hand an artifact to an external process over a local IPC channel.
//
// Every message is two opaque frames, each a 4-byte big-endian length prefix
// followed by that many payload bytes. The first frame carries the command
// name, the second the command payload. The agent side sends INIT and DATA;
// the peer side replies ACK or NACK. The INIT payload is the artifact's
// total declared length as ASCII decimal; DATA payloads are raw chunk bytes;
// reply payloads are empty except for NACK, which may carry a reason.
package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Command names on the agent side.
const (
	// CmdInit opens a transfer and carries the declared total length.
	CmdInit = "INIT"
	// CmdData carries one chunk of artifact bytes.
	CmdData = "DATA"
)

// Reply names on the peer side.
const (
	// ReplyAck acknowledges the preceding command.
	ReplyAck = "ACK"
	// ReplyNack rejects the preceding command and terminates the session.
	ReplyNack = "NACK"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// MaxChunkSize is the maximum DATA chunk size (8 MiB raw bytes).
	MaxChunkSize = 8 * 1024 * 1024
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorCommand indicates an unrecognized command or reply name.
	FrameErrorCommand
)

// FrameError represents a frame decoding error. Every FrameError is fatal
// to the delegation session it occurred on.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError returns true if the error is a frame decoding error.
func IsFrameError(err error) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr)
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadFrame reads a single length-prefixed frame.
//
// Errors:
//   - io.EOF: stream ended cleanly before the frame started
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit
func ReadFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(r, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// WriteMessage writes one two-frame message: command name, then payload.
func WriteMessage(w io.Writer, command string, payload []byte) error {
	if err := WriteFrame(w, []byte(command)); err != nil {
		return fmt.Errorf("command frame: %w", err)
	}
	if err := WriteFrame(w, payload); err != nil {
		return fmt.Errorf("payload frame: %w", err)
	}
	return nil
}

// ReadMessage reads one two-frame message and returns the command name and
// payload. The caller validates the command against its role's vocabulary.
func ReadMessage(r io.Reader) (string, []byte, error) {
	command, err := ReadFrame(r)
	if err != nil {
		return "", nil, err
	}
	payload, err := ReadFrame(r)
	if err != nil {
		// A command frame without its payload frame is a partial message.
		if err == io.EOF {
			err = &FrameError{Kind: FrameErrorPartial, Msg: "message truncated after command frame"}
		}
		return "", nil, err
	}
	return string(command), payload, nil
}

// ReadReply reads a peer reply and validates the reply name.
func ReadReply(r io.Reader) (string, []byte, error) {
	reply, payload, err := ReadMessage(r)
	if err != nil {
		return "", nil, err
	}
	if reply != ReplyAck && reply != ReplyNack {
		return "", nil, &FrameError{
			Kind: FrameErrorCommand,
			Msg:  fmt.Sprintf("unexpected reply %q", reply),
		}
	}
	return reply, payload, nil
}
