// Package journal persists the install journal: an append-only stream of
// length-prefixed msgpack records written while an install runs and read
// back afterward for reporting. Each record is a 4-byte big-endian length
// prefix followed by one msgpack map carrying a "type" discriminant.
package journal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Record type discriminants.
const (
	// InstallStartedType opens an install's journal.
	InstallStartedType = "install_started"
	// ArtifactResultType records one artifact's dispatch outcome.
	ArtifactResultType = "artifact_result"
	// InstallFinishedType closes an install's journal.
	InstallFinishedType = "install_finished"
)

// maxRecordSize bounds a single journal record (1 MiB). Journal records
// carry metadata, never artifact payload.
const maxRecordSize = 1 << 20

const lengthPrefixSize = 4

// InstallStarted is the first record of every install.
type InstallStarted struct {
	Type      string    `msgpack:"type"`
	InstallID string    `msgpack:"install_id"`
	Package   string    `msgpack:"package"`
	Version   string    `msgpack:"version"`
	Source    string    `msgpack:"source"`
	Artifacts int       `msgpack:"artifacts"`
	StartedAt time.Time `msgpack:"started_at"`
}

// ArtifactResult records one artifact's dispatch outcome.
type ArtifactResult struct {
	Type          string    `msgpack:"type"`
	Index         int       `msgpack:"index"`
	ArtifactType  string    `msgpack:"artifact_type"`
	Category      string    `msgpack:"category"`
	Status        string    `msgpack:"status"`
	BytesConsumed int64     `msgpack:"bytes_consumed"`
	Error         string    `msgpack:"error,omitempty"`
	At            time.Time `msgpack:"at"`
}

// InstallFinished is the last record of every install that ran to a verdict.
type InstallFinished struct {
	Type       string    `msgpack:"type"`
	InstallID  string    `msgpack:"install_id"`
	Status     string    `msgpack:"status"`
	Error      string    `msgpack:"error,omitempty"`
	FinishedAt time.Time `msgpack:"finished_at"`
}

// RecordErrorKind classifies journal decoding errors.
type RecordErrorKind int

const (
	// RecordErrorPartial indicates a truncated record, e.g. after a crash
	// mid-append. Reading stops at the last intact record.
	RecordErrorPartial RecordErrorKind = iota
	// RecordErrorTooLarge indicates a record exceeding maxRecordSize.
	RecordErrorTooLarge
	// RecordErrorDecode indicates a msgpack decoding error.
	RecordErrorDecode
)

// RecordError represents a journal decoding error.
type RecordError struct {
	Kind RecordErrorKind
	Msg  string
	Err  error
}

func (e *RecordError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsTruncated returns true if the error marks a journal cut off mid-record.
func IsTruncated(err error) bool {
	var recErr *RecordError
	return errors.As(err, &recErr) && recErr.Kind == RecordErrorPartial
}

// Writer appends records to a journal stream.
type Writer struct {
	w io.Writer
}

// NewWriter creates a journal writer. The caller owns the underlying
// writer's lifecycle; journals are typically appended to an O_APPEND file.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Append marshals and writes one record.
func (w *Writer) Append(record any) error {
	payload, err := msgpack.Marshal(record)
	if err != nil {
		return &RecordError{Kind: RecordErrorDecode, Msg: "failed to encode record", Err: err}
	}
	if len(payload) > maxRecordSize {
		return &RecordError{
			Kind: RecordErrorTooLarge,
			Msg:  fmt.Sprintf("record size %d exceeds maximum %d", len(payload), maxRecordSize),
		}
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := w.w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.w.Write(payload); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Reader decodes records from a journal stream.
type Reader struct {
	r io.Reader
}

// NewReader creates a journal reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// typeProbe peeks at the type discriminant without a full decode.
type typeProbe struct {
	Type string `msgpack:"type"`
}

// Next reads and decodes the next record. It returns io.EOF at a clean end
// of stream and a *RecordError with Kind=RecordErrorPartial at a truncated
// tail.
func (r *Reader) Next() (any, error) {
	payload, err := r.readRecord()
	if err != nil {
		return nil, err
	}

	var probe typeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &RecordError{Kind: RecordErrorDecode, Msg: "failed to decode record type", Err: err}
	}

	switch probe.Type {
	case InstallStartedType:
		return decodeAs[InstallStarted](payload)
	case ArtifactResultType:
		return decodeAs[ArtifactResult](payload)
	case InstallFinishedType:
		return decodeAs[InstallFinished](payload)
	default:
		return nil, &RecordError{
			Kind: RecordErrorDecode,
			Msg:  fmt.Sprintf("unknown record type %q", probe.Type),
		}
	}
}

func (r *Reader) readRecord() ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(r.r, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &RecordError{Kind: RecordErrorPartial, Msg: "failed to read length prefix", Err: err}
	}

	size := binary.BigEndian.Uint32(lengthBuf[:])
	if size > maxRecordSize {
		return nil, &RecordError{
			Kind: RecordErrorTooLarge,
			Msg:  fmt.Sprintf("record size %d exceeds maximum %d", size, maxRecordSize),
		}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, &RecordError{Kind: RecordErrorPartial, Msg: "failed to read record", Err: err}
	}
	return payload, nil
}

func decodeAs[T any](payload []byte) (*T, error) {
	var record T
	if err := msgpack.Unmarshal(payload, &record); err != nil {
		return nil, &RecordError{Kind: RecordErrorDecode, Msg: "failed to decode record", Err: err}
	}
	return &record, nil
}

// ReadAll decodes every record until EOF. A truncated tail (crash during
// append) is not an error: the intact prefix is returned.
func ReadAll(r io.Reader) ([]any, error) {
	reader := NewReader(r)
	var records []any
	for {
		record, err := reader.Next()
		if err == io.EOF {
			return records, nil
		}
		if IsTruncated(err) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, record)
	}
}
