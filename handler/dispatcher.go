package handler

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/justapithecus/smelt/log"
	"github.com/justapithecus/smelt/metrics"
	"github.com/justapithecus/smelt/policy"
	"github.com/justapithecus/smelt/stream"
	"github.com/justapithecus/smelt/types"
)

// Sentinel errors for dispatch failure classification.
var (
	// ErrUnknownType means no handler is registered for the artifact's
	// type tag. Detected before any byte is read; fatal to the run.
	ErrUnknownType = errors.New("unknown handler type")

	// ErrCapability means the artifact's category is not in the handler's
	// capability set. Detected before any byte is read; fatal to the run.
	ErrCapability = errors.New("capability mismatch")

	// ErrFraming means the cursor did not sit exactly at the end of the
	// artifact's declared byte range after the handler returned. Indicates
	// a broken handler; fatal for all subsequent artifacts.
	ErrFraming = errors.New("stream framing violation")

	// ErrDescriptor means the artifact descriptor itself is invalid.
	ErrDescriptor = errors.New("invalid artifact descriptor")
)

// DispatchError wraps an error with the artifact it belongs to.
type DispatchError struct {
	// Index is the artifact's position in package order.
	Index int
	// Artifact is the artifact's type tag.
	Artifact string
	// Kind is the sentinel classification, nil for plain handler failures.
	Kind error
	// Err is the underlying error.
	Err error
}

func (e *DispatchError) Error() string {
	if e.Kind != nil && e.Err != nil {
		return fmt.Sprintf("artifact %d (%s): %v: %v", e.Index, e.Artifact, e.Kind, e.Err)
	}
	if e.Kind != nil {
		return fmt.Sprintf("artifact %d (%s): %v", e.Index, e.Artifact, e.Kind)
	}
	return fmt.Sprintf("artifact %d (%s): %v", e.Index, e.Artifact, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *DispatchError) Unwrap() error { return e.Err }

// Is reports whether the error matches the target sentinel.
func (e *DispatchError) Is(target error) bool {
	return e.Kind != nil && errors.Is(e.Kind, target)
}

// ArtifactStatus is the per-artifact dispatch outcome.
type ArtifactStatus string

const (
	// StatusInstalled means the handler succeeded and the cursor invariant held.
	StatusInstalled ArtifactStatus = "installed"
	// StatusFailed means the handler failed and the run aborted.
	StatusFailed ArtifactStatus = "failed"
	// StatusIgnored means the handler failed but the failure policy chose
	// to continue; the cursor was resynchronized past the artifact.
	StatusIgnored ArtifactStatus = "ignored"
)

// ArtifactResult records one artifact's dispatch outcome.
type ArtifactResult struct {
	Index         int
	Type          string
	Category      types.Category
	Status        ArtifactStatus
	BytesConsumed int64
	Err           error
}

// Dispatcher drives the loop over a package's artifacts. One handler is
// active at a time; the loop is strictly sequential because the stream
// cursor is shared, mutable, and forward-only.
type Dispatcher struct {
	registry  *Registry
	policy    policy.Policy
	logger    *log.Logger
	collector *metrics.Collector
}

// NewDispatcher creates a dispatcher over a frozen registry.
func NewDispatcher(registry *Registry, pol policy.Policy, logger *log.Logger, collector *metrics.Collector) (*Dispatcher, error) {
	if registry == nil || !registry.Frozen() {
		return nil, errors.New("dispatcher requires a frozen registry")
	}
	if logger == nil {
		return nil, errors.New("dispatcher requires a logger")
	}
	if pol == nil {
		pol = policy.Strict{}
	}
	return &Dispatcher{
		registry:  registry,
		policy:    pol,
		logger:    logger,
		collector: collector,
	}, nil
}

// Run processes the artifacts strictly in package order. It returns the
// per-artifact results and the error that aborted the run, if any.
// Ignored failures (per the failure policy) appear in the results but do
// not produce a run error.
func (d *Dispatcher) Run(ctx context.Context, cursor *Cursor, artifacts []types.ArtifactDescriptor) ([]ArtifactResult, error) {
	results := make([]ArtifactResult, 0, len(artifacts))

	for i := range artifacts {
		art := &artifacts[i]

		if err := ctx.Err(); err != nil {
			return results, &DispatchError{Index: i, Artifact: art.Type, Err: err}
		}

		result, err := d.dispatchOne(ctx, i, art, cursor)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}

	return results, nil
}

// dispatchOne runs steps 1-5 of the dispatch contract for a single artifact.
func (d *Dispatcher) dispatchOne(ctx context.Context, index int, art *types.ArtifactDescriptor, cursor *Cursor) (ArtifactResult, error) {
	result := ArtifactResult{Index: index, Type: art.Type, Category: art.Category}

	// Configuration errors are caught before any bytes are consumed.
	if err := art.Validate(); err != nil {
		result.Status = StatusFailed
		result.Err = err
		return result, &DispatchError{Index: index, Artifact: art.Type, Kind: ErrDescriptor, Err: err}
	}

	entry, ok := d.registry.Lookup(art.Type)
	if !ok {
		result.Status = StatusFailed
		result.Err = ErrUnknownType
		return result, &DispatchError{Index: index, Artifact: art.Type, Kind: ErrUnknownType}
	}

	if !entry.Capabilities.Has(art.Category) {
		err := fmt.Errorf("handler %q serves %s, artifact is %s",
			art.Type, entry.Capabilities, art.Category)
		result.Status = StatusFailed
		result.Err = err
		return result, &DispatchError{Index: index, Artifact: art.Type, Kind: ErrCapability, Err: err}
	}

	d.logger.Info("dispatching artifact", map[string]any{
		"index":    index,
		"type":     art.Type,
		"category": art.Category.String(),
		"length":   art.Length,
		"offset":   cursor.Offset(),
	})

	start := cursor.Offset()
	installErr := entry.Target.Install(ctx, art, cursor, entry.Config)
	consumed := cursor.Offset() - start
	result.BytesConsumed = consumed
	d.collector.AddBytesConsumed(consumed)

	if installErr == nil {
		// Cursor invariant: success means the cursor sits exactly at
		// (previous offset + declared length). Anything else is a
		// framing desynchronization, fatal regardless of the handler's
		// own reported status.
		if consumed != art.Length {
			err := fmt.Errorf("consumed %d of %d declared bytes", consumed, art.Length)
			result.Status = StatusFailed
			result.Err = err
			d.collector.IncArtifactFailed()
			return result, &DispatchError{Index: index, Artifact: art.Type, Kind: ErrFraming, Err: err}
		}
		result.Status = StatusInstalled
		d.collector.IncArtifactInstalled()
		d.logger.Info("artifact installed", map[string]any{
			"index": index,
			"type":  art.Type,
			"bytes": consumed,
		})
		return result, nil
	}

	if stream.IsIntegrityError(installErr) {
		d.collector.IncIntegrityFailure()
	}

	d.logger.Error("artifact failed", map[string]any{
		"index": index,
		"type":  art.Type,
		"error": installErr.Error(),
	})

	if d.policy.OnArtifactFailure(art, installErr) == policy.Ignore {
		// Resynchronize the cursor before continuing: the handler may
		// have stopped mid-range, and the next artifact starts at
		// (start + declared length).
		if err := d.resync(index, art.Type, cursor, start, art.Length); err != nil {
			result.Status = StatusFailed
			result.Err = installErr
			d.collector.IncArtifactFailed()
			return result, err
		}
		result.Status = StatusIgnored
		result.BytesConsumed = art.Length
		result.Err = installErr
		d.collector.IncArtifactIgnored()
		d.logger.Warn("artifact failure ignored by policy", map[string]any{
			"index":  index,
			"type":   art.Type,
			"policy": d.policy.Name(),
		})
		return result, nil
	}

	result.Status = StatusFailed
	result.Err = installErr
	d.collector.IncArtifactFailed()
	return result, &DispatchError{Index: index, Artifact: art.Type, Err: installErr}
}

// resync drains the unread remainder of a failed artifact's byte range so
// the cursor lands on the next artifact boundary.
func (d *Dispatcher) resync(index int, artType string, cursor *Cursor, start, length int64) error {
	consumed := cursor.Offset() - start
	if consumed > length {
		return &DispatchError{Index: index, Artifact: artType, Kind: ErrFraming,
			Err: fmt.Errorf("handler read %d bytes past its range", consumed-length)}
	}
	remaining := length - consumed
	if remaining == 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, cursor, remaining); err != nil {
		return &DispatchError{Index: index, Artifact: artType, Kind: ErrFraming,
			Err: fmt.Errorf("draining %d bytes: %w", remaining, err)}
	}
	d.collector.AddBytesConsumed(remaining)
	return nil
}
