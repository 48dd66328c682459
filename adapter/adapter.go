// Package adapter defines the notification boundary for finished installs.
//
// Adapters publish install completion events to downstream fleet systems.
// The runtime owns adapter lifecycle; users provide configuration only.
// Delivery is best-effort: a failed publish never changes the install's
// verdict or exit code.
package adapter

import "context"

// InstallCompletedEvent is the payload published when an install finishes,
// successfully or not.
type InstallCompletedEvent struct {
	EventType          string `json:"event_type"` // always "install_completed"
	InstallID          string `json:"install_id"`
	Package            string `json:"package"`
	Version            string `json:"version"`
	Source             string `json:"source"` // "file" or "s3"
	Status             string `json:"status"` // success, artifact_failure, ...
	Error              string `json:"error,omitempty"`
	ArtifactsInstalled int64  `json:"artifacts_installed"`
	ArtifactsFailed    int64  `json:"artifacts_failed"`
	ArtifactsIgnored   int64  `json:"artifacts_ignored"`
	BytesConsumed      int64  `json:"bytes_consumed"`
	BytesWritten       int64  `json:"bytes_written"`
	Timestamp          string `json:"timestamp"` // ISO 8601
	DurationMs         int64  `json:"duration_ms"`
}

// Adapter publishes install completion events to a downstream system.
// Implementations must be safe for single-use per install.
type Adapter interface {
	// Publish sends an install completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *InstallCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
