package types

import "errors"

// InstallMeta is the identity of a single installation run. Every log entry
// and journal record carries these fields.
type InstallMeta struct {
	// InstallID uniquely identifies this installation attempt.
	InstallID string
	// Package is a human-readable name for the update package being installed.
	Package string
}

// Validate checks that required identity fields are present.
func (m *InstallMeta) Validate() error {
	if m == nil {
		return errors.New("install metadata is required")
	}
	if m.InstallID == "" {
		return errors.New("install_id is required")
	}
	return nil
}

// OutcomeStatus is the terminal status of an installation run.
type OutcomeStatus string

const (
	// OutcomeSuccess means every artifact installed.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeArtifactFailure means an artifact failed and the run aborted
	// (or finished with non-ignorable failures).
	OutcomeArtifactFailure OutcomeStatus = "artifact_failure"
	// OutcomeFramingError means a handler returned success without sitting
	// exactly at the end of its declared byte range. Indicates a broken
	// handler; fatal for all subsequent artifacts.
	OutcomeFramingError OutcomeStatus = "framing_error"
	// OutcomeConfigError means the run failed before any bytes were
	// consumed: unknown handler type, capability mismatch, bad manifest.
	OutcomeConfigError OutcomeStatus = "config_error"
	// OutcomeSourceError means the package stream could not be opened.
	OutcomeSourceError OutcomeStatus = "source_error"
)

// InstallOutcome is the terminal outcome of an installation run.
type InstallOutcome struct {
	Status OutcomeStatus
	// Message is a human-readable description of the outcome.
	Message string
	// FailedArtifact is the type tag of the artifact that failed, if any.
	FailedArtifact string
	// FailedIndex is the position of the failed artifact in the package
	// order, -1 when no single artifact is at fault.
	FailedIndex int
}
