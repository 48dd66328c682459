package runtime

import (
	"errors"
	"fmt"

	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/types"
)

// Exit codes returned by smelt install.
const (
	ExitCodeSuccess         = 0 // every artifact installed
	ExitCodeArtifactFailure = 1 // an artifact failed and the run aborted
	ExitCodeFramingError    = 2 // a handler broke the stream framing contract
	ExitCodeConfigError     = 3 // rejected before bytes: manifest, types, capabilities
	ExitCodeSourceError     = 4 // package stream could not be opened
)

// ExitCode maps an outcome status to the process exit code.
func ExitCode(status types.OutcomeStatus) int {
	switch status {
	case types.OutcomeSuccess:
		return ExitCodeSuccess
	case types.OutcomeFramingError:
		return ExitCodeFramingError
	case types.OutcomeConfigError:
		return ExitCodeConfigError
	case types.OutcomeSourceError:
		return ExitCodeSourceError
	default:
		return ExitCodeArtifactFailure
	}
}

// determineOutcome classifies the dispatcher's run error into the install
// outcome. Framing violations and pre-byte rejections get their own
// statuses because they indicate broken handlers or broken configuration
// rather than a bad artifact.
func determineOutcome(runErr error) *types.InstallOutcome {
	if runErr == nil {
		return &types.InstallOutcome{
			Status:      types.OutcomeSuccess,
			Message:     "all artifacts installed",
			FailedIndex: -1,
		}
	}

	outcome := &types.InstallOutcome{
		Status:      types.OutcomeArtifactFailure,
		Message:     runErr.Error(),
		FailedIndex: -1,
	}

	var dispatchErr *handler.DispatchError
	if errors.As(runErr, &dispatchErr) {
		outcome.FailedIndex = dispatchErr.Index
		outcome.FailedArtifact = dispatchErr.Artifact
	}

	switch {
	case errors.Is(runErr, handler.ErrFraming):
		outcome.Status = types.OutcomeFramingError
	case errors.Is(runErr, handler.ErrUnknownType),
		errors.Is(runErr, handler.ErrCapability),
		errors.Is(runErr, handler.ErrDescriptor):
		outcome.Status = types.OutcomeConfigError
	}
	return outcome
}

// configOutcome builds the outcome for a failure before dispatch started.
func configOutcome(status types.OutcomeStatus, err error) *types.InstallOutcome {
	return &types.InstallOutcome{
		Status:      status,
		Message:     fmt.Sprintf("%v", err),
		FailedIndex: -1,
	}
}
