package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/metrics"
	"github.com/justapithecus/smelt/types"
)

// Report is the structured JSON report written after an install.
type Report struct {
	InstallID  string              `json:"install_id"`
	Package    string              `json:"package"`
	Version    string              `json:"version,omitempty"`
	Source     string              `json:"source"`
	Status     types.OutcomeStatus `json:"status"`
	Message    string              `json:"message"`
	ExitCode   int                 `json:"exit_code"`
	DurationMs int64               `json:"duration_ms"`

	FailedArtifact string `json:"failed_artifact,omitempty"`
	FailedIndex    int    `json:"failed_index"`

	Artifacts []ReportArtifact  `json:"artifacts"`
	Metrics   *metrics.Snapshot `json:"metrics"`
}

// ReportArtifact holds one artifact's outcome in the report.
type ReportArtifact struct {
	Index         int    `json:"index"`
	Type          string `json:"type"`
	Category      string `json:"category"`
	Status        string `json:"status"`
	BytesConsumed int64  `json:"bytes_consumed"`
	Error         string `json:"error,omitempty"`
}

// BuildReport composes a Report from an install result.
func BuildReport(result *Result) *Report {
	report := &Report{
		InstallID:      result.Meta.InstallID,
		Package:        result.Meta.Package,
		Version:        result.Version,
		Source:         result.Source,
		Status:         result.Outcome.Status,
		Message:        result.Outcome.Message,
		ExitCode:       ExitCode(result.Outcome.Status),
		DurationMs:     result.Duration.Milliseconds(),
		FailedArtifact: result.Outcome.FailedArtifact,
		FailedIndex:    result.Outcome.FailedIndex,
		Artifacts:      make([]ReportArtifact, 0, len(result.Artifacts)),
		Metrics:        &result.Metrics,
	}

	for _, r := range result.Artifacts {
		entry := ReportArtifact{
			Index:         r.Index,
			Type:          r.Type,
			Category:      r.Category.String(),
			Status:        string(r.Status),
			BytesConsumed: r.BytesConsumed,
		}
		if r.Err != nil && r.Status != handler.StatusInstalled {
			entry.Error = r.Err.Error()
		}
		report.Artifacts = append(report.Artifacts, entry)
	}
	return report
}

// WriteReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr so stdout stays machine-clean.
func WriteReport(report *Report, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}
	if path == "-" {
		return writeReportTo(report, os.Stderr)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}
	if err := writeReportTo(report, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return f.Close()
}

// writeReportTo writes report JSON to any writer.
func writeReportTo(report *Report, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
