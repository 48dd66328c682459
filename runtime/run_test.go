package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/justapithecus/smelt/adapter"
	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/journal"
	"github.com/justapithecus/smelt/log"
	"github.com/justapithecus/smelt/policy"
	"github.com/justapithecus/smelt/types"
)

// additive32 computes the additive checksum declared in manifests.
func additive32(data []byte) uint32 {
	var sum uint32
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

func quietLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.NewLogger(&types.InstallMeta{InstallID: "test"}).WithOutput(io.Discard)
}

// writeFixture writes a manifest and payload pair for the given artifact
// payloads and returns their paths.
func writeFixture(t *testing.T, manifestYAML string, payload []byte) (string, string) {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "manifest.yaml")
	payloadPath := filepath.Join(dir, "package.bin")
	if err := os.WriteFile(manifestPath, []byte(manifestYAML), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(payloadPath, payload, 0o600); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	return manifestPath, payloadPath
}

func TestRunInstallsPackage(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "app.conf")

	fileData := bytes.Repeat([]byte("config"), 20)
	verifyData := bytes.Repeat([]byte{0xA5}, 64)
	payload := append(append([]byte{}, fileData...), verifyData...)

	manifestYAML := fmt.Sprintf(`package: sensor-fw
version: "2.4.0"
artifacts:
  - type: rawfile
    category: file
    length: %d
    destination: %s
    checksum: %d
  - type: readback
    category: image
    length: %d
    checksum: %d
`, len(fileData), dest, additive32(fileData), len(verifyData), additive32(verifyData))

	manifestPath, payloadPath := writeFixture(t, manifestYAML, payload)
	journalPath := filepath.Join(dir, "install.journal")

	result, err := Run(context.Background(), Options{
		Meta:         types.InstallMeta{InstallID: "run-1"},
		ManifestPath: manifestPath,
		Source:       payloadPath,
		JournalPath:  journalPath,
		Logger:       quietLogger(t),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Outcome.Status != types.OutcomeSuccess {
		t.Fatalf("status = %s (%s)", result.Outcome.Status, result.Outcome.Message)
	}
	if got := ExitCode(result.Outcome.Status); got != ExitCodeSuccess {
		t.Errorf("exit code = %d", got)
	}
	if result.Version != "2.4.0" || result.Meta.Package != "sensor-fw" {
		t.Errorf("identity = %q/%q", result.Meta.Package, result.Version)
	}

	installed, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("destination missing: %v", err)
	}
	if !bytes.Equal(installed, fileData) {
		t.Error("destination content differs from payload")
	}

	if result.Metrics.ArtifactsInstalled != 2 {
		t.Errorf("installed = %d", result.Metrics.ArtifactsInstalled)
	}
	if result.Metrics.BytesConsumed != int64(len(payload)) {
		t.Errorf("bytes consumed = %d, want %d", result.Metrics.BytesConsumed, len(payload))
	}
	if len(result.Artifacts) != 2 {
		t.Fatalf("artifact results = %d", len(result.Artifacts))
	}
	for _, r := range result.Artifacts {
		if r.Status != handler.StatusInstalled {
			t.Errorf("artifact %d status = %s", r.Index, r.Status)
		}
	}

	jf, err := os.Open(journalPath)
	if err != nil {
		t.Fatalf("journal missing: %v", err)
	}
	defer jf.Close()
	records, err := journal.ReadAll(jf)
	if err != nil {
		t.Fatalf("journal read: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("journal records = %d, want 4", len(records))
	}
	started, ok := records[0].(*journal.InstallStarted)
	if !ok || started.InstallID != "run-1" || started.Package != "sensor-fw" {
		t.Errorf("first record = %#v", records[0])
	}
	finished, ok := records[3].(*journal.InstallFinished)
	if !ok || finished.Status != string(types.OutcomeSuccess) {
		t.Errorf("last record = %#v", records[3])
	}
}

func TestRunArtifactFailureAborts(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte{0x42}, 50)
	tail := bytes.Repeat([]byte{0x11}, 30)
	payload := append(append([]byte{}, data...), tail...)

	manifestYAML := fmt.Sprintf(`package: sensor-fw
artifacts:
  - type: readback
    category: image
    length: %d
    checksum: %d
  - type: rawfile
    category: file
    length: %d
    destination: %s
    checksum: %d
`, len(data), additive32(data)+1, len(tail), filepath.Join(dir, "tail.bin"), additive32(tail))

	manifestPath, payloadPath := writeFixture(t, manifestYAML, payload)

	result, err := Run(context.Background(), Options{
		Meta:         types.InstallMeta{InstallID: "run-2"},
		ManifestPath: manifestPath,
		Source:       payloadPath,
		Logger:       quietLogger(t),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Outcome.Status != types.OutcomeArtifactFailure {
		t.Fatalf("status = %s", result.Outcome.Status)
	}
	if got := ExitCode(result.Outcome.Status); got != ExitCodeArtifactFailure {
		t.Errorf("exit code = %d", got)
	}
	if result.Outcome.FailedIndex != 0 || result.Outcome.FailedArtifact != "readback" {
		t.Errorf("failed = %d/%q", result.Outcome.FailedIndex, result.Outcome.FailedArtifact)
	}
	// Strict policy: the run aborts at the first failure.
	if len(result.Artifacts) != 1 {
		t.Errorf("artifact results = %d, want 1", len(result.Artifacts))
	}
	if _, err := os.Stat(filepath.Join(dir, "tail.bin")); !os.IsNotExist(err) {
		t.Error("second artifact was installed after abort")
	}
}

func TestRunIgnorePolicyContinues(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "tail.bin")
	bad := bytes.Repeat([]byte{0x42}, 50)
	good := bytes.Repeat([]byte{0x11}, 30)
	payload := append(append([]byte{}, bad...), good...)

	manifestYAML := fmt.Sprintf(`package: sensor-fw
artifacts:
  - type: readback
    category: image
    length: %d
    checksum: %d
  - type: rawfile
    category: file
    length: %d
    destination: %s
    checksum: %d
`, len(bad), additive32(bad)+1, len(good), dest, additive32(good))

	manifestPath, payloadPath := writeFixture(t, manifestYAML, payload)

	result, err := Run(context.Background(), Options{
		Meta:         types.InstallMeta{InstallID: "run-3"},
		ManifestPath: manifestPath,
		Source:       payloadPath,
		Policy:       policy.NewIgnoreList([]string{"readback"}),
		Logger:       quietLogger(t),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.Outcome.Status != types.OutcomeSuccess {
		t.Fatalf("status = %s (%s)", result.Outcome.Status, result.Outcome.Message)
	}
	if result.Metrics.ArtifactsIgnored != 1 || result.Metrics.ArtifactsInstalled != 1 {
		t.Errorf("ignored/installed = %d/%d",
			result.Metrics.ArtifactsIgnored, result.Metrics.ArtifactsInstalled)
	}
	installed, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("second artifact missing: %v", err)
	}
	if !bytes.Equal(installed, good) {
		t.Error("second artifact content differs: cursor was not resynchronized")
	}
}

func TestRunUnknownTypeIsConfigError(t *testing.T) {
	manifestYAML := `package: sensor-fw
artifacts:
  - type: bogus
    category: image
    length: 10
`
	manifestPath, payloadPath := writeFixture(t, manifestYAML, make([]byte, 10))

	result, err := Run(context.Background(), Options{
		Meta:         types.InstallMeta{InstallID: "run-4"},
		ManifestPath: manifestPath,
		Source:       payloadPath,
		Logger:       quietLogger(t),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome.Status != types.OutcomeConfigError {
		t.Fatalf("status = %s", result.Outcome.Status)
	}
	if got := ExitCode(result.Outcome.Status); got != ExitCodeConfigError {
		t.Errorf("exit code = %d", got)
	}
}

func TestRunMissingManifest(t *testing.T) {
	result, err := Run(context.Background(), Options{
		Meta:         types.InstallMeta{InstallID: "run-5"},
		ManifestPath: filepath.Join(t.TempDir(), "nope.yaml"),
		Source:       filepath.Join(t.TempDir(), "nope.bin"),
		Logger:       quietLogger(t),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome.Status != types.OutcomeConfigError {
		t.Fatalf("status = %s", result.Outcome.Status)
	}
}

func TestRunMissingSource(t *testing.T) {
	manifestYAML := `package: sensor-fw
artifacts:
  - type: readback
    category: image
    length: 10
    checksum: 0
`
	manifestPath, _ := writeFixture(t, manifestYAML, nil)

	result, err := Run(context.Background(), Options{
		Meta:         types.InstallMeta{InstallID: "run-6"},
		ManifestPath: manifestPath,
		Source:       filepath.Join(t.TempDir(), "gone.bin"),
		Logger:       quietLogger(t),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome.Status != types.OutcomeSourceError {
		t.Fatalf("status = %s", result.Outcome.Status)
	}
	if got := ExitCode(result.Outcome.Status); got != ExitCodeSourceError {
		t.Errorf("exit code = %d", got)
	}
}

func TestRunRequiredOptions(t *testing.T) {
	if _, err := Run(context.Background(), Options{Source: "x"}); err == nil {
		t.Error("missing manifest path accepted")
	}
	if _, err := Run(context.Background(), Options{ManifestPath: "x"}); err == nil {
		t.Error("missing source accepted")
	}
}

func TestRunGeneratesInstallID(t *testing.T) {
	manifestYAML := `package: sensor-fw
artifacts:
  - type: readback
    category: image
    length: 0
    checksum: 0
`
	manifestPath, payloadPath := writeFixture(t, manifestYAML, nil)

	result, err := Run(context.Background(), Options{
		ManifestPath: manifestPath,
		Source:       payloadPath,
		Logger:       quietLogger(t),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Meta.InstallID == "" {
		t.Error("install id was not generated")
	}
}

// captureAdapter records the published event.
type captureAdapter struct {
	mu    sync.Mutex
	event *adapter.InstallCompletedEvent
	err   error
}

func (a *captureAdapter) Publish(_ context.Context, e *adapter.InstallCompletedEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.event = e
	return a.err
}

func (a *captureAdapter) Close() error { return nil }

func TestRunPublishesCompletionEvent(t *testing.T) {
	data := []byte("payload bytes here")
	manifestYAML := fmt.Sprintf(`package: sensor-fw
version: "1.0"
artifacts:
  - type: readback
    category: image
    length: %d
    checksum: %d
`, len(data), additive32(data))
	manifestPath, payloadPath := writeFixture(t, manifestYAML, data)

	capture := &captureAdapter{}
	result, err := Run(context.Background(), Options{
		Meta:         types.InstallMeta{InstallID: "run-7"},
		ManifestPath: manifestPath,
		Source:       payloadPath,
		Adapter:      capture,
		Logger:       quietLogger(t),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome.Status != types.OutcomeSuccess {
		t.Fatalf("status = %s", result.Outcome.Status)
	}

	if capture.event == nil {
		t.Fatal("no event published")
	}
	if capture.event.InstallID != "run-7" || capture.event.Status != string(types.OutcomeSuccess) {
		t.Errorf("event = %+v", capture.event)
	}
	if capture.event.ArtifactsInstalled != 1 {
		t.Errorf("event installed = %d", capture.event.ArtifactsInstalled)
	}
}

func TestRunAdapterFailureDoesNotChangeVerdict(t *testing.T) {
	data := []byte("payload")
	manifestYAML := fmt.Sprintf(`package: sensor-fw
artifacts:
  - type: readback
    category: image
    length: %d
    checksum: %d
`, len(data), additive32(data))
	manifestPath, payloadPath := writeFixture(t, manifestYAML, data)

	capture := &captureAdapter{err: fmt.Errorf("broker unreachable")}
	result, err := Run(context.Background(), Options{
		Meta:         types.InstallMeta{InstallID: "run-8"},
		ManifestPath: manifestPath,
		Source:       payloadPath,
		Adapter:      capture,
		Logger:       quietLogger(t),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Outcome.Status != types.OutcomeSuccess {
		t.Errorf("adapter failure changed verdict: %s", result.Outcome.Status)
	}
}
