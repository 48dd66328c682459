// Package runtime orchestrates a full installation run: open the package
// source, load the manifest, build the handler registry, dispatch every
// artifact, journal the outcomes, and notify downstream systems.
package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/justapithecus/smelt/adapter"
	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/handlers"
	"github.com/justapithecus/smelt/iox"
	"github.com/justapithecus/smelt/journal"
	"github.com/justapithecus/smelt/log"
	"github.com/justapithecus/smelt/manifest"
	"github.com/justapithecus/smelt/metrics"
	"github.com/justapithecus/smelt/policy"
	"github.com/justapithecus/smelt/remote"
	"github.com/justapithecus/smelt/script"
	"github.com/justapithecus/smelt/source"
	"github.com/justapithecus/smelt/types"
)

// Options configures an installation run.
type Options struct {
	// Meta identifies the run. A missing install id is generated.
	Meta types.InstallMeta
	// ManifestPath locates the package manifest (required).
	ManifestPath string
	// Source locates the package payload: a file path or s3:// URL (required).
	Source string
	// S3 holds S3 access options for s3:// sources.
	S3 source.S3Options
	// Policy decides whether artifact failures abort the run. Nil = strict.
	Policy policy.Policy
	// Script configures the Lua handler registered under the "lua" tag.
	Script script.Config
	// Delegate, when non-nil, registers a delegation handler under the
	// "delegate" tag forwarding artifacts to an external peer.
	Delegate *remote.Config
	// JournalPath appends journal records to a file. Empty disables it.
	JournalPath string
	// Adapter publishes the install-completed event. Nil disables it.
	// Publishing is best-effort and never changes the outcome.
	Adapter adapter.Adapter
	// Logger defaults to a stderr logger bound to Meta.
	Logger *log.Logger
}

// Result is a finished installation run.
type Result struct {
	Meta      types.InstallMeta
	Version   string
	Source    string
	Outcome   *types.InstallOutcome
	Artifacts []handler.ArtifactResult
	Metrics   metrics.Snapshot
	Duration  time.Duration
}

// Run executes an installation. It always returns a Result with a terminal
// outcome; the error is non-nil only when the options themselves are
// unusable.
func Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	if opts.ManifestPath == "" {
		return nil, fmt.Errorf("manifest path is required")
	}
	if opts.Source == "" {
		return nil, fmt.Errorf("package source is required")
	}
	if opts.Meta.InstallID == "" {
		opts.Meta.InstallID = fmt.Sprintf("inst-%d", time.Now().UnixNano())
	}
	if opts.Policy == nil {
		opts.Policy = policy.Strict{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger(&opts.Meta)
	}

	result := &Result{
		Meta:   opts.Meta,
		Source: source.Scheme(opts.Source),
	}
	finish := func(outcome *types.InstallOutcome) *Result {
		result.Outcome = outcome
		result.Duration = time.Since(start)
		return result
	}

	m, err := manifest.Load(opts.ManifestPath)
	if err != nil {
		logger.Error("manifest rejected", map[string]any{"error": err.Error()})
		return finish(configOutcome(types.OutcomeConfigError, err)), nil
	}
	if opts.Meta.Package == "" {
		opts.Meta.Package = m.Package
		result.Meta.Package = m.Package
	}
	result.Version = m.Version

	collector := metrics.NewCollector(opts.Meta.InstallID, result.Source, opts.Policy.Name())

	registry, scriptHandler, err := buildRegistry(opts, logger, collector)
	if err != nil {
		return finish(configOutcome(types.OutcomeConfigError, err)), nil
	}
	defer scriptHandler.Close()

	dispatcher, err := handler.NewDispatcher(registry, opts.Policy, logger, collector)
	if err != nil {
		return finish(configOutcome(types.OutcomeConfigError, err)), nil
	}

	input, err := source.Open(ctx, opts.Source, opts.S3)
	if err != nil {
		logger.Error("package source unavailable", map[string]any{"error": err.Error()})
		return finish(configOutcome(types.OutcomeSourceError, err)), nil
	}
	defer iox.DiscardClose(input)

	jw, jclose, err := openJournal(opts.JournalPath)
	if err != nil {
		return finish(configOutcome(types.OutcomeConfigError, err)), nil
	}
	defer jclose()

	journalStart(jw, logger, opts, m, start)

	logger.Info("install starting", map[string]any{
		"package":   m.Package,
		"version":   m.Version,
		"source":    result.Source,
		"artifacts": len(m.Artifacts),
		"policy":    opts.Policy.Name(),
	})

	results, runErr := dispatcher.Run(ctx, handler.NewCursor(input), m.Artifacts)
	result.Artifacts = results
	for _, r := range results {
		journalArtifact(jw, logger, r)
	}

	outcome := determineOutcome(runErr)
	result.Metrics = collector.Snapshot()
	finish(outcome)

	journalFinish(jw, logger, opts.Meta.InstallID, outcome)
	publishEvent(ctx, opts.Adapter, logger, result, m)

	logger.Info("install finished", map[string]any{
		"status":      string(outcome.Status),
		"duration_ms": result.Duration.Milliseconds(),
	})
	return result, nil
}

// buildRegistry assembles the handler registry: built-ins, the Lua script
// handler, and optionally the delegation handler. The returned registry is
// frozen.
func buildRegistry(opts Options, logger *log.Logger, collector *metrics.Collector) (*handler.Registry, *script.Handler, error) {
	registry := handler.NewRegistry()
	if err := handlers.RegisterBuiltins(registry); err != nil {
		return nil, nil, err
	}

	scriptHandler := script.New(registry, logger, opts.Script)
	if err := registry.Register("lua", handler.CapScript, scriptHandler, nil); err != nil {
		scriptHandler.Close()
		return nil, nil, err
	}

	if opts.Delegate != nil {
		cfg := *opts.Delegate
		cfg.Collector = collector
		if err := registry.Register("delegate", handler.CapAll, handler.Func(remote.Install), &cfg); err != nil {
			scriptHandler.Close()
			return nil, nil, err
		}
	}

	registry.Freeze()
	return registry, scriptHandler, nil
}

// openJournal opens the journal file for appending. A nil writer with a
// no-op closer means journaling is disabled.
func openJournal(path string) (*journal.Writer, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open journal %q: %w", path, err)
	}
	return journal.NewWriter(f), iox.CloseFunc(f), nil
}

func journalStart(w *journal.Writer, logger *log.Logger, opts Options, m *manifest.Manifest, start time.Time) {
	if w == nil {
		return
	}
	err := w.Append(journal.InstallStarted{
		Type:      journal.InstallStartedType,
		InstallID: opts.Meta.InstallID,
		Package:   m.Package,
		Version:   m.Version,
		Source:    source.Scheme(opts.Source),
		Artifacts: len(m.Artifacts),
		StartedAt: start.UTC(),
	})
	if err != nil {
		logger.Warn("journal append failed", map[string]any{"error": err.Error()})
	}
}

func journalArtifact(w *journal.Writer, logger *log.Logger, r handler.ArtifactResult) {
	if w == nil {
		return
	}
	record := journal.ArtifactResult{
		Type:          journal.ArtifactResultType,
		Index:         r.Index,
		ArtifactType:  r.Type,
		Category:      r.Category.String(),
		Status:        string(r.Status),
		BytesConsumed: r.BytesConsumed,
		At:            time.Now().UTC(),
	}
	if r.Err != nil {
		record.Error = r.Err.Error()
	}
	if err := w.Append(record); err != nil {
		logger.Warn("journal append failed", map[string]any{"error": err.Error()})
	}
}

func journalFinish(w *journal.Writer, logger *log.Logger, installID string, outcome *types.InstallOutcome) {
	if w == nil {
		return
	}
	record := journal.InstallFinished{
		Type:       journal.InstallFinishedType,
		InstallID:  installID,
		Status:     string(outcome.Status),
		FinishedAt: time.Now().UTC(),
	}
	if outcome.Status != types.OutcomeSuccess {
		record.Error = outcome.Message
	}
	if err := w.Append(record); err != nil {
		logger.Warn("journal append failed", map[string]any{"error": err.Error()})
	}
}

// publishEvent notifies the adapter, if any. Failures are logged and
// swallowed: notification is not part of the install verdict.
func publishEvent(ctx context.Context, a adapter.Adapter, logger *log.Logger, result *Result, m *manifest.Manifest) {
	if a == nil {
		return
	}

	event := &adapter.InstallCompletedEvent{
		EventType:          "install_completed",
		InstallID:          result.Meta.InstallID,
		Package:            m.Package,
		Version:            m.Version,
		Source:             result.Source,
		Status:             string(result.Outcome.Status),
		ArtifactsInstalled: result.Metrics.ArtifactsInstalled,
		ArtifactsFailed:    result.Metrics.ArtifactsFailed,
		ArtifactsIgnored:   result.Metrics.ArtifactsIgnored,
		BytesConsumed:      result.Metrics.BytesConsumed,
		BytesWritten:       result.Metrics.BytesWritten,
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		DurationMs:         result.Duration.Milliseconds(),
	}
	if result.Outcome.Status != types.OutcomeSuccess {
		event.Error = result.Outcome.Message
	}

	if err := a.Publish(ctx, event); err != nil {
		logger.Warn("adapter publish failed", map[string]any{"error": err.Error()})
	}
}
