// Package cmd provides CLI commands for the smelt binary.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/smelt/adapter"
	"github.com/justapithecus/smelt/adapter/redis"
	"github.com/justapithecus/smelt/adapter/webhook"
	"github.com/justapithecus/smelt/cli/config"
	"github.com/justapithecus/smelt/iox"
	"github.com/justapithecus/smelt/policy"
	"github.com/justapithecus/smelt/remote"
	"github.com/justapithecus/smelt/runtime"
	"github.com/justapithecus/smelt/script"
	"github.com/justapithecus/smelt/source"
	"github.com/justapithecus/smelt/types"
)

// InstallCommand returns the install command, the only command that
// executes work.
func InstallCommand() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "Install an update package",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "manifest",
				Usage: "Path to the package manifest",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Package payload location: file path or s3://bucket/key",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to a smelt.yaml config file (flags override it)",
			},
			&cli.StringFlag{
				Name:  "install-id",
				Usage: "Install identifier (generated when omitted)",
			},
			&cli.StringFlag{
				Name:  "journal",
				Usage: "Append journal records to this file",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write the JSON install report to this path (- for stderr)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the result summary",
			},
			// Policy flags
			&cli.StringFlag{
				Name:  "policy",
				Usage: "Failure policy: strict or ignorelist",
			},
			&cli.StringSliceFlag{
				Name:  "ignore",
				Usage: "Type tag whose failures do not abort the run (repeatable)",
			},
			// Script flags
			&cli.BoolFlag{
				Name:  "shared-state",
				Usage: "Run all Lua scripts of the install in one interpreter",
			},
			// Delegation flags
			&cli.StringFlag{
				Name:  "delegate",
				Usage: "Unix socket of the external peer for delegated artifacts",
			},
			&cli.IntFlag{
				Name:  "delegate-chunk-size",
				Usage: "Delegation chunk size in bytes",
			},
			// S3 source flags
			&cli.StringFlag{
				Name:  "s3-region",
				Usage: "AWS region for s3:// sources",
			},
			&cli.StringFlag{
				Name:  "s3-endpoint",
				Usage: "Custom S3 endpoint (e.g. MinIO)",
			},
			&cli.BoolFlag{
				Name:  "s3-path-style",
				Usage: "Use path-style S3 addressing",
			},
			// Notification flags
			&cli.StringFlag{
				Name:  "adapter",
				Usage: "Completion notification adapter: webhook or redis",
			},
			&cli.StringFlag{
				Name:  "adapter-url",
				Usage: "Adapter endpoint URL",
			},
			&cli.StringFlag{
				Name:  "adapter-channel",
				Usage: "Redis channel for the completion event",
			},
		},
		Action: installAction,
	}
}

func installAction(c *cli.Context) error {
	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cli.Exit(err.Error(), runtime.ExitCodeConfigError)
		}
		cfg = loaded
	}

	manifestPath := firstNonEmpty(c.String("manifest"), cfg.Manifest)
	sourceLoc := firstNonEmpty(c.String("source"), cfg.Source)
	if manifestPath == "" {
		return cli.Exit("--manifest (or a config manifest) is required", runtime.ExitCodeConfigError)
	}
	if sourceLoc == "" {
		return cli.Exit("--source (or a config source) is required", runtime.ExitCodeConfigError)
	}

	pol, err := buildPolicy(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeConfigError)
	}

	notifier, err := buildAdapter(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), runtime.ExitCodeConfigError)
	}
	if notifier != nil {
		defer iox.DiscardErr(notifier.Close)
	}

	opts := runtime.Options{
		Meta:         types.InstallMeta{InstallID: c.String("install-id")},
		ManifestPath: manifestPath,
		Source:       sourceLoc,
		S3: source.S3Options{
			Region:       firstNonEmpty(c.String("s3-region"), cfg.S3.Region),
			Endpoint:     firstNonEmpty(c.String("s3-endpoint"), cfg.S3.Endpoint),
			UsePathStyle: c.Bool("s3-path-style") || cfg.S3.PathStyle,
		},
		Policy:      pol,
		Script:      script.Config{SharedState: c.Bool("shared-state") || cfg.Script.SharedState},
		JournalPath: firstNonEmpty(c.String("journal"), cfg.Journal),
		Adapter:     notifier,
	}

	if endpoint := firstNonEmpty(c.String("delegate"), cfg.Delegate.Endpoint); endpoint != "" {
		opts.Delegate = &remote.Config{
			Endpoint:     endpoint,
			ChunkSize:    firstNonZero(c.Int("delegate-chunk-size"), cfg.Delegate.ChunkSize),
			ReplyTimeout: cfg.Delegate.ReplyTimeout.Duration,
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	result, err := runtime.Run(ctx, opts)
	if err != nil {
		return cli.Exit(fmt.Sprintf("install failed: %v", err), runtime.ExitCodeConfigError)
	}

	if path := c.String("report"); path != "" {
		if err := runtime.WriteReport(runtime.BuildReport(result), path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	if !c.Bool("quiet") {
		printResult(result)
	}

	return cli.Exit("", runtime.ExitCode(result.Outcome.Status))
}

func buildPolicy(c *cli.Context, cfg *config.Config) (policy.Policy, error) {
	name := firstNonEmpty(c.String("policy"), cfg.Policy.Name)
	ignore := c.StringSlice("ignore")
	if len(ignore) == 0 {
		ignore = cfg.Policy.Ignore
	}
	return policy.New(name, ignore)
}

// buildAdapter constructs the completion notification adapter, nil when
// none is configured.
func buildAdapter(c *cli.Context, cfg *config.Config) (adapter.Adapter, error) {
	kind := firstNonEmpty(c.String("adapter"), cfg.Adapter.Type)
	if kind == "" {
		return nil, nil
	}
	url := firstNonEmpty(c.String("adapter-url"), cfg.Adapter.URL)

	retries := 0
	if cfg.Adapter.Retries != nil {
		retries = *cfg.Adapter.Retries
	}

	switch kind {
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     url,
			Headers: cfg.Adapter.Headers,
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		return redis.New(redis.Config{
			URL:     url,
			Channel: firstNonEmpty(c.String("adapter-channel"), cfg.Adapter.Channel),
			Timeout: cfg.Adapter.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type: %q (must be webhook or redis)", kind)
	}
}

func printResult(result *runtime.Result) {
	fmt.Printf("\ninstall_id=%s, package=%s, outcome=%s, duration=%s\n",
		result.Meta.InstallID,
		result.Meta.Package,
		result.Outcome.Status,
		result.Duration.Round(time.Millisecond),
	)

	fmt.Printf("\n=== Install Result ===\n")
	fmt.Printf("Install ID:   %s\n", result.Meta.InstallID)
	fmt.Printf("Package:      %s\n", result.Meta.Package)
	if result.Version != "" {
		fmt.Printf("Version:      %s\n", result.Version)
	}
	fmt.Printf("Source:       %s\n", result.Source)
	fmt.Printf("Outcome:      %s\n", result.Outcome.Status)
	fmt.Printf("Message:      %s\n", result.Outcome.Message)
	fmt.Printf("Duration:     %s\n", result.Duration)

	fmt.Printf("\n=== Artifacts ===\n")
	for _, r := range result.Artifacts {
		line := fmt.Sprintf("  [%d] %-10s %-10s %-10s %d bytes",
			r.Index, r.Type, r.Category, r.Status, r.BytesConsumed)
		if r.Err != nil {
			line += fmt.Sprintf("  (%v)", r.Err)
		}
		fmt.Println(line)
	}

	fmt.Printf("\n=== Metrics ===\n")
	fmt.Printf("Installed:        %d\n", result.Metrics.ArtifactsInstalled)
	fmt.Printf("Failed:           %d\n", result.Metrics.ArtifactsFailed)
	fmt.Printf("Ignored:          %d\n", result.Metrics.ArtifactsIgnored)
	fmt.Printf("Bytes Consumed:   %d\n", result.Metrics.BytesConsumed)
	if result.Metrics.BytesWritten > 0 {
		fmt.Printf("Bytes Delegated:  %d\n", result.Metrics.BytesWritten)
	}
	if result.Metrics.IntegrityFailures > 0 {
		fmt.Printf("Integrity Fails:  %d\n", result.Metrics.IntegrityFailures)
	}
	if result.Metrics.ChunksAcked > 0 || result.Metrics.ChunksNacked > 0 {
		fmt.Printf("Chunks ACK/NACK:  %d/%d\n", result.Metrics.ChunksAcked, result.Metrics.ChunksNacked)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
