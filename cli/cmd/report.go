package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/smelt/iox"
	"github.com/justapithecus/smelt/journal"
)

// ReportCommand returns the report command. It replays a journal file and
// prints its records; it never executes work.
func ReportCommand() *cli.Command {
	return &cli.Command{
		Name:      "report",
		Usage:     "Replay an install journal",
		ArgsUsage: "<journal-file>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Print records as JSON lines",
			},
		},
		Action: reportAction,
	}
}

func reportAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: smelt report <journal-file>", 1)
	}

	f, err := os.Open(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open journal: %v", err), 1)
	}
	defer iox.DiscardClose(f)

	records, err := journal.ReadAll(f)
	if err != nil {
		return cli.Exit(fmt.Sprintf("journal is corrupt: %v", err), 1)
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		for _, record := range records {
			if err := enc.Encode(record); err != nil {
				return err
			}
		}
		return nil
	}

	for _, record := range records {
		printRecord(record)
	}
	return nil
}

func printRecord(record any) {
	switch r := record.(type) {
	case *journal.InstallStarted:
		fmt.Printf("%s  install %s started: %s %s (%d artifacts, source %s)\n",
			r.StartedAt.Format("2006-01-02 15:04:05"),
			r.InstallID, r.Package, r.Version, r.Artifacts, r.Source)
	case *journal.ArtifactResult:
		line := fmt.Sprintf("%s    [%d] %s/%s: %s, %d bytes",
			r.At.Format("2006-01-02 15:04:05"),
			r.Index, r.ArtifactType, r.Category, r.Status, r.BytesConsumed)
		if r.Error != "" {
			line += fmt.Sprintf(" (%s)", r.Error)
		}
		fmt.Println(line)
	case *journal.InstallFinished:
		line := fmt.Sprintf("%s  install %s finished: %s",
			r.FinishedAt.Format("2006-01-02 15:04:05"), r.InstallID, r.Status)
		if r.Error != "" {
			line += fmt.Sprintf(" (%s)", r.Error)
		}
		fmt.Println(line)
	default:
		fmt.Printf("unknown record: %#v\n", record)
	}
}
