// Package main provides the smelt-peer reference binary: the accepting side
// of the delegation protocol. It receives delegated artifacts over a
// unix-domain socket and writes each one to a numbered file in an output
// directory. Production deployments replace it with the target subsystem's
// own listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/smelt/log"
	"github.com/justapithecus/smelt/remote"
	"github.com/justapithecus/smelt/types"
)

func main() {
	app := &cli.App{
		Name:    "smelt-peer",
		Usage:   "Reference delegation peer - receives delegated artifacts",
		Version: types.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "listen",
				Usage:    "Unix socket path to listen on",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "Directory artifacts are written to",
				Value: ".",
			},
		},
		Action: serveAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveAction(c *cli.Context) error {
	output := c.String("output")
	if err := os.MkdirAll(output, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	logger := log.NewLogger(&types.InstallMeta{InstallID: "peer"}).Sugar()

	receiver := &fileReceiver{dir: output, logger: logger}
	peer, err := remote.NewPeer(c.String("listen"), receiver, logger)
	if err != nil {
		return err
	}
	defer peer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	logger.Infof("listening on %s, writing to %s", c.String("listen"), output)
	if err := peer.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// fileReceiver writes each delegated artifact to a numbered file.
type fileReceiver struct {
	dir    string
	logger *log.SugaredLogger
	seq    atomic.Int64
}

func (r *fileReceiver) Open(declared int64) (io.WriteCloser, error) {
	path := filepath.Join(r.dir, fmt.Sprintf("artifact-%04d.bin", r.seq.Add(1)))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	r.logger.Infof("receiving %d bytes into %s", declared, path)
	return f, nil
}
