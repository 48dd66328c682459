package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/handlers"
)

// HandlersCommand returns the handlers command, listing the artifact type
// tags an install can dispatch to.
func HandlersCommand() *cli.Command {
	return &cli.Command{
		Name:   "handlers",
		Usage:  "List available artifact handlers",
		Action: handlersAction,
	}
}

func handlersAction(*cli.Context) error {
	registry := handler.NewRegistry()
	if err := handlers.RegisterBuiltins(registry); err != nil {
		return err
	}

	for _, tag := range registry.Types() {
		entry, _ := registry.Lookup(tag)
		fmt.Printf("%-12s %s\n", tag, entry.Capabilities)
	}
	// Registered per install configuration rather than at startup.
	fmt.Printf("%-12s %s\n", "lua", handler.CapScript)
	fmt.Printf("%-12s %s  (requires --delegate)\n", "delegate", handler.CapAll)
	return nil
}
