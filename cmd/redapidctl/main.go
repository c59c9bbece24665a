// Package main provides the redapidctl CLI entrypoint: a read-mostly
// client for a running redapid daemon plus a watch command for streaming
// callback events.
//
// Usage:
//
//	redapidctl <command> [subcommand] [options]
//
// Grounded on the teacher's cmd/quarry/main.go for the App/ExitErrHandler
// shape; its subcommand tree (list/inspect/stats/version) is adapted to
// redapid's own process/program domain in
// cmd/redapidctl/internal/cmd, and a new watch command replaces the
// teacher's run command (redapidctl has no local execution entrypoint of
// its own — the daemon owns every mutation).
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/redapid/server/cmd/redapidctl/internal/cmd"
)

// version is stamped at release time; commit is set via ldflags.
var (
	version = "0.1.0"
	commit  = "unknown"
)

func main() {
	app := &cli.App{
		Name:           "redapidctl",
		Usage:          "redapid daemon CLI",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ListCommand(),
			cmd.InspectCommand(),
			cmd.StatsCommand(),
			cmd.WatchCommand(),
			cmd.VersionCommand(version, commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from
// cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
