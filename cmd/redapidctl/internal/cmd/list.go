package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/redapid/server/cmd/redapidctl/internal/client"
	"github.com/redapid/server/cmd/redapidctl/internal/render"
)

// ListCommand returns the list command with subcommands. List returns thin
// slices (not inspect-level detail).
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entities (processes, programs)",
		Subcommands: []*cli.Command{
			listProcessesCommand(),
			listProgramsCommand(),
		},
	}
}

func listProcessesCommand() *cli.Command {
	return &cli.Command{
		Name:   "processes",
		Usage:  "List live processes",
		Flags:  ReadOnlyFlags(),
		Action: listProcessesAction,
	}
}

func listProcessesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list commands", 1)
	}

	cl, err := client.Dial(c.String("address"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	results, err := cl.ListProcesses()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(results)
}

func listProgramsCommand() *cli.Command {
	return &cli.Command{
		Name:   "programs",
		Usage:  "List defined programs",
		Flags:  ReadOnlyFlags(),
		Action: listProgramsAction,
	}
}

func listProgramsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list commands", 1)
	}

	cl, err := client.Dial(c.String("address"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	results, err := cl.ListPrograms()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(results)
}
