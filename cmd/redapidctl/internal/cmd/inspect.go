package cmd

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/redapid/server/cmd/redapidctl/internal/client"
	"github.com/redapid/server/cmd/redapidctl/internal/render"
	"github.com/redapid/server/internal/object"
)

// InspectCommand returns the inspect command with subcommands. Inspect
// returns a deep view of a single entity.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single entity (process, program)",
		Subcommands: []*cli.Command{
			inspectProcessCommand(),
			inspectProgramCommand(),
		},
	}
}

func inspectProcessCommand() *cli.Command {
	return &cli.Command{
		Name:      "process",
		Usage:     "Inspect a process by ID",
		ArgsUsage: "<process-id>",
		Flags:     TUIReadOnlyFlags(),
		Action:    inspectProcessAction,
	}
}

func inspectProcessAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("process-id required", 1)
	}
	id, err := parseObjectID(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cl, err := client.Dial(c.String("address"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	detail, err := cl.InspectProcess(id)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_process", detail)
	}
	return r.Render(detail)
}

func inspectProgramCommand() *cli.Command {
	return &cli.Command{
		Name:      "program",
		Usage:     "Inspect a program by ID",
		ArgsUsage: "<program-id>",
		Flags:     TUIReadOnlyFlags(),
		Action:    inspectProgramAction,
	}
}

func inspectProgramAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("program-id required", 1)
	}
	id, err := parseObjectID(c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cl, err := client.Dial(c.String("address"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	detail, err := cl.InspectProgram(id)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("tui") {
		return r.RenderTUI("inspect_program", detail)
	}
	return r.Render(detail)
}

func parseObjectID(s string) (object.ID, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	return object.ID(n), nil
}
