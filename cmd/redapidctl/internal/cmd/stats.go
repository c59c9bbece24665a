package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/redapid/server/cmd/redapidctl/internal/client"
	"github.com/redapid/server/cmd/redapidctl/internal/render"
	"github.com/redapid/server/cmd/redapidctl/internal/tui"
	"github.com/redapid/server/internal/objects/procobj"
)

// StatsCommand returns the stats command with subcommands. Stats returns
// aggregated, derived facts computed client-side from list results.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated statistics (processes, programs)",
		Subcommands: []*cli.Command{
			statsProcessesCommand(),
			statsProgramsCommand(),
		},
	}
}

func statsProcessesCommand() *cli.Command {
	return &cli.Command{
		Name:   "processes",
		Usage:  "Show process statistics",
		Flags:  TUIReadOnlyFlags(),
		Action: statsProcessesAction,
	}
}

func statsProcessesAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cl, err := client.Dial(c.String("address"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	processes, err := cl.ListProcesses()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	stats := tui.ProcessStats{Total: len(processes)}
	for _, p := range processes {
		switch p.State {
		case procobj.StateRunning, procobj.StateStopped:
			stats.Running++
		case procobj.StateExited:
			stats.Exited++
		case procobj.StateError, procobj.StateKilled:
			stats.Failed++
		}
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats_processes", stats)
	}
	return r.Render(stats)
}

func statsProgramsCommand() *cli.Command {
	return &cli.Command{
		Name:   "programs",
		Usage:  "Show program statistics",
		Flags:  TUIReadOnlyFlags(),
		Action: statsProgramsAction,
	}
}

func statsProgramsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	cl, err := client.Dial(c.String("address"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer cl.Close()

	programs, err := cl.ListPrograms()
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	stats := tui.ProgramStats{Total: len(programs)}
	for _, p := range programs {
		detail, err := cl.InspectProgram(p.ProgramID)
		if err == nil && detail.LastSchedulerError != "" {
			stats.WithErrors++
		}
	}

	if c.Bool("tui") {
		return r.RenderTUI("stats_programs", stats)
	}
	return r.Render(stats)
}
