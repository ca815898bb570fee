package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/forge/cli/render"
)

// listWarningThreshold is the number of items above which list prints a
// warning with the result count.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ListCommand returns the list command with subcommands.
func ListCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List entities (rules, pools)",
		Subcommands: []*cli.Command{
			listRulesCommand(app),
			listPoolsCommand(app),
		},
	}
}

func listRulesCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:   "rules",
		Usage:  "List registered rules",
		Flags:  ReadOnlyFlags(),
		Action: listRulesAction(app),
	}
}

func listRulesAction(app *App) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for list commands", 1)
		}

		results := app.Reader.ListRules()
		if len(results) > listWarningThreshold && isStderrTTY() {
			fmt.Fprintf(os.Stderr, "Warning: returning %d results.\n\n", len(results))
		}
		return r.Render(results)
	}
}

func listPoolsCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:   "pools",
		Usage:  "List remote cache pools",
		Flags:  ReadOnlyFlags(),
		Action: listPoolsAction(app),
	}
}

func listPoolsAction(app *App) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		if c.Bool("tui") {
			return cli.Exit("--tui is not supported for list commands", 1)
		}
		return r.Render(app.Reader.ListPools())
	}
}
