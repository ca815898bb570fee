package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/forge/cli/render"
	"github.com/justapithecus/forge/internal/stdrules"
	"github.com/justapithecus/forge/types"
)

func newSessionID() string {
	return uuid.NewString()
}

// Exit codes, mirrored from the value of a QueryOutcome.
const (
	exitSuccess = 0
	exitFailed  = 1
	exitCancel  = 2
)

// RunResponse is the rendered shape of a types.QueryOutcome.
type RunResponse struct {
	Status string `json:"status"`
	Value  any    `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// RunCommand returns the run command with one subcommand per built-in
// demonstration rule. A real embedder registers its own rule set and
// exposes its own run subcommands the same way.
func RunCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Evaluate a query against the registered rule set",
		Subcommands: []*cli.Command{
			runDigestCommand(app),
			runListDirCommand(app),
			runShellCommand(app),
		},
	}
}

func runDigestCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:      "digest",
		Usage:     "Digest a file's contents",
		ArgsUsage: "<path>",
		Flags:     ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("path required", exitFailed)
			}
			q, err := types.NewQuery(types.TypeOf(stdrules.FileDigest{}), types.NewParam(stdrules.FilePath(c.Args().First())))
			if err != nil {
				return cli.Exit(err.Error(), exitFailed)
			}
			return runQuery(c, app, q)
		},
	}
}

func runListDirCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:      "list-dir",
		Usage:     "List a directory's immediate entries",
		ArgsUsage: "<path>",
		Flags:     ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("path required", exitFailed)
			}
			q, err := types.NewQuery(types.TypeOf(stdrules.DirectoryListing{}), types.NewParam(stdrules.DirPath(c.Args().First())))
			if err != nil {
				return cli.Exit(err.Error(), exitFailed)
			}
			return runQuery(c, app, q)
		},
	}
}

func runShellCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:      "shell",
		Usage:     "Run an argv through the process executor",
		ArgsUsage: "<argv...>",
		Flags:     ReadOnlyFlags(),
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return cli.Exit("argv required", exitFailed)
			}
			q, err := types.NewQuery(types.TypeOf(stdrules.ShellResult{}), types.NewParam(stdrules.ShellCommand{Argv: c.Args().Slice()}))
			if err != nil {
				return cli.Exit(err.Error(), exitFailed)
			}
			return runQuery(c, app, q)
		},
	}
}

// runQuery opens a one-shot session against app.Runtime, evaluates q, and
// renders its outcome. Exit code follows the outcome's status: success is
// 0, cancellation 2, any other failure 1.
func runQuery(c *cli.Context, app *App, q types.Query) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	sess, err := app.Runtime.OpenSession(types.SessionMeta{SessionID: newSessionID(), Attempt: 1}, types.ParamSet{}, nil)
	if err != nil {
		return cli.Exit(fmt.Sprintf("opening session: %v", err), exitFailed)
	}
	defer func() { _ = sess.Close() }()

	outcome := sess.RunQuery(q)

	resp := RunResponse{Status: string(outcome.Status)}
	switch outcome.Status {
	case types.QueryOutcomeSuccess:
		resp.Value = outcome.Value.Data
	default:
		if outcome.Err != nil {
			resp.Error = outcome.Err.Error()
		}
	}

	if err := r.Render(resp); err != nil {
		return err
	}

	switch outcome.Status {
	case types.QueryOutcomeSuccess:
		return nil
	case types.QueryOutcomeCancelled:
		return cli.Exit("", exitCancel)
	default:
		return cli.Exit("", exitFailed)
	}
}
