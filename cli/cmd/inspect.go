package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/forge/cli/render"
	"github.com/justapithecus/forge/types"
)

// InspectCommand returns the inspect command with subcommands.
func InspectCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single entity (graph, pool)",
		Subcommands: []*cli.Command{
			inspectGraphCommand(app),
			inspectPoolCommand(app),
		},
	}
}

func inspectGraphCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:      "graph",
		Usage:     "Compile and inspect the rule graph for a product type",
		ArgsUsage: "<product-type>",
		Flags: append(TUIReadOnlyFlags(),
			&cli.StringSliceFlag{
				Name:  "param-type",
				Usage: "Param type in scope when compiling (repeatable)",
			},
		),
		Action: inspectGraphAction(app),
	}
}

func inspectGraphAction(app *App) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("product-type required", 1)
		}
		product := types.Type(c.Args().First())

		paramTypes := make([]types.Type, 0, len(c.StringSlice("param-type")))
		for _, t := range c.StringSlice("param-type") {
			paramTypes = append(paramTypes, types.Type(t))
		}

		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		resp, err := app.Reader.InspectGraph(product, paramTypes...)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		if c.Bool("tui") {
			return r.RenderTUI("inspect_graph", resp)
		}
		return r.Render(resp)
	}
}

func inspectPoolCommand(app *App) *cli.Command {
	return &cli.Command{
		Name:      "pool",
		Usage:     "Inspect a remote cache pool by name",
		ArgsUsage: "<pool-name>",
		Flags:     TUIReadOnlyFlags(),
		Action:    inspectPoolAction(app),
	}
}

func inspectPoolAction(app *App) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("pool-name required", 1)
		}
		name := c.Args().First()

		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		resp, err := app.Reader.InspectPool(name)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}

		if c.Bool("tui") {
			return r.RenderTUI("inspect_pool", resp)
		}
		return r.Render(resp)
	}
}
