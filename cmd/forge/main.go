// Package main provides the forge CLI entrypoint: a thin driver over the
// engine (registry, rule graph builder, runtime node graph, scheduler,
// session) with a small built-in demonstration rule set. Real embedders
// link the engine packages directly and register their own rules; this
// binary exists to exercise and inspect the engine standalone.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/forge/cli/cmd"
	"github.com/justapithecus/forge/config"
	"github.com/justapithecus/forge/types"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "forge: %v\n", err)
		os.Exit(1)
	}

	app, err := cmd.NewApp(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forge: %v\n", err)
		os.Exit(1)
	}

	cliApp := &cli.App{
		Name:           "forge",
		Usage:          "Monorepo build orchestration engine",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to forge.yaml",
			},
		},
		Commands: []*cli.Command{
			cmd.RunCommand(app),
			cmd.InspectCommand(app),
			cmd.ListCommand(app),
			cmd.VersionCommand(commit),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads forge.yaml from --config (scanned ahead of the main
// flag parse, since App construction must happen before the cli.App's
// Before hook runs) or, absent that, from ./forge.yaml if present.
// Missing config is not an error: every Config field has a usable zero
// value.
func loadConfig() (*config.Config, error) {
	path := "forge.yaml"
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			path = os.Args[i+1]
		}
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &config.Config{}, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	return config.Load(path)
}

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
