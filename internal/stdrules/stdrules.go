// Package stdrules is a small filesystem-facing rule set used by the
// cmd/forge driver to demonstrate and smoke-test the engine end to end:
// digesting a file, listing a directory, and spawning an arbitrary
// process through the scheduler's process-executor slot. None of this
// is part of the engine proper -- real rule sets are registered by the
// engine's embedder, exactly as a real build's BUILD-file rules are
// registered by the language backend that owns them.
package stdrules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/justapithecus/forge/registry"
	"github.com/justapithecus/forge/types"
)

// FilePath names the file DigestFile reads.
type FilePath string

// FileDigest is DigestFile's output: the content digest and size of the
// file named by a FilePath param.
type FileDigest struct {
	Path   string
	Digest types.Digest
}

// DirPath names the directory ListDirectory reads.
type DirPath string

// DirectoryListing is ListDirectory's output: the sorted base names of
// DirPath's immediate entries.
type DirectoryListing struct {
	Path    string
	Entries []string
}

// ShellCommand is RunShell's input: an argv to execute through the
// scheduler's process executor.
type ShellCommand struct {
	Argv []string
}

// ShellResult is RunShell's output: the process executor's exit code and
// output digest, surfaced back through the rule body.
type ShellResult struct {
	ExitCode     int
	OutputDigest types.Digest
}

// Register adds every rule in this package to reg.
func Register(reg *registry.Registry) error {
	for _, r := range []types.Rule{digestFileRule(), listDirectoryRule(), runShellRule()} {
		if err := reg.Register(r); err != nil {
			return err
		}
	}
	return nil
}

func digestFileRule() types.Rule {
	pathT := types.TypeOf(FilePath(""))
	return types.Rule{
		ID:     "stdrules.DigestFile",
		Output: types.TypeOf(FileDigest{}),
		Params: []types.Type{pathT},
		Body: func(ctx types.RuleContext) (types.Value, error) {
			p, ok := ctx.Params.Get(pathT)
			if !ok {
				return types.Value{}, fmt.Errorf("stdrules: DigestFile requires a FilePath param")
			}
			path := string(p.Data.(FilePath))
			data, err := os.ReadFile(path)
			if err != nil {
				return types.Value{}, fmt.Errorf("stdrules: reading %s: %w", path, err)
			}
			return types.NewValue(FileDigest{Path: path, Digest: types.DigestOf(data)}), nil
		},
	}
}

func listDirectoryRule() types.Rule {
	pathT := types.TypeOf(DirPath(""))
	return types.Rule{
		ID:     "stdrules.ListDirectory",
		Output: types.TypeOf(DirectoryListing{}),
		Params: []types.Type{pathT},
		Body: func(ctx types.RuleContext) (types.Value, error) {
			p, ok := ctx.Params.Get(pathT)
			if !ok {
				return types.Value{}, fmt.Errorf("stdrules: ListDirectory requires a DirPath param")
			}
			path := string(p.Data.(DirPath))
			entries, err := os.ReadDir(path)
			if err != nil {
				return types.Value{}, fmt.Errorf("stdrules: reading %s: %w", path, err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			sort.Strings(names)
			return types.NewValue(DirectoryListing{Path: filepath.Clean(path), Entries: names}), nil
		},
	}
}

func runShellRule() types.Rule {
	cmdT := types.TypeOf(ShellCommand{})
	return types.Rule{
		ID:     "stdrules.RunShell",
		Output: types.TypeOf(ShellResult{}),
		Params: []types.Type{cmdT},
		Body: func(ctx types.RuleContext) (types.Value, error) {
			p, ok := ctx.Params.Get(cmdT)
			if !ok {
				return types.Value{}, fmt.Errorf("stdrules: RunShell requires a ShellCommand param")
			}
			cmd := p.Data.(ShellCommand)
			if len(cmd.Argv) == 0 {
				return types.Value{}, fmt.Errorf("stdrules: RunShell requires a non-empty argv")
			}
			result, err := ctx.RunProcess(types.ProcessRequest{
				Argv:        cmd.Argv,
				Description: cmd.Argv[0],
			})
			if err != nil {
				return types.Value{}, err
			}
			return types.NewValue(ShellResult{ExitCode: result.ExitCode, OutputDigest: result.OutputDigest}), nil
		},
	}
}
