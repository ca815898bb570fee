package graph

import (
	"testing"

	"github.com/justapithecus/forge/registry"
	"github.com/justapithecus/forge/types"
)

type workspaceRoot struct{}
type fileContent struct{}
type parsedFile struct{}
type lintReport struct{}

func noopBody(types.RuleContext) (types.Value, error) { return types.Value{}, nil }

func TestBuild_SimpleChainResolvesWithEmptyLiveParams(t *testing.T) {
	reg := registry.New()
	fileContentT := types.TypeOf(fileContent{})
	parsedFileT := types.TypeOf(parsedFile{})

	must(t, reg.Register(types.Rule{ID: "read_file", Output: fileContentT, Body: noopBody}))
	must(t, reg.Register(types.Rule{
		ID: "parse_file", Output: parsedFileT,
		Gets: []types.DependencyKey{{Product: fileContentT}},
		Body: noopBody,
	}))

	b := NewBuilder(reg)
	q, err := types.NewQuery(parsedFileT)
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}

	g, err := b.Build(q)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if g.Root.Rule != "parse_file" {
		t.Fatalf("Root = %v, want parse_file", g.Root)
	}
	edges := g.Edges[g.Root]
	if len(edges) != 1 || edges[0].Provider.Rule != "read_file" {
		t.Fatalf("Edges[root] = %v, want one edge to read_file", edges)
	}
}

func TestBuild_MissingProviderFails(t *testing.T) {
	reg := registry.New()
	lintReportT := types.TypeOf(lintReport{})

	b := NewBuilder(reg)
	q, _ := types.NewQuery(lintReportT)

	_, err := b.Build(q)
	if err == nil {
		t.Fatal("expected error for a product with no producing rule")
	}
	var be *BuildError
	if !asBuildError(err, &be) {
		t.Fatalf("error is not a *BuildError: %v", err)
	}
	if be.Kind != types.ErrorKindGraphMissing {
		t.Errorf("Kind = %s, want %s", be.Kind, types.ErrorKindGraphMissing)
	}
}

func TestBuild_ParamLeafRequiresNoProvider(t *testing.T) {
	reg := registry.New()
	workspaceRootT := types.TypeOf(workspaceRoot{})
	parsedFileT := types.TypeOf(parsedFile{})

	must(t, reg.Register(types.Rule{
		ID: "parse_from_root", Output: parsedFileT,
		Gets: []types.DependencyKey{{Product: workspaceRootT}},
		Body: noopBody,
	}))

	b := NewBuilder(reg)
	param, err := types.NewParamSet(types.NewParam(workspaceRoot{}))
	if err != nil {
		t.Fatalf("NewParamSet: %v", err)
	}
	q := types.Query{Product: parsedFileT, Params: param}

	g, err := b.Build(q)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(g.Edges[g.Root]) != 0 {
		t.Errorf("Edges[root] = %v, want none (param leaf needs no edge)", g.Edges[g.Root])
	}
}

func TestBuild_ProviderLiveParamsIncludeConsumedParam(t *testing.T) {
	reg := registry.New()
	workspaceRootT := types.TypeOf(workspaceRoot{})
	fileContentT := types.TypeOf(fileContent{})
	parsedFileT := types.TypeOf(parsedFile{})

	must(t, reg.Register(types.Rule{
		ID: "read_file", Output: fileContentT,
		Params: []types.Type{workspaceRootT},
		Body:   noopBody,
	}))
	must(t, reg.Register(types.Rule{
		ID: "parse_file", Output: parsedFileT,
		Gets: []types.DependencyKey{{Product: fileContentT}},
		Body: noopBody,
	}))

	b := NewBuilder(reg)
	param, err := types.NewParamSet(types.NewParam(workspaceRoot{}))
	if err != nil {
		t.Fatalf("NewParamSet: %v", err)
	}
	q := types.Query{Product: parsedFileT, Params: param}

	g, err := b.Build(q)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	edges := g.Edges[g.Root]
	if len(edges) != 1 {
		t.Fatalf("Edges[root] = %v, want one edge", edges)
	}
	reader := edges[0].Provider
	if len(reader.LiveParams) != 1 || reader.LiveParams[0] != workspaceRootT {
		t.Errorf("reader.LiveParams = %v, want [%s]", reader.LiveParams, workspaceRootT)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func asBuildError(err error, target **BuildError) bool {
	if be, ok := err.(*BuildError); ok {
		*target = be
		return true
	}
	return false
}
