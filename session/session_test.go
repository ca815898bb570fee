package session

import (
	"testing"

	"github.com/justapithecus/forge/registry"
	"github.com/justapithecus/forge/scheduler"
	"github.com/justapithecus/forge/types"
)

type greeting struct{ Text string }
type subject struct{ Name string }

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func newTestRuntime(t *testing.T) (*Runtime, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	subjectT := types.TypeOf(subject{})
	must(t, reg.Register(types.Rule{
		ID:     "greet",
		Output: types.TypeOf(greeting{}),
		Gets:   []types.DependencyKey{{Product: subjectT}},
		Params: []types.Type{subjectT},
		Body: func(ctx types.RuleContext) (types.Value, error) {
			v, err := ctx.Get(types.DependencyKey{Product: subjectT})
			if err != nil {
				return types.Value{}, err
			}
			return types.NewValue(greeting{Text: "hello, " + v.Data.(subject).Name}), nil
		},
	}))
	return NewRuntime(reg, nil, scheduler.Config{}), reg
}

func TestSession_RunQueryReturnsValue(t *testing.T) {
	rt, _ := newTestRuntime(t)
	meta := types.SessionMeta{SessionID: "s1", Attempt: 1}

	sess, err := rt.OpenSession(meta, types.ParamSet{}, nil)
	must(t, err)
	defer func() { _ = sess.Close() }()

	q, err := types.NewQuery(types.TypeOf(greeting{}), types.NewParam(subject{Name: "forge"}))
	must(t, err)

	outcome := sess.RunQuery(q)
	if outcome.Status != types.QueryOutcomeSuccess {
		t.Fatalf("outcome.Status = %v, err = %v", outcome.Status, outcome.Err)
	}
	if got := outcome.Value.Data.(greeting).Text; got != "hello, forge" {
		t.Errorf("greeting = %q, want %q", got, "hello, forge")
	}
}

func TestSession_RunQueryUsesSessionScopeWhenQueryOmitsValue(t *testing.T) {
	rt, _ := newTestRuntime(t)
	meta := types.SessionMeta{SessionID: "s2", Attempt: 1}

	scope, err := types.NewParamSet(types.NewParam(subject{Name: "ambient"}))
	must(t, err)

	sess, err := rt.OpenSession(meta, scope, nil)
	must(t, err)
	defer func() { _ = sess.Close() }()

	q, err := types.NewQuery(types.TypeOf(greeting{}))
	must(t, err)

	outcome := sess.RunQuery(q)
	if outcome.Status != types.QueryOutcomeSuccess {
		t.Fatalf("outcome.Status = %v, err = %v", outcome.Status, outcome.Err)
	}
	if got := outcome.Value.Data.(greeting).Text; got != "hello, ambient" {
		t.Errorf("greeting = %q, want %q", got, "hello, ambient")
	}
}

func TestSession_RunQueryAfterCloseFails(t *testing.T) {
	rt, _ := newTestRuntime(t)
	meta := types.SessionMeta{SessionID: "s3", Attempt: 1}

	sess, err := rt.OpenSession(meta, types.ParamSet{}, nil)
	must(t, err)
	must(t, sess.Close())

	q, err := types.NewQuery(types.TypeOf(greeting{}), types.NewParam(subject{Name: "forge"}))
	must(t, err)

	outcome := sess.RunQuery(q)
	if outcome.Status != types.QueryOutcomeFailed {
		t.Fatalf("outcome.Status = %v, want failed", outcome.Status)
	}
	if sess.State() != types.SessionStateClosed {
		t.Errorf("State() = %v, want closed", sess.State())
	}
}

func TestSession_RepeatQueryReusesCompiledGraph(t *testing.T) {
	rt, reg := newTestRuntime(t)
	_ = reg
	meta := types.SessionMeta{SessionID: "s4", Attempt: 1}

	sess, err := rt.OpenSession(meta, types.ParamSet{}, nil)
	must(t, err)
	defer func() { _ = sess.Close() }()

	q, err := types.NewQuery(types.TypeOf(greeting{}), types.NewParam(subject{Name: "a"}))
	must(t, err)

	if outcome := sess.RunQuery(q); outcome.Status != types.QueryOutcomeSuccess {
		t.Fatalf("first RunQuery failed: %v", outcome.Err)
	}
	if len(sess.scheds) != 1 {
		t.Fatalf("scheds cache size = %d, want 1", len(sess.scheds))
	}

	q2, err := types.NewQuery(types.TypeOf(greeting{}), types.NewParam(subject{Name: "b"}))
	must(t, err)
	outcome2 := sess.RunQuery(q2)
	if outcome2.Status != types.QueryOutcomeSuccess {
		t.Fatalf("second RunQuery failed: %v", outcome2.Err)
	}
	if len(sess.scheds) != 1 {
		t.Errorf("scheds cache size after same-shape query = %d, want 1 (reused)", len(sess.scheds))
	}
	// The compiled graph is shared across both queries, but the two
	// subjects differ: the engine must not collapse them onto the same
	// memoized Entry.
	if got := outcome2.Value.Data.(greeting).Text; got != "hello, b" {
		t.Errorf("second greeting = %q, want %q (distinct subject must not reuse first subject's cached value)", got, "hello, b")
	}
}
