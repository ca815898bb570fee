package stdrules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/justapithecus/forge/registry"
	"github.com/justapithecus/forge/scheduler"
	"github.com/justapithecus/forge/session"
	"github.com/justapithecus/forge/types"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	reg := registry.New()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	rt := session.NewRuntime(reg, nil, scheduler.Config{})
	sess, err := rt.OpenSession(types.SessionMeta{SessionID: "t1", Attempt: 1}, types.ParamSet{}, nil)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestDigestFile_ComputesContentDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greeting.txt")
	if err := os.WriteFile(path, []byte("hello forge"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	sess := newTestSession(t)
	q, err := types.NewQuery(types.TypeOf(FileDigest{}), types.NewParam(FilePath(path)))
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}

	outcome := sess.RunQuery(q)
	if outcome.Status != types.QueryOutcomeSuccess {
		t.Fatalf("outcome.Status = %v, err = %v", outcome.Status, outcome.Err)
	}

	want := types.DigestOf([]byte("hello forge"))
	got := outcome.Value.Data.(FileDigest).Digest
	if got != want {
		t.Errorf("digest = %+v, want %+v", got, want)
	}
}

func TestListDirectory_ReturnsSortedEntries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.txt", "a.txt", "b.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	sess := newTestSession(t)
	q, err := types.NewQuery(types.TypeOf(DirectoryListing{}), types.NewParam(DirPath(dir)))
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}

	outcome := sess.RunQuery(q)
	if outcome.Status != types.QueryOutcomeSuccess {
		t.Fatalf("outcome.Status = %v, err = %v", outcome.Status, outcome.Err)
	}

	got := outcome.Value.Data.(DirectoryListing).Entries
	want := []string{"a.txt", "b.txt", "c.txt"}
	if len(got) != len(want) {
		t.Fatalf("entries = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entries[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDigestFile_MissingFileFails(t *testing.T) {
	sess := newTestSession(t)
	q, err := types.NewQuery(types.TypeOf(FileDigest{}), types.NewParam(FilePath("/nonexistent/forge-test-file")))
	if err != nil {
		t.Fatalf("NewQuery: %v", err)
	}

	outcome := sess.RunQuery(q)
	if outcome.Status == types.QueryOutcomeSuccess {
		t.Fatal("expected failure for nonexistent file")
	}
}
