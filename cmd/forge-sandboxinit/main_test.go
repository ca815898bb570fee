package main

import (
	"testing"
)

func TestSplitArgv(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{name: "simple", args: []string{"--", "/bin/echo", "hi"}, want: []string{"/bin/echo", "hi"}},
		{name: "leading flags", args: []string{"-x", "--", "/bin/true"}, want: []string{"/bin/true"}},
		{name: "missing separator", args: []string{"/bin/echo", "hi"}, wantErr: true},
		{name: "empty after separator", args: []string{"--"}, wantErr: true},
		{name: "no args", args: nil, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := splitArgv(tc.args)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("splitArgv(%v) = %v, want error", tc.args, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("splitArgv(%v) failed: %v", tc.args, err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("splitArgv(%v) = %v, want %v", tc.args, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("splitArgv(%v) = %v, want %v", tc.args, got, tc.want)
				}
			}
		})
	}
}

func TestReapOrphans_NoChildrenReturnsImmediately(t *testing.T) {
	// With no reparented children, Wait4(-1, ...) fails immediately
	// (ECHILD); this must not block.
	reapOrphans()
}
