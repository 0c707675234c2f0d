package bpath

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/ustr"
)

func u(s string) ustr.Ustr { return ustr.Ustr(s) }

func TestCanonicalizeCollapsesDotAndDotdot(t *testing.T) {
	cases := map[string]string{
		"/a/b/c":        "/a/b/c",
		"/a/./b":        "/a/b",
		"/a/b/../c":     "/a/c",
		"/a//b///c":     "/a/b/c",
		"/..":           "/",
		"/a/../../b":    "/b",
		"/":             "/",
		"/a/b/c/../../": "/a",
	}
	for in, want := range cases {
		require.Equal(t, want, Canonicalize(u(in)).String(), "input %q", in)
	}
}

func TestSplitDropsEmptyComponents(t *testing.T) {
	parts := Split(u("/a//b/c/"))
	require.Len(t, parts, 3)
	require.Equal(t, "a", parts[0].String())
	require.Equal(t, "b", parts[1].String())
	require.Equal(t, "c", parts[2].String())
}

func TestDirAndBase(t *testing.T) {
	require.Equal(t, "/a/b", Dir(u("/a/b/c")).String())
	require.Equal(t, "c", Base(u("/a/b/c")).String())
	require.Equal(t, "/", Dir(u("/a")).String())
	require.Equal(t, "a", Base(u("/a")).String())
}
