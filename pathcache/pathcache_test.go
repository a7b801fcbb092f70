package pathcache_test

import (
	"testing"

	"github.com/erigontech/symbolindex/pathcache"
	"github.com/stretchr/testify/require"
)

// TestScenarioS5 is spec.md §8 scenario S5.
func TestScenarioS5(t *testing.T) {
	c := pathcache.New(nil, nil, []pathcache.PrefixMapping{
		{Original: "/hermetic/src", Replacement: "/home/dev/src"},
	})

	resolved, err := c.Resolve("/hermetic/src/x.c", "")
	require.NoError(t, err)
	require.Equal(t, "/home/dev/src/x.c", resolved)
}

func TestResolveRelativeToWorkdir(t *testing.T) {
	c := pathcache.New(nil, nil, nil)
	resolved, err := c.Resolve("x.c", "/repo/src")
	require.NoError(t, err)
	require.Equal(t, "/repo/src/x.c", resolved)
}

func TestResolveIsMemoised(t *testing.T) {
	c := pathcache.New(nil, nil, nil)
	_, err := c.Resolve("/a/b.c", "")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	_, err = c.Resolve("/a/b.c", "")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
}

func TestIsSystem(t *testing.T) {
	c := pathcache.New(nil, []string{"/usr/include"}, nil)
	require.True(t, c.IsSystem("/usr/include/stdio.h"))
	require.False(t, c.IsSystem("/home/dev/src/a.c"))
}
