package caller

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallerdumpIncludesCurrentFrame(t *testing.T) {
	s := Callerdump(0)
	require.Contains(t, s, "caller_test.go")
}

// callFromHere exists so every call in the loop below shares one
// call site, giving Distinct an identical PC chain to dedup on.
func callFromHere(dc *Distinct_caller_t) (bool, string) {
	return dc.Distinct()
}

func TestDistinctReportsFirstCallAsNewThenNot(t *testing.T) {
	var dc Distinct_caller_t
	dc.Enabled = true

	isNew, trace := callFromHere(&dc)
	require.True(t, isNew)
	require.NotEmpty(t, trace)
	require.Equal(t, 1, dc.Len())

	// The same call chain (this exact call site) must not be reported
	// as new a second time.
	isNew, _ = callFromHere(&dc)
	require.False(t, isNew)
	require.Equal(t, 1, dc.Len())
}

func TestDistinctIsNoopWhenDisabled(t *testing.T) {
	var dc Distinct_caller_t
	isNew, trace := dc.Distinct()
	require.False(t, isNew)
	require.Empty(t, trace)
	require.Equal(t, 0, dc.Len())
}

func TestDistinctHonorsWhitelist(t *testing.T) {
	var dc Distinct_caller_t
	dc.Enabled = true
	dc.Whitel = map[string]bool{"testing.tRunner": true}

	isNew, _ := dc.Distinct()
	require.False(t, isNew, "a whitelisted frame in the call chain suppresses the report")
}
