package bounds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoundsReturnsPositiveBudgetForEveryCallSite(t *testing.T) {
	for b := Bound_t(0); b < _bound_max; b++ {
		require.Greater(t, Bounds(b), 0, "call site %d has no allocation budget", b)
	}
}

func TestPageFaultBoundExceedsPlainWalkBound(t *testing.T) {
	require.Greater(t, Bounds(B_ASPACE_T_PGFAULT), Bounds(B_ASPACE_T_K2USER_INNER))
}
