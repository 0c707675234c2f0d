package res

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func withAvail(t *testing.T, n int) {
	t.Helper()
	Avail = func() int { return n }
	t.Cleanup(func() { Avail = nil })
}

func TestResaddNoblockSucceedsWithinBudget(t *testing.T) {
	withAvail(t, 10)
	require.True(t, Resadd_noblock(4))
	require.True(t, Resadd_noblock(6))
	Resdel(10)
}

func TestResaddNoblockFailsPastBudget(t *testing.T) {
	withAvail(t, 10)
	require.True(t, Resadd_noblock(8))
	require.False(t, Resadd_noblock(3), "only 2 pages remain available")
	Resdel(8)
}

func TestResdelFreesReservationForReuse(t *testing.T) {
	withAvail(t, 5)
	require.True(t, Resadd_noblock(5))
	require.False(t, Resadd_noblock(1))
	Resdel(5)
	require.True(t, Resadd_noblock(5))
	Resdel(5)
}

func TestResaddNoblockZeroIsAlwaysOk(t *testing.T) {
	withAvail(t, 0)
	require.True(t, Resadd_noblock(0))
}

func TestResaddNoblockWithNoAvailFuncTreatsAvailAsZero(t *testing.T) {
	Avail = nil
	require.False(t, Resadd_noblock(1))
}
