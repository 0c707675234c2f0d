package accnt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/util"
)

func TestUtaddAndSystaddAccumulate(t *testing.T) {
	var a Accnt_t
	a.Utadd(100)
	a.Utadd(50)
	a.Systadd(7)
	require.EqualValues(t, 150, a.Userns)
	require.EqualValues(t, 7, a.Sysns)
}

func TestAddMergesChildUsageIntoParent(t *testing.T) {
	var parent, child Accnt_t
	parent.Utadd(10)
	parent.Systadd(20)
	child.Utadd(1)
	child.Systadd(2)

	parent.Add(&child)
	require.EqualValues(t, 11, parent.Userns)
	require.EqualValues(t, 22, parent.Sysns)
	// the child's own counters are untouched by folding into the parent
	require.EqualValues(t, 1, child.Userns)
}

func TestToRusageEncodesSecondsAndMicroseconds(t *testing.T) {
	var a Accnt_t
	a.Utadd(int(2*1e9 + 500_000*1000)) // 2.5s of user time
	a.Systadd(int(1 * 1e9))            // 1s of system time

	ru := a.To_rusage()
	require.Len(t, ru, 32)

	require.Equal(t, 2, util.Readn(ru, 8, 0))
	require.Equal(t, 500_000, util.Readn(ru, 8, 8))
	require.Equal(t, 1, util.Readn(ru, 8, 16))
	require.Equal(t, 0, util.Readn(ru, 8, 24))
}

func TestFetchTakesConsistentSnapshot(t *testing.T) {
	var a Accnt_t
	a.Utadd(42_000)
	ru := a.Fetch()
	require.Equal(t, 0, util.Readn(ru, 8, 0))
	require.Equal(t, 42, util.Readn(ru, 8, 8))
}
