package limits

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTakenSucceedsUntilExhausted(t *testing.T) {
	var s Sysatomic_t = 2
	require.True(t, s.Taken(1))
	require.EqualValues(t, 1, s)
	require.True(t, s.Taken(1))
	require.EqualValues(t, 0, s)
	require.False(t, s.Taken(1), "taking past zero must fail")
	require.EqualValues(t, 0, s, "a failed Taken must refund what it subtracted")
}

func TestGivenRestoresCapacity(t *testing.T) {
	var s Sysatomic_t = 0
	s.Given(5)
	require.EqualValues(t, 5, s)
	require.True(t, s.Taken(5))
	require.EqualValues(t, 0, s)
}

func TestTakeAndGiveAreSingleUnitHelpers(t *testing.T) {
	var s Sysatomic_t = 1
	require.True(t, s.Take())
	require.EqualValues(t, 0, s)
	s.Give()
	require.EqualValues(t, 1, s)
}

func TestTakenOfNegativeAmountPanics(t *testing.T) {
	var s Sysatomic_t = 1
	require.Panics(t, func() { s.Taken(^uint(0)) })
}

func TestMkSysLimitMatchesDefaults(t *testing.T) {
	s := MkSysLimit()
	require.Equal(t, 10000, s.Sysprocs)
	require.Equal(t, 20000, s.Vnodes)
	require.EqualValues(t, 100000, s.Blocks)
}
