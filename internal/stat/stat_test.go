package stat

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestAccessorsRoundTrip(t *testing.T) {
	var st Stat_t
	st.Wdev(1)
	st.Wino(2)
	st.Wmode(0644)
	st.Wsize(4096)
	st.Wrdev(3)
	st.Wuid(1000)
	st.Wblocks(8)
	st.Wmtime(100, 200)

	require.EqualValues(t, 0644, st.Mode())
	require.EqualValues(t, 4096, st.Size())
	require.EqualValues(t, 3, st.Rdev())
	require.EqualValues(t, 2, st.Rino())
}

func TestBytesExposesEntireStructContiguously(t *testing.T) {
	var st Stat_t
	st.Wmode(0755)

	b := st.Bytes()
	require.Len(t, b, int(unsafe.Sizeof(st)))
	require.NotZero(t, st.Mode())
}
