package circbuf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/vm"
)

func freshPhysmem(t *testing.T) {
	t.Helper()
	config.Active = config.Default()
	mem.Phys_init()
}

func write(t *testing.T, cb *Circbuf_t, s string) int {
	t.Helper()
	var src vm.Fakeubuf_t
	src.Fake_init([]byte(s))
	n, err := cb.Copyin(&src)
	require.Zero(t, err)
	return n
}

func read(t *testing.T, cb *Circbuf_t, max int) string {
	t.Helper()
	buf := make([]byte, 64)
	var dst vm.Fakeubuf_t
	dst.Fake_init(buf)
	n, err := cb.Copyout_n(&dst, max)
	require.Zero(t, err)
	return string(buf[:n])
}

func TestCopyinCopyoutRoundTrip(t *testing.T) {
	freshPhysmem(t)
	var cb Circbuf_t
	cb.Cb_init(8, mem.Physmem)

	require.True(t, cb.Empty())
	n := write(t, &cb, "abcd")
	require.Equal(t, 4, n)
	require.False(t, cb.Empty())
	require.Equal(t, 4, cb.Used())

	require.Equal(t, "abcd", read(t, &cb, 0))
	require.True(t, cb.Empty())
}

// Writing and reading repeatedly past the buffer's size forces head
// and tail to wrap modulo bufsz, exercising the split-slice path in
// both Copyin and Copyout_n.
func TestCopyinCopyoutWrapsAroundBuffer(t *testing.T) {
	freshPhysmem(t)
	var cb Circbuf_t
	cb.Cb_init(4, mem.Physmem)

	for i := 0; i < 3; i++ {
		n := write(t, &cb, "ab")
		require.Equal(t, 2, n)
		require.Equal(t, "ab", read(t, &cb, 0))
	}
	// head/tail have now advanced well past bufsz; the ring must still
	// behave identically.
	n := write(t, &cb, "xy")
	require.Equal(t, 2, n)
	require.Equal(t, "xy", read(t, &cb, 0))
}

func TestFullDropsExcessWrites(t *testing.T) {
	freshPhysmem(t)
	var cb Circbuf_t
	cb.Cb_init(4, mem.Physmem)

	n := write(t, &cb, "abcd")
	require.Equal(t, 4, n)
	require.True(t, cb.Full())
	require.Zero(t, cb.Left())

	// Copyin on a full buffer is a documented no-op, not an error.
	n = write(t, &cb, "z")
	require.Equal(t, 0, n)
}

func TestCopyoutNLimitsToMax(t *testing.T) {
	freshPhysmem(t)
	var cb Circbuf_t
	cb.Cb_init(8, mem.Physmem)

	write(t, &cb, "abcdef")
	require.Equal(t, "abc", read(t, &cb, 3))
	require.Equal(t, 3, cb.Used())
	require.Equal(t, "def", read(t, &cb, 0))
	require.True(t, cb.Empty())
}

func TestRawwriteAndAdvheadThenRawreadAndAdvtail(t *testing.T) {
	freshPhysmem(t)
	var cb Circbuf_t
	cb.Cb_init(8, mem.Physmem)
	require.Zero(t, cb.Cb_ensure())

	r1, r2 := cb.Rawwrite(0, 5)
	require.Nil(t, r2)
	copy(r1, []byte("hello"))
	cb.Advhead(5)
	require.Equal(t, 5, cb.Used())

	v1, v2 := cb.Rawread(0)
	got := append(append([]byte{}, v1...), v2...)
	require.Equal(t, "hello", string(got[:5]))
	cb.Advtail(5)
	require.True(t, cb.Empty())
}
