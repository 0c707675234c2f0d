package seat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/signal"
	"github.com/talus-os/talus/internal/vm"
)

func freshPhysmem(t *testing.T) {
	t.Helper()
	config.Active = config.Default()
	mem.Phys_init()
}

type fakeJobctl struct {
	sids    map[defs.Pid_t]defs.Pid_t
	killed  []int
	killpgs []defs.Pid_t
}

func (j *fakeJobctl) PgidInSession(pgid, sid defs.Pid_t) bool {
	return j.sids[pgid] == sid
}

func (j *fakeJobctl) Killpg(pgid defs.Pid_t, sig int) defs.Err_t {
	j.killpgs = append(j.killpgs, pgid)
	j.killed = append(j.killed, sig)
	return 0
}

func TestInputDeliversForegroundSignals(t *testing.T) {
	freshPhysmem(t)
	jc := &fakeJobctl{sids: map[defs.Pid_t]defs.Pid_t{7: 3}}
	reg := NewRegistry(1, jc)
	console := reg.Console()
	require.Zero(t, console.Acquire(3))
	require.Zero(t, reg.Tcsetpgrp(console, 3, 7))

	reg.Input(console, []byte("hi\x03there\x1a"))

	require.Equal(t, []defs.Pid_t{7, 7}, jc.killpgs)
	require.Equal(t, []int{signal.SIGINT, signal.SIGTSTP}, jc.killed)

	buf := make([]byte, 16)
	var dst vm.Fakeubuf_t
	dst.Fake_init(buf)
	n, err := console.In.Copyout(&dst)
	require.Zero(t, err)
	require.Equal(t, "hithere", string(buf[:n]))
}

func TestOutputNarrowsFullwidth(t *testing.T) {
	freshPhysmem(t)
	reg := NewRegistry(1, &fakeJobctl{sids: map[defs.Pid_t]defs.Pid_t{}})
	console := reg.Console()

	// U+FF21/U+FF22 FULLWIDTH LATIN CAPITAL LETTER A/B, as a CJK input
	// method might send, fold down to their single-cell ASCII form.
	console.Output([]byte("ＡＢ"))

	buf := make([]byte, 16)
	var dst vm.Fakeubuf_t
	dst.Fake_init(buf)
	n, err := console.Out.Copyout(&dst)
	require.Zero(t, err)
	require.Equal(t, "AB", string(buf[:n]))
}

func TestOutputSurvivesInvalidUTF8(t *testing.T) {
	freshPhysmem(t)
	reg := NewRegistry(1, &fakeJobctl{sids: map[defs.Pid_t]defs.Pid_t{}})
	console := reg.Console()

	require.NotPanics(t, func() {
		console.Output([]byte{'h', 'i', 0x80, 0xff})
	})
	require.False(t, console.Out.Empty())
}

func TestOutputDropsBytesOnFullRing(t *testing.T) {
	freshPhysmem(t)
	reg := NewRegistry(1, &fakeJobctl{sids: map[defs.Pid_t]defs.Pid_t{}})
	console := reg.Console()

	huge := make([]byte, mem.PGSIZE*2)
	for i := range huge {
		huge[i] = 'x'
	}
	console.Output(huge)
	require.True(t, console.Out.Full())
}
