package trap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/proc"
)

func newKern(t *testing.T) *proc.Kern_t {
	t.Helper()
	config.Active = config.Default()
	mem.Phys_init()

	k := proc.NewKern(1)
	stop := make(chan struct{})
	go k.RunCPU(0, stop)
	t.Cleanup(func() { close(stop) })
	return k
}

// runSyscall schedules a process whose only job is to issue the given
// trapframe through s.Syscall and report the result, mirroring how
// usertrap would call Syscall from inside a running process's
// goroutine. No real process survives the call site, so each test
// gets its own single-shot process.
func runSyscall(t *testing.T, k *proc.Kern_t, s *Sys_t, tf *Trapframe_t) int {
	t.Helper()
	ret := make(chan int, 1)
	prog := func(p *proc.Proc_t) int {
		ret <- s.Syscall(p, tf)
		return 0
	}
	_, err := k.UserInit("syscall-test", prog)
	require.Zero(t, err)

	select {
	case r := <-ret:
		return r
	case <-time.After(time.Second):
		t.Fatal("syscall never returned")
		return 0
	}
}

func TestSysGetpidReturnsCallersPid(t *testing.T) {
	k := newKern(t)
	s := &Sys_t{Kern: k}

	tf := &Trapframe_t{Regs: [8]int{0, 0, 0, 0, 0, 0, 0, int(defs.SYS_GETPID)}}
	got := runSyscall(t, k, s, tf)
	require.Greater(t, got, 0, "a freshly UserInit'd process has a positive pid")
}

func TestSysGetnprocsCountsLiveProcesses(t *testing.T) {
	k := newKern(t)
	s := &Sys_t{Kern: k}

	// Keep one extra process alive (blocked forever, reaped by the
	// test's kern teardown) so the count the syscall-issuing process
	// observes is itself plus this one.
	hold := make(chan struct{})
	t.Cleanup(func() { close(hold) })
	_, err := k.UserInit("holder", func(p *proc.Proc_t) int {
		<-hold
		return 0
	})
	require.Zero(t, err)

	tf := &Trapframe_t{Regs: [8]int{0, 0, 0, 0, 0, 0, 0, int(defs.SYS_GETNPROCS)}}
	got := runSyscall(t, k, s, tf)
	require.GreaterOrEqual(t, got, 2)
}

func TestSysGetnprocsconfReportsCompileTimeLimits(t *testing.T) {
	k := newKern(t)
	s := &Sys_t{Kern: k}

	tf := &Trapframe_t{Regs: [8]int{0, 0, 0, 0, 0, 0, 0, int(defs.SYS_GETNPROCSCONF)}}
	got := runSyscall(t, k, s, tf)
	require.Equal(t, proc.NPROC, got)

	tf.Regs[regA0] = 1
	got = runSyscall(t, k, s, tf)
	require.Equal(t, proc.NOFILE, got)

	tf.Regs[regA0] = 2
	got = runSyscall(t, k, s, tf)
	require.Equal(t, -int(defs.EINVAL), got)
}

// TestSysSleepBlocksUntilTicksElapse exercises the SYS_SLEEP path now
// that it blocks on Kern_t.TickKey instead of busy-yielding: it must
// not return before its requested tick count has elapsed, and must
// return once Tick's posted async waker redispatches it afterward.
func TestSysSleepBlocksUntilTicksElapse(t *testing.T) {
	k := newKern(t)
	s := &Sys_t{Kern: k}

	tf := &Trapframe_t{Regs: [8]int{3, 0, 0, 0, 0, 0, 0, int(defs.SYS_SLEEP)}}
	ret := make(chan int, 1)
	prog := func(p *proc.Proc_t) int {
		ret <- s.Syscall(p, tf)
		return 0
	}
	_, err := k.UserInit("sleeper", prog)
	require.Zero(t, err)

	time.Sleep(20 * time.Millisecond)
	select {
	case <-ret:
		t.Fatal("SYS_SLEEP returned before any tick elapsed")
	default:
	}

	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		k.Tick()
	}

	select {
	case got := <-ret:
		require.Equal(t, 0, got)
	case <-time.After(time.Second):
		t.Fatal("SYS_SLEEP never returned once its deadline ticks elapsed")
	}
}

func TestSysUptimeTracksSchedulerTicks(t *testing.T) {
	k := newKern(t)
	s := &Sys_t{Kern: k}

	tf := &Trapframe_t{Regs: [8]int{0, 0, 0, 0, 0, 0, 0, int(defs.SYS_UPTIME)}}
	first := runSyscall(t, k, s, tf)
	require.GreaterOrEqual(t, first, 0)

	time.Sleep(10 * time.Millisecond)
	second := runSyscall(t, k, s, tf)
	require.GreaterOrEqual(t, second, first)
}
