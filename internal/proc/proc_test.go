package proc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/signal"
)

func newKern(t *testing.T) *Kern_t {
	t.Helper()
	config.Active = config.Default()
	mem.Phys_init()

	k := NewKern(1)
	stop := make(chan struct{})
	go k.RunCPU(0, stop)
	t.Cleanup(func() { close(stop) })
	return k
}

func TestForkAndWaitReapsExitStatus(t *testing.T) {
	k := newKern(t)

	type result struct {
		pid    defs.Pid_t
		childp defs.Pid_t
		status int
		err    defs.Err_t
	}
	done := make(chan result, 1)

	childProg := func(p *Proc_t) int { return 7 }
	parentProg := func(p *Proc_t) int {
		child, err := k.Fork(p, childProg)
		if err != 0 {
			done <- result{err: err}
			return 1
		}
		pid, status, werr := k.Wait(p)
		done <- result{pid: pid, childp: child.Pid, status: status, err: werr}
		return 0
	}

	_, err := k.UserInit("parent", parentProg)
	require.Zero(t, err)

	select {
	case r := <-done:
		require.Zero(t, r.err)
		assert.Equal(t, r.childp, r.pid, "wait must reap the forked child")
		assert.Equal(t, 7, r.status)
	case <-time.After(time.Second):
		t.Fatal("parent never finished waiting on its child")
	}
}

func TestWaitpidWithNoChildrenIsECHILD(t *testing.T) {
	k := newKern(t)

	done := make(chan defs.Err_t, 1)
	prog := func(p *Proc_t) int {
		_, _, err := k.Wait(p)
		done <- err
		return 0
	}
	_, err := k.UserInit("lonely", prog)
	require.Zero(t, err)

	select {
	case err := <-done:
		assert.Equal(t, -defs.ECHILD, err)
	case <-time.After(time.Second):
		t.Fatal("wait with no children never returned")
	}
}

func TestCloneAndJoin(t *testing.T) {
	k := newKern(t)

	type result struct {
		tid    defs.Pid_t
		status int
		err    defs.Err_t
	}
	done := make(chan result, 1)

	threadProg := func(p *Proc_t) int { return 42 }
	mainProg := func(p *Proc_t) int {
		th, err := k.Clone(p, 0, threadProg)
		if err != 0 {
			done <- result{err: err}
			return 1
		}
		status, jerr := k.Join(p, th.Pid)
		done <- result{tid: th.Pid, status: status, err: jerr}
		return 0
	}

	_, err := k.UserInit("main", mainProg)
	require.Zero(t, err)

	select {
	case r := <-done:
		require.Zero(t, r.err)
		assert.Equal(t, 42, r.status)
	case <-time.After(time.Second):
		t.Fatal("join on the cloned thread never returned")
	}
}

func TestKillWakesSleeperWithEINTR(t *testing.T) {
	k := newKern(t)

	sleeperDone := make(chan defs.Err_t, 1)
	procPid := make(chan defs.Pid_t, 1)
	prog := func(p *Proc_t) int {
		procPid <- p.Pid
		err := Sleep(p, "a key nothing ever wakes directly")
		sleeperDone <- err
		return 0
	}
	_, err := k.UserInit("sleeper", prog)
	require.Zero(t, err)

	var pid defs.Pid_t
	select {
	case pid = <-procPid:
	case <-time.After(time.Second):
		t.Fatal("sleeper process never started")
	}

	// Give the scheduler time to actually dispatch the process into
	// Sleep before delivering the kill.
	time.Sleep(20 * time.Millisecond)
	require.Zero(t, k.Kill(pid, signal.SIGKILL))

	select {
	case err := <-sleeperDone:
		assert.Equal(t, -defs.EINTR, err, "a fatal signal must interrupt a blocked sleep")
	case <-time.After(time.Second):
		t.Fatal("kill never woke the sleeping process")
	}
}

func TestKillUnknownPidIsESRCH(t *testing.T) {
	k := newKern(t)
	assert.Equal(t, -defs.ESRCH, k.Kill(defs.Pid_t(NPROC), signal.SIGTERM))
}

// TestSetitimerFiresAcrossTicks drives spec.md §8 scenario 5: a 2-tick
// periodic alarm whose handler increments a counter fires at least 3
// times over 6 advanced ticks. The sleeper blocks on a key private to
// this test, distinct from Kern_t.TickKey (SYS_SLEEP's channel, which
// every k.Tick() wakes unconditionally via its posted async waker) so
// only onTick's alarm-driven Wakeup(p.waitKey) ever resumes it.
func TestSetitimerFiresAcrossTicks(t *testing.T) {
	k := newKern(t)

	var mu sync.Mutex
	count := 0
	done := make(chan struct{})
	var alarmKey int

	prog := func(p *Proc_t) int {
		_, err := k.Sigaction(p, signal.SIGALRM, 1, 0, func(int) {
			mu.Lock()
			count++
			mu.Unlock()
		})
		if err != 0 {
			close(done)
			return 1
		}
		k.Setitimer(p, 2, 2)
		for i := 0; i < 3; i++ {
			Sleep(p, &alarmKey)
		}
		close(done)
		return 0
	}
	_, err := k.UserInit("alarmer", prog)
	require.Zero(t, err)

	for i := 0; i < 6; i++ {
		time.Sleep(10 * time.Millisecond)
		k.Tick()
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("alarm loop never completed across 6 ticks")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, count, 3, "a 2-tick periodic alarm must fire at least 3 times over 6 ticks")
}

func TestSetpgidRules(t *testing.T) {
	k := newKern(t)

	parent := k.newProc()
	parent.Pgid = parent.Pid
	parent.Sid = parent.Pid

	child := k.newProc()
	k.Table.setParent(child.Pid, parent.Pid)
	child.Pgid = parent.Pgid
	child.Sid = parent.Sid

	require.Zero(t, k.Setpgid(parent, child.Pid, 0))
	assert.Equal(t, child.Pid, child.Pgid, "pgid 0 means become leader of a new group named for self")

	assert.Equal(t, -defs.EPERM, k.Setpgid(parent, parent.Pid, 0), "a session leader may not change its own group")

	stranger := k.newProc()
	assert.Equal(t, -defs.EPERM, k.Setpgid(parent, stranger.Pid, 0), "only the caller or its own children are valid targets")
}

func TestSetsidRules(t *testing.T) {
	k := newKern(t)

	p := k.newProc()
	p.Pgid = p.Pid + 1
	p.Sid = p.Pid + 1

	pid, err := k.Setsid(p)
	require.Zero(t, err)
	assert.Equal(t, p.Pid, pid)
	assert.Equal(t, p.Pid, p.Pgid)
	assert.Equal(t, p.Pid, p.Sid)

	_, err = k.Setsid(p)
	assert.Equal(t, -defs.EPERM, err, "a process already leading its group cannot setsid again")
}

func TestPgidInSession(t *testing.T) {
	k := newKern(t)

	leader := k.newProc()
	leader.Pgid = leader.Pid
	leader.Sid = leader.Pid

	member := k.newProc()
	member.Pgid = leader.Pid
	member.Sid = leader.Pid

	assert.True(t, k.PgidInSession(leader.Pid, leader.Sid))
	assert.False(t, k.PgidInSession(defs.Pid_t(NPROC), leader.Sid))
}
