package proc

import (
	"runtime"
	"sync"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/sched"
)

// asyncBatch bounds how many deferred async tasks a CPU drains between
// scheduling decisions, so a long queue of timer wakers cannot starve
// the run queue.
const asyncBatch = 8

// CPU_t is one simulated hart: its own async task executor and a
// pointer to whichever Proc_t it is currently dispatched to, mirroring
// the teacher's per-CPU state (Cpu_t in mem.go's percpu array) scaled
// up from physical-memory bookkeeping to scheduling.
type CPU_t struct {
	ID    int
	Async *sched.AsyncExec_t

	mu      sync.Mutex
	current *Proc_t
}

// Current returns the slot this CPU is currently running, or nil if
// idle.
func (c *CPU_t) Current() *Proc_t {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Kern_t ties the process table to internal/sched's run queues: the
// scheduling policy (which runnable slot runs next, on which CPU) that
// sched.Sched_t's mechanism alone can't express, since it has no
// notion of a Proc_t.
type Kern_t struct {
	Table Table_t
	Sched *sched.Sched_t
	CPUs  []CPU_t

	tickMu sync.Mutex
	ticks  int64

	progMu  sync.Mutex
	progs   map[string]UserProg_f
}

// NewKern allocates a kernel scheduling context for ncpu harts.
func NewKern(ncpu int) *Kern_t {
	k := &Kern_t{
		Sched: sched.NewSched(ncpu, NPROC),
		CPUs:  make([]CPU_t, ncpu),
		progs: make(map[string]UserProg_f),
	}
	for i := range k.CPUs {
		k.CPUs[i].ID = i
		k.CPUs[i].Async = &sched.AsyncExec_t{}
	}
	return k
}

// RegisterProg binds a path to the UserProg_f that exec(2) installs
// when that path is named, the hosted stand-in for a binary living at
// that path in the filesystem exec() would otherwise load from.
func (k *Kern_t) RegisterProg(path string, prog UserProg_f) {
	k.progMu.Lock()
	defer k.progMu.Unlock()
	k.progs[path] = prog
}

// LookupProg returns the program registered for path, or ENOENT if
// exec hasn't been given a stand-in binary for it.
func (k *Kern_t) LookupProg(path string) (UserProg_f, defs.Err_t) {
	k.progMu.Lock()
	defer k.progMu.Unlock()
	prog, ok := k.progs[path]
	if !ok {
		return nil, -defs.ENOENT
	}
	return prog, 0
}

// Tick advances the global tick counter by one, runs alarm delivery,
// and posts a waker to every CPU's async executor so threads blocked
// in Sleep on TickKey (SYS_SLEEP's tick-counted sleep) get re-checked
// next time their CPU drains it — spec.md §4.10's SupervisorSoft path
// ("tick: increments global tick counter, wakes tick sleepers, runs
// alarm delivery, per-CPU async wakers") and §4.5 item 2's async task
// executor, driven here instead of sitting unexercised.
func (k *Kern_t) Tick() {
	k.tickMu.Lock()
	k.ticks++
	now := k.ticks
	k.tickMu.Unlock()
	k.onTick(now)
	for i := range k.CPUs {
		k.CPUs[i].Async.Post(func() { Wakeup(k.TickKey()) })
	}
}

// Ticks returns the current value of the global tick counter.
func (k *Kern_t) Ticks() int64 {
	k.tickMu.Lock()
	defer k.tickMu.Unlock()
	return k.ticks
}

// TickKey is the wait-channel identity for a thread blocked until the
// next global tick (SYS_SLEEP), the hosted stand-in for sleeping on
// the timer interrupt itself.
func (k *Kern_t) TickKey() any {
	return &k.ticks
}

// EachProc calls f once for every live process-table slot, reporting
// its pid, name, and accumulated CPU time; satisfies internal/prof's
// Snapshot_i so prof.Build and prof.DumpSnapshot (cmd/talus's
// --prof-dump) can sample the running kernel without internal/prof
// importing internal/proc.
func (k *Kern_t) EachProc(f func(pid defs.Pid_t, name string, userns, sysns int64)) {
	k.Table.mu.Lock()
	procs := make([]*Proc_t, 0, NPROC)
	for _, p := range k.Table.procs {
		if p != nil {
			procs = append(procs, p)
		}
	}
	k.Table.mu.Unlock()

	for _, p := range procs {
		p.Lock()
		state := p.State
		pid := p.Pid
		data := p.Data
		p.Unlock()
		if state == Unused || data == nil {
			continue
		}
		data.Accnt.Lock()
		userns, sysns := data.Accnt.Userns, data.Accnt.Sysns
		data.Accnt.Unlock()
		f(pid, data.Name, userns, sysns)
	}
}

// makeRunnableLocked transitions p to Runnable and enqueues its slot
// on one of k's run queues. p.Mutex must already be held by the
// caller, satisfying spec.md §4.5's ordering guarantee: any concurrent
// sleeper reading p.State sees this transition atomically with
// whatever condition justified it.
func (k *Kern_t) makeRunnableLocked(p *Proc_t) {
	p.State = Runnable
	cpu := p.LastCPU
	if cpu < 0 || cpu >= len(k.CPUs) {
		cpu = 0
	}
	k.Sched.PushCPU(cpu, p.slot)
}

// spawn installs prog as slot's program and starts its goroutine,
// which immediately blocks waiting to be dispatched by a CPU's
// scheduler loop. The slot is left Used, not Runnable, until the
// caller (Fork/Clone/user_init) finishes initializing it and calls
// MakeRunnable.
func (p *Proc_t) spawn(prog UserProg_f) {
	p.prog = prog
	go p.threadMain()
}

// threadMain is the body of every process/thread's own goroutine. It
// waits to be resumed, runs prog to completion exactly once (a process
// never resumes prog after it returns, matching real user code never
// returning from _exit), and then marks the slot Zombie and wakes
// anyone waiting on it.
func (p *Proc_t) threadMain() {
	<-p.resume
	status := p.prog(p)

	p.Lock()
	p.ExitStatus = status
	p.State = Zombie
	p.Note.Lock()
	p.Note.Alive = false
	p.Note.Unlock()
	p.Unlock()

	p.k.finishExit(p)
	p.yielded <- struct{}{}
}

// MakeRunnable transitions p to Runnable and enqueues it, for use by
// callers that don't already hold p.Mutex (fork/clone installing a
// brand new child, or a one-off wakeup with no preceding state check).
func (k *Kern_t) MakeRunnable(p *Proc_t) {
	p.Lock()
	k.makeRunnableLocked(p)
	p.Unlock()
}

// RunCPU runs cpu's scheduler loop until stop is closed: drain a few
// async tasks, pop (or steal) a runnable slot, verify it is still
// Runnable, dispatch it, and wait for it to yield or exit. This models
// one hart; running several goroutines of RunCPU concurrently (one per
// CPU_t) gives true multi-core parallelism the same way multiple real
// harts would.
func (k *Kern_t) RunCPU(cpu int, stop <-chan struct{}) {
	c := &k.CPUs[cpu]
	for {
		select {
		case <-stop:
			return
		default:
		}

		c.Async.Drain(asyncBatch)

		idx, ok := k.Sched.PopOrSteal(cpu)
		if !ok {
			// Hosted stand-in for wfi: a real hart halts until an
			// interrupt; here we just give the Go scheduler a turn.
			runtime.Gosched()
			continue
		}
		p := k.Table.Get(defs.Pid_t(idx + 1))
		if p == nil {
			continue
		}

		p.Lock()
		if p.State != Runnable {
			p.Unlock()
			continue
		}
		deliverSignalsLocked(p)
		if p.State == Zombie {
			// A terminating default action ran above; p's goroutine is
			// still parked waiting for a resume that will never come
			// (there is no instruction-level preemption to unwind it
			// mid-prog), so the scheduler finishes the exit on its
			// behalf instead of dispatching it.
			p.Unlock()
			k.finishExit(p)
			continue
		}
		if p.State != Runnable {
			p.Unlock()
			continue
		}
		p.State = Running
		p.LastCPU = cpu
		p.Unlock()

		c.mu.Lock()
		c.current = p
		c.mu.Unlock()

		p.resume <- struct{}{}
		<-p.yielded

		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
	}
}

// Yield gives up the CPU voluntarily while remaining Runnable,
// re-enqueuing p before blocking until a CPU dispatches it again. Used
// by the cooperative "a device interrupt yields only if the local
// async executor has ready tasks" rule in spec.md §6, and by any
// syscall implementation that wants to simulate a quantum boundary
// without actually blocking.
func (p *Proc_t) Yield() {
	p.Lock()
	if p.State == Running {
		p.k.makeRunnableLocked(p)
	}
	p.Unlock()
	p.yielded <- struct{}{}
	<-p.resume
}

// sleepGuardPool supplies throwaway locks satisfying sched.Sleep's guard
// parameter: proc.Sleep already protects the Sleeping-state transition
// with p.Mutex before calling sched.Sleep, so the guard sched.Sleep
// itself manipulates carries no information of its own.
var sleepGuardPool = sync.Pool{New: func() any { return &sync.Mutex{} }}

// Sleep blocks the calling thread (must be p's own goroutine, invoked
// from inside prog) on key until Wakeup(key) fires or p already has a
// signal to deliver. It transitions p to Sleeping, yields the CPU, and
// does not return until some CPU has dispatched p again — exactly the
// sleep()/wakeup() contract in spec.md §4.5, built on
// internal/sched.Sleep/Wakeup plus the resume/yielded rendezvous that
// stands in for a real context switch.
func Sleep(p *Proc_t, key any) defs.Err_t {
	p.Lock()
	if p.Note.Killed || p.pendingSignalLocked() {
		p.Unlock()
		return -defs.EINTR
	}
	p.State = Sleeping
	p.waitKey = key
	p.Unlock()

	p.yielded <- struct{}{}

	guard := sleepGuardPool.Get().(*sync.Mutex)
	guard.Lock()
	sched.Sleep(key, guard)
	sleepGuardPool.Put(guard)

	p.Lock()
	interrupted := p.Note.Killed || p.pendingSignalLocked()
	p.waitKey = nil
	if p.State == Sleeping {
		p.k.makeRunnableLocked(p)
	}
	p.Unlock()

	<-p.resume
	if interrupted {
		return -defs.EINTR
	}
	return 0
}

// Wakeup wakes every thread sleeping on key, delegating to
// internal/sched.Wakeup; each woken thread transitions itself back to
// Runnable inside Sleep once unblocked.
func Wakeup(key any) {
	sched.Wakeup(key)
}
