package proc

import (
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fd"
	"github.com/talus-os/talus/internal/signal"
	"github.com/talus-os/talus/internal/vm"
)

// newProc allocates a table slot and wires it to k, or returns nil if
// the table is full.
func (k *Kern_t) newProc() *Proc_t {
	p := k.Table.alloc()
	if p == nil {
		return nil
	}
	p.k = k
	for i := range p.SigHandlers {
		p.SigHandlers[i] = Handler_t{Addr: signal.SIG_DFL}
	}
	return p
}

// UserInit creates the first process: a fresh address space and
// process data, PID==PGID==SID (it is its own session and group
// leader, with no parent), running prog once a CPU dispatches it.
func (k *Kern_t) UserInit(name string, prog UserProg_f) (*Proc_t, defs.Err_t) {
	as, err := vm.NewAddrspace()
	if err != 0 {
		return nil, err
	}
	p := k.newProc()
	if p == nil {
		as.Uvmfree()
		return nil, -defs.ENOMEM
	}
	p.Pgid = p.Pid
	p.Sid = p.Pid
	p.Data = &ProcData_t{As: as, Name: name}
	p.Data.Threads.Init()
	p.Data.Cwd = fd.MkRootCwd(nil)
	p.LastCPU = 0
	p.spawn(prog)
	k.MakeRunnable(p)
	return p, 0
}

// Fork duplicates parent into a freshly allocated process: COW address
// space, cloned fd table (each descriptor's open file description is
// shared via Copyfd), cloned cwd, cleared pending-signal state, and
// the parent's PGID/SID. It returns the child, whose goroutine is
// started on childProg and already made runnable
// (the child simulates "returning 0 from fork" by receiving childProg,
// which the caller builds to re-enter the parent's logic with a
// changed return value — there being no real register file to patch).
func (k *Kern_t) Fork(parent *Proc_t, childProg UserProg_f) (*Proc_t, defs.Err_t) {
	parent.Data.Lock()
	nas, err := parent.Data.As.Fork()
	if err != 0 {
		parent.Data.Unlock()
		return nil, err
	}

	child := k.newProc()
	if child == nil {
		parent.Data.Unlock()
		nas.Uvmfree()
		return nil, -defs.ENOMEM
	}

	cd := &ProcData_t{As: nas, Name: parent.Data.Name}
	cd.Threads.Init()
	for i, pfd := range parent.Data.Fds {
		if pfd == nil {
			continue
		}
		nfd, cerr := fd.Copyfd(pfd)
		if cerr != 0 {
			continue
		}
		cd.Fds[i] = nfd
	}
	cwdfd := parent.Data.Cwd.Fd
	if cwdfd != nil {
		if nfd, cerr := fd.Copyfd(cwdfd); cerr == 0 {
			cwdfd = nfd
		}
	}
	cd.Cwd = &fd.Cwd_t{Fd: cwdfd, Path: append([]byte(nil), parent.Data.Cwd.Path...)}
	parent.Data.Unlock()

	parent.Lock()
	child.Pgid = parent.Pgid
	child.Sid = parent.Sid
	child.SigHandlers = parent.SigHandlers
	parent.Unlock()
	child.Data = cd
	child.LastCPU = parent.LastCPU

	k.Table.setParent(child.Pid, parent.Pid)
	child.spawn(childProg)
	k.MakeRunnable(child)
	return child, 0
}

// Clone creates a new thread sharing parent's ProcData_t (address
// space, fd table, cwd) by pointer, with its own Proc_t slot for
// scheduling, signal, and exit-status purposes. ustackBase is stored
// in the shared ProcData_t's UstackBase; Join returns the thread's
// exit status and does not report the stack base.
func (k *Kern_t) Clone(parent *Proc_t, ustackBase int, prog UserProg_f) (*Proc_t, defs.Err_t) {
	child := k.newProc()
	if child == nil {
		return nil, -defs.ENOMEM
	}
	parent.Lock()
	child.Pgid = parent.Pgid
	child.Sid = parent.Sid
	parent.Unlock()
	child.Data = parent.Data
	child.Data.IsThread = true
	child.Data.UstackBase = ustackBase
	child.LastCPU = parent.LastCPU

	k.Table.setParent(child.Pid, parent.Pid)
	child.spawn(prog)
	k.MakeRunnable(child)
	return child, 0
}

// Join blocks until the thread at tid has exited, returning its exit
// status. Per spec.md, joining is how a thread created by Clone is
// reclaimed; it behaves like Waitpid restricted to thread slots.
func (k *Kern_t) Join(caller *Proc_t, tid defs.Pid_t) (int, defs.Err_t) {
	for {
		t := k.Table.Get(tid)
		if t == nil {
			return 0, -defs.ESRCH
		}
		t.Lock()
		if t.State == Zombie {
			status := t.ExitStatus
			t.Unlock()
			k.Table.free(tid)
			return status, 0
		}
		t.Unlock()
		if err := Sleep(caller, joinKey(tid)); err != 0 {
			return 0, err
		}
	}
}

// joinKey_t is the wait-channel key a thread's Join blocks on.
type joinKey_t struct{ tid defs.Pid_t }

func joinKey(tid defs.Pid_t) any { return joinKey_t{tid} }

// finishExit runs exactly once per slot, the moment it becomes a
// zombie: it closes every open file descriptor (for a thread-group
// leader; a thread slot's fds belong to its ProcData_t and are left to
// the leader), reparents its children to pid 1, and wakes its parent
// and any thread waiting to Join it. It may be called either from
// threadMain, once prog returns normally, or from the scheduler loop,
// if a signal's default action terminated p while it was never
// actually dispatched this quantum.
func (k *Kern_t) finishExit(p *Proc_t) {
	p.Lock()
	if p.reaped {
		p.Unlock()
		return
	}
	p.reaped = true
	p.Unlock()

	p.Data.Lock()
	if !p.Data.IsThread {
		for i, f := range p.Data.Fds {
			if f != nil {
				fd.Close_panic(f)
				p.Data.Fds[i] = nil
			}
		}
	}
	p.Data.Unlock()

	for _, cpid := range k.Table.Children(p.Pid) {
		k.Table.setParent(cpid, 1)
		if c := k.Table.Get(cpid); c != nil {
			c.Lock()
			if c.State == Zombie {
				Wakeup(waitKey(1))
			}
			c.Unlock()
		}
	}

	Wakeup(joinKey(p.Pid))
	if parent := k.Table.Parent(p.Pid); parent != 0 {
		Wakeup(waitKey(parent))
	}
}

func waitKey(parent defs.Pid_t) any { return struct {
	_ string
	p defs.Pid_t
}{"wait", parent} }

// Exit returns status unchanged. prog ends by returning from its
// function, so `return p.Exit(status)` exits with status: threadMain
// records the returned value and performs the teardown.
func (p *Proc_t) Exit(status int) int {
	return status
}

// Kill delivers sig to the process at pid: sets the pending bit,
// and — if sig is not disposed to be ignored and the target is
// Sleeping — wakes it immediately via its recorded wait key, per
// spec.md §4.6/§8's signal liveness property.
func (k *Kern_t) Kill(pid defs.Pid_t, sig int) defs.Err_t {
	if !signal.Valid(sig) {
		return -defs.EINVAL
	}
	p := k.Table.Get(pid)
	if p == nil {
		return -defs.ESRCH
	}
	p.Lock()
	if p.State == Unused || p.State == Zombie {
		p.Unlock()
		return -defs.ESRCH
	}
	p.SigPending |= signal.Mask(sig)
	if sig == signal.SIGKILL {
		p.Note.Lock()
		p.Note.Killed = true
		p.Note.Unlock()
	}
	deliverable := p.pendingSignalLocked()
	var key any
	if deliverable && p.State == Sleeping {
		key = p.waitKey
	}
	p.Unlock()
	if key != nil {
		Wakeup(key)
	}
	return 0
}

// Killpg delivers sig to every process in group pgid.
func (k *Kern_t) Killpg(pgid defs.Pid_t, sig int) defs.Err_t {
	if !signal.Valid(sig) {
		return -defs.EINVAL
	}
	found := false
	k.Table.Each(func(p *Proc_t) {
		p.Lock()
		match := p.Pgid == pgid
		p.Unlock()
		if match {
			found = true
		}
	})
	if !found {
		return -defs.ESRCH
	}
	k.Table.Each(func(p *Proc_t) {
		p.Lock()
		match := p.Pgid == pgid
		p.Unlock()
		if match {
			k.Kill(p.Pid, sig)
		}
	})
	return 0
}

// Wait blocks until any child of caller becomes a zombie, reaping the
// first one found and returning its pid and exit status.
func (k *Kern_t) Wait(caller *Proc_t) (defs.Pid_t, int, defs.Err_t) {
	return k.Waitpid(caller, -1, nil, 0)
}

// Waitpid implements wait(2)/waitpid(2): pid == -1 matches any child,
// pid > 0 matches exactly that child. statusOut, if non-nil, receives
// the same classification wait(2) would report (not modeled bit for
// bit, just zombie-exit-status / stop / continue). Blocking forms
// sleep on caller's own wait-channel, per spec.md §4.4, rechecking
// after every wake; an unignorable pending signal interrupts the wait.
func (k *Kern_t) Waitpid(caller *Proc_t, pid defs.Pid_t, statusOut *int, options int) (defs.Pid_t, int, defs.Err_t) {
	for {
		children := k.Table.Children(caller.Pid)
		if pid > 0 {
			found := false
			for _, c := range children {
				if c == pid {
					found = true
				}
			}
			if !found {
				return 0, 0, -defs.ECHILD
			}
			children = []defs.Pid_t{pid}
		}
		if len(children) == 0 {
			return 0, 0, -defs.ECHILD
		}

		for _, cpid := range children {
			c := k.Table.Get(cpid)
			if c == nil {
				continue
			}
			c.Lock()
			switch c.State {
			case Zombie:
				status := c.ExitStatus
				c.Unlock()
				k.Table.free(cpid)
				if statusOut != nil {
					*statusOut = status
				}
				return cpid, status, 0
			case Stopped:
				if options&defs.WUNTRACED != 0 && !c.StopReported {
					c.StopReported = true
					status := c.StopSig
					c.Unlock()
					if statusOut != nil {
						*statusOut = status
					}
					return cpid, status, 0
				}
			default:
				if options&defs.WCONTINUED != 0 && c.ContPending {
					c.ContPending = false
					c.Unlock()
					if statusOut != nil {
						*statusOut = 0
					}
					return cpid, 0, 0
				}
			}
			c.Unlock()
		}

		if options&defs.WNOHANG != 0 {
			return 0, 0, 0
		}
		if err := Sleep(caller, waitKey(caller.Pid)); err != 0 {
			return 0, 0, err
		}
	}
}

// Sbrk forwards directly to the process's address space, which
// threads created by Clone share through ProcData_t.
func (p *Proc_t) Sbrk(n int) (int, defs.Err_t) { return p.Data.As.Sbrk(n) }
