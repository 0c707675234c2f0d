// Package proc owns the process table and the process/thread
// lifecycle: fork, clone, exec, exit, wait, signals, and process
// groups/sessions. It is built on internal/sched's run queues and
// sleep/wakeup primitives, which it is deliberately decoupled from to
// avoid sched importing this package's Proc_t.
//
// There is no bytecode interpreter underneath this kernel: a "process"
// has no real machine instructions to fetch. What a process actually
// executes is a UserProg_f, a plain Go function standing in for a
// compiled binary's behavior, running on its own goroutine. The
// per-CPU scheduler loop in sched.go dispatches that goroutine in and
// out exactly once per quantum via a pair of rendezvous channels,
// mirroring the real kernel's context switch without needing one.
package proc

import (
	"sync"

	"github.com/talus-os/talus/internal/accnt"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fd"
	"github.com/talus-os/talus/internal/signal"
	"github.com/talus-os/talus/internal/tinfo"
	"github.com/talus-os/talus/internal/vm"
)

// NPROC bounds the number of live process/thread slots. Kept small
// relative to limits.Syslimit.Sysprocs (which bounds the userspace
// fork budget, not the table's physical size) since every slot here
// is a live goroutine plus a full Proc_t.
const NPROC = 128

// NOFILE bounds the number of simultaneously open file descriptors per
// process.
const NOFILE = 32

// State_t is a process or thread's scheduling state. The same state
// machine covers thread slots (IsThread == true in their ProcData_t):
// spec.md's process pool holds both under one fixed-index table.
type State_t int

const (
	Unused State_t = iota
	Used
	Sleeping
	Stopped
	Runnable
	Running
	Zombie
)

func (s State_t) String() string {
	switch s {
	case Unused:
		return "UNUSED"
	case Used:
		return "USED"
	case Sleeping:
		return "SLEEPING"
	case Stopped:
		return "STOPPED"
	case Runnable:
		return "RUNNABLE"
	case Running:
		return "RUNNING"
	case Zombie:
		return "ZOMBIE"
	default:
		return "???"
	}
}

// Handler_t is one entry of a process's signal handler table.
type Handler_t struct {
	// Addr is SIG_DFL, SIG_IGN, or a (simulated) user handler address;
	// it is what sigaction reports back as the old disposition.
	Addr uintptr
	// Restorer is the user-space trampoline sigreturn jumps through,
	// installed once via sigaction.
	Restorer uintptr
	// Fn is the hosted stand-in for "jump to Addr in user mode": since
	// there is no instruction-level emulation underneath this kernel,
	// a test or init program registers a Go closure here to represent
	// the compiled handler. Real hardware would save the trapframe and
	// set epc = Addr; here deliverSignalsLocked just calls Fn directly
	// and relies on sigreturn (a no-op in this model) to resume.
	Fn func(signum int)
}

// UserProg_f stands in for a compiled user program's entire execution:
// it runs once, top to bottom, calling back into *Proc_t (Sleep,
// Yield, Exit's return value) wherever the real binary would trap into
// the kernel. Its return value becomes the process's exit status
// (p.Exit only passes a status through to that return).
type UserProg_f func(p *Proc_t) int

// ProcData_t holds everything about a process that Fork must decide
// whether to share or duplicate, and that a thread slot (IsThread)
// shares by pointer with its creator instead of owning.
type ProcData_t struct {
	mu sync.Mutex

	// As is the process's address space. Threads created by Clone
	// share their creator's As by pointer.
	As *vm.Vm_t

	Fds  [NOFILE]*fd.Fd_t
	Cwd  *fd.Cwd_t
	Name string
	// Argv is the argument vector the most recent exec (or UserInit)
	// copied onto the new image; a stand-in for the real argv sitting
	// on the user stack, since there is no user stack to copy it onto.
	Argv []string

	// IsThread marks a slot created by Clone rather than Fork: it
	// shares ProcData_t (address space, fd table, cwd) with its
	// thread-group leader by pointer equality of *ProcData_t.
	IsThread bool
	// UstackBase is the user stack VA most recently passed to Clone for
	// this thread group; Join does not report it back.
	UstackBase int

	Accnt   accnt.Accnt_t
	Threads tinfo.Threadinfo_t
}

// Lock/Unlock serialize mutation of the shared fd table and cwd across
// every thread sharing this ProcData_t.
func (d *ProcData_t) Lock()   { d.mu.Lock() }
func (d *ProcData_t) Unlock() { d.mu.Unlock() }

// Proc_t is one process-table slot: either a process (thread-group
// leader) or a thread created by Clone. Parent relation is tracked
// separately, in Table_t.parent, per spec.md's process data model.
type Proc_t struct {
	sync.Mutex

	State      State_t
	Pid        defs.Pid_t
	Pgid       defs.Pid_t
	Sid        defs.Pid_t
	ExitStatus int

	// Note is this slot's own thread-local identity: Killed is the
	// universal, unconditional "unwind now" flag (set by a fatal
	// signal's terminate action or by the parent's own death), while
	// SigPending below tracks ordinary per-signal delivery.
	Note *tinfo.Tnote_t

	SigPending    uint32
	SigHandlers   [signal.NSIG]Handler_t
	SigActive     bool
	AlarmDeadline int64 // absolute tick, 0 == disabled
	AlarmInterval int64
	StopSig       int
	StopReported  bool
	ContPending   bool

	LastCPU int

	Data *ProcData_t

	slot int
	k    *Kern_t

	// waitKey is the wait-channel key this slot is blocked on, if
	// State == Sleeping; Kill reads it to decide what to wake.
	waitKey any

	// reaped guards the table/fd cleanup that runs exactly once when a
	// slot becomes a zombie, whether that happened because prog
	// returned (threadMain notices directly) or because a signal
	// terminated it while merely Runnable, never dispatched again
	// (RunCPU notices on the scheduler's behalf).
	reaped bool

	resume  chan struct{}
	yielded chan struct{}
	prog    UserProg_f
}

// Slot returns the process table index this Proc_t occupies, used as
// its externally visible PID (Pid == Slot+1).
func (p *Proc_t) Slot() int { return p.slot }

// Prog returns the UserProg_f this slot is running, so a syscall
// dispatcher implementing fork/clone can start the child/thread on
// the same program closure without reaching into an unexported field.
func (p *Proc_t) Prog() UserProg_f { return p.prog }

// pendingSignalLocked reports whether p has at least one pending
// signal that is not disposed to be ignored; p.Mutex must be held.
func (p *Proc_t) pendingSignalLocked() bool {
	pending := p.SigPending
	for sig := 1; sig <= signal.NSIG && pending != 0; sig++ {
		bit := signal.Mask(sig)
		if pending&bit == 0 {
			continue
		}
		pending &^= bit
		h := p.SigHandlers[sig-1]
		if h.Addr == signal.SIG_IGN {
			continue
		}
		if h.Addr == signal.SIG_DFL && signal.Default(sig) == signal.ActIgnore {
			continue
		}
		return true
	}
	return false
}

// Table_t is the system-wide process table: a fixed array of slots
// indexed by Pid-1, plus the parent relation kept separately so a
// zombie's slot can be freed without disturbing its still-live parent
// pointer's bookkeeping.
type Table_t struct {
	mu     sync.Mutex
	procs  [NPROC]*Proc_t
	parent [NPROC]defs.Pid_t // 0 == no parent (init or freed)
	next   int               // next slot to try allocating from
}

// alloc finds a free slot, installs a fresh Proc_t in it, and returns
// it. Returns nil if the table is full.
func (t *Table_t) alloc() *Proc_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < NPROC; i++ {
		idx := (t.next + i) % NPROC
		if t.procs[idx] == nil {
			t.next = (idx + 1) % NPROC
			p := &Proc_t{
				State:   Used,
				Pid:     defs.Pid_t(idx + 1),
				slot:    idx,
				resume:  make(chan struct{}),
				yielded: make(chan struct{}),
				Note:    &tinfo.Tnote_t{Alive: true},
			}
			t.procs[idx] = p
			t.parent[idx] = 0
			return p
		}
	}
	return nil
}

// Get resolves pid to its slot, or nil if unused.
func (t *Table_t) Get(pid defs.Pid_t) *Proc_t {
	if pid < 1 || int(pid) > NPROC {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.procs[pid-1]
}

// Parent returns p's parent pid, or 0 if it has none (init, or already
// reaped).
func (t *Table_t) Parent(pid defs.Pid_t) defs.Pid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pid < 1 || int(pid) > NPROC {
		return 0
	}
	return t.parent[pid-1]
}

func (t *Table_t) setParent(pid, parent defs.Pid_t) {
	t.mu.Lock()
	t.parent[pid-1] = parent
	t.mu.Unlock()
}

// Children returns the pids of every live slot whose parent is pid.
func (t *Table_t) Children(pid defs.Pid_t) []defs.Pid_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []defs.Pid_t
	for i := 0; i < NPROC; i++ {
		if t.procs[i] != nil && t.parent[i] == pid {
			out = append(out, defs.Pid_t(i+1))
		}
	}
	return out
}

// free removes a zombie's slot from the table entirely, after its exit
// status has been collected by wait/waitpid.
func (t *Table_t) free(pid defs.Pid_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.procs[pid-1] = nil
	t.parent[pid-1] = 0
}

// Each calls f for every live slot in pid order; f must not mutate the
// table's allocation (alloc/free), only the Proc_t it's given.
func (t *Table_t) Each(f func(*Proc_t)) {
	t.mu.Lock()
	procs := make([]*Proc_t, 0, NPROC)
	for _, p := range t.procs {
		if p != nil {
			procs = append(procs, p)
		}
	}
	t.mu.Unlock()
	for _, p := range procs {
		f(p)
	}
}
