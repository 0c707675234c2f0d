// System-call dispatch: the single function every simulated ecall
// passes through, translating a Trapframe_t's a0..a7 registers into
// calls against proc, fs, vm, ipc, net, shm, sem and seat, and packing
// the result (or a negated Err_t) back into a0. Grounded on the
// teacher's own trap/syscall dispatch shape (one switch over a
// syscall-number enum, argument words pulled straight off the
// trapframe, Userstr/Userreadn/Userwriten doing the user-memory
// marshaling) but the argument layout and the switch's cases are new
// construction: the teacher's own syscall.go never survived
// retrieval, so this is built directly off defs.Sysno_t's 61 entries
// and each subsystem's existing Go API instead of a ported ABI.
package trap

import (
	"context"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fd"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/fs"
	"github.com/talus-os/talus/internal/ipc"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/net"
	"github.com/talus-os/talus/internal/proc"
	"github.com/talus-os/talus/internal/seat"
	"github.com/talus-os/talus/internal/sem"
	"github.com/talus-os/talus/internal/shm"
	"github.com/talus-os/talus/internal/stat"
	"github.com/talus-os/talus/internal/tinfo"
	"github.com/talus-os/talus/internal/ustr"
)

// Sys_t bundles every subsystem a syscall might reach into, wired
// together once at boot (see cmd/talus) and shared by every CPU's
// dispatch loop. None of its fields are process-specific; the calling
// *proc.Proc_t is passed into Syscall instead.
type Sys_t struct {
	Kern *proc.Kern_t
	Fs   *fs.Fs_t
	Net  *net.Stack_t
	Shm  *shm.Table_t
	Sem  *sem.Table_t
	Seat *seat.Registry_t
	Dfs  *fs.Dfs_t // nil if no remote mount is configured; /dfs paths then fail ENOENT
}

// Syscall dispatches tf's a7 syscall number on p's behalf, returning
// the value for a0 (see SetRet): non-negative (or zero) on
// success, a negated defs.Err_t on failure, exactly like the real
// ABI's single signed return register.
func (s *Sys_t) Syscall(p *proc.Proc_t, tf *Trapframe_t) int {
	switch tf.Sysno() {
	case defs.SYS_GETPID:
		return int(p.Pid)
	case defs.SYS_GETPGRP:
		return int(p.Getpgrp())
	case defs.SYS_SETPGID:
		return errint(s.Kern.Setpgid(p, defs.Pid_t(tf.Arg(0)), defs.Pid_t(tf.Arg(1))))
	case defs.SYS_SETSID:
		sid, err := s.Kern.Setsid(p)
		if err != 0 {
			return errint(err)
		}
		return int(sid)

	case defs.SYS_FORK:
		return s.sysFork(p)
	case defs.SYS_CLONE:
		return s.sysClone(p, tf)
	case defs.SYS_EXEC:
		return s.sysExec(p, tf)
	case defs.SYS_EXIT:
		return p.Exit(tf.Arg(0))
	case defs.SYS_WAIT:
		_, status, err := s.Kern.Wait(p)
		if err != 0 {
			return errint(err)
		}
		return status
	case defs.SYS_WAITPID:
		return s.sysWaitpid(p, tf)
	case defs.SYS_KILL:
		return errint(s.Kern.Kill(defs.Pid_t(tf.Arg(0)), tf.Arg(1)))
	case defs.SYS_JOIN:
		base, err := s.Kern.Join(p, defs.Pid_t(tf.Arg(0)))
		if err != 0 {
			return errint(err)
		}
		return base

	case defs.SYS_SIGACTION:
		addr, err := s.Kern.Sigaction(p, tf.Arg(0), uintptr(tf.Arg(1)), uintptr(tf.Arg(2)), nil)
		if err != 0 {
			return errint(err)
		}
		return int(addr)
	case defs.SYS_SIGRETURN:
		return errint(s.Kern.Sigreturn(p))
	case defs.SYS_SETITIMER:
		return int(s.Kern.Setitimer(p, int64(tf.Arg(0)), int64(tf.Arg(1))))

	case defs.SYS_SBRK:
		va, err := p.Data.As.Sbrk(tf.Arg(0))
		if err != 0 {
			return errint(err)
		}
		return va
	case defs.SYS_MMAP:
		return s.sysMmap(p, tf)
	case defs.SYS_MUNMAP:
		_, err := p.Data.As.Munmap(tf.Arg(0), tf.Arg(1))
		return errint(err)
	case defs.SYS_FREEPAGES:
		return int(mem.Physmem.Avail())

	case defs.SYS_SLEEP:
		return s.sysSleep(p, tf)
	case defs.SYS_UPTIME:
		return int(s.Kern.Ticks())

	case defs.SYS_OPEN:
		return s.sysOpen(p, tf)
	case defs.SYS_CLOSE:
		return errint(p.CloseFd(tf.Arg(0)))
	case defs.SYS_READ:
		return s.sysRead(p, tf)
	case defs.SYS_WRITE:
		return s.sysWrite(p, tf)
	case defs.SYS_FSTAT:
		return s.sysFstat(p, tf)
	case defs.SYS_DUP:
		n, err := p.DupFd(tf.Arg(0), -1)
		if err != 0 {
			return errint(err)
		}
		return n
	case defs.SYS_DUP2:
		n, err := p.DupFd(tf.Arg(0), tf.Arg(1))
		if err != 0 {
			return errint(err)
		}
		return n
	case defs.SYS_FCNTL:
		return s.sysFcntl(p, tf)
	case defs.SYS_NONBLOCK:
		return s.sysNonblock(p, tf)
	case defs.SYS_PIPE:
		return s.sysPipe(p, tf)
	case defs.SYS_FSYNC:
		return errint(s.Fs.Fs_sync())
	case defs.SYS_LOGCRASH:
		stage, err := p.Data.As.Userstr(tf.Arg(0), 32)
		if err != 0 {
			return errint(err)
		}
		fs.SetCrashStage(stage.String())
		return 0

	case defs.SYS_CHDIR:
		return s.sysChdir(p, tf)
	case defs.SYS_MKDIR:
		path, err := p.Data.As.Userstr(tf.Arg(0), defs.MAXPATH)
		if err != 0 {
			return errint(err)
		}
		if fs.IsRemotePath(path) {
			return errint(s.remoteMkdir(path))
		}
		return errint(s.Fs.Fs_mkdir(path, tf.Arg(1), p.Data.Cwd))
	case defs.SYS_MKNOD:
		path, err := p.Data.As.Userstr(tf.Arg(0), defs.MAXPATH)
		if err != 0 {
			return errint(err)
		}
		maj, min := defs.Unmkdev(uint(tf.Arg(1)))
		return errint(s.Fs.Fs_mknod(path, tf.Arg(2), maj, min, p.Data.Cwd))
	case defs.SYS_UNLINK:
		path, err := p.Data.As.Userstr(tf.Arg(0), defs.MAXPATH)
		if err != 0 {
			return errint(err)
		}
		if fs.IsRemotePath(path) {
			return errint(s.remoteUnlink(path))
		}
		return errint(s.Fs.Fs_unlink(path, p.Data.Cwd, tf.Arg(1) != 0))
	case defs.SYS_LINK:
		oldp, err := p.Data.As.Userstr(tf.Arg(0), defs.MAXPATH)
		if err != 0 {
			return errint(err)
		}
		newp, err := p.Data.As.Userstr(tf.Arg(1), defs.MAXPATH)
		if err != 0 {
			return errint(err)
		}
		oldRemote, newRemote := fs.IsRemotePath(oldp), fs.IsRemotePath(newp)
		if oldRemote || newRemote {
			if oldRemote != newRemote {
				return errint(-defs.EXDEV)
			}
			return errint(s.remoteLink(oldp, newp))
		}
		return errint(s.Fs.Fs_link(oldp, newp, p.Data.Cwd))
	case defs.SYS_SYMLINK:
		target, err := p.Data.As.Userstr(tf.Arg(0), defs.MAXPATH)
		if err != 0 {
			return errint(err)
		}
		linkpath, err := p.Data.As.Userstr(tf.Arg(1), defs.MAXPATH)
		if err != 0 {
			return errint(err)
		}
		if fs.IsRemotePath(linkpath) {
			return errint(s.remoteSymlink(target.String(), linkpath))
		}
		return errint(s.Fs.Fs_symlink(target, linkpath, p.Data.Cwd))

	case defs.SYS_SHMCREATE:
		id, err := s.Shm.Create(tf.Arg(0))
		if err != 0 {
			return errint(err)
		}
		return id
	case defs.SYS_SHMATTACH:
		va, err := s.Shm.Attach(p.Data.As, tf.Arg(0), protToPte(tf.Arg(1)))
		if err != 0 {
			return errint(err)
		}
		return va
	case defs.SYS_SHMDETACH:
		return errint(shm.Detach(p.Data.As, tf.Arg(0), tf.Arg(1)))
	case defs.SYS_SHMDESTROY:
		return errint(s.Shm.Destroy(tf.Arg(0)))

	case defs.SYS_SEMCREATE:
		id, err := s.Sem.Create(tf.Arg(0))
		if err != 0 {
			return errint(err)
		}
		return id
	case defs.SYS_SEMWAIT:
		return s.sysSemwait(p, tf)
	case defs.SYS_SEMTRYWAIT:
		sm, err := s.Sem.Get(tf.Arg(0))
		if err != 0 {
			return errint(err)
		}
		ok, err := sm.TryWait()
		if err != 0 {
			return errint(err)
		}
		if !ok {
			return errint(-defs.EAGAIN)
		}
		return 0
	case defs.SYS_SEMPOST:
		sm, err := s.Sem.Get(tf.Arg(0))
		if err != 0 {
			return errint(err)
		}
		return errint(sm.Post())
	case defs.SYS_SEMCLOSE:
		sm, err := s.Sem.Get(tf.Arg(0))
		if err != 0 {
			return errint(err)
		}
		sm.Close()
		return 0

	case defs.SYS_SOCKET:
		return s.sysSocket(p, tf)
	case defs.SYS_BIND:
		return s.sysBind(p, tf)
	case defs.SYS_LISTEN:
		return s.sysListen(p, tf)
	case defs.SYS_ACCEPT:
		return s.sysAccept(p, tf)
	case defs.SYS_CONNECT:
		return s.sysConnect(p, tf)

	case defs.SYS_TCGETPGRP:
		return s.sysTcgetpgrp(p, tf)
	case defs.SYS_TCSETPGRP:
		return s.sysTcsetpgrp(p, tf)

	case defs.SYS_GETNPROCS:
		n := 0
		s.Kern.Table.Each(func(*proc.Proc_t) { n++ })
		return n
	case defs.SYS_GETNPROCSCONF:
		switch tf.Arg(0) {
		case 0:
			return proc.NPROC
		case 1:
			return proc.NOFILE
		default:
			return errint(-defs.EINVAL)
		}

	case defs.SYS_EXTIRQCOUNT, defs.SYS_KTASKPOLLS, defs.SYS_POLL, defs.SYS_SELECT:
		// Device-interrupt accounting and readiness polling have no
		// host-simulated analogue worth building: there is no
		// interrupt controller underneath this kernel and every fd's
		// Poll method already answers synchronously, so a program
		// wanting "is fd N ready" can just try the operation. Kept as
		// named, recognized syscalls rather than dropped so a test
		// program invoking them observes EINVAL, the same error an
		// unrecognized syscall number gets, instead of garbage.
		return errint(-defs.EINVAL)

	default:
		return errint(-defs.EINVAL)
	}
}

// errint packs a subsystem's Err_t return into the a0 convention: the
// kernel packages already hand back their error pre-negated (e.g.
// -defs.EBADF), so this is just a type conversion, named to make every
// dispatch case above read as "translate this error to a0".
func errint(e defs.Err_t) int {
	return int(e)
}

func protToPte(prot int) mem.Pa_t {
	var pte mem.Pa_t
	if prot&defs.PROT_READ != 0 {
		pte |= mem.PTE_R
	}
	if prot&defs.PROT_WRITE != 0 {
		pte |= mem.PTE_W
	}
	if prot&defs.PROT_EXEC != 0 {
		pte |= mem.PTE_X
	}
	return pte | mem.PTE_U
}

func (s *Sys_t) sysFork(p *proc.Proc_t) int {
	child, err := s.Kern.Fork(p, p.Prog())
	if err != 0 {
		return errint(err)
	}
	return int(child.Pid)
}

// sysExec implements exec(path, argv, envp): path and argv are
// marshaled out of the caller's (about to be replaced) address space
// before Kern.Exec swaps it, then the looked-up UserProg_f runs to
// completion inline. Per Kern.Exec's contract, the int this returns on
// success is the new image's exit status, not an ordinary a0 value:
// the UserProg_f that issued this ecall must return it immediately,
// exactly as the real exec(2) never returns to its caller.
func (s *Sys_t) sysExec(p *proc.Proc_t, tf *Trapframe_t) int {
	path, err := p.Data.As.Userstr(tf.Arg(0), defs.MAXPATH)
	if err != 0 {
		return errint(err)
	}
	argv, err := p.Data.As.Userargv(tf.Arg(1))
	if err != 0 {
		return errint(err)
	}
	prog, err := s.Kern.LookupProg(string(path))
	if err != 0 {
		return errint(err)
	}
	status, err := s.Kern.Exec(p, string(path), argv, prog)
	if err != 0 {
		return errint(err)
	}
	return status
}

func (s *Sys_t) sysClone(p *proc.Proc_t, tf *Trapframe_t) int {
	child, err := s.Kern.Clone(p, tf.Arg(0), p.Prog())
	if err != 0 {
		return errint(err)
	}
	return int(child.Pid)
}

func (s *Sys_t) sysWaitpid(p *proc.Proc_t, tf *Trapframe_t) int {
	var status int
	pid, err := s.Kern.Waitpid(p, defs.Pid_t(tf.Arg(0)), &status, tf.Arg(2))
	if err != 0 {
		return errint(err)
	}
	if sva := tf.Arg(1); sva != 0 {
		p.Data.As.Userwriten(sva, 8, status)
	}
	return int(pid)
}

func (s *Sys_t) sysMmap(p *proc.Proc_t, tf *Trapframe_t) int {
	length, prot, flags, fdno, foff := tf.Arg(0), tf.Arg(1), tf.Arg(2), tf.Arg(3), tf.Arg(4)
	perms := protToPte(prot)
	shared := flags&defs.MAP_SHARED != 0
	if flags&defs.MAP_ANON != 0 {
		va, err := p.Data.As.MmapAnon(length, perms, shared)
		if err != 0 {
			return errint(err)
		}
		return va
	}
	f, err := p.GetFd(fdno)
	if err != 0 {
		return errint(err)
	}
	va, err := p.Data.As.MmapFile(length, perms, f.Fops, foff, shared, f.Fops)
	if err != 0 {
		return errint(err)
	}
	return va
}

// sysSleep blocks the calling thread on the kernel's tick wait-channel
// until the requested number of ticks has elapsed, rechecking after
// every wake exactly like the other blocking syscalls in spec.md §5.
// A pending kill or other unignorable signal interrupts the wait with
// EINTR rather than silently returning early.
func (s *Sys_t) sysSleep(p *proc.Proc_t, tf *Trapframe_t) int {
	deadline := s.Kern.Ticks() + int64(tf.Arg(0))
	for s.Kern.Ticks() < deadline {
		if err := proc.Sleep(p, s.Kern.TickKey()); err != 0 {
			return errint(err)
		}
	}
	return 0
}

func (s *Sys_t) sysOpen(p *proc.Proc_t, tf *Trapframe_t) int {
	path, err := p.Data.As.Userstr(tf.Arg(0), defs.MAXPATH)
	if err != 0 {
		return errint(err)
	}
	flags, mode := tf.Arg(1), tf.Arg(2)

	var f *fd.Fd_t
	if fs.IsRemotePath(path) {
		rf, derr := s.openRemote(path, flags)
		if derr != 0 {
			return errint(derr)
		}
		f = rf
	} else {
		lf, ferr := s.Fs.Fs_open(path, flags, mode, p.Data.Cwd, 0, 0)
		if ferr != 0 {
			return errint(ferr)
		}
		f = lf
	}

	if flags&defs.O_CLOEXEC != 0 {
		f.Perms |= fd.FD_CLOEXEC
	}
	fdno, err := p.AddFd(f)
	if err != 0 {
		fd.Close_panic(f)
		return errint(err)
	}
	return fdno
}

// openRemote dials the /dfs mount for path, the syscall-dispatch half
// of the routing original_source's syscall.rs open()/mkdir()/unlink()/
// link()/symlink() do inline before ever touching the local fs::
// module.
func (s *Sys_t) openRemote(path ustr.Ustr, flags int) (*fd.Fd_t, defs.Err_t) {
	if s.Dfs == nil {
		return nil, -defs.ENOENT
	}
	rf, err := s.Dfs.Open(path, flags)
	if err != 0 {
		return nil, err
	}
	perms := fd.FD_READ
	if flags&(defs.O_WRONLY|defs.O_RDWR) != 0 {
		perms |= fd.FD_WRITE
	}
	return &fd.Fd_t{Fops: rf, Perms: perms}, 0
}

func (s *Sys_t) remoteMkdir(path ustr.Ustr) defs.Err_t {
	if s.Dfs == nil {
		return -defs.ENOENT
	}
	return s.Dfs.Mkdir(path)
}

func (s *Sys_t) remoteUnlink(path ustr.Ustr) defs.Err_t {
	if s.Dfs == nil {
		return -defs.ENOENT
	}
	return s.Dfs.Unlink(path)
}

func (s *Sys_t) remoteLink(oldp, newp ustr.Ustr) defs.Err_t {
	if s.Dfs == nil {
		return -defs.ENOENT
	}
	return s.Dfs.Link(oldp, newp)
}

func (s *Sys_t) remoteSymlink(target string, linkpath ustr.Ustr) defs.Err_t {
	if s.Dfs == nil {
		return -defs.ENOENT
	}
	return s.Dfs.Symlink(target, linkpath)
}

func (s *Sys_t) sysChdir(p *proc.Proc_t, tf *Trapframe_t) int {
	path, err := p.Data.As.Userstr(tf.Arg(0), defs.MAXPATH)
	if err != 0 {
		return errint(err)
	}
	full := p.Data.Cwd.Canonicalpath(path)
	newfd, err := s.Fs.Fs_open(path, defs.O_RDONLY|defs.O_DIRECTORY, 0, p.Data.Cwd, 0, 0)
	if err != 0 {
		return errint(err)
	}
	p.Data.Cwd.Lock()
	old := p.Data.Cwd.Fd
	p.Data.Cwd.Fd = newfd
	p.Data.Cwd.Path = full
	p.Data.Cwd.Unlock()
	if old != nil {
		fd.Close_panic(old)
	}
	return 0
}

func (s *Sys_t) sysRead(p *proc.Proc_t, tf *Trapframe_t) int {
	f, err := p.GetFd(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	ub := p.Data.As.Mkuserbuf(tf.Arg(1), tf.Arg(2))
	n, err := f.Fops.Read(ub)
	if err != 0 {
		return errint(err)
	}
	return n
}

func (s *Sys_t) sysWrite(p *proc.Proc_t, tf *Trapframe_t) int {
	f, err := p.GetFd(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	ub := p.Data.As.Mkuserbuf(tf.Arg(1), tf.Arg(2))
	n, err := f.Fops.Write(ub)
	if err != 0 {
		return errint(err)
	}
	return n
}

func (s *Sys_t) sysFstat(p *proc.Proc_t, tf *Trapframe_t) int {
	f, err := p.GetFd(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	var st stat.Stat_t
	if err := f.Fops.Fstat(&st); err != 0 {
		return errint(err)
	}
	return errint(p.Data.As.K2user(st.Bytes(), tf.Arg(1)))
}

func (s *Sys_t) sysFcntl(p *proc.Proc_t, tf *Trapframe_t) int {
	f, err := p.GetFd(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	switch tf.Arg(1) {
	case defs.F_GETFD:
		if f.Perms&fd.FD_CLOEXEC != 0 {
			return 1
		}
		return 0
	case defs.F_SETFD:
		if tf.Arg(2) != 0 {
			f.Perms |= fd.FD_CLOEXEC
		} else {
			f.Perms &^= fd.FD_CLOEXEC
		}
		return 0
	case defs.F_DUPFD:
		n, err := p.DupFd(tf.Arg(0), -1)
		if err != 0 {
			return errint(err)
		}
		return n
	default:
		return f.Fops.Fcntl(tf.Arg(1), tf.Arg(2))
	}
}

func (s *Sys_t) sysNonblock(p *proc.Proc_t, tf *Trapframe_t) int {
	f, err := p.GetFd(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	return f.Fops.Fcntl(defs.F_SETFL, tf.Arg(1))
}

func (s *Sys_t) sysPipe(p *proc.Proc_t, tf *Trapframe_t) int {
	rd, wr := ipc.MkPipe()
	rfd, err := p.AddFd(&fd.Fd_t{Fops: rd, Perms: fd.FD_READ})
	if err != 0 {
		return errint(err)
	}
	wfd, err := p.AddFd(&fd.Fd_t{Fops: wr, Perms: fd.FD_WRITE})
	if err != 0 {
		p.CloseFd(rfd)
		return errint(err)
	}
	if err := p.Data.As.Userwriten(tf.Arg(0), 4, rfd); err != 0 {
		return errint(err)
	}
	if err := p.Data.As.Userwriten(tf.Arg(0)+4, 4, wfd); err != 0 {
		return errint(err)
	}
	return 0
}

func (s *Sys_t) sysSemwait(p *proc.Proc_t, tf *Trapframe_t) int {
	sm, err := s.Sem.Get(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	ctx := tinfo.WithNote(context.Background(), p.Note)
	return errint(sm.Wait(ctx))
}

func (s *Sys_t) sysSocket(p *proc.Proc_t, tf *Trapframe_t) int {
	domain, typ := tf.Arg(0), tf.Arg(1)
	var fops fdops.Fdops_i
	switch {
	case domain == defs.AF_UNIX:
		fops = ipc.MkUnixSocket()
	case domain == defs.AF_INET && typ == defs.SOCK_STREAM:
		fops = net.MkTcpSocket(s.Net)
	case domain == defs.AF_INET && typ == defs.SOCK_DGRAM:
		fops = net.MkUdpSocket(s.Net)
	default:
		return errint(-defs.EINVAL)
	}
	fdno, err := p.AddFd(&fd.Fd_t{Fops: fops, Perms: fd.FD_READ | fd.FD_WRITE})
	if err != 0 {
		return errint(err)
	}
	return fdno
}

// readSockaddr reads a minimal Sabind_t/Sainfo_t off the user buffer at
// va: one byte family tag (0 == unix, 1 == inet) followed either by a
// path string or a little-endian 4-byte address and 2-byte port.
func (s *Sys_t) readSockaddr(p *proc.Proc_t, va int) (defs.Sainfo_t, defs.Err_t) {
	tag, err := p.Data.As.Userreadn(va, 1)
	if err != 0 {
		return defs.Sainfo_t{}, err
	}
	if tag == 0 {
		path, err := p.Data.As.Userstr(va+1, defs.MAXPATH)
		if err != 0 {
			return defs.Sainfo_t{}, err
		}
		return defs.Sainfo_t{Isunix: true, Path: path.String()}, 0
	}
	addr, err := p.Data.As.Userreadn(va+1, 4)
	if err != 0 {
		return defs.Sainfo_t{}, err
	}
	port, err := p.Data.As.Userreadn(va+5, 2)
	if err != 0 {
		return defs.Sainfo_t{}, err
	}
	return defs.Sainfo_t{Addr: uint32(addr), Port: uint16(port)}, 0
}

func (s *Sys_t) sysBind(p *proc.Proc_t, tf *Trapframe_t) int {
	f, err := p.GetFd(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	sa, err := s.readSockaddr(p, tf.Arg(1))
	if err != 0 {
		return errint(err)
	}
	sb := fdops.Sabind_t{Addr: sa.Addr, Port: sa.Port, Isunix: sa.Isunix}
	if sa.Isunix {
		sb.Path = ustr.MkUstrSlice([]byte(sa.Path))
	}
	return errint(f.Fops.Bind(sb))
}

func (s *Sys_t) sysListen(p *proc.Proc_t, tf *Trapframe_t) int {
	f, err := p.GetFd(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	lfops, err := f.Fops.Listen(tf.Arg(1))
	if err != 0 {
		return errint(err)
	}
	f.Fops = lfops
	return 0
}

func (s *Sys_t) sysAccept(p *proc.Proc_t, tf *Trapframe_t) int {
	f, err := p.GetFd(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	cfops, _, err := f.Fops.Accept(nil)
	if err != 0 {
		return errint(err)
	}
	fdno, err := p.AddFd(&fd.Fd_t{Fops: cfops, Perms: fd.FD_READ | fd.FD_WRITE})
	if err != 0 {
		return errint(err)
	}
	return fdno
}

func (s *Sys_t) sysConnect(p *proc.Proc_t, tf *Trapframe_t) int {
	f, err := p.GetFd(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	sa, err := s.readSockaddr(p, tf.Arg(1))
	if err != 0 {
		return errint(err)
	}
	return errint(f.Fops.Connect(sa))
}

func (s *Sys_t) sysTcgetpgrp(p *proc.Proc_t, tf *Trapframe_t) int {
	seatId := tf.Arg(0)
	st, err := s.Seat.Seat(seatId)
	if err != 0 {
		return errint(err)
	}
	pgid, err := st.Tcgetpgrp(p.Sid)
	if err != 0 {
		return errint(err)
	}
	return int(pgid)
}

func (s *Sys_t) sysTcsetpgrp(p *proc.Proc_t, tf *Trapframe_t) int {
	st, err := s.Seat.Seat(tf.Arg(0))
	if err != 0 {
		return errint(err)
	}
	return errint(s.Seat.Tcsetpgrp(st, p.Sid, defs.Pid_t(tf.Arg(1))))
}
