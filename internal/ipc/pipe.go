// Package ipc implements the two local-transport descriptor kinds
// spec.md §4.9 calls for: anonymous pipes and Unix-domain stream
// sockets. Neither survived retrieval from the teacher (biscuit's own
// pipe/unix-socket files were not in the retrieved pack), so both are
// new construction, grounded on internal/circbuf's page-backed ring
// buffer (the teacher's chosen data structure for exactly this kind of
// bounded byte channel) and on original_source/crates/kernel/src/socket.rs's
// UnixStream shape for the blocking/non-blocking read-write contract.
package ipc

import (
	"sync"

	"github.com/talus-os/talus/internal/circbuf"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/stat"
	"github.com/talus-os/talus/internal/ustr"
)

// PIPESZ matches biscuit's single-page pipe buffer: one circbuf page is
// exactly the bound spec.md's pipe invariant ("a full pipe's writer
// blocks until a reader drains it") needs to be observable in tests.
const PIPESZ = mem.PGSIZE

// pipe_t is the shared state behind a pipe(2) pair: one circular
// buffer and the read/write endpoint open counts that decide EOF vs.
// EPIPE.
type pipe_t struct {
	mu      sync.Mutex
	rcond   *sync.Cond
	wcond   *sync.Cond
	cb      circbuf.Circbuf_t
	readers int
	writers int
}

func newPipe() *pipe_t {
	p := &pipe_t{readers: 1, writers: 1}
	p.rcond = sync.NewCond(&p.mu)
	p.wcond = sync.NewCond(&p.mu)
	p.cb.Cb_init(PIPESZ, mem.Physmem)
	return p
}

// PipeEnd_t is one end (read or write) of a pipe; each end is a
// distinct Fdops_i so Reopen/Close can track the pair's own open
// endpoint counts independently of fd.go's dup refcounting.
type PipeEnd_t struct {
	p      *pipe_t
	reader bool
}

// MkPipe creates a connected pipe pair, mirroring pipe(2)'s [read,
// write] fd pair.
func MkPipe() (*PipeEnd_t, *PipeEnd_t) {
	p := newPipe()
	return &PipeEnd_t{p: p, reader: true}, &PipeEnd_t{p: p, reader: false}
}

func (e *PipeEnd_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if !e.reader {
		return 0, -defs.EINVAL
	}
	p := e.p
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.cb.Empty() && p.writers > 0 {
		p.rcond.Wait()
	}
	if p.cb.Empty() && p.writers == 0 {
		return 0, 0
	}
	n, err := p.cb.Copyout(dst)
	p.wcond.Broadcast()
	return n, err
}

func (e *PipeEnd_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if e.reader {
		return 0, -defs.EINVAL
	}
	p := e.p
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for total < src.Totalsz() {
		if p.readers == 0 {
			return total, -defs.EPIPE
		}
		for p.cb.Full() && p.readers > 0 {
			p.wcond.Wait()
		}
		if p.readers == 0 {
			return total, -defs.EPIPE
		}
		n, err := p.cb.Copyin(src)
		total += n
		p.rcond.Broadcast()
		if err != 0 {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, 0
}

func (e *PipeEnd_t) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}

func (e *PipeEnd_t) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}

func (e *PipeEnd_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (e *PipeEnd_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(0010000) // S_IFIFO
	e.p.mu.Lock()
	st.Wsize(uint(e.p.cb.Used()))
	e.p.mu.Unlock()
	return 0
}

func (e *PipeEnd_t) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }
func (e *PipeEnd_t) Pathi() defs.Inum_t              { return 0 }
func (e *PipeEnd_t) Fullpath() (ustr.Ustr, defs.Err_t) {
	return nil, -defs.EINVAL
}

func (e *PipeEnd_t) Reopen() defs.Err_t {
	e.p.mu.Lock()
	if e.reader {
		e.p.readers++
	} else {
		e.p.writers++
	}
	e.p.mu.Unlock()
	return 0
}

func (e *PipeEnd_t) Close() defs.Err_t {
	p := e.p
	p.mu.Lock()
	if e.reader {
		p.readers--
		if p.readers == 0 {
			p.wcond.Broadcast()
		}
	} else {
		p.writers--
		if p.writers == 0 {
			p.rcond.Broadcast()
		}
	}
	p.mu.Unlock()
	return 0
}

func (e *PipeEnd_t) Mmapi(off, pages int, shared bool) ([]mem.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (e *PipeEnd_t) Unpin(mem.Pa_t) {}

func (e *PipeEnd_t) Poll(pm fdops.Pollmsg_t) (int, defs.Err_t) {
	p := e.p
	p.mu.Lock()
	defer p.mu.Unlock()
	var ready int
	if e.reader {
		if !p.cb.Empty() {
			ready |= fdops.POLLIN & pm.Events
		}
		if p.writers == 0 {
			ready |= fdops.POLLHUP | (fdops.POLLIN & pm.Events)
		}
	} else {
		if !p.cb.Full() {
			ready |= fdops.POLLOUT & pm.Events
		}
		if p.readers == 0 {
			ready |= fdops.POLLERR
		}
	}
	return ready, 0
}

func (e *PipeEnd_t) Fcntl(cmd, opt int) int { return 0 }

func (e *PipeEnd_t) Accept(fdops.Userio_i) (fdops.Fdops_i, defs.Sainfo_t, defs.Err_t) {
	return nil, defs.Sainfo_t{}, -defs.ENOTCONN
}
func (e *PipeEnd_t) Bind(fdops.Sabind_t) defs.Err_t   { return -defs.ENOTCONN }
func (e *PipeEnd_t) Connect(defs.Sainfo_t) defs.Err_t { return -defs.ENOTCONN }
func (e *PipeEnd_t) Listen(int) (fdops.Fdops_i, defs.Err_t) {
	return nil, -defs.ENOTCONN
}
func (e *PipeEnd_t) Sendmsg(fdops.Userio_i, defs.Sainfo_t, []uint8, int) (int, defs.Err_t) {
	return 0, -defs.ENOTCONN
}
func (e *PipeEnd_t) Recvmsg(fdops.Userio_i, fdops.Userio_i, fdops.Userio_i, int) (int, int, int, defs.Sainfo_t, defs.Err_t) {
	return 0, 0, 0, defs.Sainfo_t{}, -defs.ENOTCONN
}
func (e *PipeEnd_t) Getsockopt(int, fdops.Userio_i, int) (int, defs.Err_t) { return 0, -defs.ENOTCONN }
func (e *PipeEnd_t) Setsockopt(int, int, fdops.Userio_i, int) defs.Err_t   { return -defs.ENOTCONN }
func (e *PipeEnd_t) Shutdown(read, write bool) defs.Err_t                  { return -defs.ENOTCONN }
