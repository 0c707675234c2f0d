package proc

import (
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fd"
)

// AddFd installs f in the caller's own process's next free descriptor
// slot and returns its number, or -EMFILE if the table (bounded by
// NOFILE) is full. It locks Data itself so callers sharing ProcData_t
// via Clone see a consistent view of the table.
func (p *Proc_t) AddFd(f *fd.Fd_t) (int, defs.Err_t) {
	p.Data.Lock()
	defer p.Data.Unlock()
	for i, cur := range p.Data.Fds {
		if cur == nil {
			p.Data.Fds[i] = f
			return i, 0
		}
	}
	return 0, -defs.EMFILE
}

// GetFd resolves fdno to its descriptor, or EBADF if fdno is out of
// range or unused.
func (p *Proc_t) GetFd(fdno int) (*fd.Fd_t, defs.Err_t) {
	p.Data.Lock()
	defer p.Data.Unlock()
	if fdno < 0 || fdno >= NOFILE || p.Data.Fds[fdno] == nil {
		return nil, -defs.EBADF
	}
	return p.Data.Fds[fdno], 0
}

// CloseFd removes fdno from the table and closes its underlying
// description, per close(2)'s contract that a duplicate descriptor's
// open file description survives as long as any copy remains.
func (p *Proc_t) CloseFd(fdno int) defs.Err_t {
	p.Data.Lock()
	if fdno < 0 || fdno >= NOFILE || p.Data.Fds[fdno] == nil {
		p.Data.Unlock()
		return -defs.EBADF
	}
	f := p.Data.Fds[fdno]
	p.Data.Fds[fdno] = nil
	p.Data.Unlock()
	return f.Fops.Close()
}

// DupFd installs a fresh reference to fdno's open file description
// at newno, closing whatever newno previously held, per dup2(2). If
// newno < 0, the lowest free slot is used instead, per plain dup(2).
func (p *Proc_t) DupFd(fdno, newno int) (int, defs.Err_t) {
	p.Data.Lock()
	if fdno < 0 || fdno >= NOFILE || p.Data.Fds[fdno] == nil {
		p.Data.Unlock()
		return 0, -defs.EBADF
	}
	src := p.Data.Fds[fdno]
	p.Data.Unlock()

	nfd, err := fd.Copyfd(src)
	if err != 0 {
		return 0, err
	}
	nfd.Perms &^= fd.FD_CLOEXEC

	if newno < 0 {
		return p.AddFd(nfd)
	}

	p.Data.Lock()
	defer p.Data.Unlock()
	if newno >= NOFILE {
		return 0, -defs.EBADF
	}
	if old := p.Data.Fds[newno]; old != nil && old != src {
		fd.Close_panic(old)
	}
	p.Data.Fds[newno] = nfd
	return newno, 0
}

// CloexecFds closes every descriptor marked FD_CLOEXEC, called by Exec
// once the new address space has replaced the old one.
func (p *Proc_t) CloexecFds() {
	p.Data.Lock()
	defer p.Data.Unlock()
	for i, f := range p.Data.Fds {
		if f != nil && f.Perms&fd.FD_CLOEXEC != 0 {
			fd.Close_panic(f)
			p.Data.Fds[i] = nil
		}
	}
}
