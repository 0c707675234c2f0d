// Package fd implements the per-process file descriptor: a reference
// to an open file description (Fdops_i) plus the permission bits the
// descriptor itself, rather than the description, carries (O_CLOEXEC
// in particular is per-descriptor, not per-description).
package fd

import (
	"sync"

	"github.com/talus-os/talus/internal/bpath"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/ustr"
)

// File descriptor permission bits.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t represents an open file descriptor.
type Fd_t struct {
	// Fops is an interface implemented via a pointer receiver, so Fops
	// is a reference, not a value: copying an Fd_t shares the open
	// file description.
	Fops  fdops.Fdops_i
	Perms int
}

// Copyfd duplicates an open file descriptor by reopening the
// underlying description.
func Copyfd(fd *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *fd
	if err := nfd.Fops.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes the descriptor and panics on failure; used where
// the caller holds the only reference and a close error would
// indicate a kernel bug, not a user error.
func Close_panic(f *Fd_t) {
	if f.Fops.Close() != 0 {
		panic("must succeed")
	}
}

// Cwd_t tracks the current working directory for a process.
type Cwd_t struct {
	sync.Mutex // serializes concurrent chdirs
	Fd         *Fd_t
	Path       ustr.Ustr
}

// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	full := append(append(ustr.Ustr{}, cwd.Path...), '/')
	return append(full, p...)
}

// Canonicalpath resolves path components relative to cwd, collapsing
// "." and ".." and producing an absolute path.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	p1 := cwd.Fullpath(p)
	return bpath.Canonicalize(p1)
}

// MkRootCwd constructs a Cwd_t rooted at "/".
func MkRootCwd(fd *Fd_t) *Cwd_t {
	c := &Cwd_t{}
	c.Fd = fd
	c.Path = ustr.MkUstrRoot()
	return c
}
