// Package fdops defines the capability interface every open file
// description implements: regular files, directories, pipes, Unix
// sockets and TCP/UDP sockets all satisfy Fdops_i, so Fd_t and the vm
// package's file-backed mappings never need a type switch to decide
// how to read, write or mmap a descriptor.
package fdops

import (
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/stat"
	"github.com/talus-os/talus/internal/ustr"
)

// Proctaker_i identifies the process a blocking fd operation is being
// made on behalf of, for signal-interruptible waits.
type Proctaker_i interface {
	Threadid() defs.Tid_t
}

// Userio_i is the kernel's generic source/destination for a data
// transfer that may be user memory, kernel memory, or an iovec array.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Pollmsg_t describes what a descriptor is being polled for.
type Pollmsg_t struct {
	Events   int
	Pollwait bool
}

const (
	POLLIN  = 1 << 0
	POLLOUT = 1 << 1
	POLLERR = 1 << 2
	POLLHUP = 1 << 3
)

// Fdopt_t carries the file status flags (O_APPEND, O_NONBLOCK, ...)
// associated with an open file description.
type Fdopt_t int

// Fdops_i is implemented by every kind of open file description:
// regular files, directories, pipes, Unix sockets and network
// sockets.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(*stat.Stat_t) defs.Err_t
	Lseek(off, whence int) (int, defs.Err_t)
	Mmapi(off, pages int, shared bool) ([]mem.Mmapinfo_t, defs.Err_t)
	Pathi() defs.Inum_t
	Read(Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
	Write(Userio_i) (int, defs.Err_t)
	Fullpath() (ustr.Ustr, defs.Err_t)
	Truncate(newlen uint) defs.Err_t
	Pread(dst Userio_i, offset int) (int, defs.Err_t)
	Pwrite(src Userio_i, offset int) (int, defs.Err_t)

	Accept(Userio_i) (Fdops_i, defs.Sainfo_t, defs.Err_t)
	Bind(Sabind_t) defs.Err_t
	Connect(defs.Sainfo_t) defs.Err_t
	Listen(backlog int) (Fdops_i, defs.Err_t)
	Sendmsg(src Userio_i, toaddr defs.Sainfo_t, cmsg []uint8, flags int) (int, defs.Err_t)
	Recvmsg(dst Userio_i, fromsa Userio_i, cmsg Userio_i, flags int) (int, int, int, defs.Sainfo_t, defs.Err_t)
	Getsockopt(opt int, bufarg Userio_i, intarg int) (int, defs.Err_t)
	Setsockopt(level, opt int, bufarg Userio_i, intarg int) defs.Err_t
	Shutdown(read, write bool) defs.Err_t

	Poll(Pollmsg_t) (int, defs.Err_t)
	Fcntl(cmd, opt int) int
	Unpin(mem.Pa_t)
}

// Sabind_t is a socket address a listener binds to: either a path
// (Unix domain) or an IPv4 address/port.
type Sabind_t struct {
	Path   ustr.Ustr
	Addr   uint32
	Port   uint16
	Isunix bool
}
