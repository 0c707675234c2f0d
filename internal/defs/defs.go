// Package defs holds the flat type and constant vocabulary shared by
// every kernel package: the syscall error enum, device ids, open flags,
// and the few scalar types (Pid_t, Tid_t) that would otherwise create
// import cycles between proc, vm, and fs.
package defs

// Err_t is the kernel's single flat error enum. Syscalls return it
// packed as a negative int; internal callers propagate it like any Go
// error value but compare it against the named constants below instead
// of using errors.Is.
type Err_t int

// Resource errors.
const (
	EUNSPECIFIED Err_t = iota
	ENOMEM
	ENOBUFS
	EMFILE
	EBADF
	EAGAIN // WouldBlock
)

// Lifecycle errors.
const (
	ECHILD Err_t = iota + 100
	ESRCH
	EINTR
)

// Namespace errors.
const (
	ENOENT Err_t = iota + 200
	EEXIST
	ENOTDIR
	EISDIR
	ENODEV
	EXDEV
	ENAMETOOLONG
)

// Validation errors.
const (
	EINVAL Err_t = iota + 300
	EFAULT
	UTF8ERROR
)

// Access errors.
const (
	EPERM Err_t = iota + 400
)

// Connectivity errors.
const (
	ENOTCONN Err_t = iota + 500
	EBUSY
	EPIPE
)

// Filesystem errors.
const (
	ENOSPC Err_t = iota + 600
	EROFS
	ELOOP
	ENOTEMPTY
)

// ENOHEAP marks a failure to reserve a resource-bound budget (internal
// to internal/res; surfaces to userland as ENOMEM).
const ENOHEAP = ENOMEM

// Generic fallback used by code paths that haven't been taught a more
// specific error yet.
const EGENERIC Err_t = -1

// String renders an Err_t for log lines and panic messages.
func (e Err_t) String() string {
	switch e {
	case 0:
		return "ok"
	case ENOMEM:
		return "ENOMEM"
	case ENOBUFS:
		return "ENOBUFS"
	case EMFILE:
		return "EMFILE"
	case EBADF:
		return "EBADF"
	case EAGAIN:
		return "EAGAIN"
	case ECHILD:
		return "ECHILD"
	case ESRCH:
		return "ESRCH"
	case EINTR:
		return "EINTR"
	case ENOENT:
		return "ENOENT"
	case EEXIST:
		return "EEXIST"
	case ENOTDIR:
		return "ENOTDIR"
	case EISDIR:
		return "EISDIR"
	case ENODEV:
		return "ENODEV"
	case EXDEV:
		return "EXDEV"
	case ENAMETOOLONG:
		return "ENAMETOOLONG"
	case EINVAL:
		return "EINVAL"
	case EFAULT:
		return "EFAULT"
	case UTF8ERROR:
		return "EILSEQ"
	case EPERM:
		return "EPERM"
	case ENOTCONN:
		return "ENOTCONN"
	case EBUSY:
		return "EBUSY"
	case EPIPE:
		return "EPIPE"
	case ENOSPC:
		return "ENOSPC"
	case EROFS:
		return "EROFS"
	case ELOOP:
		return "ELOOP"
	case ENOTEMPTY:
		return "ENOTEMPTY"
	default:
		return "EGENERIC"
	}
}

// Pid_t and Tid_t distinguish process ids from the per-slot thread
// identifier used by sleep/wakeup wait-channels and accounting.
type (
	Pid_t int
	Tid_t int
)

// Device identifiers for the virtio MMIO endpoints and pseudo-devices
// routed through internal/fdops. Major numbers below D_FIRST/D_LAST are
// reserved for the virtio transport; D_CONSOLE..D_PROF are files
// multiplexed over the "device" v-node variant.
const (
	D_CONSOLE int = 1 // seat-backed console
	D_SUD         = 2 // Unix domain datagram socket
	D_SUS         = 3 // Unix domain stream socket
	D_DEVNULL     = 4
	D_RAWDISK     = 5
	D_STAT        = 6 // kernel counters, text-readable
	D_PROF        = 7 // pprof profile dump, see internal/prof
	D_GPU         = 8 // virtio-gpu framebuffer
	D_KBD         = 9 // virtio-kbd event stream
	D_MOUSE       = 10
	D_FIRST       = D_CONSOLE
	D_LAST        = D_MOUSE
)

// Mkdev packs a major/minor pair the same way the teacher does: major
// in the high bits, minor in bits [32:40).
func Mkdev(maj, min int) uint {
	if min > 0xff {
		panic("bad minor")
	}
	m := uint(maj)<<8 | uint(min)
	return m << 32
}

// Unmkdev is Mkdev's inverse.
func Unmkdev(d uint) (int, int) {
	return int(d >> 40), int(uint8(d >> 32))
}

// open(2) flags. Bit layout mirrors the Linux ABI subset the kernel
// actually interprets.
const (
	O_RDONLY int = 0
	O_WRONLY     = 1
	O_RDWR       = 2
	O_CREAT      = 0x40
	O_EXCL       = 0x80
	O_TRUNC      = 0x200
	O_APPEND     = 0x400
	O_NONBLOCK   = 0x800
	O_DIRECTORY  = 0x10000
	O_CLOEXEC    = 0x80000
)

// lseek(2) whence values.
const (
	SEEK_SET int = iota
	SEEK_CUR
	SEEK_END
)

// wait(2)/waitpid(2) option bits.
const (
	WNOHANG   int = 0x1
	WUNTRACED     = 0x2
	WCONTINUED    = 0x8
)

// fcntl(2) commands the kernel understands.
const (
	F_GETFD int = iota
	F_SETFD
	F_GETFL
	F_SETFL
	F_DUPFD
)

// mmap(2) protection bits. They sit one bit lower than mem.PTE_R/W/X
// (bits 1-3), so internal/trap's protToPte translates them one bit at
// a time.
const (
	PROT_READ  int = 1 << 0
	PROT_WRITE     = 1 << 1
	PROT_EXEC      = 1 << 2
)

// mmap(2) sharing flags.
const (
	MAP_SHARED int = 1 << 0
	MAP_PRIVATE    = 1 << 1
	MAP_ANON       = 1 << 2
)

// socket(2) domain and type constants, matching the Linux ABI subset
// the kernel interprets.
const (
	AF_UNIX  int = 1
	AF_INET      = 2
)

const (
	SOCK_STREAM int = 1
	SOCK_DGRAM      = 2
)

// MAXPATH bounds a path or argument string's length (callers pass it
// to Userstr), and MAXARG bounds the number of exec(2) argv entries
// (Userargv fails with EINVAL past it), so a malicious or buggy
// userland can't force the kernel to copy in an unbounded string.
const (
	MAXPATH = 512
	MAXARG  = 128
)

// Inum_t identifies an inode, unique within one filesystem's block
// device. Pathi() returns it so /proc-style callers can report a
// descriptor's backing inode without reaching into the fs package.
type Inum_t int

// Sainfo_t is a socket address: an IPv4 address and port for AF_INET,
// or a filesystem path for AF_UNIX.
type Sainfo_t struct {
	Addr   uint32
	Port   uint16
	Path   string
	Isunix bool
}
