package defs

// Sysno_t is a syscall number as carried in a7. Slot 0 (SYS_INVALID_NO)
// is reserved so an unrecognized a7 value resolves to a named constant
// instead of indexing out of range; the 61 live entries run 1..61,
// ending in SYS_GETNPROCSCONF -- a getnprocs variant returning static
// config (NPROC/NOFILE/NCPU) rather than live counts.
type Sysno_t int

const (
	SYS_INVALID_NO Sysno_t = iota
	SYS_FORK
	SYS_EXIT
	SYS_WAIT
	SYS_PIPE
	SYS_READ
	SYS_KILL
	SYS_EXEC
	SYS_FSTAT
	SYS_CHDIR
	SYS_DUP
	SYS_GETPID
	SYS_SBRK
	SYS_SLEEP
	SYS_UPTIME
	SYS_OPEN
	SYS_WRITE
	SYS_MKNOD
	SYS_UNLINK
	SYS_LINK
	SYS_MKDIR
	SYS_CLOSE
	SYS_DUP2
	SYS_FCNTL
	SYS_NONBLOCK
	SYS_FREEPAGES
	SYS_MMAP
	SYS_MUNMAP
	SYS_CLONE
	SYS_JOIN
	SYS_EXTIRQCOUNT
	SYS_KTASKPOLLS
	SYS_POLL
	SYS_SELECT
	SYS_WAITPID
	SYS_SIGACTION
	SYS_SIGRETURN
	SYS_SETITIMER
	SYS_SHMCREATE
	SYS_SHMATTACH
	SYS_SHMDETACH
	SYS_SHMDESTROY
	SYS_SEMCREATE
	SYS_SEMWAIT
	SYS_SEMTRYWAIT
	SYS_SEMPOST
	SYS_SEMCLOSE
	SYS_FSYNC
	SYS_SYMLINK
	SYS_SOCKET
	SYS_BIND
	SYS_LISTEN
	SYS_ACCEPT
	SYS_CONNECT
	SYS_SETPGID
	SYS_GETPGRP
	SYS_SETSID
	SYS_TCGETPGRP
	SYS_TCSETPGRP
	SYS_LOGCRASH
	SYS_GETNPROCS
	SYS_GETNPROCSCONF
)

// NSYSCALL bounds the syscall number table; index 0 is SYS_INVALID_NO.
const NSYSCALL = int(SYS_GETNPROCSCONF) + 1

// sysnames is indexed by Sysno_t for trap-path logging and panics; it
// mirrors the teacher's own Display impl over its syscall enum.
var sysnames = [NSYSCALL]string{
	SYS_INVALID_NO:    "invalid",
	SYS_FORK:          "fork",
	SYS_EXIT:          "exit",
	SYS_WAIT:          "wait",
	SYS_PIPE:          "pipe",
	SYS_READ:          "read",
	SYS_KILL:          "kill",
	SYS_EXEC:          "exec",
	SYS_FSTAT:         "fstat",
	SYS_CHDIR:         "chdir",
	SYS_DUP:           "dup",
	SYS_GETPID:        "getpid",
	SYS_SBRK:          "sbrk",
	SYS_SLEEP:         "sleep",
	SYS_UPTIME:        "uptime",
	SYS_OPEN:          "open",
	SYS_WRITE:         "write",
	SYS_MKNOD:         "mknod",
	SYS_UNLINK:        "unlink",
	SYS_LINK:          "link",
	SYS_MKDIR:         "mkdir",
	SYS_CLOSE:         "close",
	SYS_DUP2:          "dup2",
	SYS_FCNTL:         "fcntl",
	SYS_NONBLOCK:      "nonblock",
	SYS_FREEPAGES:     "freepages",
	SYS_MMAP:          "mmap",
	SYS_MUNMAP:        "munmap",
	SYS_CLONE:         "clone",
	SYS_JOIN:          "join",
	SYS_EXTIRQCOUNT:   "extirqcount",
	SYS_KTASKPOLLS:    "ktaskpolls",
	SYS_POLL:          "poll",
	SYS_SELECT:        "select",
	SYS_WAITPID:       "waitpid",
	SYS_SIGACTION:     "sigaction",
	SYS_SIGRETURN:     "sigreturn",
	SYS_SETITIMER:     "setitimer",
	SYS_SHMCREATE:     "shmcreate",
	SYS_SHMATTACH:     "shmattach",
	SYS_SHMDETACH:     "shmdetach",
	SYS_SHMDESTROY:    "shmdestroy",
	SYS_SEMCREATE:     "semcreate",
	SYS_SEMWAIT:       "semwait",
	SYS_SEMTRYWAIT:    "semtrywait",
	SYS_SEMPOST:       "sempost",
	SYS_SEMCLOSE:      "semclose",
	SYS_FSYNC:         "fsync",
	SYS_SYMLINK:       "symlink",
	SYS_SOCKET:        "socket",
	SYS_BIND:          "bind",
	SYS_LISTEN:        "listen",
	SYS_ACCEPT:        "accept",
	SYS_CONNECT:       "connect",
	SYS_SETPGID:       "setpgid",
	SYS_GETPGRP:       "getpgrp",
	SYS_SETSID:        "setsid",
	SYS_TCGETPGRP:     "tcgetpgrp",
	SYS_TCSETPGRP:     "tcsetpgrp",
	SYS_LOGCRASH:      "logcrash",
	SYS_GETNPROCS:     "getnprocs",
	SYS_GETNPROCSCONF: "getnprocsconf",
}

// String renders a syscall number by name, for trap-path log lines.
func (n Sysno_t) String() string {
	if n < 0 || int(n) >= NSYSCALL {
		return "invalid"
	}
	return sysnames[n]
}
