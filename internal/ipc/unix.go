package ipc

import (
	"sync"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/stat"
	"github.com/talus-os/talus/internal/ustr"
)

// unixRegistry maps a bound path to the listening socket, standing in
// for the teacher's filesystem-namespace socket nodes (Fs_mknod with
// I_SOCKET creates the directory entry; the registry here is the
// in-kernel side a connect(2) actually rendezvous through, since no
// inode-held listener state survived retrieval).
var (
	unixMu       sync.Mutex
	unixRegistry = map[string]*UnixSocket_t{}
)

// unixConn_t is one connected endpoint of a Unix stream socket: a pair
// of PipeEnd_t, one per direction, giving full duplex I/O out of two
// half-duplex pipes exactly as a real socketpair(2) would be built from
// this kernel's own pipe primitive.
type unixConn_t struct {
	rd *PipeEnd_t
	wr *PipeEnd_t
}

func newConnPair() (*unixConn_t, *unixConn_t) {
	ar, aw := MkPipe() // client reads ar, server writes aw
	br, bw := MkPipe() // server reads br, client writes bw
	client := &unixConn_t{rd: ar, wr: bw}
	server := &unixConn_t{rd: br, wr: aw}
	return client, server
}

// UnixSocket_t is a SOCK_STREAM AF_UNIX descriptor: unconnected at
// creation, it transitions to either a listener (after Bind+Listen) or
// a connected endpoint (after Connect, or by Accept handing back a
// freshly connected instance).
type UnixSocket_t struct {
	mu      sync.Mutex
	path    string
	backlog chan *unixConn_t
	conn    *unixConn_t
	closed  bool
}

// MkUnixSocket creates an unbound, unconnected Unix stream socket.
func MkUnixSocket() *UnixSocket_t {
	return &UnixSocket_t{}
}

func (s *UnixSocket_t) Bind(sb fdops.Sabind_t) defs.Err_t {
	if !sb.Isunix {
		return -defs.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		return -defs.EINVAL
	}
	key := string(sb.Path)
	unixMu.Lock()
	defer unixMu.Unlock()
	if _, ok := unixRegistry[key]; ok {
		return -defs.EEXIST
	}
	s.path = key
	return 0
}

// Listen marks a bound socket as a listener, registering it in the
// global namespace so a later Connect by path can find it.
func (s *UnixSocket_t) Listen(backlog int) (fdops.Fdops_i, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil, -defs.EINVAL
	}
	if backlog <= 0 {
		backlog = 1
	}
	s.backlog = make(chan *unixConn_t, backlog)
	unixMu.Lock()
	unixRegistry[s.path] = s
	unixMu.Unlock()
	return s, 0
}

// Accept blocks for the next queued connection, per spec.md §4.9's
// accept(2) contract, and returns a freshly connected socket (the
// argument Userio_i, meant for the caller's sockaddr-out buffer, is
// unused: Unix sockets have no numeric peer address to report).
func (s *UnixSocket_t) Accept(fdops.Userio_i) (fdops.Fdops_i, defs.Sainfo_t, defs.Err_t) {
	s.mu.Lock()
	backlog := s.backlog
	path := s.path
	s.mu.Unlock()
	if backlog == nil {
		return nil, defs.Sainfo_t{}, -defs.EINVAL
	}
	conn, ok := <-backlog
	if !ok {
		return nil, defs.Sainfo_t{}, -defs.ENOTCONN
	}
	ns := &UnixSocket_t{conn: conn}
	return ns, defs.Sainfo_t{Path: path, Isunix: true}, 0
}

// Connect rendezvous with a listener registered at sa.Path, handing it
// one end of a freshly built connection pair and keeping the other end
// for itself.
func (s *UnixSocket_t) Connect(sa defs.Sainfo_t) defs.Err_t {
	if !sa.Isunix {
		return -defs.EINVAL
	}
	unixMu.Lock()
	listener, ok := unixRegistry[string(sa.Path)]
	unixMu.Unlock()
	if !ok {
		return -defs.ENOTCONN
	}
	client, server := newConnPair()
	select {
	case listener.backlog <- server:
	default:
		return -defs.EBUSY
	}
	s.mu.Lock()
	s.conn = client
	s.mu.Unlock()
	return 0
}

func (s *UnixSocket_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, -defs.ENOTCONN
	}
	return conn.rd.Read(dst)
}

func (s *UnixSocket_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return 0, -defs.ENOTCONN
	}
	return conn.wr.Write(src)
}

func (s *UnixSocket_t) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (s *UnixSocket_t) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (s *UnixSocket_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (s *UnixSocket_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(0140000) // S_IFSOCK
	return 0
}

func (s *UnixSocket_t) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }
func (s *UnixSocket_t) Pathi() defs.Inum_t              { return 0 }
func (s *UnixSocket_t) Fullpath() (ustr.Ustr, defs.Err_t) {
	return nil, -defs.EINVAL
}

func (s *UnixSocket_t) Reopen() defs.Err_t { return 0 }

func (s *UnixSocket_t) Close() defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	s.closed = true
	if s.conn != nil {
		s.conn.rd.Close()
		s.conn.wr.Close()
	}
	if s.backlog != nil {
		unixMu.Lock()
		if unixRegistry[s.path] == s {
			delete(unixRegistry, s.path)
		}
		unixMu.Unlock()
		close(s.backlog)
	}
	return 0
}

func (s *UnixSocket_t) Mmapi(off, pages int, shared bool) ([]mem.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (s *UnixSocket_t) Unpin(mem.Pa_t) {}

func (s *UnixSocket_t) Poll(pm fdops.Pollmsg_t) (int, defs.Err_t) {
	s.mu.Lock()
	conn := s.conn
	backlog := s.backlog
	s.mu.Unlock()
	if backlog != nil {
		if len(backlog) > 0 {
			return fdops.POLLIN & pm.Events, 0
		}
		return 0, 0
	}
	if conn == nil {
		return fdops.POLLERR, 0
	}
	ready, _ := conn.rd.Poll(fdops.Pollmsg_t{Events: fdops.POLLIN})
	wready, _ := conn.wr.Poll(fdops.Pollmsg_t{Events: fdops.POLLOUT})
	return (ready | wready) & (pm.Events | fdops.POLLHUP | fdops.POLLERR), 0
}

func (s *UnixSocket_t) Fcntl(cmd, opt int) int { return 0 }

func (s *UnixSocket_t) Sendmsg(src fdops.Userio_i, toaddr defs.Sainfo_t, cmsg []uint8, flags int) (int, defs.Err_t) {
	n, err := s.Write(src)
	return n, err
}

func (s *UnixSocket_t) Recvmsg(dst, fromsa, cmsg fdops.Userio_i, flags int) (int, int, int, defs.Sainfo_t, defs.Err_t) {
	n, err := s.Read(dst)
	return n, 0, 0, defs.Sainfo_t{Isunix: true}, err
}

func (s *UnixSocket_t) Getsockopt(opt int, bufarg fdops.Userio_i, intarg int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (s *UnixSocket_t) Setsockopt(level, opt int, bufarg fdops.Userio_i, intarg int) defs.Err_t {
	return -defs.EINVAL
}

func (s *UnixSocket_t) Shutdown(read, write bool) defs.Err_t {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return -defs.ENOTCONN
	}
	if read {
		conn.rd.Close()
	}
	if write {
		conn.wr.Close()
	}
	return 0
}
