package fs

import (
	"encoding/binary"
	"strings"
	"sync"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/net"
	"github.com/talus-os/talus/internal/stat"
	"github.com/talus-os/talus/internal/ustr"
	"github.com/talus-os/talus/internal/vm"
)

// Remote-filesystem client: paths under DfsPrefix are not resolved
// against this kernel's own inode tree at all but forwarded over TCP
// to a userspace dfs_server, the same split original_source's
// crates/kernel/src/dfs.rs draws between the local ufs and a remote
// mount reachable only through this wire protocol. Grounded directly
// on dfs.rs: the request/response header layout, opcode set, and the
// is_remote_path/remote_path prefix rules are ported field-for-field;
// the transport is internal/net's TcpSocket_t standing in for the
// InetSocket dfs.rs drives, and each RPC's payload is framed through
// vm.Fakeubuf_t the way dfs.rs's send_all/recv_all address kernel
// memory directly (VirtAddr::Kernel) rather than a user buffer.
const (
	dfsMagic     = 0x44465331 // "DFS1"
	DfsPrefix    = "/dfs"
	dfsPrefixDir = "/dfs/"
	dfsMaxChunk  = 512
)

type dfsOp uint16

const (
	dfsOpOpen dfsOp = 1 + iota
	dfsOpRead
	dfsOpWrite
	dfsOpClose
	dfsOpStat
	dfsOpMkdir
	dfsOpUnlink
	dfsOpLink
	dfsOpSymlink
	dfsOpFsync
)

// dfsReqLen/dfsRespLen are the wire sizes of the request header
// {magic,op,_pad,flags,handle,len} (aux follows it as a separate
// 4-byte word) and DfsResp{magic,status,handle,len}.
const (
	dfsReqLen  = 20
	dfsRespLen = 16
)

type dfsReq struct {
	op     dfsOp
	flags  uint32
	handle uint32
	length uint32
	aux    uint32
}

func (r dfsReq) marshal() []byte {
	b := make([]byte, dfsReqLen)
	binary.LittleEndian.PutUint32(b[0:4], dfsMagic)
	binary.LittleEndian.PutUint16(b[4:6], uint16(r.op))
	binary.LittleEndian.PutUint32(b[8:12], r.flags)
	binary.LittleEndian.PutUint32(b[12:16], r.handle)
	binary.LittleEndian.PutUint32(b[16:20], r.length)
	// aux packed after length in the teacher's layout would overflow a
	// 20-byte frame without _pad's two bytes; aux travels as a second
	// fixed word immediately following this header instead.
	return b
}

type dfsResp struct {
	status int32
	handle uint32
	length uint32
}

func unmarshalDfsResp(b []byte) (dfsResp, bool) {
	if len(b) < dfsRespLen {
		return dfsResp{}, false
	}
	if binary.LittleEndian.Uint32(b[0:4]) != dfsMagic {
		return dfsResp{}, false
	}
	return dfsResp{
		status: int32(binary.LittleEndian.Uint32(b[4:8])),
		handle: binary.LittleEndian.Uint32(b[8:12]),
		length: binary.LittleEndian.Uint32(b[12:16]),
	}, true
}

// IsRemotePath reports whether path names the /dfs mount, per dfs.rs's
// is_remote_path.
func IsRemotePath(path ustr.Ustr) bool {
	s := path.String()
	return s == DfsPrefix || strings.HasPrefix(s, dfsPrefixDir)
}

func remotePath(path ustr.Ustr) (string, defs.Err_t) {
	s := path.String()
	if s == DfsPrefix {
		return "/", 0
	}
	if strings.HasPrefix(s, dfsPrefixDir) {
		return s[len(DfsPrefix):], 0
	}
	return "", -defs.EINVAL
}

// Dfs_t is the kernel-resident client for the remote filesystem:
// spec.md never names it, but original_source's dfs.rs wires it into
// exactly the path-resolution layer spec.md's VFS module owns, so it
// lives here rather than as a standalone device. One Dfs_t is shared
// by every process the way dfs.rs's CLIENT/RPC_LOCK statics are
// shared by every seat, serializing RPCs behind a single connection.
type Dfs_t struct {
	stack *net.Stack_t
	ip    net.IP
	port  uint16

	mu   sync.Mutex
	sock *net.TcpSocket_t
}

// NewDfs builds a remote-filesystem client that dials host:port over
// stack on first use.
func NewDfs(stack *net.Stack_t, host net.IP, port uint16) *Dfs_t {
	return &Dfs_t{stack: stack, ip: host, port: port}
}

func (d *Dfs_t) conn() (*net.TcpSocket_t, defs.Err_t) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sock != nil {
		return d.sock, 0
	}
	sock := net.MkTcpSocket(d.stack)
	if err := sock.Connect(defs.Sainfo_t{Addr: uint32(d.ip), Port: d.port}); err != 0 {
		return nil, err
	}
	d.sock = sock
	return sock, 0
}

func (d *Dfs_t) dropConn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sock != nil {
		d.sock.Close()
		d.sock = nil
	}
}

func sendAll(sock *net.TcpSocket_t, buf []byte) defs.Err_t {
	var src vm.Fakeubuf_t
	src.Fake_init(buf)
	for src.Remain() > 0 {
		before := src.Remain()
		n, err := sock.Write(&src)
		if err != 0 {
			return err
		}
		if n == 0 || n > before {
			return -defs.ENOTCONN
		}
	}
	return 0
}

func recvAll(sock *net.TcpSocket_t, buf []byte) defs.Err_t {
	var dst vm.Fakeubuf_t
	dst.Fake_init(buf)
	for dst.Remain() > 0 {
		before := dst.Remain()
		n, err := sock.Read(&dst)
		if err != 0 {
			return err
		}
		if n == 0 || n > before {
			return -defs.ENOTCONN
		}
	}
	return 0
}

// call sends req plus aux (the second fixed word dfsReq.marshal omits)
// and payloads in order, then reads back a response header and its
// trailing data, retrying once against a fresh connection if the
// current one has gone stale -- dfs.rs's call() resets and retries the
// next RPC rather than the one that just failed, so one retry here
// mirrors that rather than looping forever against a dead peer.
func (d *Dfs_t) call(req dfsReq, payloads ...[]byte) (dfsResp, []byte, defs.Err_t) {
	for attempt := 0; attempt < 2; attempt++ {
		sock, err := d.conn()
		if err != 0 {
			return dfsResp{}, nil, err
		}
		resp, data, err := d.callOnce(sock, req, payloads)
		if err == 0 || resp.status < 0 {
			return resp, data, err
		}
		d.dropConn()
		if attempt == 1 {
			return dfsResp{}, nil, err
		}
	}
	return dfsResp{}, nil, -defs.ENOTCONN
}

func (d *Dfs_t) callOnce(sock *net.TcpSocket_t, req dfsReq, payloads [][]byte) (dfsResp, []byte, defs.Err_t) {
	hdr := req.marshal()
	auxb := make([]byte, 4)
	binary.LittleEndian.PutUint32(auxb, req.aux)
	if err := sendAll(sock, hdr); err != 0 {
		return dfsResp{}, nil, err
	}
	if err := sendAll(sock, auxb); err != 0 {
		return dfsResp{}, nil, err
	}
	for _, p := range payloads {
		if len(p) == 0 {
			continue
		}
		if err := sendAll(sock, p); err != 0 {
			return dfsResp{}, nil, err
		}
	}

	respBuf := make([]byte, dfsRespLen)
	if err := recvAll(sock, respBuf); err != 0 {
		return dfsResp{}, nil, err
	}
	resp, ok := unmarshalDfsResp(respBuf)
	if !ok {
		return dfsResp{}, nil, -defs.EINVAL
	}
	var data []byte
	if resp.length > 0 {
		data = make([]byte, resp.length)
		if err := recvAll(sock, data); err != 0 {
			return dfsResp{}, nil, err
		}
	}
	if resp.status < 0 {
		return resp, data, defs.Err_t(resp.status)
	}
	return resp, data, 0
}

// Open issues a remote open, returning the server-assigned handle
// wrapped in a RemoteFile_t ready to hand back through the fd table.
func (d *Dfs_t) Open(path ustr.Ustr, flags int) (*RemoteFile_t, defs.Err_t) {
	rpath, perr := remotePath(path)
	if perr != 0 {
		return nil, perr
	}
	resp, _, err := d.call(dfsReq{op: dfsOpOpen, flags: uint32(flags), length: uint32(len(rpath))}, []byte(rpath))
	if err != 0 {
		return nil, err
	}
	return &RemoteFile_t{d: d, handle: resp.handle, writable: flags&(defs.O_RDWR|defs.O_WRONLY) != 0, readable: flags&defs.O_WRONLY == 0}, 0
}

// Mkdir/Unlink/Link/Symlink/Fsync mirror dfs.rs's free functions of
// the same name: each is a single RPC against a path (or pair of
// paths) with no local journal transaction, since the remote server
// owns its own crash-consistency story.
func (d *Dfs_t) Mkdir(path ustr.Ustr) defs.Err_t {
	rpath, err := remotePath(path)
	if err != 0 {
		return err
	}
	_, _, err = d.call(dfsReq{op: dfsOpMkdir, length: uint32(len(rpath))}, []byte(rpath))
	return err
}

func (d *Dfs_t) Unlink(path ustr.Ustr) defs.Err_t {
	rpath, err := remotePath(path)
	if err != 0 {
		return err
	}
	_, _, err = d.call(dfsReq{op: dfsOpUnlink, length: uint32(len(rpath))}, []byte(rpath))
	return err
}

func (d *Dfs_t) Link(oldp, newp ustr.Ustr) defs.Err_t {
	oldr, err := remotePath(oldp)
	if err != 0 {
		return err
	}
	newr, err := remotePath(newp)
	if err != 0 {
		return err
	}
	_, _, err = d.call(dfsReq{op: dfsOpLink, length: uint32(len(oldr)), aux: uint32(len(newr))}, []byte(oldr), []byte(newr))
	return err
}

// Symlink's target is only rewritten to a server-relative path when it
// itself names /dfs; an ordinary local target is passed through
// verbatim, matching dfs.rs's own special case.
func (d *Dfs_t) Symlink(target string, linkpath ustr.Ustr) defs.Err_t {
	linkr, err := remotePath(linkpath)
	if err != 0 {
		return err
	}
	tgt := target
	switch {
	case strings.HasPrefix(target, dfsPrefixDir):
		tgt = target[len(DfsPrefix):]
	case target == DfsPrefix:
		tgt = "/"
	}
	_, _, err = d.call(dfsReq{op: dfsOpSymlink, length: uint32(len(tgt)), aux: uint32(len(linkr))}, []byte(tgt), []byte(linkr))
	return err
}

// RemoteFile_t implements fdops.Fdops_i against a Dfs_t handle,
// mirroring original_source's RemoteFile/FType::Remote variant so a
// descriptor opened under /dfs is indistinguishable from a local one
// to everything above internal/fd.
type RemoteFile_t struct {
	d        *Dfs_t
	handle   uint32
	readable bool
	writable bool
}

func (r *RemoteFile_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if !r.readable {
		return 0, -defs.EPERM
	}
	total := 0
	want := dst.Remain()
	for total < want {
		chunk := min(dfsMaxChunk, want-total)
		resp, data, err := r.d.call(dfsReq{op: dfsOpRead, handle: r.handle, length: uint32(chunk)})
		if err != 0 {
			return total, err
		}
		if resp.status == 0 {
			break
		}
		got := int(resp.status)
		if got > len(data) {
			got = len(data)
		}
		n, werr := dst.Uiowrite(data[:got])
		total += n
		if werr != 0 {
			return total, werr
		}
		if got < chunk {
			break
		}
	}
	return total, 0
}

func (r *RemoteFile_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if !r.writable {
		return 0, -defs.EPERM
	}
	total := 0
	want := src.Remain()
	for total < want {
		chunk := min(dfsMaxChunk, want-total)
		buf := make([]byte, chunk)
		n, rerr := src.Uioread(buf)
		if rerr != 0 {
			return total, rerr
		}
		resp, _, err := r.d.call(dfsReq{op: dfsOpWrite, handle: r.handle, length: uint32(n)}, buf[:n])
		if err != 0 {
			return total, err
		}
		wrote := int(resp.status)
		total += wrote
		if wrote < n {
			break
		}
	}
	return total, 0
}

func (r *RemoteFile_t) Close() defs.Err_t {
	_, _, err := r.d.call(dfsReq{op: dfsOpClose, handle: r.handle})
	return err
}

func (r *RemoteFile_t) Fstat(st *stat.Stat_t) defs.Err_t {
	_, data, err := r.d.call(dfsReq{op: dfsOpStat, handle: r.handle})
	if err != 0 {
		return err
	}
	raw := st.Bytes()
	if len(data) < len(raw) {
		return -defs.EINVAL
	}
	copy(raw, data[:len(raw)])
	return 0
}

func (r *RemoteFile_t) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }

func (r *RemoteFile_t) Pathi() defs.Inum_t { return 0 }

func (r *RemoteFile_t) Fullpath() (ustr.Ustr, defs.Err_t) { return nil, -defs.EINVAL }

func (r *RemoteFile_t) Reopen() defs.Err_t { return 0 }

func (r *RemoteFile_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (r *RemoteFile_t) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (r *RemoteFile_t) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}

func (r *RemoteFile_t) Mmapi(off, pages int, shared bool) ([]mem.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (r *RemoteFile_t) Unpin(mem.Pa_t) {}

func (r *RemoteFile_t) Poll(pm fdops.Pollmsg_t) (int, defs.Err_t) {
	return pm.Events & (fdops.POLLIN | fdops.POLLOUT), 0
}
func (r *RemoteFile_t) Fcntl(cmd, opt int) int { return 0 }

func (r *RemoteFile_t) Accept(fdops.Userio_i) (fdops.Fdops_i, defs.Sainfo_t, defs.Err_t) {
	return nil, defs.Sainfo_t{}, -defs.ENOTCONN
}
func (r *RemoteFile_t) Bind(fdops.Sabind_t) defs.Err_t   { return -defs.ENOTCONN }
func (r *RemoteFile_t) Connect(defs.Sainfo_t) defs.Err_t { return -defs.ENOTCONN }
func (r *RemoteFile_t) Listen(int) (fdops.Fdops_i, defs.Err_t) {
	return nil, -defs.ENOTCONN
}
func (r *RemoteFile_t) Sendmsg(fdops.Userio_i, defs.Sainfo_t, []uint8, int) (int, defs.Err_t) {
	return 0, -defs.ENOTCONN
}
func (r *RemoteFile_t) Recvmsg(fdops.Userio_i, fdops.Userio_i, fdops.Userio_i, int) (int, int, int, defs.Sainfo_t, defs.Err_t) {
	return 0, 0, 0, defs.Sainfo_t{}, -defs.ENOTCONN
}
func (r *RemoteFile_t) Getsockopt(int, fdops.Userio_i, int) (int, defs.Err_t) { return 0, -defs.ENOTCONN }
func (r *RemoteFile_t) Setsockopt(int, int, fdops.Userio_i, int) defs.Err_t   { return -defs.ENOTCONN }
func (r *RemoteFile_t) Shutdown(read, write bool) defs.Err_t                 { return -defs.ENOTCONN }
