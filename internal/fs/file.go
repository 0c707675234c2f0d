package fs

import (
	"sync"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/stat"
	"github.com/talus-os/talus/internal/ustr"
)

// POSIX-ish S_IF* bits packed into Stat_t.Wmode's high nibble, for
// readers that care about file type without a separate field.
const (
	sIFREG  = 0100000
	sIFDIR  = 0040000
	sIFCHR  = 0020000
	sIFLNK  = 0120000
	sIFSOCK = 0140000
)

// File_t is the regular-file/directory variant of spec.md §3's "File"
// tuple: a v-node reference (here, an inode) plus the per-open-file
// readable/writable/append bits. It implements fdops.Fdops_i so
// internal/fd's Fd_t never needs a type switch between this and the
// pipe/socket/device variants in internal/ipc and internal/net.
type File_t struct {
	fs       *Fs_t
	ip       *Inode_t
	off      int
	offMu    sync.Mutex
	readable bool
	writable bool
	append   bool
}

func fillStat(ip *Inode_t, dev int, st *stat.Stat_t) {
	mode := uint(0644)
	switch ip.Type {
	case I_DIR:
		mode |= sIFDIR
	case I_DEV:
		mode |= sIFCHR
	case I_SYMLINK:
		mode |= sIFLNK
	case I_SOCKET:
		mode |= sIFSOCK
	default:
		mode |= sIFREG
	}
	st.Wdev(uint(dev))
	st.Wino(uint(ip.Inum))
	st.Wmode(mode)
	st.Wsize(uint(ip.Size))
	st.Wrdev(defs.Mkdev(ip.Major, ip.Minor))
	st.Wblocks(uint((ip.Size + BSIZE - 1) / BSIZE))
	st.Wmtime(uint(ip.Mtime/1e9), uint(ip.Mtime%1e9))
}

// Read reads from the file's current offset, advancing it.
func (f *File_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if !f.readable {
		return 0, -defs.EPERM
	}
	f.offMu.Lock()
	defer f.offMu.Unlock()
	f.ip.Ilock()
	buf := make([]byte, dst.Remain())
	n, err := f.ip.Readi(buf, f.off)
	f.ip.Iunlock()
	if err != 0 {
		return 0, err
	}
	wrote, werr := dst.Uiowrite(buf[:n])
	f.off += wrote
	return wrote, werr
}

// Pread reads count bytes at a fixed offset without touching the
// file's own offset.
func (f *File_t) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	if !f.readable {
		return 0, -defs.EPERM
	}
	f.ip.Ilock()
	buf := make([]byte, dst.Remain())
	n, err := f.ip.Readi(buf, offset)
	f.ip.Iunlock()
	if err != 0 {
		return 0, err
	}
	return dst.Uiowrite(buf[:n])
}

// Write writes src at the file's current offset (or at its end, for
// O_APPEND descriptors), advancing the offset, inside one journal
// transaction per call.
func (f *File_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if !f.writable {
		return 0, -defs.EPERM
	}
	f.offMu.Lock()
	defer f.offMu.Unlock()
	buf := make([]byte, src.Remain())
	n, rerr := src.Uioread(buf)
	if rerr != 0 {
		return 0, rerr
	}
	f.fs.log.Begin_op()
	defer f.fs.log.End_op()
	f.ip.Ilock()
	off := f.off
	if f.append {
		off = f.ip.Size
	}
	wrote, werr := f.ip.Writei(buf[:n], off)
	f.ip.Iunlock()
	f.off = off + wrote
	return wrote, werr
}

// Pwrite writes src at a fixed offset without touching the file's own
// offset.
func (f *File_t) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	if !f.writable {
		return 0, -defs.EPERM
	}
	buf := make([]byte, src.Remain())
	n, rerr := src.Uioread(buf)
	if rerr != 0 {
		return 0, rerr
	}
	f.fs.log.Begin_op()
	defer f.fs.log.End_op()
	f.ip.Ilock()
	wrote, werr := f.ip.Writei(buf[:n], offset)
	f.ip.Iunlock()
	return wrote, werr
}

// Lseek repositions the file's offset.
func (f *File_t) Lseek(off, whence int) (int, defs.Err_t) {
	f.offMu.Lock()
	defer f.offMu.Unlock()
	switch whence {
	case defs.SEEK_SET:
		f.off = off
	case defs.SEEK_CUR:
		f.off += off
	case defs.SEEK_END:
		f.ip.Ilock()
		f.off = f.ip.Size + off
		f.ip.Iunlock()
	default:
		return 0, -defs.EINVAL
	}
	if f.off < 0 {
		f.off = 0
		return 0, -defs.EINVAL
	}
	return f.off, 0
}

// Fstat fills st from the backing inode.
func (f *File_t) Fstat(st *stat.Stat_t) defs.Err_t {
	f.ip.Ilock()
	fillStat(f.ip, f.fs.dev, st)
	f.ip.Iunlock()
	return 0
}

// Truncate implements ftruncate(2).
func (f *File_t) Truncate(newlen uint) defs.Err_t {
	if !f.writable {
		return -defs.EPERM
	}
	f.fs.log.Begin_op()
	defer f.fs.log.End_op()
	f.ip.Ilock()
	defer f.ip.Iunlock()
	if int(newlen) < f.ip.Size {
		f.ip.Truncate()
	}
	return 0
}

// Pathi returns the backing inode number.
func (f *File_t) Pathi() defs.Inum_t { return defs.Inum_t(f.ip.Inum) }

// Fullpath is unsupported for a plain open fd: the kernel does not
// maintain a reverse-mapping from inode to path (spec.md never asks
// for one outside /proc-style introspection internal/fd handles via
// Cwd_t.Path instead).
func (f *File_t) Fullpath() (ustr.Ustr, defs.Err_t) { return nil, -defs.EINVAL }

// Reopen bumps the inode's cache reference for a duplicated
// descriptor (dup/dup2/fork's fd-table copy).
func (f *File_t) Reopen() defs.Err_t {
	f.fs.ic.mu.Lock()
	f.ip.refs++
	f.fs.ic.mu.Unlock()
	return 0
}

// Close drops the descriptor's reference to the backing inode.
func (f *File_t) Close() defs.Err_t {
	f.ip.Iput()
	return 0
}

// Mmapi returns the physical pages backing [off, off+pages) of the
// file's data, for internal/vm's file-backed mmap fault path.
func (f *File_t) Mmapi(off, pages int, shared bool) ([]mem.Mmapinfo_t, defs.Err_t) {
	infos := make([]mem.Mmapinfo_t, 0, pages)
	f.ip.Ilock()
	defer f.ip.Iunlock()
	for i := 0; i < pages; i++ {
		blk, err := f.ip.bmap(off+i, f.writable)
		if err != 0 {
			return nil, err
		}
		b := f.fs.bc.Get(blk, "mmap", false)
		infos = append(infos, mem.Mmapinfo_t{Pg: mem.Bytepg2pg(b.Data), Phys: b.Pa})
		b.Done("mmap")
	}
	return infos, 0
}

// Unpin is a no-op for ordinary files: their pages are pinned by the
// block cache's own refcounting, not by DMA.
func (f *File_t) Unpin(mem.Pa_t) {}

// Poll on a regular file is always immediately ready.
func (f *File_t) Poll(pm fdops.Pollmsg_t) (int, defs.Err_t) {
	return pm.Events & (fdops.POLLIN | fdops.POLLOUT), 0
}

// Fcntl handles the small set of fcntl commands meaningful for a
// plain file (most of the interesting ones, like O_NONBLOCK, are
// handled by internal/fd's own Perms bitmask before reaching here).
func (f *File_t) Fcntl(cmd, opt int) int { return 0 }

// The following Fdops_i methods are meaningless for a regular
// file/directory descriptor; each returns ENOTCONN so a caller that
// reaches them through a bad type assertion gets a clear POSIX error
// instead of a panic.
func (f *File_t) Accept(fdops.Userio_i) (fdops.Fdops_i, defs.Sainfo_t, defs.Err_t) {
	return nil, defs.Sainfo_t{}, -defs.ENOTCONN
}
func (f *File_t) Bind(fdops.Sabind_t) defs.Err_t    { return -defs.ENOTCONN }
func (f *File_t) Connect(defs.Sainfo_t) defs.Err_t  { return -defs.ENOTCONN }
func (f *File_t) Listen(int) (fdops.Fdops_i, defs.Err_t) {
	return nil, -defs.ENOTCONN
}
func (f *File_t) Sendmsg(fdops.Userio_i, defs.Sainfo_t, []uint8, int) (int, defs.Err_t) {
	return 0, -defs.ENOTCONN
}
func (f *File_t) Recvmsg(fdops.Userio_i, fdops.Userio_i, fdops.Userio_i, int) (int, int, int, defs.Sainfo_t, defs.Err_t) {
	return 0, 0, 0, defs.Sainfo_t{}, -defs.ENOTCONN
}
func (f *File_t) Getsockopt(int, fdops.Userio_i, int) (int, defs.Err_t) { return 0, -defs.ENOTCONN }
func (f *File_t) Setsockopt(int, int, fdops.Userio_i, int) defs.Err_t   { return -defs.ENOTCONN }
func (f *File_t) Shutdown(read, write bool) defs.Err_t                  { return -defs.ENOTCONN }
