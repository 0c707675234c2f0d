package fs

import (
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/ustr"
)

// dirlookup scans dp (which must be a directory, already Ilock'd by
// the caller) for name, returning the matching inode (unlocked, ref
// held) and the byte offset of its directory entry.
func (fs *Fs_t) dirlookup(dp *Inode_t, name ustr.Ustr) (*Inode_t, int, defs.Err_t) {
	if dp.Type != I_DIR {
		return nil, 0, -defs.ENOTDIR
	}
	buf := make([]byte, BSIZE)
	for off := 0; off < dp.Size; off += BSIZE {
		n, err := dp.Readi(buf, off)
		if err != 0 {
			return nil, 0, err
		}
		dd := Dirdata_t{Data: buf[:n]}
		for i := 0; i < NDIRENTS && i*direntsz < n; i++ {
			fn := dd.Filename(i)
			if fn == nil {
				continue
			}
			if ustr.Ustr(fn).Eq(name) {
				inum := dd.Inum(i)
				return fs.ic.Iget(fs, fs.dev, inum), off + i*direntsz, 0
			}
		}
	}
	return nil, 0, -defs.ENOENT
}

// dirlink adds a (name, inum) entry to directory dp, reusing the first
// unused slot if one exists and otherwise appending a new block-sized
// chunk. dp must already be locked by the caller and the call must run
// inside a transaction.
func (fs *Fs_t) dirlink(dp *Inode_t, name ustr.Ustr, inum int) defs.Err_t {
	if existing, _, err := fs.dirlookup(dp, name); err == 0 {
		existing.Iput()
		return -defs.EEXIST
	}
	if len(name) > DIRSIZ {
		return -defs.ENAMETOOLONG
	}

	buf := make([]byte, BSIZE)
	off := 0
	for ; off < dp.Size; off += BSIZE {
		n, err := dp.Readi(buf, off)
		if err != 0 {
			return err
		}
		dd := Dirdata_t{Data: buf[:n]}
		found := false
		for i := 0; i < NDIRENTS && i*direntsz < n; i++ {
			if dd.Inum(i) == 0 {
				dd.SetEntry(i, inum, name)
				if _, err := dp.Writei(buf[:n], off); err != 0 {
					return err
				}
				found = true
				break
			}
		}
		if found {
			return 0
		}
	}

	nb := make([]byte, direntsz)
	Dirdata_t{Data: nb}.SetEntry(0, inum, name)
	_, err := dp.Writei(nb, off)
	return err
}

// dirunlink clears the entry at the given byte offset (found via
// dirlookup), decrementing nothing itself — callers adjust link counts
// and free the inode separately.
func (fs *Fs_t) dirunlink(dp *Inode_t, off int) defs.Err_t {
	nb := make([]byte, direntsz)
	_, err := dp.Writei(nb, off)
	return err
}

// dirEmpty reports whether directory dp (besides "." and "..") has no
// entries, required before Fs_unlink will remove a directory.
func (fs *Fs_t) dirEmpty(dp *Inode_t) bool {
	buf := make([]byte, BSIZE)
	for off := 0; off < dp.Size; off += BSIZE {
		n, err := dp.Readi(buf, off)
		if err != 0 {
			return false
		}
		dd := Dirdata_t{Data: buf[:n]}
		for i := 0; i < NDIRENTS && i*direntsz < n; i++ {
			fn := dd.Filename(i)
			if fn == nil {
				continue
			}
			if !ustr.Ustr(fn).Isdot() && !ustr.Ustr(fn).Isdotdot() {
				return false
			}
		}
	}
	return true
}

// ialloc scans the inode table for an unused slot and returns a
// locked, zeroed inode of the given type.
func (fs *Fs_t) ialloc(itype int) (*Inode_t, defs.Err_t) {
	for inum := 1; inum < fs.sb.Inodelen()*IPB; inum++ {
		blk := fs.sb.Inodeblock() + inum/IPB
		b := fs.bc.Get(blk, "inode", false)
		d := diAt(b.Data[:], inum)
		if d.Type() == I_UNUSED {
			d.SetType(itype)
			d.SetNlink(0)
			d.SetSize(0)
			fs.log.Log_write(b)
			b.Done("inode")
			ip := fs.ic.Iget(fs, fs.dev, inum)
			ip.Ilock()
			return ip, 0
		}
		b.Done("inode")
	}
	return nil, -defs.ENOSPC
}
