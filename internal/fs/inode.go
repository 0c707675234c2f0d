package fs

import (
	"sync"
	"time"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/hashtable"
)

// Inode_t is the in-core, cached view of one on-disk inode: spec.md
// §3's "on-disk inodes carry type, major/minor, link count, size,
// direct and two indirect block numbers, and atime/mtime/ctime."
// Grounded on spec.md §4.8/§6 directly (the teacher's own inode cache
// never survived retrieval); locked with its own Mutex, used as the
// per-inode sleep lock spec.md §5 calls for.
type Inode_t struct {
	sync.Mutex
	fs    *Fs_t
	Dev   int
	Inum  int
	refs  int
	valid bool

	Type         int
	Major, Minor int
	Nlink        int
	Size         int
	Addrs        [NDIRECT + 2]int
	Atime        int64
	Mtime        int64
	Ctime        int64
}

// Icache_t interns inodes by (dev, inum) under one spin lock, exactly
// as spec.md §3 describes, so two callers referencing the same inode
// see the same in-core object and serialize on its sleep lock.
type Icache_t struct {
	mu    sync.Mutex
	table *hashtable.Hashtable_t
}

// NewIcache allocates an empty inode cache.
func NewIcache() *Icache_t {
	return &Icache_t{table: hashtable.MkHash(256)}
}

// Iget returns the cached (or newly allocated, not-yet-loaded) inode
// for (dev, inum), bumping its reference count.
func (ic *Icache_t) Iget(fs *Fs_t, dev, inum int) *Inode_t {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	key := hashtable.Devino_t{Dev: dev, Inum: inum}
	if v, ok := ic.table.Get(key); ok {
		ip := v.(*Inode_t)
		ip.refs++
		return ip
	}
	ip := &Inode_t{fs: fs, Dev: dev, Inum: inum, refs: 1}
	ic.table.Set(key, ip)
	return ip
}

// Put drops a reference, evicting the in-core copy from the cache once
// it is both unreferenced and (if the inode is itself unlinked)
// truncated and freed on disk.
func (ic *Icache_t) put(ip *Inode_t) {
	ip.Lock()
	ip.refs--
	if ip.refs == 0 && ip.valid && ip.Nlink == 0 {
		ip.truncateLocked()
		ip.Type = I_UNUSED
		ip.writebackLocked()
		ip.valid = false
		ic.mu.Lock()
		ic.table.Del(hashtable.Devino_t{Dev: ip.Dev, Inum: ip.Inum})
		ic.mu.Unlock()
	}
	ip.Unlock()
}

// Evict drops every cache entry with no outstanding reference, used by
// Fs_evict.
func (ic *Icache_t) Evict() {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	for _, pair := range ic.table.Elems() {
		ip := pair.Value.(*Inode_t)
		ip.Lock()
		if ip.refs == 0 {
			ic.table.Del(pair.Key)
		}
		ip.Unlock()
	}
}

// Size reports how many inodes are currently cached.
func (ic *Icache_t) Size() int {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return ic.table.Size()
}

// Ilock loads ip's fields from disk on first lock, matching
// fs_t.ILock in the teacher's idiom of lazily-populated cache
// entries.
func (ip *Inode_t) Ilock() {
	ip.Lock()
	if ip.valid {
		return
	}
	blk := ip.fs.sb.Inodeblock() + ip.Inum/IPB
	b := ip.fs.bc.Get(blk, "inode", false)
	d := diAt(b.Data[:], ip.Inum)
	ip.Type = d.Type()
	ip.Major = d.Major()
	ip.Minor = d.Minor()
	ip.Nlink = d.Nlink()
	ip.Size = d.Size()
	for i := 0; i < NDIRECT+2; i++ {
		ip.Addrs[i] = d.Addr(i)
	}
	ip.Atime = d.Atime()
	ip.Mtime = d.Mtime()
	ip.Ctime = d.Ctime()
	b.Done("inode")
	ip.valid = true
}

// Iunlock releases the inode's sleep lock without writing it back;
// callers that changed fields must call writebackLocked first (Iupdate
// takes the lock itself and is for callers that do not hold it).
func (ip *Inode_t) Iunlock() { ip.Unlock() }

// Iput drops a reference to ip via its owning cache.
func (ip *Inode_t) Iput() { ip.fs.ic.put(ip) }

// Iupdate writes ip's in-core fields back to its on-disk record,
// inside the caller's active transaction.
func (ip *Inode_t) Iupdate() {
	ip.Lock()
	ip.writebackLocked()
	ip.Unlock()
}

func (ip *Inode_t) writebackLocked() {
	blk := ip.fs.sb.Inodeblock() + ip.Inum/IPB
	b := ip.fs.bc.Get(blk, "inode", false)
	d := diAt(b.Data[:], ip.Inum)
	d.SetType(ip.Type)
	d.SetMajor(ip.Major)
	d.SetMinor(ip.Minor)
	d.SetNlink(ip.Nlink)
	d.SetSize(ip.Size)
	for i := 0; i < NDIRECT+2; i++ {
		d.SetAddr(i, ip.Addrs[i])
	}
	d.SetAtime(ip.Atime)
	d.SetMtime(ip.Mtime)
	d.SetCtime(ip.Ctime)
	ip.fs.log.Log_write(b)
	b.Done("inode")
}

// now stamps a nanosecond timestamp on inode metadata. The kernel has
// no wall clock device modeled; monotonic host time is good enough for
// atime/mtime/ctime ordering, which is all spec.md's invariants need.
func now() int64 { return time.Now().UnixNano() }

// bmap returns the disk block number holding the bn'th block of ip's
// data, allocating it (and any indirect blocks on the path to it) if
// alloc is true and the slot is unset.
func (ip *Inode_t) bmap(bn int, alloc bool) (int, defs.Err_t) {
	switch {
	case bn < NDIRECT:
		if ip.Addrs[bn] == 0 {
			if !alloc {
				return 0, -defs.EINVAL
			}
			blk, err := ip.fs.balloc()
			if err != 0 {
				return 0, err
			}
			ip.Addrs[bn] = blk
		}
		return ip.Addrs[bn], 0
	case bn < NDIRECT+NINDIRECT:
		return ip.bmapIndirect(NDIRECT, bn-NDIRECT, alloc)
	case bn < NDIRECT+NINDIRECT+NDINDIRECT:
		return ip.bmapDindirect(bn-NDIRECT-NINDIRECT, alloc)
	default:
		return 0, -defs.EINVAL
	}
}

func (ip *Inode_t) bmapIndirect(slot, idx int, alloc bool) (int, defs.Err_t) {
	indBlk := ip.Addrs[slot]
	if indBlk == 0 {
		if !alloc {
			return 0, -defs.EINVAL
		}
		blk, err := ip.fs.balloc()
		if err != 0 {
			return 0, err
		}
		indBlk = blk
		ip.Addrs[slot] = indBlk
		ib := ip.fs.bc.Get(indBlk, "indirect", true)
		ip.fs.log.Log_write(ib)
		ib.Done("indirect")
	}
	ib := ip.fs.bc.Get(indBlk, "indirect", false)
	off := idx * 4
	var be [4]byte
	copy(be[:], ib.Data[off:off+4])
	v := int(be[0]) | int(be[1])<<8 | int(be[2])<<16 | int(be[3])<<24
	if v == 0 {
		if !alloc {
			ib.Done("indirect")
			return 0, -defs.EINVAL
		}
		blk, err := ip.fs.balloc()
		if err != 0 {
			ib.Done("indirect")
			return 0, err
		}
		v = blk
		ib.Data[off] = byte(v)
		ib.Data[off+1] = byte(v >> 8)
		ib.Data[off+2] = byte(v >> 16)
		ib.Data[off+3] = byte(v >> 24)
		ip.fs.log.Log_write(ib)
	}
	ib.Done("indirect")
	return v, 0
}

func (ip *Inode_t) bmapDindirect(idx int, alloc bool) (int, defs.Err_t) {
	const perBlock = BSIZE / 4
	outer := idx / perBlock
	inner := idx % perBlock

	dBlk := ip.Addrs[NDIRECT+1]
	if dBlk == 0 {
		if !alloc {
			return 0, -defs.EINVAL
		}
		blk, err := ip.fs.balloc()
		if err != 0 {
			return 0, err
		}
		dBlk = blk
		ip.Addrs[NDIRECT+1] = dBlk
		db := ip.fs.bc.Get(dBlk, "dindirect", true)
		ip.fs.log.Log_write(db)
		db.Done("dindirect")
	}

	db := ip.fs.bc.Get(dBlk, "dindirect", false)
	off := outer * 4
	readU32 := func(b []byte, o int) int {
		return int(b[o]) | int(b[o+1])<<8 | int(b[o+2])<<16 | int(b[o+3])<<24
	}
	writeU32 := func(b []byte, o, v int) {
		b[o] = byte(v)
		b[o+1] = byte(v >> 8)
		b[o+2] = byte(v >> 16)
		b[o+3] = byte(v >> 24)
	}
	indBlk := readU32(db.Data[:], off)
	if indBlk == 0 {
		if !alloc {
			db.Done("dindirect")
			return 0, -defs.EINVAL
		}
		blk, err := ip.fs.balloc()
		if err != 0 {
			db.Done("dindirect")
			return 0, err
		}
		indBlk = blk
		writeU32(db.Data[:], off, indBlk)
		ip.fs.log.Log_write(db)
		ib := ip.fs.bc.Get(indBlk, "indirect", true)
		ip.fs.log.Log_write(ib)
		ib.Done("indirect")
	}
	db.Done("dindirect")

	ib := ip.fs.bc.Get(indBlk, "indirect", false)
	ioff := inner * 4
	v := readU32(ib.Data[:], ioff)
	if v == 0 {
		if !alloc {
			ib.Done("indirect")
			return 0, -defs.EINVAL
		}
		blk, err := ip.fs.balloc()
		if err != 0 {
			ib.Done("indirect")
			return 0, err
		}
		v = blk
		writeU32(ib.Data[:], ioff, v)
		ip.fs.log.Log_write(ib)
	}
	ib.Done("indirect")
	return v, 0
}

// Readi reads up to len(dst) bytes starting at off into dst, returning
// the number of bytes actually read.
func (ip *Inode_t) Readi(dst []byte, off int) (int, defs.Err_t) {
	if off >= ip.Size {
		return 0, 0
	}
	n := len(dst)
	if off+n > ip.Size {
		n = ip.Size - off
		dst = dst[:n]
	}
	got := 0
	for got < n {
		bn := (off + got) / BSIZE
		boff := (off + got) % BSIZE
		blk, err := ip.bmap(bn, false)
		if err != 0 {
			return got, err
		}
		b := ip.fs.bc.Get(blk, "data", false)
		c := copy(dst[got:], b.Data[boff:])
		b.Done("data")
		got += c
	}
	return got, 0
}

// Writei writes src to ip starting at off, growing ip.Size (and
// allocating blocks) as needed, inside the caller's transaction.
func (ip *Inode_t) Writei(src []byte, off int) (int, defs.Err_t) {
	if off+len(src) > MAXFILEBLK*BSIZE {
		return 0, -defs.EINVAL
	}
	wrote := 0
	for wrote < len(src) {
		bn := (off + wrote) / BSIZE
		boff := (off + wrote) % BSIZE
		blk, err := ip.bmap(bn, true)
		if err != 0 {
			return wrote, err
		}
		b := ip.fs.bc.Get(blk, "data", false)
		c := copy(b.Data[boff:], src[wrote:])
		ip.fs.log.Log_write(b)
		b.Done("data")
		wrote += c
	}
	if off+wrote > ip.Size {
		ip.Size = off + wrote
	}
	ip.Mtime = now()
	ip.writebackLocked()
	return wrote, 0
}

// truncateLocked frees every data block reachable from ip and resets
// its size to zero. ip.Mutex must already be held.
func (ip *Inode_t) truncateLocked() {
	for i := 0; i < NDIRECT; i++ {
		if ip.Addrs[i] != 0 {
			ip.fs.bfree(ip.Addrs[i])
			ip.Addrs[i] = 0
		}
	}
	if ip.Addrs[NDIRECT] != 0 {
		ib := ip.fs.bc.Get(ip.Addrs[NDIRECT], "indirect", false)
		for i := 0; i < NINDIRECT; i++ {
			off := i * 4
			v := int(ib.Data[off]) | int(ib.Data[off+1])<<8 | int(ib.Data[off+2])<<16 | int(ib.Data[off+3])<<24
			if v != 0 {
				ip.fs.bfree(v)
			}
		}
		ib.Done("indirect")
		ip.fs.bfree(ip.Addrs[NDIRECT])
		ip.Addrs[NDIRECT] = 0
	}
	if ip.Addrs[NDIRECT+1] != 0 {
		db := ip.fs.bc.Get(ip.Addrs[NDIRECT+1], "dindirect", false)
		const perBlock = BSIZE / 4
		for i := 0; i < perBlock; i++ {
			off := i * 4
			indBlk := int(db.Data[off]) | int(db.Data[off+1])<<8 | int(db.Data[off+2])<<16 | int(db.Data[off+3])<<24
			if indBlk == 0 {
				continue
			}
			ib := ip.fs.bc.Get(indBlk, "indirect", false)
			for j := 0; j < perBlock; j++ {
				joff := j * 4
				v := int(ib.Data[joff]) | int(ib.Data[joff+1])<<8 | int(ib.Data[joff+2])<<16 | int(ib.Data[joff+3])<<24
				if v != 0 {
					ip.fs.bfree(v)
				}
			}
			ib.Done("indirect")
			ip.fs.bfree(indBlk)
		}
		db.Done("dindirect")
		ip.fs.bfree(ip.Addrs[NDIRECT+1])
		ip.Addrs[NDIRECT+1] = 0
	}
	ip.Size = 0
}

// Truncate is the external entry point used by O_TRUNC opens and
// ftruncate-style paths; the caller must have ip locked.
func (ip *Inode_t) Truncate() {
	ip.truncateLocked()
	ip.writebackLocked()
}
