package fs

import (
	"container/list"
	"sync"
)

// Bcache_t is a fixed-size LRU of (blockno) -> pinned Bdev_block_t, the
// block cache spec.md §4.8 calls for: a spin lock over the index (here
// a plain Mutex, since the kernel is hosted and index lookups never
// block) and per-buffer sleep locks (Bdev_block_t's own embedded
// Mutex) guarding content. Grounded on the teacher's fs/blk.go
// Bdev_block_t/BlkList_t types; the LRU table itself is new
// construction since blk.go never carried its own bget/brelse (those
// live in the untracked fs.go).
type Bcache_t struct {
	mu    sync.Mutex
	disk  Disk_i
	mem   Blockmem_i
	cap   int
	table map[int]*list.Element
	lru   *list.List // front = most recently used
}

// NewBcache allocates a cache holding up to cap blocks.
func NewBcache(disk Disk_i, mem Blockmem_i, cap int) *Bcache_t {
	return &Bcache_t{
		disk:  disk,
		mem:   mem,
		cap:   cap,
		table: make(map[int]*list.Element),
		lru:   list.New(),
	}
}

// Get returns the cached block, reading it from disk on a miss. The
// returned block is locked; callers must Relse it.
func (bc *Bcache_t) Get(blockno int, name string, zero bool) *Bdev_block_t {
	bc.mu.Lock()
	if e, ok := bc.table[blockno]; ok {
		b := e.Value.(*Bdev_block_t)
		b.Ref++
		bc.lru.MoveToFront(e)
		bc.mu.Unlock()
		b.Lock()
		return b
	}
	bc.evictLocked()
	b := MkBlock(blockno, name, bc.mem, bc.disk, bc)
	b.Ref = 1
	b.New_page()
	bc.table[blockno] = bc.lru.PushFront(b)
	bc.mu.Unlock()

	b.Lock()
	if zero {
		for i := range b.Data {
			b.Data[i] = 0
		}
	} else {
		b.Read()
	}
	return b
}

// evictLocked drops the least-recently-used unreferenced block, if the
// cache is at capacity. Called with bc.mu held.
func (bc *Bcache_t) evictLocked() {
	if len(bc.table) < bc.cap {
		return
	}
	for e := bc.lru.Back(); e != nil; e = e.Prev() {
		b := e.Value.(*Bdev_block_t)
		if b.Ref == 0 {
			delete(bc.table, b.Block)
			bc.lru.Remove(e)
			b.Free_page()
			return
		}
	}
	// Every cached block pinned: grow rather than fail outright,
	// mirroring the teacher's "OOM in the block cache is a bug, not a
	// user-visible error" stance for metadata paths.
}

// Relse implements Block_cb_i: unlocks b and drops the caller's
// reference, allowing eviction once the refcount reaches zero.
func (bc *Bcache_t) Relse(b *Bdev_block_t, reason string) {
	b.Unlock()
	bc.mu.Lock()
	b.Ref--
	bc.mu.Unlock()
}

// Sync writes back every dirty block unconditionally; used by
// Fs_sync/Fs_syncapply as a blunt-force flush outside of the journal's
// own install step (e.g. for the free-bitmap housekeeping paths that
// do not go through the log).
func (bc *Bcache_t) Sync() {
	bc.mu.Lock()
	blocks := make([]*Bdev_block_t, 0, len(bc.table))
	for _, e := range bc.table {
		blocks = append(blocks, e.Value.(*Bdev_block_t))
	}
	bc.mu.Unlock()
	for _, b := range blocks {
		b.Lock()
		b.Write()
		b.Unlock()
	}
}

// Len reports how many blocks are currently cached.
func (bc *Bcache_t) Len() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.table)
}
