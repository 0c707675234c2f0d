// Package fs implements the on-disk filesystem: a fixed-size block
// cache, a single global journal giving crash-consistent metadata
// updates, an inode cache, and the directory namespace built on top of
// them. Grounded on the teacher's fs/blk.go and fs/super.go; the
// journal FSM, inode/directory layout, and Fs_t glue are new
// construction sized to spec.md §4.8's on-disk layout (boot | super |
// log | inode table | free-bitmap | data) since the teacher's own
// fs.go never survived retrieval.
package fs

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/talus-os/talus/internal/mem"
)

// BSIZE is the size of a disk block in bytes.
const BSIZE = mem.PGSIZE

// Blockmem_i abstracts page allocation for block buffers.
type Blockmem_i interface {
	Alloc() (mem.Pa_t, *mem.Bytepg_t, bool)
	Free(mem.Pa_t)
	Refup(mem.Pa_t)
}

// Block_cb_i is implemented by callers wanting release callbacks.
type Block_cb_i interface {
	Relse(*Bdev_block_t, string)
}

// blktype_t enumerates the types of blocks stored on disk.
type blktype_t int

const (
	DataBlk   blktype_t = 0
	CommitBlk blktype_t = -1
	RevokeBlk blktype_t = -2
)

// Bdev_block_t represents a cached disk block.
type Bdev_block_t struct {
	sync.Mutex
	Block      int
	Type       blktype_t
	_try_evict bool
	Pa         mem.Pa_t
	Data       *mem.Bytepg_t
	Ref        int
	Name       string
	Mem        Blockmem_i
	Disk       Disk_i
	Cb         Block_cb_i
}

// Bdevcmd_t enumerates disk request types.
type Bdevcmd_t uint

const (
	BDEV_WRITE Bdevcmd_t = 1
	BDEV_READ  Bdevcmd_t = 2
	BDEV_FLUSH Bdevcmd_t = 3
)

// BlkList_t wraps a list.List of block pointers.
type BlkList_t struct {
	l *list.List
	e *list.Element
}

// MkBlkList creates an empty block list.
func MkBlkList() *BlkList_t {
	bl := &BlkList_t{}
	bl.l = list.New()
	return bl
}

// Len returns the number of blocks in the list.
func (bl *BlkList_t) Len() int { return bl.l.Len() }

// PushBack appends a block to the list.
func (bl *BlkList_t) PushBack(b *Bdev_block_t) { bl.l.PushBack(b) }

// FrontBlock resets the iterator and returns the first block.
func (bl *BlkList_t) FrontBlock() *Bdev_block_t {
	if bl.l.Front() == nil {
		return nil
	}
	bl.e = bl.l.Front()
	return bl.e.Value.(*Bdev_block_t)
}

// NextBlock advances the iterator and returns the next block.
func (bl *BlkList_t) NextBlock() *Bdev_block_t {
	if bl.e == nil {
		return nil
	}
	bl.e = bl.e.Next()
	if bl.e == nil {
		return nil
	}
	return bl.e.Value.(*Bdev_block_t)
}

// Apply calls f for each block in the list.
func (bl *BlkList_t) Apply(f func(*Bdev_block_t)) {
	for b := bl.FrontBlock(); b != nil; b = bl.NextBlock() {
		f(b)
	}
}

// Bdev_req_t describes a block device request.
type Bdev_req_t struct {
	Cmd   Bdevcmd_t
	Blks  *BlkList_t
	AckCh chan bool
	Sync  bool
}

// MkRequest allocates a new block request structure.
func MkRequest(blks *BlkList_t, cmd Bdevcmd_t, sync bool) *Bdev_req_t {
	return &Bdev_req_t{Blks: blks, Cmd: cmd, Sync: sync, AckCh: make(chan bool)}
}

// Disk_i represents the block device backing the filesystem.
type Disk_i interface {
	Start(*Bdev_req_t) bool
	Stats() string
}

// Key returns the lookup key for the block cache.
func (blk *Bdev_block_t) Key() int { return blk.Block }

// Tryevict marks the block for eviction on release.
func (blk *Bdev_block_t) Tryevict() { blk._try_evict = true }

// Evictnow reports whether the block should be evicted.
func (blk *Bdev_block_t) Evictnow() bool { return blk._try_evict }

// Done releases a reference via the callback.
func (blk *Bdev_block_t) Done(s string) {
	if blk.Cb == nil {
		panic("no release callback registered")
	}
	blk.Cb.Relse(blk, s)
}

// Write synchronously writes the block to disk.
func (b *Bdev_block_t) Write() {
	l := MkBlkList()
	l.PushBack(b)
	req := MkRequest(l, BDEV_WRITE, true)
	if b.Disk.Start(req) {
		<-req.AckCh
	}
}

// Write_async writes the block to disk without waiting for completion.
func (b *Bdev_block_t) Write_async() {
	l := MkBlkList()
	l.PushBack(b)
	req := MkRequest(l, BDEV_WRITE, false)
	b.Disk.Start(req)
}

// Read reads the block from disk synchronously.
func (b *Bdev_block_t) Read() {
	l := MkBlkList()
	l.PushBack(b)
	req := MkRequest(l, BDEV_READ, true)
	if b.Disk.Start(req) {
		<-req.AckCh
	}
}

// New_page allocates backing memory for the block.
func (blk *Bdev_block_t) New_page() {
	pa, d, ok := blk.Mem.Alloc()
	if !ok {
		panic("oom allocating a block buffer")
	}
	blk.Pa = pa
	blk.Data = d
}

// MkBlock constructs a block without allocating memory.
func MkBlock(block int, s string, m Blockmem_i, d Disk_i, cb Block_cb_i) *Bdev_block_t {
	b := &Bdev_block_t{Block: block, Name: s, Mem: m, Disk: d, Cb: cb}
	return b
}

// Free_page releases the page backing the block.
func (blk *Bdev_block_t) Free_page() {
	blk.Mem.Free(blk.Pa)
}

// blockmem_t adapts internal/mem's physical allocator to Blockmem_i.
type blockmem_t struct{}

func (blockmem_t) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	pg, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		return 0, nil, false
	}
	return pa, mem.Pg2bytes(pg), true
}

func (blockmem_t) Free(pa mem.Pa_t) { mem.Physmem.Refdown(pa) }

func (blockmem_t) Refup(pa mem.Pa_t) { mem.Physmem.Refup(pa) }

var blockmem Blockmem_i = blockmem_t{}

// DefaultBlockmem is the Blockmem_i backed by internal/mem's physical
// allocator, exported for callers outside this package (cmd/mkfs, and
// any boot sequence wiring a Fs_t) that need to pass one to StartFS.
func DefaultBlockmem() Blockmem_i { return blockmem }

var bdev_debug = false

func bdev_debugf(format string, args ...any) {
	if bdev_debug {
		fmt.Printf(format, args...)
	}
}
