// Package shm implements shared-memory segments: a fixed-size table of
// named segments, each a list of physical pages already refcounted,
// attached into an address space via vm.Vm_t.ShmAttach and detached via
// ordinary Munmap. Grounded on the original kernel's ipc.rs
// (shm_create/shm_attach/shm_detach/shm_destroy).
package shm

import (
	"sync"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/vm"
)

// MaxSegPages bounds a single segment's size, matching the original
// kernel's SHM_MAX_PAGES.
const MaxSegPages = 64

// NSHM bounds the number of live segments system-wide.
const NSHM = 64

// Segment_t is a shared-memory segment: a fixed list of physical
// pages, each refcounted at 1 when the segment is created and bumped
// once per attach.
type Segment_t struct {
	mu    sync.Mutex
	size  int
	pages []mem.Pa_t
	dead  bool
}

// Size returns the segment's requested byte size (not rounded up to a
// page boundary).
func (s *Segment_t) Size() int { return s.size }

// PA returns the physical address backing page idx of the segment.
func (s *Segment_t) PA(idx int) (mem.Pa_t, defs.Err_t) {
	if idx < 0 || idx >= len(s.pages) {
		return 0, -defs.EINVAL
	}
	return s.pages[idx], 0
}

// free drops this segment's own reference to each page; if that was
// the last reference the page returns to the allocator.
func (s *Segment_t) free() {
	for _, pa := range s.pages {
		mem.Physmem.Refdown(pa)
	}
}

// Table_t is the system-wide shared-memory segment table.
type Table_t struct {
	mu   sync.Mutex
	segs [NSHM]*Segment_t
}

// Create allocates a new zero-filled segment of size bytes, installing
// it in the first free table slot and returning its 1-based id.
func (t *Table_t) Create(size int) (int, defs.Err_t) {
	if size <= 0 {
		return 0, -defs.EINVAL
	}
	npages := (size + mem.PGSIZE - 1) / mem.PGSIZE
	if npages == 0 || npages > MaxSegPages {
		return 0, -defs.EINVAL
	}
	seg := &Segment_t{size: size, pages: make([]mem.Pa_t, 0, npages)}
	for i := 0; i < npages; i++ {
		_, pa, ok := mem.Physmem.Refpg_new()
		if !ok {
			seg.free()
			return 0, -defs.ENOMEM
		}
		seg.pages = append(seg.pages, pa)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, slot := range t.segs {
		if slot == nil {
			t.segs[i] = seg
			return i + 1, 0
		}
	}
	seg.free()
	return 0, -defs.ENOBUFS
}

func (t *Table_t) get(id int) (*Segment_t, defs.Err_t) {
	if id < 1 || id > NSHM {
		return nil, -defs.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	seg := t.segs[id-1]
	if seg == nil {
		return nil, -defs.ENOENT
	}
	return seg, 0
}

// Attach maps segment id into as, returning the VA it was installed
// at. perms holds PTE bits; internal/trap's protToPte translates a
// syscall's PROT_* bitmask into them.
func (t *Table_t) Attach(as *vm.Vm_t, id int, perms mem.Pa_t) (int, defs.Err_t) {
	seg, err := t.get(id)
	if err != 0 {
		return 0, err
	}
	seg.mu.Lock()
	pages := append([]mem.Pa_t(nil), seg.pages...)
	seg.mu.Unlock()
	for _, pa := range pages {
		mem.Physmem.Refup(pa)
	}
	va, err := as.ShmAttach(pages, perms)
	if err != 0 {
		for _, pa := range pages {
			mem.Physmem.Refdown(pa)
		}
		return 0, err
	}
	return va, 0
}

// Detach unmaps the segment attached at addr; shared-memory detach is
// just munmap, per spec.md §4.3.
func Detach(as *vm.Vm_t, addr, length int) defs.Err_t {
	_, err := as.Munmap(addr, length)
	return err
}

// Destroy removes segment id from the table and drops the table's own
// reference to its pages; the underlying memory is freed once every
// attached address space has also detached (refcount reaches 0).
func (t *Table_t) Destroy(id int) defs.Err_t {
	if id < 1 || id > NSHM {
		return -defs.EINVAL
	}
	t.mu.Lock()
	seg := t.segs[id-1]
	t.segs[id-1] = nil
	t.mu.Unlock()
	if seg == nil {
		return -defs.ENOENT
	}
	seg.free()
	return 0
}
