// Package mem implements the kernel's physical page allocator: a
// reference-counted free list of 4K pages, sharded per simulated CPU
// to avoid a global lock on the allocation fast path, with a
// page-table page (Pmap_t) free list kept separately from the general
// page free list.
//
// The teacher runs on bare-metal x86_64 under a patched Go runtime
// that hands out physical addresses (runtime.Get_phys) and direct-maps
// all of physical memory into a reserved slot of the kernel's own
// address space. This kernel runs hosted, as an ordinary Go program
// simulating a RISC-V Sv39 machine, so "physical memory" is a single
// backing arena allocated once at boot; Dmap indexes directly into it
// instead of walking a recursive mapping. The free-list, refcounting
// and per-CPU sharding logic is kept as-is.
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/oom"
	"github.com/talus-os/talus/internal/res"
	"github.com/talus-os/talus/internal/util"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

// Sv39 PTE bit layout (riscv-privileged, table 4.4).
const (
	PTE_V Pa_t = 1 << 0 // valid
	PTE_R Pa_t = 1 << 1 // readable
	PTE_W Pa_t = 1 << 2 // writable
	PTE_X Pa_t = 1 << 3 // executable
	PTE_U Pa_t = 1 << 4 // user accessible
	PTE_G Pa_t = 1 << 5 // global
	PTE_A Pa_t = 1 << 6 // accessed
	PTE_D Pa_t = 1 << 7 // dirty
)

// PTE_PPN_SHIFT is the bit offset of the physical page number field.
const PTE_PPN_SHIFT = 10

// PTE_ADDR extracts the physical page number field of a PTE, still
// shifted left by PTE_PPN_SHIFT (i.e. in PTE units, not byte units).
const PTE_ADDR Pa_t = 0x3ffffffffffc00

// Pa_t represents a physical address (or, for a PTE, its encoded
// contents).
type Pa_t uintptr

// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

// Pg_t is a generic page of machine words.
type Pg_t [PGSIZE / 8]uint64

// Pmap_t is one level of a three-level Sv39 page table: 512 8-byte
// PTEs.
type Pmap_t [512]Pa_t

// Unpin_i allows unpinning of physical pages pinned for DMA.
type Unpin_i interface {
	Unpin(Pa_t)
}

// Mmapinfo_t describes one page of a mapping created by Fdops_i.Mmapi:
// the kernel's own view of the page and its physical address, so the
// vm package can install the mapping without a second lookup.
type Mmapinfo_t struct {
	Pg   *Pg_t
	Phys Pa_t
}

// Page_i abstracts physical page allocation so higher layers (vm, fs)
// do not depend on the global allocator directly, easing testing.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

// Pg2bytes reinterprets a page of words as a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

// Bytepg2pg reinterprets a page of bytes as a page of words.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

func _pg2pgn(p Pa_t) uint32 {
	return uint32(p >> PGSHIFT)
}

// Refaddr returns the refcount pointer and slab index for the given
// page.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	idx := _pg2pgn(p_pg) - phys.startn
	return &phys.Pgs[idx].Refcnt, idx
}

// Physpg_t describes a single physical page.
type Physpg_t struct {
	Refcnt int32
	// index into Pgs of next page on the free list it belongs to
	nexti uint32
}

type pcpuphys_t struct {
	sync.Mutex
	freei   uint32
	freelen int32
	pmaps   uint32
	pmaplen int32
}

func (pc *pcpuphys_t) percpu_init() {
	pc.freei = ^uint32(0)
	pc.pmaps = ^uint32(0)
	pc.freelen, pc.pmaplen = 0, 0
}

// Physmem_t manages all physical memory for the system: a slab of
// Physpg_t metadata and a backing byte arena the slab's indices
// address into.
type Physmem_t struct {
	Pgs    []Physpg_t
	arena  []byte
	startn uint32
	// index into Pgs of first free general-purpose page
	freei   uint32
	freelen int32
	// index into Pgs of first free page-table page
	pmaps   uint32
	pmaplen int32
	sync.Mutex
	Dmapinit bool
	percpu   []pcpuphys_t
}

func cpuhint() int {
	n := atomic.AddUint32(&cpurr, 1)
	return int(n) % len(Physmem.percpu)
}

var cpurr uint32

// returns true iff the page was added to the per-CPU free list
func (phys *Physmem_t) _pcpu_put(idx uint32, ispmap bool) bool {
	mine := &phys.percpu[cpuhint()]
	var fl *uint32
	var cnt *int32
	if ispmap {
		if mine.pmaplen >= 20 {
			return false
		}
		fl = &mine.pmaps
		cnt = &mine.pmaplen
	} else {
		if mine.freelen >= 100 {
			return false
		}
		fl = &mine.freei
		cnt = &mine.freelen
	}
	phys._phys_insert(fl, idx, mine, cnt)
	return true
}

func (phys *Physmem_t) _pcpu_new(ispmap bool) (*Pg_t, Pa_t, bool) {
	mine := &phys.percpu[cpuhint()]
	fl := &mine.freei
	cnt := &mine.freelen
	if ispmap {
		fl = &mine.pmaps
		cnt = &mine.pmaplen
	}
	return phys._phys_new(fl, mine, cnt)
}

func (phys *Physmem_t) _refpg_new() (*Pg_t, Pa_t, bool) {
	if pg, p_pg, ok := phys._pcpu_new(false); ok {
		return pg, p_pg, ok
	}
	return phys._phys_new(&phys.freei, phys, &phys.freelen)
}

// Refcnt returns the current reference count of a page.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	return int(atomic.LoadInt32(ref))
}

// Refup increments the reference count of a page.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, 1)
	if c <= 0 {
		panic("wut")
	}
}

func (phys *Physmem_t) _refdec(p_pg Pa_t) (bool, uint32) {
	ref, idx := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < 0 {
		panic("wut")
	}
	return c == 0, idx
}

// Refdown decrements the reference count of a page. It returns true
// when the page was freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	return phys._phys_put(p_pg, false)
}

// Zeropg is a global zero-filled page used to initialize fresh
// allocations.
var Zeropg *Pg_t

// P_zeropg is the physical address of Zeropg.
var P_zeropg Pa_t

// Refpg_new allocates a zeroed page. The returned page's refcount is
// not incremented; the caller owns the sole reference.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	if !phys.Dmapinit {
		panic("refpg_new before init")
	}
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		return nil, 0, false
	}
	*pg = *Zeropg
	return pg, p_pg, true
}

// Refpg_new_nozero allocates an uninitialized page.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys._refpg_new()
}

// Refpg_new_wait allocates a zeroed page, waiting on the OOM channel
// and retrying once if none are currently free.
func (phys *Physmem_t) Refpg_new_wait() (*Pg_t, Pa_t, bool) {
	pg, pa, ok := phys.Refpg_new()
	if ok {
		return pg, pa, ok
	}
	resume := make(chan bool)
	oom.Ch <- oom.Msg_t{Need: 1, Resume: resume}
	<-resume
	return phys.Refpg_new()
}

// Pmap_new allocates a new page table page.
func (phys *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	a, b, ok := phys._pcpu_new(true)
	if !ok {
		a, b, ok = phys._phys_new(&phys.pmaps, phys, &phys.pmaplen)
	}
	if !ok {
		a, b, ok = phys.Refpg_new()
	}
	if !ok {
		return nil, 0, false
	}
	return pg2pmap(a), b, true
}

func (phys *Physmem_t) _phys_new(fl *uint32, lock sync.Locker, cnt *int32) (*Pg_t, Pa_t, bool) {
	if !phys.Dmapinit {
		panic("dmap not initialized")
	}

	var p_pg Pa_t
	var ok bool
	lock.Lock()
	ff := *fl
	if ff != ^uint32(0) {
		p_pg = Pa_t(ff+phys.startn) << PGSHIFT
		*fl = phys.Pgs[ff].nexti
		ok = true
		if phys.Pgs[ff].Refcnt < 0 {
			panic("negative ref count")
		}
		*cnt--
		if *cnt < 0 {
			panic("no")
		}
	}
	lock.Unlock()
	if ok {
		return phys.Dmap(p_pg), p_pg, true
	}
	return nil, 0, false
}

func (phys *Physmem_t) _phys_insert(fl *uint32, idx uint32, lock sync.Locker, cnt *int32) {
	lock.Lock()
	phys.Pgs[idx].nexti = *fl
	*fl = idx
	*cnt++
	if *cnt < 0 {
		panic("no")
	}
	lock.Unlock()
}

func (phys *Physmem_t) _phys_put(p_pg Pa_t, ispmap bool) bool {
	if add, idx := phys._refdec(p_pg); add {
		if phys._pcpu_put(idx, ispmap) {
			return true
		}
		fl := &phys.freei
		cnt := &phys.freelen
		if ispmap {
			fl = &phys.pmaps
			cnt = &phys.pmaplen
		}
		phys._phys_insert(fl, idx, phys, cnt)
		return true
	}
	return false
}

// Dec_pmap decreases the reference count of a page table page,
// freeing it once unreferenced.
func (phys *Physmem_t) Dec_pmap(p_pmap Pa_t) {
	phys._phys_put(p_pmap, true)
}

// Dmap returns the page-of-words view of the page at physical address
// p, found by indexing directly into the backing arena.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	off := util.Rounddown(int(p), PGSIZE)
	if off < 0 || off+PGSIZE > len(phys.arena) {
		panic("physical address out of range")
	}
	return (*Pg_t)(unsafe.Pointer(&phys.arena[off]))
}

// Dmap_v2p is unused in the hosted arena model (there is no separate
// virtual address for a physical page); it is kept to preserve the
// teacher's API shape for code ported unchanged from it.
func (phys *Physmem_t) Dmap_v2p(v *Pg_t) Pa_t {
	panic("Dmap_v2p: not meaningful in the hosted arena model")
}

// Dmap8 returns a byte slice view of the page at physical address p,
// starting at p's offset within that page.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

// Pgcount reports free page counts: the global free list length, the
// global pmap free list length, and the corresponding per-CPU counts.
func (phys *Physmem_t) Pgcount() (int, int, []int, []int) {
	phys.Lock()
	r1 := int(phys.freelen)
	r2 := int(phys.pmaplen)
	phys.Unlock()

	var pcpg, pcpm []int
	for i := range phys.percpu {
		pc := &phys.percpu[i]
		pc.Lock()
		if pc.freelen|pc.pmaplen != 0 {
			pcpg = append(pcpg, int(pc.freelen))
			pcpm = append(pcpm, int(pc.pmaplen))
		}
		pc.Unlock()
	}
	return r1, r2, pcpg, pcpm
}

// Avail reports the total number of free pages across every free
// list; wired into internal/res so allocation-bound call sites can
// reserve pages without blocking.
func (phys *Physmem_t) Avail() int {
	r1, r2, pcpg, pcpm := phys.Pgcount()
	n := r1 + r2
	for _, c := range pcpg {
		n += c
	}
	for _, c := range pcpm {
		n += c
	}
	return n
}

// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

// Phys_init allocates the backing arena and initializes the global
// physical memory allocator with respgs pages of usable memory.
func Phys_init() *Physmem_t {
	respgs := config.Active.ReservedPages
	if respgs <= 0 {
		respgs = 1 << 16
	}
	phys := Physmem
	phys.arena = make([]byte, respgs*PGSIZE)
	phys.Pgs = make([]Physpg_t, respgs)
	phys.startn = 0
	phys.freei = 0
	phys.freelen = 1
	phys.pmaps = ^uint32(0)
	phys.Pgs[0].Refcnt = 0
	phys.Pgs[0].nexti = ^uint32(0)
	last := phys.freei
	for i := 1; i < respgs; i++ {
		phys.Pgs[i].Refcnt = 0
		phys.Pgs[last].nexti = uint32(i)
		phys.Pgs[i].nexti = ^uint32(0)
		last = uint32(i)
		phys.freelen++
	}

	ncpu := config.Active.NCPU
	if ncpu <= 0 {
		ncpu = 1
	}
	phys.percpu = make([]pcpuphys_t, ncpu)
	for i := range phys.percpu {
		phys.percpu[i].percpu_init()
	}

	phys.Dmapinit = true

	var ok bool
	Zeropg, P_zeropg, ok = phys._refpg_new()
	if !ok {
		panic("oom during boot-time memory init")
	}
	for i := range Zeropg {
		Zeropg[i] = 0
	}
	phys.Refup(P_zeropg)

	res.Avail = phys.Avail

	fmt.Printf("mem: reserved %v pages (%vMB)\n", respgs, respgs>>8)
	return phys
}
