package vm

import (
	"sort"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/util"
)

// HeapBase is the fixed user VA where every process's break-managed
// heap begins.
const HeapBase = USERMIN

// Trampoline is the fixed user VA of the trampoline page, the highest
// page of the user address space. TrapframeBase is the first of a run
// of per-thread trap frame slots directly below it; MmapCeil is where
// top-down mmap allocation starts, one page below the last possible
// trap frame slot.
const (
	Trampoline    = (1 << 38) - PGSIZE
	MaxThreadSlots = 64
	TrapframeBase = Trampoline - MaxThreadSlots*PGSIZE
	MmapCeil      = TrapframeBase
)

// NewAddrspace allocates a fresh, empty address space: a root page
// table with no mappings, mmap allocation starting at the top of the
// user address space below the trap frame slots.
func NewAddrspace() (*Vm_t, defs.Err_t) {
	pmap, p_pmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	return &Vm_t{Pmap: pmap, P_pmap: p_pmap, MmapBase: MmapCeil}, 0
}

// MapTrampoline installs the kernel's single trampoline physical page
// read+exec at the fixed Trampoline VA. Every address space maps the
// same physical page; it is never unmapped by Uvmfree, which skips it
// explicitly (see TornDown).
func (as *Vm_t) MapTrampoline(p_tramp mem.Pa_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pte, err := pmap_walk(as.Pmap, Trampoline, PTE_U|PTE_W)
	if err != 0 {
		return err
	}
	*pte = p_tramp | PTE_P | PTE_U | PTE_R | PTE_X | PTE_A
	return 0
}

// TrapframeVA returns the fixed user VA of the per-thread trap frame
// page for a thread occupying the given process-slot index.
func TrapframeVA(slot int) int {
	if slot < 0 || slot >= MaxThreadSlots {
		panic("thread slot out of trap frame range")
	}
	return TrapframeBase + slot*PGSIZE
}

// MapTrapframe installs a thread's trap frame page at its fixed VA.
func (as *Vm_t) MapTrapframe(slot int, p_tf mem.Pa_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	va := TrapframeVA(slot)
	pte, err := pmap_walk(as.Pmap, va, PTE_U|PTE_W)
	if err != 0 {
		return err
	}
	*pte = p_tf | PTE_P | PTE_U | PTE_R | PTE_W | PTE_A | PTE_D
	return 0
}

// UnmapTrapframe clears a thread's trap frame mapping without
// dropping a page reference; the frame's physical page is owned and
// freed by the caller (internal/proc), not refcounted through the PTE
// the way ordinary user pages are.
func (as *Vm_t) UnmapTrapframe(slot int) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pte := Pmap_lookup(as.Pmap, TrapframeVA(slot))
	if pte != nil {
		*pte = 0
	}
}

// Sbrk grows or shrinks the heap VMA by n bytes (n may be negative)
// and returns the break's value before the change.
func (as *Vm_t) Sbrk(n int) (int, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	old := as.Sz
	newsz := old + n
	if newsz < 0 {
		return 0, -defs.EINVAL
	}
	newpglen := util.Roundup(newsz, PGSIZE) >> PGSHIFT
	if n > 0 {
		if HeapBase+newsz > as.MmapBase {
			return 0, -defs.ENOMEM
		}
		if as.heap == nil {
			as.heap = &Vminfo_t{Mtype: VANON, Pgn: HeapBase >> PGSHIFT,
				Perms: uint(PTE_U | PTE_R | PTE_W)}
			as.Vmregion.insert(as.heap)
		}
		as.heap.Pglen = newpglen
	} else if n < 0 && as.heap != nil {
		for pgn := uintptr(newpglen); pgn < uintptr(as.heap.Pglen); pgn++ {
			va := int((as.heap.Pgn + pgn) << PGSHIFT)
			as.Page_remove(va)
		}
		as.heap.Pglen = newpglen
		as.Tlbshoot(uintptr(HeapBase+newsz), int(uintptr(old-newsz)>>PGSHIFT)+1)
	}
	as.Sz = newsz
	return old, 0
}

// reserveTopDown carves pglen pages off the top of the mmap region,
// below the lowest address still free for the heap to grow into, and
// advances MmapBase past them.
func (as *Vm_t) reserveTopDown(pglen int) (int, defs.Err_t) {
	newbase := as.MmapBase - pglen*PGSIZE
	if newbase < HeapBase+as.Sz {
		return 0, -defs.ENOMEM
	}
	as.MmapBase = newbase
	return newbase, 0
}

// MmapAnon creates an anonymous mapping (zero-filled, demand paged
// unless shared) at the next free top-down VA.
func (as *Vm_t) MmapAnon(length int, perms mem.Pa_t, shared bool) (int, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pglen := util.Roundup(length, PGSIZE) >> PGSHIFT
	base, err := as.reserveTopDown(pglen)
	if err != 0 {
		return 0, err
	}
	mt := VANON
	if shared {
		mt = VSANON
	}
	vmi := &Vminfo_t{Mtype: mt, Pgn: uintptr(base) >> PGSHIFT, Pglen: pglen, Perms: uint(perms)}
	if shared {
		// Shared anonymous pages are always present, never demand
		// paged: allocate and map every page up front.
		for i := 0; i < pglen; i++ {
			_, pa, ok := mem.Physmem.Refpg_new()
			if !ok {
				for j := 0; j < i; j++ {
					as.Page_remove(base + j*PGSIZE)
				}
				return 0, -defs.ENOMEM
			}
			va := base + i*PGSIZE
			pte, perr := pmap_walk(as.Pmap, va, PTE_U|PTE_W)
			if perr != 0 {
				mem.Physmem.Refdown(pa)
				for j := 0; j < i; j++ {
					as.Page_remove(base + j*PGSIZE)
				}
				return 0, perr
			}
			as._page_insert(va, pa, perms|PTE_P, true, false, pte)
		}
	}
	as.Vmregion.insert(vmi)
	return base, 0
}

// MmapFile creates a file-backed mapping of fops at foff, private or
// shared, at the next free top-down VA. unpin is non-nil for shared
// mappings, whose pages are pinned against block-cache eviction until
// Munmap/teardown runs.
func (as *Vm_t) MmapFile(length int, perms mem.Pa_t, fops fdops.Fdops_i, foff int, shared bool, unpin mem.Unpin_i) (int, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	pglen := util.Roundup(length, PGSIZE) >> PGSHIFT
	base, err := as.reserveTopDown(pglen)
	if err != 0 {
		return 0, err
	}
	var vmi *Vminfo_t
	if shared {
		vmi = as._mkvmi(VFILE, base, pglen<<PGSHIFT, perms, foff, fops, unpin)
	} else {
		vmi = as._mkvmi(VFILE, base, pglen<<PGSHIFT, perms, foff, fops, nil)
	}
	as.Vmregion.insert(vmi)
	return base, 0
}

// WritebackRec describes one dirty shared-mapping page that must be
// flushed back to its backing inode after Munmap releases the
// address-space lock.
type WritebackRec struct {
	Fops   fdops.Fdops_i
	Offset int
	Data   []byte
}

// Munmap tears down the mapping(s) covering [addr, addr+length),
// splitting VMAs that only partially overlap the range. It returns
// writeback records for dirty pages of shared file mappings; the
// caller flushes them (via Fops.Pwrite, through the journal) only
// after the address-space lock has been released, per spec.md §4.3.
func (as *Vm_t) Munmap(addr, length int) ([]WritebackRec, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	startpgn := uintptr(addr) >> PGSHIFT
	pglen := uintptr(util.Roundup(length, PGSIZE) >> PGSHIFT)
	removed := as.Vmregion.Munmap_regions(startpgn, pglen)

	var wb []WritebackRec
	for _, r := range removed {
		shared := r.Mtype == VSANON || (r.Mtype == VFILE && r.file.shared)
		for i := 0; i < r.Pglen; i++ {
			va := int((r.Pgn + uintptr(i)) << PGSHIFT)
			pte := Pmap_lookup(as.Pmap, va)
			if pte == nil || *pte&PTE_P == 0 {
				continue
			}
			pa := *pte & PTE_ADDR
			if shared && r.Mtype == VFILE && *pte&PTE_D != 0 {
				data := make([]byte, PGSIZE)
				copy(data, mem.Pg2bytes(mem.Physmem.Dmap(pa))[:])
				wb = append(wb, WritebackRec{Fops: r.file.mfile.mfops, Offset: r.file.foff + i*PGSIZE, Data: data})
			}
			mem.Physmem.Refdown(pa)
			*pte = 0
		}
		as.Tlbshoot(r.Pgn<<PGSHIFT, r.Pglen)
		if r.Mtype == VFILE && r.file.mfile != nil {
			r.file.mfile.mapcount--
			if r.file.mfile.mapcount == 0 {
				r.file.mfile.mfops.Close()
			}
		}
	}
	return wb, 0
}

// ShmAttach installs pages (already owned by a shared-memory segment,
// each with refcount >= 1) into this address space at the next free
// top-down VA, incrementing each page's reference count. Per
// spec.md §9's open question, the VA range is reserved in Vmregion
// before returning, so a later Sbrk that would collide fails instead
// of silently overlapping.
func (as *Vm_t) ShmAttach(pages []mem.Pa_t, perms mem.Pa_t) (int, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	base, err := as.reserveTopDown(len(pages))
	if err != 0 {
		return 0, err
	}
	for i, pa := range pages {
		va := base + i*PGSIZE
		pte, perr := pmap_walk(as.Pmap, va, PTE_U|PTE_W)
		if perr != 0 {
			for j := 0; j < i; j++ {
				as.Page_remove(base + j*PGSIZE)
			}
			return 0, perr
		}
		as._page_insert(va, pa, perms|PTE_P, true, true, pte)
	}
	vmi := &Vminfo_t{Mtype: VSANON, Pgn: uintptr(base) >> PGSHIFT, Pglen: len(pages), Perms: uint(perms)}
	as.Vmregion.insert(vmi)
	return base, 0
}

// Fork duplicates as into a freshly allocated address space for a
// child process. Private mappings (anonymous or file) are installed
// read-only in both page tables with their page reference counts
// bumped, so the first write in either address space triggers
// copy-on-write; shared mappings (VSANON, or VFILE marked shared) are
// simply re-mapped, since writes to them must be visible in both.
func (as *Vm_t) Fork() (*Vm_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	nas, err := NewAddrspace()
	if err != 0 {
		return nil, err
	}
	nas.Sz = as.Sz
	nas.MmapBase = as.MmapBase

	as.Vmregion.Lock()
	defer as.Vmregion.Unlock()

	nregions := make([]*Vminfo_t, 0, len(as.Vmregion.regions))
	for _, r := range as.Vmregion.regions {
		nr := r.clone()
		if r.Mtype == VFILE && r.file.mfile != nil {
			r.file.mfile.mapcount++
		}
		nregions = append(nregions, nr)
		if r == as.heap {
			nas.heap = nr
		}

		shared := r.Mtype == VSANON || (r.Mtype == VFILE && r.file.shared)
		for i := 0; i < r.Pglen; i++ {
			va := int((r.Pgn + uintptr(i)) << PGSHIFT)
			pte := Pmap_lookup(as.Pmap, va)
			if pte == nil || *pte&PTE_P == 0 {
				continue
			}
			npte, perr := pmap_walk(nas.Pmap, va, PTE_U|PTE_W)
			if perr != 0 {
				nas.Uvmfree()
				return nil, perr
			}
			p := *pte & PTE_ADDR
			if shared {
				*npte = *pte
			} else {
				np := (*pte &^ (PTE_W | PTE_WASCOW)) | PTE_COW
				*pte = np
				*npte = np
			}
			mem.Physmem.Refup(p)
		}
	}
	sort.Slice(nregions, func(i, j int) bool { return nregions[i].Pgn < nregions[j].Pgn })
	nas.Vmregion.regions = nregions
	as.Tlbshoot(USERMIN, int(as.Sz>>PGSHIFT)+1)
	return nas, 0
}
