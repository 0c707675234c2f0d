package vm

import (
	"sort"
	"sync"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
)

// mtype_t distinguishes the three kinds of backing a mapping can
// have.
type mtype_t int

const (
	// VANON is a private anonymous mapping: COW-shared with a parent
	// across fork, backed by the zero page until first write.
	VANON mtype_t = iota
	// VFILE is a file-backed mapping, private or shared.
	VFILE
	// VSANON is a shared anonymous mapping (POSIX MAP_SHARED|MAP_ANON,
	// and the backing for System V style shared memory segments):
	// every mapper sees the same physical pages, always present, never
	// copy-on-write.
	VSANON
)

// mfile_t describes the file backing a VFILE mapping.
type mfile_t struct {
	foff     int
	mfile    *Mfile_t
	shared   bool
}

// Mfile_t is the file-mapping state shared by every Vminfo_t that maps
// the same open file description, refcounted by mapcount.
type Mfile_t struct {
	mfops    fdops.Fdops_i
	unpin    mem.Unpin_i
	mapcount int
}

// Vminfo_t describes one mapped region of an address space: a
// contiguous run of pages sharing a backing type and a base
// permission set. The page fault handler consults Perms/Mtype to
// decide how to populate a page lazily.
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr
	Pglen int
	Perms uint
	file  mfile_t
}

// Ptefor returns the leaf PTE slot for faultaddr within this mapping,
// allocating intermediate page table pages as needed.
func (vmi *Vminfo_t) Ptefor(pmap *mem.Pmap_t, va uintptr) (*mem.Pa_t, bool) {
	pte, err := pmap_walk(pmap, int(va), PTE_U|PTE_W)
	if err != 0 {
		return nil, false
	}
	return pte, true
}

// Filepage returns the page backing faultaddr within a VFILE mapping,
// fetched from the mapping's file operations via Mmapi.
func (vmi *Vminfo_t) Filepage(faultaddr uintptr) (*mem.Pg_t, mem.Pa_t, defs.Err_t) {
	if vmi.Mtype != VFILE {
		panic("not a file mapping")
	}
	pgn := faultaddr >> PGSHIFT
	startpgn := vmi.Pgn
	pgoff := int(pgn-startpgn)*PGSIZE + vmi.file.foff
	mmi, err := vmi.file.mfile.mfops.Mmapi(pgoff, 1, vmi.file.shared)
	if err != 0 {
		return nil, 0, err
	}
	return mmi[0].Pg, mmi[0].Phys, 0
}

// Vmregion_t is the sorted-by-page-number list of a process's address
// space mappings.
type Vmregion_t struct {
	sync.Mutex
	regions []*Vminfo_t
}

func (vr *Vmregion_t) find(pgn uintptr) int {
	return sort.Search(len(vr.regions), func(i int) bool {
		r := vr.regions[i]
		return r.Pgn+uintptr(r.Pglen) > pgn
	})
}

// Lookup returns the mapping containing virtual address va, if any.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	vr.Lock()
	defer vr.Unlock()
	pgn := va >> PGSHIFT
	i := vr.find(pgn)
	if i == len(vr.regions) {
		return nil, false
	}
	r := vr.regions[i]
	if pgn < r.Pgn {
		return nil, false
	}
	return r, true
}

// insert adds vmi to the region list, keeping it ordered by page
// number. It bumps the mapping's file refcount if it is file backed.
func (vr *Vmregion_t) insert(vmi *Vminfo_t) {
	vr.Lock()
	defer vr.Unlock()
	if vmi.Mtype == VFILE && vmi.file.mfile != nil {
		vmi.file.mfile.mapcount++
	}
	i := vr.find(vmi.Pgn)
	vr.regions = append(vr.regions, nil)
	copy(vr.regions[i+1:], vr.regions[i:])
	vr.regions[i] = vmi
}

// empty finds an unused virtual address range of the given length at
// or after startva, returning its base and the span searched.
func (vr *Vmregion_t) empty(startva, length uintptr) (uintptr, uintptr) {
	vr.Lock()
	defer vr.Unlock()
	startpgn := startva >> PGSHIFT
	pglen := (length + uintptr(mem.PGOFFSET)) >> PGSHIFT
	cur := startpgn
	for _, r := range vr.regions {
		if r.Pgn+uintptr(r.Pglen) <= cur {
			continue
		}
		if cur+pglen <= r.Pgn {
			break
		}
		cur = r.Pgn + uintptr(r.Pglen)
	}
	return cur << PGSHIFT, length
}

// clone returns a shallow copy of vmi, sharing the same file backing
// (if any) with the original.
func (vmi *Vminfo_t) clone() *Vminfo_t {
	c := *vmi
	return &c
}

// slice narrows vmi to the sub-range [newpgn, newpgn+newlen), shifting
// the file offset of a VFILE mapping to match how far newpgn is from
// vmi's original start.
func (vmi *Vminfo_t) slice(newpgn uintptr, newlen int) *Vminfo_t {
	c := vmi.clone()
	delta := int(newpgn-vmi.Pgn) * PGSIZE
	c.Pgn = newpgn
	c.Pglen = newlen
	if c.Mtype == VFILE {
		c.file.foff += delta
	}
	return c
}

// Munmap_regions removes the range [startpgn, startpgn+pglen) from the
// region list, splitting or trimming any mapping that only partially
// overlaps it. It returns, for each removed mapping (or the removed
// portion of a split one), a Vminfo_t clone describing exactly the
// torn-down range — callers use this to unmap pages and, for dirty
// shared file pages, gather writeback records before releasing the
// address-space lock.
func (vr *Vmregion_t) Munmap_regions(startpgn, pglen uintptr) []*Vminfo_t {
	vr.Lock()
	defer vr.Unlock()
	endpgn := startpgn + pglen
	var removed []*Vminfo_t
	kept := vr.regions[:0:0]
	for _, r := range vr.regions {
		rend := r.Pgn + uintptr(r.Pglen)
		if rend <= startpgn || r.Pgn >= endpgn {
			kept = append(kept, r)
			continue
		}
		pieces := 0
		if r.Pgn < startpgn {
			kept = append(kept, r.slice(r.Pgn, int(startpgn-r.Pgn)))
			pieces++
		}
		if rend > endpgn {
			kept = append(kept, r.slice(endpgn, int(rend-endpgn)))
			pieces++
		}
		s, e := r.Pgn, rend
		if s < startpgn {
			s = startpgn
		}
		if e > endpgn {
			e = endpgn
		}
		removed = append(removed, r.slice(s, int(e-s)))
		if pieces > 0 && r.Mtype == VFILE && r.file.mfile != nil {
			r.file.mfile.mapcount += pieces
		}
	}
	vr.regions = kept
	sort.Slice(vr.regions, func(i, j int) bool { return vr.regions[i].Pgn < vr.regions[j].Pgn })
	return removed
}

// Clear removes every mapping, dropping this address space's
// reference on every file-backed mapping's open file description.
func (vr *Vmregion_t) Clear() {
	vr.Lock()
	defer vr.Unlock()
	for _, r := range vr.regions {
		if r.Mtype == VFILE && r.file.mfile != nil {
			r.file.mfile.mapcount--
			if r.file.mfile.mapcount == 0 {
				r.file.mfile.mfops.Close()
			}
		}
	}
	vr.regions = nil
}
