// Package vm implements per-process address spaces: a three-level
// Sv39 page table, a sorted region list describing each mapping's
// backing (anonymous, file, or shared), and the page fault handler
// that lazily populates pages and implements copy-on-write.
package vm

import (
	"unsafe"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/mem"
)

// PGSHIFT and PGSIZE alias the physical page granularity; every
// address space uses the same page size as the allocator.
const (
	PGSHIFT = mem.PGSHIFT
	PGSIZE  = mem.PGSIZE
)

// Sv39 PTE bits used by this package, aliased from internal/mem. COW
// and WASCOW are software-defined bits occupying Sv39's two
// reserved-for-supervisor-software (RSW) bit positions.
const (
	PTE_P  = mem.PTE_V
	PTE_R  = mem.PTE_R
	PTE_W  = mem.PTE_W
	PTE_X  = mem.PTE_X
	PTE_U  = mem.PTE_U
	PTE_G  = mem.PTE_G
	PTE_A  = mem.PTE_A
	PTE_D  = mem.PTE_D
	PTE_ADDR = mem.PTE_ADDR

	// PTE_COW marks an anonymous page mapped as copy-on-write: present
	// but not writable, and backed by a page some other address space
	// may also reference.
	PTE_COW mem.Pa_t = 1 << 8
	// PTE_WASCOW marks a page that used to be COW but was claimed
	// exclusively by this address space (the last reference) and made
	// writable in place, skipping the copy.
	PTE_WASCOW mem.Pa_t = 1 << 9

	// PTE_PS and PTE_PCD are carried only so permission-bitmask checks
	// ported from the teacher keep their shape; this walker never
	// produces Sv39 superpage leaves or disables caching.
	PTE_PS  mem.Pa_t = 0
	PTE_PCD mem.Pa_t = 0
)

const sv39Levels = 3

func vpn(va int, level int) int {
	shift := uint(PGSHIFT) + uint(9*level)
	return (va >> shift) & 0x1ff
}

// Pmap_lookup walks pmap for va without allocating missing
// intermediate tables. It returns nil if any level of the walk is
// unmapped.
func Pmap_lookup(pmap *mem.Pmap_t, va int) *mem.Pa_t {
	cur := pmap
	for level := sv39Levels - 1; level > 0; level-- {
		idx := vpn(va, level)
		pte := &cur[idx]
		if *pte&PTE_P == 0 {
			return nil
		}
		next := mem.Physmem.Dmap(*pte & PTE_ADDR)
		cur = pgAsPmap(next)
	}
	idx := vpn(va, 0)
	return &cur[idx]
}

func pgAsPmap(pg *mem.Pg_t) *mem.Pmap_t {
	return (*mem.Pmap_t)(unsafe.Pointer(pg))
}

// pmap_walk walks pmap for va, allocating any missing intermediate
// page table page with the given perms (always PTE_U|PTE_W for
// intermediate tables; leaf permissions are set by the caller). It
// returns the leaf PTE slot, or an error if a page table page could
// not be allocated.
func pmap_walk(pmap *mem.Pmap_t, va int, perms mem.Pa_t) (*mem.Pa_t, defs.Err_t) {
	cur := pmap
	for level := sv39Levels - 1; level > 0; level-- {
		idx := vpn(va, level)
		pte := &cur[idx]
		if *pte&PTE_P == 0 {
			_, p_pg, ok := mem.Physmem.Pmap_new()
			if !ok {
				return nil, -defs.ENOMEM
			}
			*pte = p_pg | PTE_P | PTE_U | PTE_W
		}
		next := mem.Physmem.Dmap(*pte & PTE_ADDR)
		cur = pgAsPmap(next)
	}
	idx := vpn(va, 0)
	return &cur[idx], 0
}
