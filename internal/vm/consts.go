package vm

import "github.com/talus-os/talus/internal/mem"

// USERMIN is the lowest virtual address a user mapping may occupy,
// leaving the first 4GB of the address space unmapped to turn null
// and near-null pointer dereferences into faults.
const USERMIN = 1 << 32

// Uvmfree_inner walks every region in vmr and unmaps its pages from
// pmap, dropping a reference on each present page. It does not free
// the page table pages themselves or the pmap's own root page; the
// caller drops the pmap's reference separately with Dec_pmap once
// this returns, since Dec_pmap may free it.
func Uvmfree_inner(pmap *mem.Pmap_t, p_pmap mem.Pa_t, vmr *Vmregion_t) {
	vmr.Lock()
	defer vmr.Unlock()
	for _, r := range vmr.regions {
		base := r.Pgn << PGSHIFT
		for i := 0; i < r.Pglen; i++ {
			va := int(base) + i*PGSIZE
			pte := Pmap_lookup(pmap, va)
			if pte == nil || *pte&PTE_P == 0 {
				continue
			}
			mem.Physmem.Refdown(*pte & PTE_ADDR)
			*pte = 0
		}
	}
}
