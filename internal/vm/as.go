package vm

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/talus-os/talus/internal/bounds"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/res"
	"github.com/talus-os/talus/internal/ustr"
	"github.com/talus-os/talus/internal/util"
)

// Vm_t represents a process address space. The embedded mutex
// protects Vmregion, Pmap and P_pmap against concurrent page faults
// and syscalls walking the same address space.
type Vm_t struct {
	sync.Mutex

	Vmregion Vmregion_t

	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t

	// Sz is the current break: user addresses [HeapBase, HeapBase+Sz)
	// belong to the heap VMA. MmapBase is the next top-down mmap
	// allocation point; it only ever moves down.
	Sz       int
	MmapBase int
	heap     *Vminfo_t

	pgfltaken bool
}

// Lock_pmap acquires the address space mutex and marks that page
// table manipulation is in progress, so Lockassert_pmap can catch
// callers that forgot to take it.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the address space mutex after page table
// manipulation is complete.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// Userdmap8_inner returns a kernel-addressable slice mapping the user
// address va, faulting the page in if necessary. When k2u is true the
// memory is prepared for a kernel write (COW pages are copied).
func (as *Vm_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	voff := va & int(mem.PGOFFSET)
	uva := uintptr(va)
	vmi, ok := as.Vmregion.Lookup(uva)
	if !ok {
		return nil, -defs.EFAULT
	}
	pte, ok := vmi.Ptefor(as.Pmap, uva)
	if !ok {
		return nil, -defs.ENOMEM
	}
	ecode := uintptr(PTE_U)
	needfault := true
	isp := *pte&PTE_P != 0
	if k2u {
		ecode |= uintptr(PTE_W)
		iscow := *pte&PTE_COW != 0
		if isp && !iscow {
			needfault = false
		}
	} else if isp {
		needfault = false
	}

	if needfault {
		if err := Sys_pgfault(as, vmi, uva, ecode); err != 0 {
			return nil, err
		}
	}

	pg := mem.Physmem.Dmap(*pte & PTE_ADDR)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

func (as *Vm_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, k2u)
	as.Unlock_pmap()
	return ret, err
}

// Userdmap8r maps the user address for reading.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

// Userreadn reads an n-byte (n <= 8) little-endian value from user
// memory at va.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *Vm_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

// Userwriten writes the low n bytes (n <= 8) of val to user memory at
// va.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

// Userstr copies a NUL terminated string from user space, up to
// lenmax bytes.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			as.Unlock_pmap()
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				as.Unlock_pmap()
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			as.Unlock_pmap()
			return nil, -defs.ENAMETOOLONG
		}
	}
}

// Userargv reads a NULL-terminated array of pointer-sized words at va
// (the userland argv/envp convention) and copies each out as a string
// via Userstr, up to defs.MAXARG entries.
func (as *Vm_t) Userargv(va int) ([]string, defs.Err_t) {
	if va == 0 {
		return nil, 0
	}
	var argv []string
	for i := 0; i < defs.MAXARG; i++ {
		ptr, err := as.Userreadn(va+i*8, 8)
		if err != 0 {
			return nil, err
		}
		if ptr == 0 {
			return argv, 0
		}
		s, err := as.Userstr(ptr, defs.MAXPATH)
		if err != 0 {
			return nil, err
		}
		argv = append(argv, string(s))
	}
	return argv, -defs.EINVAL
}

// Usertimespec reads a {sec,nsec} pair from user memory at va.
func (as *Vm_t) Usertimespec(va int) (time.Duration, time.Time, defs.Err_t) {
	var zt time.Time
	secs, err := as.Userreadn(va, 8)
	if err != 0 {
		return 0, zt, err
	}
	nsecs, err := as.Userreadn(va+8, 8)
	if err != 0 {
		return 0, zt, err
	}
	if secs < 0 || nsecs < 0 {
		return 0, zt, -defs.EINVAL
	}
	tot := time.Duration(secs)*time.Second + time.Duration(nsecs)*time.Nanosecond
	t := time.Unix(int64(secs), int64(nsecs))
	return tot, t, 0
}

// K2user copies src into the user virtual address space starting at
// uva. The copy may be partial if the region is not fully mapped.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2user_inner(src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) K2user_inner(src []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	l := len(src)
	for cnt != l {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		ub := len(src)
		if ub > len(dst) {
			ub = len(dst)
		}
		copy(dst, src)
		src = src[ub:]
		cnt += ub
	}
	return 0
}

// User2k copies len(dst) bytes from the user virtual address uva into
// dst.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2k_inner(dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) User2k_inner(dst []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(dst) != 0 {
		gimme := bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)
		if !res.Resadd_noblock(gimme) {
			return -defs.ENOHEAP
		}
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

// Unusedva_inner finds an address at or after startva not covered by
// any existing mapping, with room for len bytes.
func (as *Vm_t) Unusedva_inner(startva, length int) int {
	as.Lockassert_pmap()
	if length < 0 || length > 1<<48 {
		panic("weird len")
	}
	startva = util.Rounddown(startva, mem.PGSIZE)
	if startva < USERMIN {
		startva = USERMIN
	}
	_ret, _l := as.Vmregion.empty(uintptr(startva), uintptr(length))
	ret := int(_ret)
	l := int(_l)
	if startva > ret && startva < ret+l {
		ret = startva
	}
	return ret
}

// Tlbshoot invalidates pgcount pages starting at startva. This
// simulated kernel runs every hart as a goroutine sharing one Go
// address space, so there is no hardware TLB to shoot down; the call
// is kept as a barrier point so a future per-hart software TLB cache
// (if one is added) has a well-defined invalidation hook.
func (as *Vm_t) Tlbshoot(startva uintptr, pgcount int) {
	if pgcount == 0 {
		return
	}
	as.Lockassert_pmap()
}

// Sys_pgfault resolves a page fault for address space as at faultaddr
// with fault error code ecode (PTE_U always set; PTE_W set if the
// fault was a write).
func Sys_pgfault(as *Vm_t, vmi *Vminfo_t, faultaddr, ecode uintptr) defs.Err_t {
	isguard := vmi.Perms == 0
	iswrite := ecode&uintptr(PTE_W) != 0
	writeok := vmi.Perms&uint(PTE_W) != 0
	if isguard || (iswrite && !writeok) {
		return -defs.EFAULT
	}
	if ecode&uintptr(PTE_U) == 0 {
		panic("kernel page fault")
	}
	if vmi.Mtype == VSANON {
		panic("shared anon pages should always be mapped")
	}

	pte, ok := vmi.Ptefor(as.Pmap, faultaddr)
	if !ok {
		return -defs.ENOMEM
	}
	if (iswrite && *pte&PTE_WASCOW != 0) || (!iswrite && *pte&PTE_P != 0) {
		// two threads simultaneously faulted on the same page
		return 0
	}

	var p_pg mem.Pa_t
	isblockpage := false
	perms := PTE_U | PTE_P
	isempty := true

	if vmi.Mtype == VFILE && vmi.file.shared {
		var err defs.Err_t
		_, p_pg, err = vmi.Filepage(faultaddr)
		if err != 0 {
			return err
		}
		isblockpage = true
		if vmi.Perms&uint(PTE_W) != 0 {
			perms |= PTE_W
		}
	} else if iswrite {
		if *pte&PTE_W != 0 {
			panic("bad state")
		}
		var pgsrc *mem.Pg_t
		var p_bpg mem.Pa_t
		cow := *pte&PTE_COW != 0
		if cow {
			phys := *pte & PTE_ADDR
			ref, _ := mem.Physmem.Refaddr(phys)
			if vmi.Mtype == VANON && atomic.LoadInt32(ref) == 1 && phys != mem.P_zeropg {
				tmp := *pte &^ PTE_COW
				tmp |= PTE_W | PTE_WASCOW
				*pte = tmp
				as.Tlbshoot(faultaddr, 1)
				return 0
			}
			pgsrc = mem.Physmem.Dmap(phys)
			isempty = false
		} else {
			if *pte != 0 {
				panic("no")
			}
			switch vmi.Mtype {
			case VANON:
				pgsrc = mem.Zeropg
			case VFILE:
				var err defs.Err_t
				pgsrc, p_bpg, err = vmi.Filepage(faultaddr)
				if err != 0 {
					return err
				}
				defer mem.Physmem.Refdown(p_bpg)
			default:
				panic("wut")
			}
		}
		var pg *mem.Pg_t
		var ok bool
		pg, p_pg, ok = mem.Physmem.Refpg_new_nozero()
		if !ok {
			return -defs.ENOMEM
		}
		*pg = *pgsrc
		perms |= PTE_WASCOW
		perms |= PTE_W
	} else {
		if *pte != 0 {
			panic("must be 0")
		}
		switch vmi.Mtype {
		case VANON:
			p_pg = mem.P_zeropg
		case VFILE:
			var err defs.Err_t
			_, p_pg, err = vmi.Filepage(faultaddr)
			if err != 0 {
				return err
			}
			isblockpage = true
		default:
			panic("wut")
		}
		if vmi.Perms&uint(PTE_W) != 0 {
			perms |= PTE_COW
		}
	}
	if perms&PTE_W != 0 {
		perms |= PTE_D
	}
	perms |= PTE_A

	var tshoot, ok2 bool
	if isblockpage {
		tshoot, ok2 = as.Blockpage_insert(int(faultaddr), p_pg, perms, isempty, pte)
	} else {
		tshoot, ok2 = as.Page_insert(int(faultaddr), p_pg, perms, isempty, pte)
	}
	if !ok2 {
		mem.Physmem.Refdown(p_pg)
		return -defs.ENOMEM
	}
	if tshoot {
		as.Tlbshoot(faultaddr, 1)
	}
	return 0
}

// Page_insert maps the physical page p_pg at va with perms, bumping
// p_pg's reference count. It reports whether an existing mapping was
// replaced and whether the insertion succeeded.
func (as *Vm_t) Page_insert(va int, p_pg mem.Pa_t, perms mem.Pa_t, vempty bool, pte *mem.Pa_t) (bool, bool) {
	return as._page_insert(va, p_pg, perms, vempty, true, pte)
}

// Blockpage_insert adds a page mapping without increasing p_pg's
// reference count; used for pages owned by the block cache.
func (as *Vm_t) Blockpage_insert(va int, p_pg mem.Pa_t, perms mem.Pa_t, vempty bool, pte *mem.Pa_t) (bool, bool) {
	return as._page_insert(va, p_pg, perms, vempty, false, pte)
}

func (as *Vm_t) _page_insert(va int, p_pg mem.Pa_t, perms mem.Pa_t, vempty, refup bool, pte *mem.Pa_t) (bool, bool) {
	as.Lockassert_pmap()
	if refup {
		mem.Physmem.Refup(p_pg)
	}
	if pte == nil {
		var err defs.Err_t
		pte, err = pmap_walk(as.Pmap, va, PTE_U|PTE_W)
		if err != 0 {
			return false, false
		}
	}
	ninval := false
	var p_old mem.Pa_t
	if *pte&PTE_P != 0 {
		if vempty {
			panic("pte not empty")
		}
		if *pte&PTE_U == 0 {
			panic("replacing kernel page")
		}
		ninval = true
		p_old = *pte & PTE_ADDR
	}
	*pte = p_pg | perms | PTE_P
	if ninval {
		mem.Physmem.Refdown(p_old)
	}
	return ninval, true
}

// Page_remove unmaps the page at va, reporting whether a mapping was
// removed.
func (as *Vm_t) Page_remove(va int) bool {
	as.Lockassert_pmap()
	remmed := false
	pte := Pmap_lookup(as.Pmap, va)
	if pte != nil && *pte&PTE_P != 0 {
		if *pte&PTE_U == 0 {
			panic("removing kernel page")
		}
		p_old := *pte & PTE_ADDR
		mem.Physmem.Refdown(p_old)
		*pte = 0
		remmed = true
	}
	return remmed
}

// Pgfault handles a page fault triggered by tid at the given fault
// address and error code.
func (as *Vm_t) Pgfault(tid defs.Tid_t, fa, ecode uintptr) defs.Err_t {
	as.Lock_pmap()
	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		as.Unlock_pmap()
		return -defs.EFAULT
	}
	ret := Sys_pgfault(as, vmi, fa, ecode)
	as.Unlock_pmap()
	return ret
}

// Uvmfree releases all user mappings and page tables associated with
// this address space.
func (as *Vm_t) Uvmfree() {
	Uvmfree_inner(as.Pmap, as.P_pmap, &as.Vmregion)
	// Dec_pmap may free the pmap itself, so it must come after
	// Uvmfree_inner walks it.
	mem.Physmem.Dec_pmap(as.P_pmap)
	as.Vmregion.Clear()
}

// Vmadd_anon creates a private anonymous mapping.
func (as *Vm_t) Vmadd_anon(start, length int, perms mem.Pa_t) {
	vmi := as._mkvmi(VANON, start, length, perms, 0, nil, nil)
	as.Vmregion.insert(vmi)
}

// Vmadd_file maps a region backed by fops, private or shared
// depending on fops's own semantics.
func (as *Vm_t) Vmadd_file(start, length int, perms mem.Pa_t, fops fdops.Fdops_i, foff int) {
	vmi := as._mkvmi(VFILE, start, length, perms, foff, fops, nil)
	as.Vmregion.insert(vmi)
}

// Vmadd_shareanon inserts a shared anonymous mapping.
func (as *Vm_t) Vmadd_shareanon(start, length int, perms mem.Pa_t) {
	vmi := as._mkvmi(VSANON, start, length, perms, 0, nil, nil)
	as.Vmregion.insert(vmi)
}

// Vmadd_sharefile creates a shared file-backed mapping, unpinning
// pages via unpin when the mapping is torn down.
func (as *Vm_t) Vmadd_sharefile(start, length int, perms mem.Pa_t, fops fdops.Fdops_i, foff int, unpin mem.Unpin_i) {
	vmi := as._mkvmi(VFILE, start, length, perms, foff, fops, unpin)
	as.Vmregion.insert(vmi)
}

func (as *Vm_t) _mkvmi(mt mtype_t, start, length int, perms mem.Pa_t, foff int, fops fdops.Fdops_i, unpin mem.Unpin_i) *Vminfo_t {
	if length <= 0 {
		panic("bad vmi len")
	}
	if mem.Pa_t(start|length)&mem.PGOFFSET != 0 {
		panic("start and len must be aligned")
	}
	pm := PTE_W | PTE_COW | PTE_WASCOW | PTE_PS | PTE_PCD | PTE_P | PTE_U
	if r := perms & pm; r != 0 && r != PTE_U && r != (PTE_W|PTE_U) {
		panic("bad perms")
	}
	ret := &Vminfo_t{}
	pgn := uintptr(start) >> PGSHIFT
	pglen := util.Roundup(length, mem.PGSIZE) >> PGSHIFT
	ret.Mtype = mt
	ret.Pgn = pgn
	ret.Pglen = pglen
	ret.Perms = uint(perms)
	if mt == VFILE {
		ret.file.foff = foff
		ret.file.mfile = &Mfile_t{}
		ret.file.mfile.mfops = fops
		ret.file.mfile.unpin = unpin
		ret.file.shared = unpin != nil
	}
	return ret
}

// Mkuserbuf allocates and initializes a Userbuf_t referencing user
// memory starting at userva.
func (as *Vm_t) Mkuserbuf(userva, length int) *Userbuf_t {
	ret := &Userbuf_t{}
	ret.ub_init(as, userva, length)
	return ret
}
