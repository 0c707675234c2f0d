// Package bounds gives every call site that may need to allocate page
// table pages while walking an address space a conservative upper
// bound on how many physical pages that walk could consume. The bound
// is checked against the reservation tracked by internal/res before
// the walk starts, since the walk itself must not block while holding
// an address space's page table lock.
package bounds

// Bound_t identifies a call site with a known worst case allocation
// bound.
type Bound_t int

const (
	B_ASPACE_T_K2USER_INNER Bound_t = iota
	B_ASPACE_T_USER2K_INNER
	B_ASPACE_T_USERDMAP8_INNER
	B_ASPACE_T_PGFAULT
	B_USERBUF_T__TX
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_FS_T_ICACHE_GET
	B_FS_T_BALLOC
	_bound_max
)

// sv39MaxWalkPages is the most physical pages a single Sv39 walk can
// need to allocate: one page table at each of levels 2, 1 and 0.
const sv39MaxWalkPages = 3

// tbl[i] is the worst case page count for the call site Bound_t(i).
var tbl = [_bound_max]int{
	B_ASPACE_T_K2USER_INNER:    sv39MaxWalkPages,
	B_ASPACE_T_USER2K_INNER:    sv39MaxWalkPages,
	B_ASPACE_T_USERDMAP8_INNER: sv39MaxWalkPages,
	B_ASPACE_T_PGFAULT:         sv39MaxWalkPages + 1,
	B_USERBUF_T__TX:            sv39MaxWalkPages,
	B_USERIOVEC_T_IOV_INIT:     sv39MaxWalkPages,
	B_USERIOVEC_T__TX:          sv39MaxWalkPages,
	B_FS_T_ICACHE_GET:          1,
	B_FS_T_BALLOC:              1,
}

// Bounds returns the worst case number of physical pages the call site
// b may need to allocate.
func Bounds(b Bound_t) int {
	return tbl[b]
}
