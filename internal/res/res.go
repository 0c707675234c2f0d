// Package res tracks a reservation budget against physical memory
// availability. Code that is about to walk a page table while holding
// a lock it cannot block under (and so cannot simply call the
// allocator and wait for free pages) first reserves its worst case
// page count with Resadd_noblock; if the reservation fails the caller
// returns -ENOHEAP instead of stalling with the lock held.
package res

import "sync/atomic"

// Avail is set by internal/mem at init time to report the number of
// physical pages currently free.
var Avail func() int

var reserved int64

// Resadd_noblock reserves n pages without blocking. It returns false,
// reserving nothing, if fewer than n pages are free once already
// outstanding reservations are accounted for.
func Resadd_noblock(n int) bool {
	if n == 0 {
		return true
	}
	avail := 0
	if Avail != nil {
		avail = Avail()
	}
	for {
		cur := atomic.LoadInt64(&reserved)
		if avail-int(cur) < n {
			return false
		}
		if atomic.CompareAndSwapInt64(&reserved, cur, cur+int64(n)) {
			return true
		}
	}
}

// Resdel releases n previously reserved pages.
func Resdel(n int) {
	if n == 0 {
		return
	}
	atomic.AddInt64(&reserved, -int64(n))
}
