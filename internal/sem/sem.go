// Package sem implements POSIX-style counting semaphores backing the
// semcreate/semwait/semtrywait/sempost/semclose syscalls. Grounded on
// the original kernel's semaphore.rs: a mutex-guarded count plus a
// condition variable, with the same wait/try_wait/post/close surface.
package sem

import (
	"context"
	"sync"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/tinfo"
)

// Sem_t is one counting semaphore: count ranges over [0, max] and
// post beyond max fails, matching a named POSIX semaphore's bounded
// value.
type Sem_t struct {
	mu     sync.Mutex
	cond   *sync.Cond
	count  int
	max    int
	closed bool
}

// MkSem constructs a semaphore starting at count, capped at max.
func MkSem(count, max int) (*Sem_t, defs.Err_t) {
	if max < 0 || count < 0 || count > max {
		return nil, -defs.EINVAL
	}
	s := &Sem_t{count: count, max: max}
	s.cond = sync.NewCond(&s.mu)
	return s, 0
}

// Wait blocks until the semaphore's count is nonzero, then decrements
// it. ctx carries the calling thread's Tnote_t; Wait returns EINTR
// when it finds Killed set, on entry or after a wakeup. Setting Killed
// does not itself wake a blocked Wait: that takes a Post or a Close.
func (s *Sem_t) Wait(ctx context.Context) defs.Err_t {
	note := tinfo.Current(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		note.Lock()
		killed := note.Killed
		note.Unlock()
		if killed {
			return -defs.EINTR
		}
		if s.closed {
			return -defs.EINVAL
		}
		if s.count > 0 {
			break
		}
		s.cond.Wait()
	}
	s.count--
	return 0
}

// TryWait decrements the count without blocking, reporting whether it
// was able to.
func (s *Sem_t) TryWait() (bool, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, -defs.EINVAL
	}
	if s.count == 0 {
		return false, 0
	}
	s.count--
	return true, 0
}

// Post increments the count, waking one waiter.
func (s *Sem_t) Post() defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -defs.EINVAL
	}
	if s.count == s.max {
		return -defs.EINVAL
	}
	s.count++
	s.cond.Signal()
	return 0
}

// Close marks the semaphore closed and wakes every waiter, which then
// observe s.closed and return EINVAL.
func (s *Sem_t) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// NSEM bounds the number of live semaphores system-wide, the same way
// the original kernel sizes its fixed SEM_TABLE.
const NSEM = 64

// Table is the system-wide semaphore table indexed by (id - 1); id 0
// is never valid, matching semcreate's 1-based handle convention.
type Table_t struct {
	mu   sync.Mutex
	sems [NSEM]*Sem_t
}

// Create installs a new semaphore with the given initial value in the
// first free slot, returning its 1-based id.
func (t *Table_t) Create(value int) (int, defs.Err_t) {
	s, err := MkSem(value, int(^uint(0)>>1))
	if err != 0 {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, slot := range t.sems {
		if slot == nil {
			t.sems[i] = s
			return i + 1, 0
		}
	}
	return 0, -defs.ENOBUFS
}

// Get resolves an id to its semaphore.
func (t *Table_t) Get(id int) (*Sem_t, defs.Err_t) {
	if id < 1 || id > NSEM {
		return nil, -defs.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sems[id-1]
	if s == nil {
		return nil, -defs.EINVAL
	}
	return s, 0
}

// Close closes and removes the semaphore at id.
func (t *Table_t) Close(id int) defs.Err_t {
	if id < 1 || id > NSEM {
		return -defs.EINVAL
	}
	t.mu.Lock()
	s := t.sems[id-1]
	t.sems[id-1] = nil
	t.mu.Unlock()
	if s == nil {
		return -defs.EINVAL
	}
	s.Close()
	return 0
}
