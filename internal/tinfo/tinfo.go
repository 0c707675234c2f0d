// Package tinfo tracks per-thread kernel state: whether a thread is
// alive, whether it has been marked killed or doomed, and the channel
// used to wake a thread blocked in an interruptible sleep.
//
// The teacher's implementation stashes the current thread's note in a
// runtime-reserved register via a patched Go runtime (runtime.Gptr /
// runtime.Setgptr). Stock Go has no such hook, so here the "current
// thread" is carried explicitly on a context.Context instead of
// recovered from goroutine-local storage: a caller attaches its Tnote_t
// with WithNote (internal/trap does so for semwait).
package tinfo

import (
	"context"
	"sync"

	"github.com/talus-os/talus/internal/defs"
)

// Tnote_t stores per-thread state used by the scheduler.
type Tnote_t struct {
	State    any
	Alive    bool
	Killed   bool
	Isdoomed bool
	// protects Killed, Killnaps.Cond and Kerr, and is a leaf lock
	sync.Mutex
	Killnaps struct {
		Killch chan bool
		Cond   *sync.Cond
		Kerr   defs.Err_t
	}
}

// Doomed reports whether the thread is marked as doomed.
func (t *Tnote_t) Doomed() bool {
	return t.Isdoomed
}

// Threadinfo_t tracks all thread notes belonging to a process.
type Threadinfo_t struct {
	Notes map[defs.Tid_t]*Tnote_t
	sync.Mutex
}

// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

type noteKey_t struct{}

// WithNote returns a context carrying n as the current thread's note.
func WithNote(ctx context.Context, n *Tnote_t) context.Context {
	return context.WithValue(ctx, noteKey_t{}, n)
}

// Current returns the thread note carried by ctx.
func Current(ctx context.Context) *Tnote_t {
	n, ok := ctx.Value(noteKey_t{}).(*Tnote_t)
	if !ok {
		panic("no current thread note on context")
	}
	return n
}
