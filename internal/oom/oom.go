// Package oom implements the out-of-memory notification channel: the
// physical allocator sends on Ch when it cannot satisfy a request,
// and waiters (the page-reclaim daemon, blocked allocators) receive on
// it and reply on Resume once pages have been freed.
package oom

// Ch is notified when the system runs out of memory.
var Ch chan Msg_t = make(chan Msg_t)

// Msg_t is sent on Ch when memory is exhausted.
type Msg_t struct {
	Need   int
	Resume chan bool
}
