// Package hashtable implements a sharded hash table with a lock-free
// Get: each bucket is a singly-linked, hash-ordered chain updated with
// atomic pointer stores so that readers never need the bucket lock.
// internal/fs uses it for the (dev, inum) inode cache.
package hashtable

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/talus-os/talus/internal/ustr"
)

type elem_t struct {
	key     any
	value   any
	keyHash uint32
	next    *elem_t
}

type bucket_t struct {
	sync.RWMutex
	first *elem_t
}

func (b *bucket_t) len() int {
	b.RLock()
	defer b.RUnlock()
	l := 0
	for e := b.first; e != nil; e = e.next {
		l++
	}
	return l
}

func (b *bucket_t) elems() []Pair_t {
	b.RLock()
	defer b.RUnlock()
	p := make([]Pair_t, 0)
	for e := b.first; e != nil; e = e.next {
		p = append(p, Pair_t{Key: e.key, Value: e.value})
	}
	return p
}

// Hashtable_t maps keys of a fixed, supported type to values.
type Hashtable_t struct {
	table    []*bucket_t
	capacity int
	maxchain int
}

// Pair_t is a key/value tuple returned by Elems.
type Pair_t struct {
	Key   any
	Value any
}

// MkHash allocates a new Hashtable_t with the given bucket count.
func MkHash(size int) *Hashtable_t {
	ht := &Hashtable_t{capacity: size, maxchain: 1}
	ht.table = make([]*bucket_t, size)
	for i := range ht.table {
		ht.table[i] = &bucket_t{}
	}
	return ht
}

// String renders the bucket chains, for debugging.
func (ht *Hashtable_t) String() string {
	s := ""
	for i, b := range ht.table {
		if b.first != nil {
			s += fmt.Sprintf("b %d:\n", i)
			for e := b.first; e != nil; e = loadptr(&e.next) {
				s += fmt.Sprintf("(%v, %v), ", e.keyHash, e.key)
			}
			s += "\n"
		}
	}
	return s
}

// Size returns the total number of elements stored.
func (ht *Hashtable_t) Size() int {
	n := 0
	for _, b := range ht.table {
		n += b.len()
	}
	return n
}

// Elems returns all key/value pairs currently stored.
func (ht *Hashtable_t) Elems() []Pair_t {
	p := make([]Pair_t, 0)
	for _, b := range ht.table {
		p = append(p, b.elems()...)
	}
	return p
}

// Get looks up key without taking any lock.
func (ht *Hashtable_t) Get(key any) (any, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	n := 0
	for e := loadptr(&b.first); e != nil; e = loadptr(&e.next) {
		if e.keyHash == kh && equal(e.key, key) {
			return e.value, true
		}
		n++
		if n > ht.maxchain {
			ht.maxchain = n
		}
	}
	return nil, false
}

// Set inserts a key/value pair, keeping buckets hash-ordered. It
// returns false without modifying the table if the key already exists.
func (ht *Hashtable_t) Set(key, value any) (any, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()

	add := func(last *elem_t) {
		if last == nil {
			n := &elem_t{key: key, value: value, keyHash: kh, next: b.first}
			storeptr(&b.first, n)
		} else {
			n := &elem_t{key: key, value: value, keyHash: kh, next: last.next}
			storeptr(&last.next, n)
		}
	}

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && equal(e.key, key) {
			return e.value, false
		}
		if kh < e.keyHash {
			add(last)
			return value, true
		}
		last = e
	}
	add(last)
	return value, true
}

// Del removes key; it panics if the key is not present, mirroring the
// teacher's "del is never speculative" contract.
func (ht *Hashtable_t) Del(key any) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && equal(e.key, key) {
			if last == nil {
				storeptr(&b.first, e.next)
			} else {
				storeptr(&last.next, e.next)
			}
			return
		}
		last = e
	}
	panic("del of non-existing key")
}

// Iter applies f to every key/value pair until f returns true.
func (ht *Hashtable_t) Iter(f func(any, any) bool) bool {
	for _, b := range ht.table {
		b.RLock()
		for e := b.first; e != nil; e = e.next {
			if f(e.key, e.value) {
				b.RUnlock()
				return true
			}
		}
		b.RUnlock()
	}
	return false
}

func (ht *Hashtable_t) hash(keyHash uint32) int {
	return int(keyHash % uint32(len(ht.table)))
}

func loadptr(e **elem_t) *elem_t {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(e))
	p := atomic.LoadPointer(ptr)
	return (*elem_t)(p)
}

func storeptr(p **elem_t, n *elem_t) {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(p))
	atomic.StorePointer(ptr, unsafe.Pointer(n))
}

func hashUstr(s ustr.Ustr) uint32 {
	h := fnv.New32a()
	h.Write(s)
	return h.Sum32()
}

func hashString(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// Devino_t is the (device, inode number) pair key used by the fs
// package's inode cache.
type Devino_t struct {
	Dev  int
	Inum int
}

func khash(key any) uint32 {
	return uint32(2654435761) * hash(key)
}

func hash(key any) uint32 {
	switch x := key.(type) {
	case ustr.Ustr:
		return hashUstr(x)
	case int:
		return uint32(x)
	case int32:
		return uint32(x)
	case string:
		return hashString(x)
	case Devino_t:
		return uint32(x.Dev)*31 + uint32(x.Inum)
	}
	panic(fmt.Errorf("unsupported key type %T", key))
}

func equal(key1, key2 any) bool {
	switch x := key1.(type) {
	case ustr.Ustr:
		return x.Eq(key2.(ustr.Ustr))
	case int32:
		return x == key2.(int32)
	case int:
		return x == key2.(int)
	case string:
		return x == key2.(string)
	case Devino_t:
		return x == key2.(Devino_t)
	}
	panic(fmt.Errorf("unsupported key type %T", key1))
}
