package hashtable

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/ustr"
)

func TestSetGetDelRoundTrip(t *testing.T) {
	ht := MkHash(4)

	v, inserted := ht.Set(1, "one")
	require.True(t, inserted)
	require.Equal(t, "one", v)
	require.Equal(t, 1, ht.Size())

	got, ok := ht.Get(1)
	require.True(t, ok)
	require.Equal(t, "one", got)

	_, inserted = ht.Set(1, "uno")
	require.False(t, inserted, "Set must refuse to overwrite an existing key")
	got, _ = ht.Get(1)
	require.Equal(t, "one", got, "value from the refused Set must be unchanged")

	ht.Del(1)
	_, ok = ht.Get(1)
	require.False(t, ok)
	require.Equal(t, 0, ht.Size())
}

func TestDelOfMissingKeyPanics(t *testing.T) {
	ht := MkHash(4)
	require.Panics(t, func() { ht.Del(42) })
}

// A single bucket forces every key through the same chain, exercising
// the hash-ordered insert/delete/lookup path across several colliding
// entries.
func TestCollidingKeysShareOneBucket(t *testing.T) {
	ht := MkHash(1)
	for i := 0; i < 20; i++ {
		_, inserted := ht.Set(i, i*i)
		require.True(t, inserted)
	}
	require.Equal(t, 20, ht.Size())
	for i := 0; i < 20; i++ {
		v, ok := ht.Get(i)
		require.True(t, ok)
		require.Equal(t, i*i, v)
	}
	ht.Del(10)
	_, ok := ht.Get(10)
	require.False(t, ok)
	require.Equal(t, 19, ht.Size())
}

func TestUstrAndDevinoKeys(t *testing.T) {
	ht := MkHash(8)

	p1 := ustr.Ustr("/a/b")
	p2 := ustr.Ustr("/a/b") // distinct slice, same contents
	ht.Set(p1, "inode-7")
	v, ok := ht.Get(p2)
	require.True(t, ok)
	require.Equal(t, "inode-7", v)

	d := Devino_t{Dev: 1, Inum: 99}
	ht.Set(d, "cached")
	v, ok = ht.Get(Devino_t{Dev: 1, Inum: 99})
	require.True(t, ok)
	require.Equal(t, "cached", v)
}

func TestIterStopsWhenCallbackReturnsTrue(t *testing.T) {
	ht := MkHash(4)
	ht.Set(1, "a")
	ht.Set(2, "b")
	ht.Set(3, "c")

	seen := 0
	stopped := ht.Iter(func(k, v any) bool {
		seen++
		return seen == 2
	})
	require.True(t, stopped)
	require.Equal(t, 2, seen)
}

func TestElemsReturnsEveryPair(t *testing.T) {
	ht := MkHash(4)
	ht.Set(1, "a")
	ht.Set(2, "b")
	require.Len(t, ht.Elems(), 2)
}

func TestHashOfUnsupportedKeyPanics(t *testing.T) {
	ht := MkHash(4)
	require.Panics(t, func() { ht.Set(3.14, "pi") })
}
