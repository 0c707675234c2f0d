package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefcountSymmetry(t *testing.T) {
	Phys_init()

	_, pa, ok := Physmem.Refpg_new()
	require.True(t, ok, "fresh boot should have pages available")

	Physmem.Refup(pa)
	assert.Equal(t, 1, Physmem.Refcnt(pa))
	Physmem.Refup(pa)
	assert.Equal(t, 2, Physmem.Refcnt(pa))

	freed := Physmem.Refdown(pa)
	assert.False(t, freed, "two refs up, one ref down should not free the page")
	assert.Equal(t, 1, Physmem.Refcnt(pa))

	freed = Physmem.Refdown(pa)
	assert.True(t, freed, "the last reference down should report the page freed")
}

func TestRefpgNewZeroesThePage(t *testing.T) {
	Phys_init()

	pg, pa, ok := Physmem.Refpg_new_nozero()
	require.True(t, ok)
	Physmem.Refup(pa)
	for i := range pg {
		pg[i] = 0xff
	}
	Physmem.Refdown(pa)

	pg2, _, ok := Physmem.Refpg_new()
	require.True(t, ok)
	for i := range pg2 {
		require.Zero(t, pg2[i], "Refpg_new must hand back a zeroed page")
	}
}

func TestAvailTracksAllocation(t *testing.T) {
	Phys_init()

	before := Physmem.Avail()
	_, pa, ok := Physmem.Refpg_new()
	require.True(t, ok)
	Physmem.Refup(pa)
	assert.Equal(t, before-1, Physmem.Avail())

	Physmem.Refdown(pa)
	assert.Equal(t, before, Physmem.Avail())
}

func TestDmapRoundTrip(t *testing.T) {
	Phys_init()

	_, pa, ok := Physmem.Refpg_new()
	require.True(t, ok)
	Physmem.Refup(pa)
	defer Physmem.Refdown(pa)

	b := Physmem.Dmap8(pa)
	b[0] = 0x42
	b[PGSIZE-1] = 0x24

	b2 := Physmem.Dmap8(pa)
	assert.Equal(t, uint8(0x42), b2[0], "Dmap8 views the same backing arena on every call")
	assert.Equal(t, uint8(0x24), b2[PGSIZE-1])
}
