package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/mem"
)

func freshPhysmem(t *testing.T) {
	t.Helper()
	config.Active = config.Default()
	mem.Phys_init()
}

func TestForkIsCopyOnWrite(t *testing.T) {
	freshPhysmem(t)

	parent, err := NewAddrspace()
	require.Zero(t, err)
	_, err = parent.Sbrk(mem.PGSIZE)
	require.Zero(t, err)

	err = parent.Userwriten(HeapBase, 8, 0xaaaa)
	require.Zero(t, err)

	child, err := parent.Fork()
	require.Zero(t, err)

	v, err := child.Userreadn(HeapBase, 8)
	require.Zero(t, err)
	require.Equal(t, 0xaaaa, v, "child should see the parent's data through the shared COW page")

	err = child.Userwriten(HeapBase, 8, 0xbbbb)
	require.Zero(t, err)

	pv, err := parent.Userreadn(HeapBase, 8)
	require.Zero(t, err)
	require.Equal(t, 0xaaaa, pv, "parent's page must be unaffected by the child's write")

	cv, err := child.Userreadn(HeapBase, 8)
	require.Zero(t, err)
	require.Equal(t, 0xbbbb, cv)
}

func TestSbrkGrowAndShrink(t *testing.T) {
	freshPhysmem(t)

	as, err := NewAddrspace()
	require.Zero(t, err)

	old, err := as.Sbrk(mem.PGSIZE * 2)
	require.Zero(t, err)
	require.Equal(t, 0, old)
	require.Equal(t, mem.PGSIZE*2, as.Sz)

	err = as.Userwriten(HeapBase+mem.PGSIZE, 8, 1)
	require.Zero(t, err, "writing into a just-grown page must succeed")

	_, err = as.Sbrk(-mem.PGSIZE)
	require.Zero(t, err)
	require.Equal(t, mem.PGSIZE, as.Sz)
}

func TestMmapAnonIsolatedFromHeap(t *testing.T) {
	freshPhysmem(t)

	as, err := NewAddrspace()
	require.Zero(t, err)

	va, err := as.MmapAnon(mem.PGSIZE, mem.Pa_t(PTE_U|PTE_R|PTE_W), false)
	require.Zero(t, err)
	require.Less(t, va, Trampoline)

	err = as.Userwriten(va, 8, 0xcafe)
	require.Zero(t, err)

	recs, err := as.Munmap(va, mem.PGSIZE)
	require.Zero(t, err)
	require.Empty(t, recs, "a private anonymous mapping has nothing to write back")
}
