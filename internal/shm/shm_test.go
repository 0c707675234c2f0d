package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/vm"
)

func freshPhysmem(t *testing.T) {
	t.Helper()
	config.Active = config.Default()
	mem.Phys_init()
}

func TestCreateAttachIsVisibleAcrossAddressSpaces(t *testing.T) {
	freshPhysmem(t)

	var table Table_t
	id, err := table.Create(mem.PGSIZE)
	require.Zero(t, err)

	as1, err := vm.NewAddrspace()
	require.Zero(t, err)
	as2, err := vm.NewAddrspace()
	require.Zero(t, err)

	perms := mem.Pa_t(vm.PTE_U | vm.PTE_R | vm.PTE_W)
	va1, err := table.Attach(as1, id, perms)
	require.Zero(t, err)
	va2, err := table.Attach(as2, id, perms)
	require.Zero(t, err)

	require.Zero(t, as1.Userwriten(va1, 8, 0x1234))
	got, err := as2.Userreadn(va2, 8)
	require.Zero(t, err)
	assert.Equal(t, 0x1234, got, "a write through one attachment must be visible through the other")
}

func TestDestroyFreesOnceEveryAttachmentDetaches(t *testing.T) {
	freshPhysmem(t)

	var table Table_t
	id, err := table.Create(mem.PGSIZE)
	require.Zero(t, err)

	as, err := vm.NewAddrspace()
	require.Zero(t, err)
	perms := mem.Pa_t(vm.PTE_U | vm.PTE_R | vm.PTE_W)
	va, err := table.Attach(as, id, perms)
	require.Zero(t, err)

	require.Zero(t, table.Destroy(id))
	_, err = table.Attach(as, id, perms)
	assert.Equal(t, -defs.ENOENT, err, "a destroyed id must not be attachable again")

	err = Detach(as, va, mem.PGSIZE)
	require.Zero(t, err, "detaching the surviving attachment must still succeed")
}

func TestCreateRejectsOversizedSegment(t *testing.T) {
	freshPhysmem(t)
	var table Table_t
	_, err := table.Create((MaxSegPages + 1) * mem.PGSIZE)
	assert.Equal(t, -defs.EINVAL, err)
}
