package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fd"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/stat"
	"github.com/talus-os/talus/internal/ustr"
	"github.com/talus-os/talus/internal/vm"
)

func mkfs(t *testing.T) (*fd.Cwd_t, *Fs_t) {
	t.Helper()
	disk := NewMemDisk()
	return mkfsOnDisk(t, disk)
}

// mkfsOnDisk mounts/formats over a caller-supplied disk instead of a
// fresh MemDisk_t, so a test can simulate a reboot by reopening the
// same backing bytes after a crash.
func mkfsOnDisk(t *testing.T, disk Disk_i) (*fd.Cwd_t, *Fs_t) {
	t.Helper()
	config.Active = config.Default()
	mem.Phys_init()
	cwd, fsys, err := StartFS(DefaultBlockmem(), disk, 64, 32, 256)
	require.Zero(t, err)
	return cwd, fsys
}

func writeFile(t *testing.T, fsys *Fs_t, cwd *fd.Cwd_t, path string, data []byte) {
	t.Helper()
	fdo, err := fsys.Fs_open(ustr.Ustr(path), defs.O_CREAT|defs.O_RDWR, 0644, cwd, 0, 0)
	require.Zero(t, err)
	var src vm.Fakeubuf_t
	src.Fake_init(data)
	n, werr := fdo.Fops.Write(&src)
	require.Zero(t, werr)
	require.Equal(t, len(data), n)
	require.Zero(t, fdo.Fops.Close())
}

func readFile(t *testing.T, fsys *Fs_t, cwd *fd.Cwd_t, path string, n int) []byte {
	t.Helper()
	fdo, err := fsys.Fs_open(ustr.Ustr(path), defs.O_RDONLY, 0, cwd, 0, 0)
	require.Zero(t, err)
	buf := make([]byte, n)
	var dst vm.Fakeubuf_t
	dst.Fake_init(buf)
	rn, rerr := fdo.Fops.Read(&dst)
	require.Zero(t, rerr)
	require.Equal(t, n, rn)
	require.Zero(t, fdo.Fops.Close())
	return buf
}

func TestWriteFsyncReadRoundTrip(t *testing.T) {
	cwd, fsys := mkfs(t)

	writeFile(t, fsys, cwd, "/hello", []byte("hello, disk"))
	require.Zero(t, fsys.Fs_sync())

	got := readFile(t, fsys, cwd, "/hello", len("hello, disk"))
	assert.Equal(t, "hello, disk", string(got))
}

func TestCreateExclOnExistingFileFails(t *testing.T) {
	cwd, fsys := mkfs(t)

	writeFile(t, fsys, cwd, "/a", []byte("x"))
	_, err := fsys.Fs_open(ustr.Ustr("/a"), defs.O_CREAT|defs.O_EXCL|defs.O_RDWR, 0644, cwd, 0, 0)
	assert.Equal(t, -defs.EEXIST, err)
}

func TestMkdirAndLookupNestedFile(t *testing.T) {
	cwd, fsys := mkfs(t)

	require.Zero(t, fsys.Fs_mkdir(ustr.Ustr("/dir"), 0755, cwd))
	writeFile(t, fsys, cwd, "/dir/nested", []byte("deep"))

	got := readFile(t, fsys, cwd, "/dir/nested", 4)
	assert.Equal(t, "deep", string(got))

	var st stat.Stat_t
	require.Zero(t, fsys.Fs_stat(ustr.Ustr("/dir"), &st, cwd))
}

func TestUnlinkRemovesDirectoryEntry(t *testing.T) {
	cwd, fsys := mkfs(t)

	writeFile(t, fsys, cwd, "/gone", []byte("x"))
	require.Zero(t, fsys.Fs_unlink(ustr.Ustr("/gone"), cwd, false))

	_, err := fsys.Fs_open(ustr.Ustr("/gone"), defs.O_RDONLY, 0, cwd, 0, 0)
	assert.Equal(t, -defs.ENOENT, err)
}

func TestRenameMovesFileAtomically(t *testing.T) {
	cwd, fsys := mkfs(t)

	writeFile(t, fsys, cwd, "/old", []byte("moved"))
	require.Zero(t, fsys.Fs_rename(ustr.Ustr("/old"), ustr.Ustr("/new"), cwd))

	_, err := fsys.Fs_open(ustr.Ustr("/old"), defs.O_RDONLY, 0, cwd, 0, 0)
	assert.Equal(t, -defs.ENOENT, err)

	got := readFile(t, fsys, cwd, "/new", 5)
	assert.Equal(t, "moved", string(got))
}

func TestTruncateOnOpenShrinksExistingFile(t *testing.T) {
	cwd, fsys := mkfs(t)

	writeFile(t, fsys, cwd, "/big", []byte("0123456789"))
	fdo, err := fsys.Fs_open(ustr.Ustr("/big"), defs.O_RDWR|defs.O_TRUNC, 0644, cwd, 0, 0)
	require.Zero(t, err)
	require.Zero(t, fdo.Fops.Close())

	var st stat.Stat_t
	require.Zero(t, fsys.Fs_stat(ustr.Ustr("/big"), &st, cwd))
	assert.EqualValues(t, 0, st.Size(), "O_TRUNC open must leave the file empty")
}
