package ipc

import (
	"testing"
	"time"

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

func writeAll(t *testing.T, w *PipeEnd_t, data []byte) {
	t.Helper()
	var src vm.Fakeubuf_t
	src.Fake_init(data)
	n, err := w.Write(&src)
	require.Zero(t, err)
	require.Equal(t, len(data), n)
}

func TestPipeReadWriteRoundTrip(t *testing.T) {
	freshPhysmem(t)
	rd, wr := MkPipe()

	writeAll(t, wr, []byte("ping"))

	buf := make([]byte, 4)
	var dst vm.Fakeubuf_t
	dst.Fake_init(buf)
	n, err := rd.Read(&dst)
	require.Zero(t, err)
	require.Equal(t, 4, n)
	assert.Equal(t, "ping", string(buf))
}

func TestPipeWriterBlocksWhenFull(t *testing.T) {
	freshPhysmem(t)
	rd, wr := MkPipe()

	big := make([]byte, PIPESZ+1)
	done := make(chan struct{})
	go func() {
		writeAll(t, wr, big)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("a write bigger than the pipe's buffer should not return until drained")
	case <-time.After(20 * time.Millisecond):
	}

	buf := make([]byte, PIPESZ)
	var dst vm.Fakeubuf_t
	dst.Fake_init(buf)
	_, err := rd.Read(&dst)
	require.Zero(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer never unblocked after the reader drained the pipe")
	}
}

func TestPipeReadReturnsEOFAfterWriterCloses(t *testing.T) {
	freshPhysmem(t)
	rd, wr := MkPipe()
	require.Zero(t, wr.Close())

	buf := make([]byte, 16)
	var dst vm.Fakeubuf_t
	dst.Fake_init(buf)
	n, err := rd.Read(&dst)
	require.Zero(t, err)
	assert.Equal(t, 0, n, "reading an empty pipe with no writers left is EOF, not a block")
}

func TestPipeWriteAfterReaderClosesIsEPIPE(t *testing.T) {
	freshPhysmem(t)
	rd, wr := MkPipe()
	require.Zero(t, rd.Close())

	var src vm.Fakeubuf_t
	src.Fake_init([]byte("x"))
	_, err := wr.Write(&src)
	assert.Equal(t, -defs.EPIPE, err)
}
