package ipc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/ustr"
	"github.com/talus-os/talus/internal/vm"
)

func TestUnixSocketConnectAcceptFullDuplex(t *testing.T) {
	freshPhysmem(t)

	listener := MkUnixSocket()
	require.Zero(t, listener.Bind(fdops.Sabind_t{Isunix: true, Path: ustr.Ustr("/tmp/s")}))
	l, err := listener.Listen(1)
	require.Zero(t, err)

	client := MkUnixSocket()
	accepted := make(chan fdops.Fdops_i, 1)
	go func() {
		conn, _, aerr := l.Accept(nil)
		require.Zero(t, aerr)
		accepted <- conn
	}()

	require.Zero(t, client.Connect(defs.Sainfo_t{Isunix: true, Path: "/tmp/s"}))
	server := (<-accepted).(*UnixSocket_t)

	var src vm.Fakeubuf_t
	src.Fake_init([]byte("hello"))
	n, err := client.Write(&src)
	require.Zero(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	var dst vm.Fakeubuf_t
	dst.Fake_init(buf)
	n, err = server.Read(&dst)
	require.Zero(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	var src2 vm.Fakeubuf_t
	src2.Fake_init([]byte("world"))
	_, err = server.Write(&src2)
	require.Zero(t, err)

	buf2 := make([]byte, 5)
	var dst2 vm.Fakeubuf_t
	dst2.Fake_init(buf2)
	n, err = client.Read(&dst2)
	require.Zero(t, err)
	assert.Equal(t, "world", string(buf2[:n]))
}

func TestUnixSocketConnectWithoutListenerFails(t *testing.T) {
	freshPhysmem(t)
	client := MkUnixSocket()
	err := client.Connect(defs.Sainfo_t{Isunix: true, Path: "/nope"})
	assert.Equal(t, -defs.ENOTCONN, err)
}

func TestUnixSocketDoubleBindSamePathFails(t *testing.T) {
	freshPhysmem(t)
	a := MkUnixSocket()
	require.Zero(t, a.Bind(fdops.Sabind_t{Isunix: true, Path: ustr.Ustr("/tmp/dup")}))
	_, err := a.Listen(1)
	require.Zero(t, err)

	b := MkUnixSocket()
	assert.Equal(t, -defs.EEXIST, b.Bind(fdops.Sabind_t{Isunix: true, Path: ustr.Ustr("/tmp/dup")}))
}
