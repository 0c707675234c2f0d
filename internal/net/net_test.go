package net

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/vm"
)

func freshPhysmem(t *testing.T) {
	t.Helper()
	config.Active = config.Default()
	mem.Phys_init()
}

// loopLink delivers frames synchronously to its peer's HandleFrame,
// standing in for the loopback carrier stack.go's own doc comment
// anticipates a test wiring two Stack_t instances over.
type loopLink struct {
	peer *Stack_t
}

func (l *loopLink) Send(frame []byte) error {
	cp := append([]byte(nil), frame...)
	l.peer.HandleFrame(cp)
	return nil
}

func wireLoopback(a, b *Stack_t) {
	a.SetLink(&loopLink{peer: b})
	b.SetLink(&loopLink{peer: a})
}

func mustFakeRead(t *testing.T, n int) (*vm.Fakeubuf_t, []byte) {
	t.Helper()
	buf := make([]byte, n)
	var fb vm.Fakeubuf_t
	fb.Fake_init(buf)
	return &fb, buf
}

func TestUDPSendReceiveAcrossStacks(t *testing.T) {
	freshPhysmem(t)

	serverIP := MakeIP(10, 0, 2, 15)
	clientIP := MakeIP(10, 0, 2, 2)
	server := NewStack(MAC{0, 1, 2, 3, 4, 5}, serverIP, MakeIP(255, 255, 255, 0), serverIP)
	client := NewStack(MAC{0, 1, 2, 3, 4, 6}, clientIP, MakeIP(255, 255, 255, 0), serverIP)
	wireLoopback(server, client)

	srv := MkUdpSocket(server)
	require.Zero(t, srv.Bind(fdops.Sabind_t{Port: 5000}))

	cli := MkUdpSocket(client)
	var src vm.Fakeubuf_t
	src.Fake_init([]byte("ping"))

	n, err := cli.Sendmsg(&src, defs.Sainfo_t{Addr: uint32(serverIP), Port: 5000}, nil, 0)
	require.Zero(t, err)
	require.Equal(t, 4, n)

	dst, buf := mustFakeRead(t, 4)
	rn, _, _, from, rerr := srv.Recvmsg(dst, nil, nil, 0)
	require.Zero(t, rerr)
	require.Equal(t, 4, rn)
	assert.Equal(t, "ping", string(buf))
	assert.Equal(t, uint32(clientIP), from.Addr)
}

func TestTCPLoopbackEcho(t *testing.T) {
	freshPhysmem(t)

	serverIP := MakeIP(10, 0, 2, 15)
	clientIP := MakeIP(10, 0, 2, 2)
	server := NewStack(MAC{0, 1, 2, 3, 4, 5}, serverIP, MakeIP(255, 255, 255, 0), serverIP)
	client := NewStack(MAC{0, 1, 2, 3, 4, 6}, clientIP, MakeIP(255, 255, 255, 0), serverIP)
	wireLoopback(server, client)

	listenSock := MkTcpSocket(server)
	require.Zero(t, listenSock.Bind(fdops.Sabind_t{Port: 5000}))
	l, err := listenSock.Listen(1)
	require.Zero(t, err)
	listener := l.(*TcpListener_t)

	accepted := make(chan *TcpSocket_t, 1)
	go func() {
		c, _, aerr := listener.Accept(nil)
		require.Zero(t, aerr)
		accepted <- c.(*TcpSocket_t)
	}()

	clientSock := MkTcpSocket(client)
	cerr := clientSock.Connect(defs.Sainfo_t{Addr: uint32(serverIP), Port: 5000})
	require.Zero(t, cerr)

	var serverSock *TcpSocket_t
	select {
	case serverSock = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("accept never completed the handshake")
	}

	var src vm.Fakeubuf_t
	src.Fake_init([]byte("ping"))
	n, werr := clientSock.Write(&src)
	require.Zero(t, werr)
	require.Equal(t, 4, n)

	dst, buf := mustFakeRead(t, 4)
	rn, rerr := serverSock.Read(dst)
	require.Zero(t, rerr)
	require.Equal(t, 4, rn)
	assert.Equal(t, "ping", string(buf))
}

func TestTCPDoubleBindFails(t *testing.T) {
	freshPhysmem(t)
	s := NewStack(MAC{0, 1, 2, 3, 4, 5}, MakeIP(10, 0, 2, 15), MakeIP(255, 255, 255, 0), MakeIP(10, 0, 2, 15))

	sock := MkTcpSocket(s)
	require.Zero(t, sock.Bind(fdops.Sabind_t{Port: 5000}))
	assert.Equal(t, -defs.EINVAL, sock.Bind(fdops.Sabind_t{Port: 5001}), "a socket may only be bound once")
}

func TestTCPWriteAfterCloseFails(t *testing.T) {
	freshPhysmem(t)
	s := NewStack(MAC{0, 1, 2, 3, 4, 5}, MakeIP(10, 0, 2, 15), MakeIP(255, 255, 255, 0), MakeIP(10, 0, 2, 15))

	sock := MkTcpSocket(s)
	require.Zero(t, sock.Close())

	var src vm.Fakeubuf_t
	src.Fake_init([]byte("x"))
	_, err := sock.Write(&src)
	assert.Equal(t, -defs.ENOTCONN, err)
}
