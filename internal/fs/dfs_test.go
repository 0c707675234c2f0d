package fs

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/net"
	"github.com/talus-os/talus/internal/ustr"
	"github.com/talus-os/talus/internal/vm"
)

func TestIsRemotePathMatchesDfsPrefixOnly(t *testing.T) {
	assert.True(t, IsRemotePath(ustr.Ustr("/dfs")))
	assert.True(t, IsRemotePath(ustr.Ustr("/dfs/a/b")))
	assert.False(t, IsRemotePath(ustr.Ustr("/dfsx")), "must not match a path that merely has /dfs as a prefix of a longer component")
	assert.False(t, IsRemotePath(ustr.Ustr("/local/dfs")))
}

func TestRemotePathStripsPrefix(t *testing.T) {
	root, err := remotePath(ustr.Ustr("/dfs"))
	require.Zero(t, err)
	assert.Equal(t, "/", root)

	sub, err := remotePath(ustr.Ustr("/dfs/a/b"))
	require.Zero(t, err)
	assert.Equal(t, "/a/b", sub)

	_, err = remotePath(ustr.Ustr("/local"))
	assert.Equal(t, -defs.EINVAL, err)
}

func TestDfsReqMarshalsFixedHeader(t *testing.T) {
	req := dfsReq{op: dfsOpMkdir, flags: 0x11223344, handle: 7, length: 42, aux: 9}
	b := req.marshal()
	require.Len(t, b, dfsReqLen)
	assert.Equal(t, uint32(dfsMagic), binary.LittleEndian.Uint32(b[0:4]))
	assert.Equal(t, uint16(dfsOpMkdir), binary.LittleEndian.Uint16(b[4:6]))
	assert.Equal(t, req.flags, binary.LittleEndian.Uint32(b[8:12]))
	assert.Equal(t, req.handle, binary.LittleEndian.Uint32(b[12:16]))
	assert.Equal(t, req.length, binary.LittleEndian.Uint32(b[16:20]))
}

func TestUnmarshalDfsRespRejectsBadMagicAndShortBuffers(t *testing.T) {
	_, ok := unmarshalDfsResp(make([]byte, 4))
	assert.False(t, ok, "a frame shorter than dfsRespLen must be rejected")

	bad := make([]byte, dfsRespLen)
	binary.LittleEndian.PutUint32(bad[0:4], 0xdeadbeef)
	_, ok = unmarshalDfsResp(bad)
	assert.False(t, ok, "a frame with the wrong magic must be rejected")

	good := make([]byte, dfsRespLen)
	binary.LittleEndian.PutUint32(good[0:4], dfsMagic)
	binary.LittleEndian.PutUint32(good[4:8], 0xffffffff) // status -1
	binary.LittleEndian.PutUint32(good[8:12], 5)
	binary.LittleEndian.PutUint32(good[12:16], 3)
	resp, ok := unmarshalDfsResp(good)
	require.True(t, ok)
	assert.Equal(t, int32(-1), resp.status)
	assert.Equal(t, uint32(5), resp.handle)
	assert.Equal(t, uint32(3), resp.length)
}

func TestRemotePathStripsDfsPrefixFromLinkPath(t *testing.T) {
	linkr, err := remotePath(ustr.Ustr("/dfs/link"))
	require.Zero(t, err)
	assert.Equal(t, "/link", linkr)
}

// fakeDfsLink delivers frames synchronously to its peer's HandleFrame, the
// same loopback carrier internal/net's own tests wire two Stack_t instances
// over.
type fakeDfsLink struct{ peer *net.Stack_t }

func (l *fakeDfsLink) Send(frame []byte) error {
	cp := append([]byte(nil), frame...)
	l.peer.HandleFrame(cp)
	return nil
}

// TestDfsClientMkdirRoundTripsOverLoopback drives a Dfs_t.Mkdir call against
// a minimal fake dfs_server speaking the same wire framing: two Stack_t
// instances linked synchronously (mirroring internal/net's own loopback
// tests), a real TCP accept/connect handshake, and a hand-decoded request
// header read back on the server side to confirm the client put the right
// bytes on the wire and can parse the matching response.
func TestDfsClientMkdirRoundTripsOverLoopback(t *testing.T) {
	config.Active = config.Default()
	mem.Phys_init()

	serverIP := net.MakeIP(10, 0, 2, 15)
	clientIP := net.MakeIP(10, 0, 2, 2)
	server := net.NewStack(net.MAC{0, 1, 2, 3, 4, 5}, serverIP, net.MakeIP(255, 255, 255, 0), serverIP)
	client := net.NewStack(net.MAC{0, 1, 2, 3, 4, 6}, clientIP, net.MakeIP(255, 255, 255, 0), serverIP)
	server.SetLink(&fakeDfsLink{peer: client})
	client.SetLink(&fakeDfsLink{peer: server})

	listenSock := net.MkTcpSocket(server)
	require.Zero(t, listenSock.Bind(fdops.Sabind_t{Port: 7000}))
	l, lerr := listenSock.Listen(1)
	require.Zero(t, lerr)
	listener := l.(*net.TcpListener_t)

	accepted := make(chan *net.TcpSocket_t, 1)
	go func() {
		c, _, aerr := listener.Accept(nil)
		require.Zero(t, aerr)
		accepted <- c.(*net.TcpSocket_t)
	}()

	d := NewDfs(client, serverIP, 7000)
	result := make(chan defs.Err_t, 1)
	go func() { result <- d.Mkdir(ustr.Ustr("/dfs/newdir")) }()

	var serverSock *net.TcpSocket_t
	select {
	case serverSock = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("accept never completed the handshake")
	}

	hdr := readN(t, serverSock, dfsReqLen)
	assert.Equal(t, uint32(dfsMagic), binary.LittleEndian.Uint32(hdr[0:4]))
	assert.Equal(t, uint16(dfsOpMkdir), binary.LittleEndian.Uint16(hdr[4:6]))
	reqLen := binary.LittleEndian.Uint32(hdr[16:20])

	_ = readN(t, serverSock, 4) // aux word

	path := readN(t, serverSock, int(reqLen))
	assert.Equal(t, "/newdir", string(path))

	resp := make([]byte, dfsRespLen)
	binary.LittleEndian.PutUint32(resp[0:4], dfsMagic)
	binary.LittleEndian.PutUint32(resp[4:8], 0)
	binary.LittleEndian.PutUint32(resp[8:12], 0)
	binary.LittleEndian.PutUint32(resp[12:16], 0)
	writeAll(t, serverSock, resp)

	select {
	case err := <-result:
		require.Zero(t, err)
	case <-time.After(time.Second):
		t.Fatal("client Mkdir call never returned")
	}
}

// readN blocks sock.Read until exactly n bytes have arrived, the same
// short-read-tolerant loop Dfs_t's own recvAll uses.
func readN(t *testing.T, sock *net.TcpSocket_t, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	got := 0
	for got < n {
		var fb vm.Fakeubuf_t
		fb.Fake_init(buf[got:])
		read, err := sock.Read(&fb)
		require.Zero(t, err)
		require.NotZero(t, read)
		got += read
	}
	return buf
}

func writeAll(t *testing.T, sock *net.TcpSocket_t, buf []byte) {
	t.Helper()
	var fb vm.Fakeubuf_t
	fb.Fake_init(buf)
	for fb.Remain() > 0 {
		_, err := sock.Write(&fb)
		require.Zero(t, err)
	}
}
