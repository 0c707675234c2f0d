package net

import (
	"sync"

	"github.com/talus-os/talus/internal/circbuf"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/stat"
	"github.com/talus-os/talus/internal/ustr"
)

const (
	tcpFlagFIN = 1 << 0
	tcpFlagSYN = 1 << 1
	tcpFlagRST = 1 << 2
	tcpFlagACK = 1 << 4
)

const tcpHeaderLen = 20

// TcpState enumerates the connection states this stack models. Per
// original_source/crates/kernel/src/net.rs's TcpState, out-of-order
// segments are never buffered for later delivery -- a segment whose
// sequence number does not match rcv_nxt is simply dropped and relies
// on the peer's retransmit, so there is no TIME_WAIT/CLOSING/FIN_WAIT
// bookkeeping to model either.
type TcpState int

const (
	Closed TcpState = iota
	SynSent
	SynReceived
	Established
)

type connKey struct {
	remoteIP   IP
	remotePort uint16
	localPort  uint16
}

type tcpHeader struct {
	srcPort, dstPort uint16
	seq, ack         uint32
	flags            uint8
	window           uint16
}

func buildTCP(src, dst IP, h tcpHeader, payload []byte) []byte {
	seg := make([]byte, tcpHeaderLen+len(payload))
	putBE16(seg[0:2], h.srcPort)
	putBE16(seg[2:4], h.dstPort)
	putBE32(seg[4:8], h.seq)
	putBE32(seg[8:12], h.ack)
	seg[12] = 5 << 4
	seg[13] = h.flags
	putBE16(seg[14:16], h.window)
	putBE16(seg[16:18], 0)
	putBE16(seg[18:20], 0)
	copy(seg[tcpHeaderLen:], payload)
	putBE16(seg[16:18], tcpChecksum(src, dst, seg))
	return seg
}

func parseTCP(b []byte) (tcpHeader, []byte, bool) {
	if len(b) < tcpHeaderLen {
		return tcpHeader{}, nil, false
	}
	doff := int(b[12]>>4) * 4
	if doff < tcpHeaderLen || len(b) < doff {
		return tcpHeader{}, nil, false
	}
	h := tcpHeader{
		srcPort: be16(b[0:2]),
		dstPort: be16(b[2:4]),
		seq:     be32(b[4:8]),
		ack:     be32(b[8:12]),
		flags:   b[13],
		window:  be16(b[14:16]),
	}
	return h, b[doff:], true
}

// TcpListener_t is a bound, listening TCP socket; Accept yields
// connections as their three-way handshake completes.
type TcpListener_t struct {
	s         *Stack_t
	localPort uint16
	backlog   chan *TcpSocket_t
}

// TcpSocket_t is one TCP connection's control block: send/receive
// sequence state plus a circbuf receive window, grounded on
// original_source/crates/kernel/src/net.rs's TcpSocket and on
// internal/circbuf's two-segment Rawwrite API for placing data in the
// receive buffer (Read drains it with Copyout).
type TcpSocket_t struct {
	mu    sync.Mutex
	cond  *sync.Cond
	s     *Stack_t
	key   connKey
	state TcpState

	listener *TcpListener_t // set while still completing a passive open

	sndNxt uint32
	rcvNxt uint32

	recv       circbuf.Circbuf_t
	peerClosed bool
	localClose bool
}

// MkTcpSocket creates an unconnected socket for either an active open
// (Connect) or a passive open (Bind then Listen).
func MkTcpSocket(s *Stack_t) *TcpSocket_t {
	t := &TcpSocket_t{s: s}
	t.cond = sync.NewCond(&t.mu)
	t.recv.Cb_init(tcpRecvBufferSize, mem.Physmem)
	return t
}

func (s *Stack_t) allocTcpPort() uint16 {
	s.tcpMu.Lock()
	defer s.tcpMu.Unlock()
	for i := 0; i < 1<<16; i++ {
		p := s.nextTcpPort
		s.nextTcpPort++
		if s.nextTcpPort == 0 {
			s.nextTcpPort = 49152
		}
		if _, used := s.tcpListeners[p]; used {
			continue
		}
		taken := false
		for k := range s.tcpConns {
			if k.localPort == p {
				taken = true
				break
			}
		}
		if !taken {
			return p
		}
	}
	return 0
}

func (t *TcpSocket_t) Bind(sb fdops.Sabind_t) defs.Err_t {
	if sb.Isunix {
		return -defs.EINVAL
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.key.localPort != 0 {
		return -defs.EINVAL
	}
	port := sb.Port
	if port == 0 {
		port = t.s.allocTcpPort()
	}
	t.key.localPort = port
	return 0
}

// Listen converts a bound socket into a passive-open listener,
// registered in the stack's listener table so inbound SYNs find it.
func (t *TcpSocket_t) Listen(backlog int) (fdops.Fdops_i, defs.Err_t) {
	t.mu.Lock()
	port := t.key.localPort
	t.mu.Unlock()
	if port == 0 {
		return nil, -defs.EINVAL
	}
	if backlog <= 0 || backlog > tcpBacklogMax {
		backlog = tcpBacklogMax
	}
	l := &TcpListener_t{s: t.s, localPort: port, backlog: make(chan *TcpSocket_t, backlog)}
	t.s.tcpMu.Lock()
	t.s.tcpListeners[port] = l
	t.s.tcpMu.Unlock()
	return l, 0
}

// Connect performs an active open: send SYN, wait for the handshake to
// complete (or for the peer to refuse/not respond, bounded by a
// retry count since this is a lossless simulated segment).
func (t *TcpSocket_t) Connect(sa defs.Sainfo_t) defs.Err_t {
	if sa.Isunix {
		return -defs.EINVAL
	}
	t.mu.Lock()
	if t.key.localPort == 0 {
		t.mu.Unlock()
		if err := t.Bind(fdops.Sabind_t{}); err != 0 {
			return err
		}
		t.mu.Lock()
	}
	t.key.remoteIP = IP(sa.Addr)
	t.key.remotePort = sa.Port
	t.state = SynSent
	t.sndNxt = 1
	key := t.key
	t.mu.Unlock()

	t.s.tcpMu.Lock()
	t.s.tcpConns[key] = t
	t.s.tcpMu.Unlock()

	seg := buildTCP(t.s.ip, key.remoteIP, tcpHeader{
		srcPort: key.localPort, dstPort: key.remotePort,
		seq: 0, flags: tcpFlagSYN, window: tcpRecvBufferSize,
	}, nil)
	if !t.s.sendIPv4(key.remoteIP, ipProtoTCP, seg) {
		return -defs.ENOTCONN
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for tries := 0; tries < 64 && t.state == SynSent; tries++ {
		t.cond.Wait()
	}
	if t.state != Established {
		return -defs.ENOTCONN
	}
	return 0
}

// input processes one inbound segment addressed to this connection.
func (t *TcpSocket_t) input(h tcpHeader, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h.flags&tcpFlagRST != 0 {
		t.state = Closed
		t.peerClosed = true
		t.cond.Broadcast()
		return
	}

	switch t.state {
	case SynSent:
		if h.flags&tcpFlagSYN != 0 && h.flags&tcpFlagACK != 0 {
			t.rcvNxt = h.seq + 1
			t.state = Established
			ack := buildTCP(t.s.ip, t.key.remoteIP, tcpHeader{
				srcPort: t.key.localPort, dstPort: t.key.remotePort,
				seq: t.sndNxt, ack: t.rcvNxt, flags: tcpFlagACK, window: tcpRecvBufferSize,
			}, nil)
			t.s.sendIPv4(t.key.remoteIP, ipProtoTCP, ack)
			t.cond.Broadcast()
		}
		return
	case SynReceived:
		if h.flags&tcpFlagACK != 0 && h.seq == t.rcvNxt {
			t.state = Established
			if t.listener != nil {
				select {
				case t.listener.backlog <- t:
				default:
				}
				t.listener = nil
			}
			t.cond.Broadcast()
		}
		return
	case Established:
		if h.seq != t.rcvNxt {
			// Out-of-order: dropped, not buffered. The peer's
			// retransmit timer is responsible for recovery.
			return
		}
		if len(payload) > 0 {
			if t.recv.Left() < len(payload) {
				return
			}
			r1, r2 := t.recv.Rawwrite(0, len(payload))
			n := copy(r1, payload)
			if r2 != nil {
				n += copy(r2, payload[n:])
			}
			t.recv.Advhead(n)
			t.rcvNxt += uint32(n)
			t.cond.Broadcast()
			ack := buildTCP(t.s.ip, t.key.remoteIP, tcpHeader{
				srcPort: t.key.localPort, dstPort: t.key.remotePort,
				seq: t.sndNxt, ack: t.rcvNxt, flags: tcpFlagACK, window: tcpRecvBufferSize,
			}, nil)
			t.s.sendIPv4(t.key.remoteIP, ipProtoTCP, ack)
		}
		if h.flags&tcpFlagFIN != 0 {
			t.rcvNxt++
			t.peerClosed = true
			ack := buildTCP(t.s.ip, t.key.remoteIP, tcpHeader{
				srcPort: t.key.localPort, dstPort: t.key.remotePort,
				seq: t.sndNxt, ack: t.rcvNxt, flags: tcpFlagACK, window: tcpRecvBufferSize,
			}, nil)
			t.s.sendIPv4(t.key.remoteIP, ipProtoTCP, ack)
			t.cond.Broadcast()
		}
	}
}

func (s *Stack_t) handleTCP(h ipv4Header, b []byte) {
	th, payload, ok := parseTCP(b)
	if !ok {
		return
	}
	key := connKey{remoteIP: h.src, remotePort: th.srcPort, localPort: th.dstPort}

	s.tcpMu.Lock()
	conn, exists := s.tcpConns[key]
	s.tcpMu.Unlock()
	if exists {
		conn.input(th, payload)
		return
	}

	if th.flags&tcpFlagSYN == 0 {
		return
	}
	s.tcpMu.Lock()
	l, ok := s.tcpListeners[th.dstPort]
	s.tcpMu.Unlock()
	if !ok {
		return
	}

	nc := MkTcpSocket(s)
	nc.key = key
	nc.state = SynReceived
	nc.rcvNxt = th.seq + 1
	nc.sndNxt = 1
	nc.listener = l
	s.tcpMu.Lock()
	s.tcpConns[key] = nc
	s.tcpMu.Unlock()

	synack := buildTCP(s.ip, key.remoteIP, tcpHeader{
		srcPort: th.dstPort, dstPort: th.srcPort,
		seq: 0, ack: nc.rcvNxt, flags: tcpFlagSYN | tcpFlagACK, window: tcpRecvBufferSize,
	}, nil)
	s.sendIPv4(key.remoteIP, ipProtoTCP, synack)
}

func (l *TcpListener_t) Accept(fdops.Userio_i) (fdops.Fdops_i, defs.Sainfo_t, defs.Err_t) {
	c, ok := <-l.backlog
	if !ok {
		return nil, defs.Sainfo_t{}, -defs.ENOTCONN
	}
	sa := defs.Sainfo_t{Addr: uint32(c.key.remoteIP), Port: c.key.remotePort}
	return c, sa, 0
}

func (l *TcpListener_t) Close() defs.Err_t {
	l.s.tcpMu.Lock()
	delete(l.s.tcpListeners, l.localPort)
	l.s.tcpMu.Unlock()
	close(l.backlog)
	return 0
}

func (l *TcpListener_t) Poll(pm fdops.Pollmsg_t) (int, defs.Err_t) {
	ready := 0
	if len(l.backlog) > 0 {
		ready |= fdops.POLLIN
	}
	return ready & pm.Events, 0
}

func (l *TcpListener_t) Read(fdops.Userio_i) (int, defs.Err_t)  { return 0, -defs.EINVAL }
func (l *TcpListener_t) Write(fdops.Userio_i) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (l *TcpListener_t) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (l *TcpListener_t) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (l *TcpListener_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (l *TcpListener_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(0140000)
	return 0
}
func (l *TcpListener_t) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }
func (l *TcpListener_t) Pathi() defs.Inum_t              { return 0 }
func (l *TcpListener_t) Fullpath() (ustr.Ustr, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (l *TcpListener_t) Reopen() defs.Err_t { return 0 }
func (l *TcpListener_t) Mmapi(off, pages int, shared bool) ([]mem.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (l *TcpListener_t) Unpin(mem.Pa_t)         {}
func (l *TcpListener_t) Fcntl(cmd, opt int) int { return 0 }
func (l *TcpListener_t) Bind(fdops.Sabind_t) defs.Err_t   { return -defs.EINVAL }
func (l *TcpListener_t) Connect(defs.Sainfo_t) defs.Err_t { return -defs.EINVAL }
func (l *TcpListener_t) Listen(int) (fdops.Fdops_i, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (l *TcpListener_t) Sendmsg(fdops.Userio_i, defs.Sainfo_t, []uint8, int) (int, defs.Err_t) {
	return 0, -defs.ENOTCONN
}
func (l *TcpListener_t) Recvmsg(fdops.Userio_i, fdops.Userio_i, fdops.Userio_i, int) (int, int, int, defs.Sainfo_t, defs.Err_t) {
	return 0, 0, 0, defs.Sainfo_t{}, -defs.ENOTCONN
}
func (l *TcpListener_t) Getsockopt(int, fdops.Userio_i, int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (l *TcpListener_t) Setsockopt(int, int, fdops.Userio_i, int) defs.Err_t {
	return -defs.EINVAL
}
func (l *TcpListener_t) Shutdown(read, write bool) defs.Err_t { return 0 }

func (t *TcpSocket_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.recv.Empty() && !t.peerClosed {
		t.cond.Wait()
	}
	if t.recv.Empty() && t.peerClosed {
		return 0, 0
	}
	n, err := t.recv.Copyout(dst)
	return n, err
}

func (t *TcpSocket_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	t.mu.Lock()
	if t.state != Established {
		t.mu.Unlock()
		return 0, -defs.ENOTCONN
	}
	key := t.key
	seq := t.sndNxt
	ack := t.rcvNxt
	t.mu.Unlock()

	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	for off := 0; off < n; off += MSS {
		end := off + MSS
		if end > n {
			end = n
		}
		chunk := buf[off:end]
		seg := buildTCP(t.s.ip, key.remoteIP, tcpHeader{
			srcPort: key.localPort, dstPort: key.remotePort,
			seq: seq + uint32(off), ack: ack, flags: tcpFlagACK, window: tcpRecvBufferSize,
		}, chunk)
		t.s.sendIPv4(key.remoteIP, ipProtoTCP, seg)
	}
	t.mu.Lock()
	t.sndNxt += uint32(n)
	t.mu.Unlock()
	return n, 0
}

func (t *TcpSocket_t) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (t *TcpSocket_t) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (t *TcpSocket_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (t *TcpSocket_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(0140000)
	return 0
}
func (t *TcpSocket_t) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }
func (t *TcpSocket_t) Pathi() defs.Inum_t              { return 0 }
func (t *TcpSocket_t) Fullpath() (ustr.Ustr, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (t *TcpSocket_t) Reopen() defs.Err_t { return 0 }

func (t *TcpSocket_t) Close() defs.Err_t {
	t.mu.Lock()
	key := t.key
	seq := t.sndNxt
	ack := t.rcvNxt
	wasEstablished := t.state == Established
	t.state = Closed
	t.localClose = true
	t.cond.Broadcast()
	t.mu.Unlock()

	if wasEstablished {
		fin := buildTCP(t.s.ip, key.remoteIP, tcpHeader{
			srcPort: key.localPort, dstPort: key.remotePort,
			seq: seq, ack: ack, flags: tcpFlagFIN | tcpFlagACK, window: tcpRecvBufferSize,
		}, nil)
		t.s.sendIPv4(key.remoteIP, ipProtoTCP, fin)
	}
	t.s.tcpMu.Lock()
	delete(t.s.tcpConns, key)
	t.s.tcpMu.Unlock()
	t.recv.Cb_release()
	return 0
}

func (t *TcpSocket_t) Mmapi(off, pages int, shared bool) ([]mem.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (t *TcpSocket_t) Unpin(mem.Pa_t) {}

func (t *TcpSocket_t) Poll(pm fdops.Pollmsg_t) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ready int
	if !t.recv.Empty() || t.peerClosed {
		ready |= fdops.POLLIN
	}
	if t.state == Established {
		ready |= fdops.POLLOUT
	}
	if t.state == Closed {
		ready |= fdops.POLLHUP
	}
	return ready & pm.Events, 0
}
func (t *TcpSocket_t) Fcntl(cmd, opt int) int { return 0 }

func (t *TcpSocket_t) Accept(fdops.Userio_i) (fdops.Fdops_i, defs.Sainfo_t, defs.Err_t) {
	return nil, defs.Sainfo_t{}, -defs.ENOTCONN
}
func (t *TcpSocket_t) Sendmsg(src fdops.Userio_i, toaddr defs.Sainfo_t, cmsg []uint8, flags int) (int, defs.Err_t) {
	return t.Write(src)
}
func (t *TcpSocket_t) Recvmsg(dst, fromsa, cmsg fdops.Userio_i, flags int) (int, int, int, defs.Sainfo_t, defs.Err_t) {
	n, err := t.Read(dst)
	sa := defs.Sainfo_t{Addr: uint32(t.key.remoteIP), Port: t.key.remotePort}
	return n, 0, 0, sa, err
}
func (t *TcpSocket_t) Getsockopt(opt int, bufarg fdops.Userio_i, intarg int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (t *TcpSocket_t) Setsockopt(level, opt int, bufarg fdops.Userio_i, intarg int) defs.Err_t {
	return -defs.EINVAL
}
func (t *TcpSocket_t) Shutdown(read, write bool) defs.Err_t {
	if write {
		return t.Close()
	}
	return 0
}
