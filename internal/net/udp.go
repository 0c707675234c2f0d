package net

import (
	"sync"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fdops"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/stat"
	"github.com/talus-os/talus/internal/ustr"
)

type udpDatagram struct {
	srcIP   IP
	srcPort uint16
	data    []byte
}

// UdpSocket_t is an AF_INET SOCK_DGRAM descriptor: bind a local port,
// then Sendmsg/Recvmsg exchange whole datagrams, exactly as the
// teacher's own UdpSocket/UdpInner pairs a bound local port with a
// bounded inbox channel.
type UdpSocket_t struct {
	mu        sync.Mutex
	s         *Stack_t
	localPort uint16
	peer      *defs.Sainfo_t
	inbox     chan udpDatagram
}

// MkUdpSocket creates an unbound UDP socket on stack s.
func MkUdpSocket(s *Stack_t) *UdpSocket_t {
	return &UdpSocket_t{s: s, inbox: make(chan udpDatagram, udpQueueDepth)}
}

func (s *Stack_t) allocUdpPort() uint16 {
	s.udpMu.Lock()
	defer s.udpMu.Unlock()
	for i := 0; i < 1<<16; i++ {
		p := s.nextUdpPort
		s.nextUdpPort++
		if s.nextUdpPort == 0 {
			s.nextUdpPort = 49152
		}
		if _, used := s.udpPorts[p]; !used {
			return p
		}
	}
	return 0
}

func (u *UdpSocket_t) Bind(sb fdops.Sabind_t) defs.Err_t {
	if sb.Isunix {
		return -defs.EINVAL
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.localPort != 0 {
		return -defs.EINVAL
	}
	port := sb.Port
	if port == 0 {
		port = u.s.allocUdpPort()
		if port == 0 {
			return -defs.ENOMEM
		}
	}
	u.s.udpMu.Lock()
	defer u.s.udpMu.Unlock()
	if _, used := u.s.udpPorts[port]; used {
		return -defs.EEXIST
	}
	u.s.udpPorts[port] = u
	u.localPort = port
	return 0
}

func (u *UdpSocket_t) Connect(sa defs.Sainfo_t) defs.Err_t {
	if sa.Isunix {
		return -defs.EINVAL
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.peer = &sa
	return 0
}

// deliver is called by the owning Stack_t's handleUDP dispatch when a
// datagram arrives for this socket's port.
func (u *UdpSocket_t) deliver(d udpDatagram) {
	select {
	case u.inbox <- d:
	default:
		// Queue full: drop, matching the teacher's bounded mpmc channel
		// (a full UDP_QUEUE silently drops rather than blocking the
		// network RX path).
	}
}

func (s *Stack_t) handleUDP(h ipv4Header, b []byte) {
	if len(b) < 8 {
		return
	}
	srcPort := be16(b[0:2])
	dstPort := be16(b[2:4])
	length := int(be16(b[4:6]))
	if length > len(b) {
		length = len(b)
	}
	data := b[8:length]

	s.udpMu.Lock()
	sock, ok := s.udpPorts[dstPort]
	s.udpMu.Unlock()
	if !ok {
		return
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	sock.deliver(udpDatagram{srcIP: h.src, srcPort: srcPort, data: payload})
}

func buildUDP(srcPort, dstPort uint16, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	putBE16(b[0:2], srcPort)
	putBE16(b[2:4], dstPort)
	putBE16(b[4:6], uint16(8+len(payload)))
	putBE16(b[6:8], 0) // checksum optional over IPv4
	copy(b[8:], payload)
	return b
}

func (u *UdpSocket_t) Sendmsg(src fdops.Userio_i, toaddr defs.Sainfo_t, cmsg []uint8, flags int) (int, defs.Err_t) {
	u.mu.Lock()
	if u.localPort == 0 {
		u.mu.Unlock()
		if err := u.Bind(fdops.Sabind_t{}); err != 0 {
			return 0, err
		}
		u.mu.Lock()
	}
	dest := toaddr
	if dest.Addr == 0 && dest.Port == 0 && u.peer != nil {
		dest = *u.peer
	}
	localPort := u.localPort
	s := u.s
	u.mu.Unlock()

	buf := make([]byte, src.Remain())
	n, err := src.Uioread(buf)
	if err != 0 {
		return 0, err
	}
	pkt := buildUDP(localPort, dest.Port, buf[:n])
	if !s.sendIPv4(IP(dest.Addr), ipProtoUDP, pkt) {
		return 0, -defs.ENOTCONN
	}
	return n, 0
}

func (u *UdpSocket_t) Recvmsg(dst, fromsa, cmsg fdops.Userio_i, flags int) (int, int, int, defs.Sainfo_t, defs.Err_t) {
	d, ok := <-u.inbox
	if !ok {
		return 0, 0, 0, defs.Sainfo_t{}, -defs.ENOTCONN
	}
	n, err := dst.Uiowrite(d.data)
	sa := defs.Sainfo_t{Addr: uint32(d.srcIP), Port: d.srcPort}
	return n, 0, 0, sa, err
}

func (u *UdpSocket_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	n, _, _, _, err := u.Recvmsg(dst, nil, nil, 0)
	return n, err
}

func (u *UdpSocket_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	return u.Sendmsg(src, defs.Sainfo_t{}, nil, 0)
}

func (u *UdpSocket_t) Pread(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (u *UdpSocket_t) Pwrite(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (u *UdpSocket_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, -defs.EINVAL }

func (u *UdpSocket_t) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wmode(0140000)
	return 0
}
func (u *UdpSocket_t) Truncate(newlen uint) defs.Err_t { return -defs.EINVAL }
func (u *UdpSocket_t) Pathi() defs.Inum_t              { return 0 }
func (u *UdpSocket_t) Fullpath() (ustr.Ustr, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (u *UdpSocket_t) Reopen() defs.Err_t { return 0 }

func (u *UdpSocket_t) Close() defs.Err_t {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.localPort != 0 {
		u.s.udpMu.Lock()
		delete(u.s.udpPorts, u.localPort)
		u.s.udpMu.Unlock()
	}
	return 0
}

func (u *UdpSocket_t) Mmapi(off, pages int, shared bool) ([]mem.Mmapinfo_t, defs.Err_t) {
	return nil, -defs.EINVAL
}
func (u *UdpSocket_t) Unpin(mem.Pa_t) {}

func (u *UdpSocket_t) Poll(pm fdops.Pollmsg_t) (int, defs.Err_t) {
	ready := 0
	if len(u.inbox) > 0 {
		ready |= fdops.POLLIN
	}
	ready |= fdops.POLLOUT
	return ready & pm.Events, 0
}
func (u *UdpSocket_t) Fcntl(cmd, opt int) int { return 0 }

func (u *UdpSocket_t) Accept(fdops.Userio_i) (fdops.Fdops_i, defs.Sainfo_t, defs.Err_t) {
	return nil, defs.Sainfo_t{}, -defs.ENOTCONN
}
func (u *UdpSocket_t) Listen(int) (fdops.Fdops_i, defs.Err_t) { return nil, -defs.ENOTCONN }
func (u *UdpSocket_t) Getsockopt(opt int, bufarg fdops.Userio_i, intarg int) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}
func (u *UdpSocket_t) Setsockopt(level, opt int, bufarg fdops.Userio_i, intarg int) defs.Err_t {
	return -defs.EINVAL
}
func (u *UdpSocket_t) Shutdown(read, write bool) defs.Err_t { return 0 }
