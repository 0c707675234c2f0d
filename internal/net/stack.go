package net

import (
	"sync"
)

// Link_i carries raw Ethernet frames to and from a stack's simulated
// network segment. internal/net/net_test.go wires two Stack_t
// instances together with an in-memory loopback Link_i; a real build
// would implement it over a virtio-net-style device queue instead.
type Link_i interface {
	Send(frame []byte) error
}

type arpEntry struct {
	ip    IP
	mac   MAC
	valid bool
}

// Stack_t is one network interface: an Ethernet/IPv4 address pair, a
// bounded ARP cache, and the UDP/TCP socket tables bound to its local
// address. Grounded on original_source/crates/kernel/src/net.rs's
// NetStack plus its UDP_PORTS/TCP_LISTENERS/TCP_CONNS tables, collapsed
// into one struct per stack instance instead of four package-level
// globals so a test can run two independent stacks in one process.
type Stack_t struct {
	mu      sync.Mutex
	mac     MAC
	ip      IP
	netmask IP
	gateway IP
	link    Link_i
	arp     [arpTableSize]arpEntry
	arpCond *sync.Cond

	udpMu       sync.Mutex
	udpPorts    map[uint16]*UdpSocket_t
	nextUdpPort uint16

	tcpMu        sync.Mutex
	tcpListeners map[uint16]*TcpListener_t
	tcpConns     map[connKey]*TcpSocket_t
	nextTcpPort  uint16
}

// NewStack creates an interface with the given address configuration.
// Call SetLink before sending any traffic.
func NewStack(mac MAC, ip, netmask, gateway IP) *Stack_t {
	s := &Stack_t{
		mac:          mac,
		ip:           ip,
		netmask:      netmask,
		gateway:      gateway,
		udpPorts:     map[uint16]*UdpSocket_t{},
		tcpListeners: map[uint16]*TcpListener_t{},
		tcpConns:     map[connKey]*TcpSocket_t{},
		nextUdpPort:  49152,
		nextTcpPort:  49152,
	}
	s.arpCond = sync.NewCond(&s.mu)
	return s
}

// SetLink attaches the carrier this stack sends frames over.
func (s *Stack_t) SetLink(link Link_i) {
	s.mu.Lock()
	s.link = link
	s.mu.Unlock()
}

// LocalIP returns the stack's configured address.
func (s *Stack_t) LocalIP() IP { return s.ip }

func (s *Stack_t) onSameSubnet(dst IP) bool {
	return uint32(dst)&uint32(s.netmask) == uint32(s.ip)&uint32(s.netmask)
}

// HandleFrame processes one inbound Ethernet frame, satisfying spec.md
// §4.9's "received frames are demultiplexed by ethertype, then by IP
// protocol, then by port."
func (s *Stack_t) HandleFrame(frame []byte) {
	_, _, ethertype, payload, ok := parseEthHeader(frame)
	if !ok {
		return
	}
	switch ethertype {
	case ethertypeARP:
		s.handleARP(payload)
	case ethertypeIPv4:
		s.handleIPv4(payload)
	}
}

func (s *Stack_t) handleARP(b []byte) {
	pkt, ok := parseARP(b)
	if !ok {
		return
	}
	s.learnARP(pkt.senderIP, pkt.senderMAC)
	if pkt.op == arpRequest && IP(pkt.targetIP) == s.ip {
		s.mu.Lock()
		link := s.link
		reply := buildARP(arpReply, s.mac, uint32(s.ip), pkt.senderMAC, pkt.senderIP)
		frame := buildEthHeader(pkt.senderMAC, s.mac, ethertypeARP, reply)
		s.mu.Unlock()
		if link != nil {
			link.Send(frame)
		}
	}
}

func (s *Stack_t) learnARP(ip uint32, mac MAC) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.arp {
		if s.arp[i].valid && s.arp[i].ip == IP(ip) {
			s.arp[i].mac = mac
			s.arpCond.Broadcast()
			return
		}
	}
	for i := range s.arp {
		if !s.arp[i].valid {
			s.arp[i] = arpEntry{ip: IP(ip), mac: mac, valid: true}
			s.arpCond.Broadcast()
			return
		}
	}
	// Table full: overwrite the first slot, the same "no real LRU"
	// tradeoff the teacher's fixed ARP_TABLE_SIZE array makes.
	s.arp[0] = arpEntry{ip: IP(ip), mac: mac, valid: true}
	s.arpCond.Broadcast()
}

func (s *Stack_t) lookupARP(ip IP) (MAC, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.arp {
		if e.valid && e.ip == ip {
			return e.mac, true
		}
	}
	return MAC{}, false
}

// resolveARP resolves ip to a MAC address, broadcasting a request and
// waiting (bounded by a small number of retries, since this is a
// simulated segment with no real packet loss to cause a genuine
// timeout) if it is not already cached.
func (s *Stack_t) resolveARP(ip IP) (MAC, bool) {
	if mac, ok := s.lookupARP(ip); ok {
		return mac, true
	}
	s.mu.Lock()
	link := s.link
	req := buildARP(arpRequest, s.mac, uint32(s.ip), MAC{}, uint32(ip))
	frame := buildEthHeader(broadcastMAC, s.mac, ethertypeARP, req)
	s.mu.Unlock()
	if link == nil {
		return MAC{}, false
	}
	link.Send(frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	for tries := 0; tries < 64; tries++ {
		for _, e := range s.arp {
			if e.valid && e.ip == ip {
				return e.mac, true
			}
		}
		s.arpCond.Wait()
	}
	return MAC{}, false
}

// nextHop returns the MAC address a packet for dst should be sent to:
// dst's own MAC if it is on-link, otherwise the gateway's.
func (s *Stack_t) nextHop(dst IP) (MAC, bool) {
	target := dst
	if !s.onSameSubnet(dst) {
		target = s.gateway
	}
	return s.resolveARP(target)
}

// sendIPv4 wraps payload in an IPv4 packet addressed to dst and an
// Ethernet frame addressed to the resolved next hop.
func (s *Stack_t) sendIPv4(dst IP, proto uint8, payload []byte) bool {
	mac, ok := s.nextHop(dst)
	if !ok {
		return false
	}
	s.mu.Lock()
	pkt := buildIPv4(ipv4Header{proto: proto, ttl: defaultTTL, src: s.ip, dst: dst}, payload)
	frame := buildEthHeader(mac, s.mac, ethertypeIPv4, pkt)
	link := s.link
	s.mu.Unlock()
	if link == nil {
		return false
	}
	return link.Send(frame) == nil
}

func (s *Stack_t) handleIPv4(b []byte) {
	h, payload, ok := parseIPv4(b)
	if !ok || h.dst != s.ip {
		return
	}
	switch h.proto {
	case ipProtoUDP:
		s.handleUDP(h, payload)
	case ipProtoTCP:
		s.handleTCP(h, payload)
	}
}
