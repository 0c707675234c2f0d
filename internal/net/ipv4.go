package net

import "fmt"

// ipv4HeaderLen is the length of a header-option-free IPv4 header.
const ipv4HeaderLen = 20

// IP is a dotted-quad IPv4 address packed into a uint32, network byte
// order preserved in the integer's value (10.0.2.15 ==
// 0x0a00020f), matching how the teacher's core::net::Ipv4Addr compares
// and how ConnKey hashes a remote address.
type IP uint32

func MakeIP(a, b, c, d byte) IP {
	return IP(uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d))
}

func (ip IP) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

type ipv4Header struct {
	proto    uint8
	ttl      uint8
	src, dst IP
	id       uint16
}

// buildIPv4 constructs an IPv4 packet (header + payload), recomputing
// the header checksum over the freshly built header.
func buildIPv4(h ipv4Header, payload []byte) []byte {
	total := ipv4HeaderLen + len(payload)
	b := make([]byte, total)
	b[0] = 0x45 // version 4, IHL 5
	b[1] = 0
	putBE16(b[2:4], uint16(total))
	putBE16(b[4:6], h.id)
	putBE16(b[6:8], 0) // flags/fragment offset
	b[8] = h.ttl
	b[9] = h.proto
	putBE16(b[10:12], 0) // checksum, filled below
	putBE32(b[12:16], uint32(h.src))
	putBE32(b[16:20], uint32(h.dst))
	copy(b[ipv4HeaderLen:], payload)
	putBE16(b[10:12], checksum(b[:ipv4HeaderLen]))
	return b
}

// parseIPv4 splits an IPv4 packet into its header fields and payload.
func parseIPv4(b []byte) (ipv4Header, []byte, bool) {
	if len(b) < ipv4HeaderLen || b[0]>>4 != 4 {
		return ipv4Header{}, nil, false
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(b) < ihl {
		return ipv4Header{}, nil, false
	}
	h := ipv4Header{
		id:    be16(b[4:6]),
		ttl:   b[8],
		proto: b[9],
		src:   IP(be32(b[12:16])),
		dst:   IP(be32(b[16:20])),
	}
	total := int(be16(b[2:4]))
	if total > len(b) {
		total = len(b)
	}
	return h, b[ihl:total], true
}
