package net

import "fmt"

// MAC is a 6-byte Ethernet hardware address.
type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

var broadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

const ethHeaderLen = 14

// buildEthHeader prepends a 14-byte Ethernet header to payload.
func buildEthHeader(dst, src MAC, ethertype uint16, payload []byte) []byte {
	frame := make([]byte, ethHeaderLen+len(payload))
	copy(frame[0:6], dst[:])
	copy(frame[6:12], src[:])
	putBE16(frame[12:14], ethertype)
	copy(frame[ethHeaderLen:], payload)
	return frame
}

// parseEthHeader splits frame into (dst, src, ethertype, payload).
func parseEthHeader(frame []byte) (dst, src MAC, ethertype uint16, payload []byte, ok bool) {
	if len(frame) < ethHeaderLen {
		return MAC{}, MAC{}, 0, nil, false
	}
	copy(dst[:], frame[0:6])
	copy(src[:], frame[6:12])
	ethertype = be16(frame[12:14])
	payload = frame[ethHeaderLen:]
	return dst, src, ethertype, payload, true
}

// arpOp enumerates ARP opcodes.
type arpOp uint16

const (
	arpRequest arpOp = 1
	arpReply   arpOp = 2
)

const arpPacketLen = 28

// buildARP constructs a minimal Ethernet/IPv4 ARP packet body.
func buildARP(op arpOp, senderMAC MAC, senderIP uint32, targetMAC MAC, targetIP uint32) []byte {
	b := make([]byte, arpPacketLen)
	putBE16(b[0:2], 1)      // htype: Ethernet
	putBE16(b[2:4], ethertypeIPv4)
	b[4] = 6 // hlen
	b[5] = 4 // plen
	putBE16(b[6:8], uint16(op))
	copy(b[8:14], senderMAC[:])
	putBE32(b[14:18], senderIP)
	copy(b[18:24], targetMAC[:])
	putBE32(b[24:28], targetIP)
	return b
}

type arpPacket struct {
	op                 arpOp
	senderMAC          MAC
	senderIP, targetIP uint32
	targetMAC          MAC
}

func parseARP(b []byte) (arpPacket, bool) {
	if len(b) < arpPacketLen {
		return arpPacket{}, false
	}
	var p arpPacket
	p.op = arpOp(be16(b[6:8]))
	copy(p.senderMAC[:], b[8:14])
	p.senderIP = be32(b[14:18])
	copy(p.targetMAC[:], b[18:24])
	p.targetIP = be32(b[24:28])
	return p, true
}
