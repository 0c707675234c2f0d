// Package net implements the hosted network stack spec.md §4.9 calls
// for: Ethernet framing, ARP resolution, IPv4, and UDP/DGRAM and TCP/
// STREAM sockets. Grounded on original_source/crates/kernel/src/net.rs
// for the concrete layering (one NetStack_t per "interface," a fixed
// ARP table, per-port socket tables) and TCP state machine (Closed ->
// SynSent/SynReceived -> Established), and on internal/circbuf's
// two-segment Rawwrite API for the TCP receive buffer (sends are not
// buffered).
// There is no virtio-net device under this hosted kernel, so Link_i
// stands in for the teacher's virtio_net driver: a Link_i is anything
// that can carry raw Ethernet frames, and tests wire two Stack_t
// instances together with an in-memory loopback Link_i instead of a
// virtual NIC.
package net

import "encoding/binary"

const (
	ethertypeARP  = 0x0806
	ethertypeIPv4 = 0x0800
)

const (
	ipProtoICMP = 1
	ipProtoTCP  = 6
	ipProtoUDP  = 17
)

// MSS bounds a single TCP segment's payload, matching the teacher's own
// constant; kept small so tests can exercise multi-segment sends
// without moving megabytes of data.
const MSS = 512

// defaultTTL is stamped into every IPv4 packet this stack originates.
const defaultTTL = 64

// arpTableSize bounds the number of resolved (IP, MAC) pairs cached per
// stack.
const arpTableSize = 16

// udpQueue/tcpQueue/tcpBacklogMax bound per-socket queue depths,
// mirroring the teacher's own UDP_QUEUE/TCP_QUEUE/TCP_BACKLOG_MAX.
const (
	udpQueueDepth     = 32
	tcpBacklogMax     = 16
	tcpRecvBufferSize = 4096
)

func be16(b []byte) uint16       { return binary.BigEndian.Uint16(b) }
func putBE16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func be32(b []byte) uint32       { return binary.BigEndian.Uint32(b) }
func putBE32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
