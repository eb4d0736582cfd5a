package csp

import "encoding/binary"

// The CSP identifier is a packed 32 bit field carried in network byte order
// at the front of every packet:
//
//	priority:  2 bits
//	source:    5 bits
//	dest:      5 bits
//	dport:     6 bits
//	sport:     6 bits
//	flags:     8 bits (upper 4 reserved)
const (
	prioSize  = 2
	hostSize  = 5
	portSize  = 6
	flagsSize = 8

	flagsShift = 0
	sportShift = flagsShift + flagsSize
	dportShift = sportShift + portSize
	dstShift   = dportShift + portSize
	srcShift   = dstShift + hostSize
	prioShift  = srcShift + hostSize
)

const (
	// HeaderLength is the on-wire size of the packed identifier.
	HeaderLength = 4

	// AddrMax is the highest assignable node address.
	AddrMax = 31

	// NodeMAC is the "use packet destination" sentinel for route via
	// addresses, doubling as the broadcast destination.
	NodeMAC uint8 = 255

	// PortAny matches any port when binding.
	PortAny uint8 = 63
)

// Packet priorities.
const (
	PrioCritical uint8 = 0
	PrioHigh     uint8 = 1
	PrioNorm     uint8 = 2
	PrioLow      uint8 = 3
)

// Flags is the low byte of the identifier. The upper nibble is reserved and
// preserved across codec round trips but never interpreted.
type Flags uint8

const (
	FlagCRC32 Flags = 0x01
	FlagRDP   Flags = 0x02
	FlagXTEA  Flags = 0x04
	FlagHMAC  Flags = 0x08
)

// ID is the unpacked CSP identifier.
type ID struct {
	Priority    uint8
	Source      uint8
	Destination uint8
	DestPort    uint8
	SourcePort  uint8
	Flags       Flags
}

// Pack packs the identifier into its 32 bit wire representation.
func (id ID) Pack() uint32 {
	return uint32(id.Priority&0x3)<<prioShift |
		uint32(id.Source&0x1f)<<srcShift |
		uint32(id.Destination&0x1f)<<dstShift |
		uint32(id.DestPort&0x3f)<<dportShift |
		uint32(id.SourcePort&0x3f)<<sportShift |
		uint32(id.Flags)<<flagsShift
}

// UnpackID unpacks a 32 bit host-order identifier.
func UnpackID(v uint32) ID {
	return ID{
		Priority:    uint8(v>>prioShift) & 0x3,
		Source:      uint8(v>>srcShift) & 0x1f,
		Destination: uint8(v>>dstShift) & 0x1f,
		DestPort:    uint8(v>>dportShift) & 0x3f,
		SourcePort:  uint8(v>>sportShift) & 0x3f,
		Flags:       Flags(v >> flagsShift),
	}
}

// PutID writes the identifier into b in network byte order. b must be at
// least HeaderLength bytes.
func PutID(b []byte, id ID) {
	binary.BigEndian.PutUint32(b, id.Pack())
}

// GetID reads a network byte order identifier from b.
func GetID(b []byte) ID {
	return UnpackID(binary.BigEndian.Uint32(b))
}
