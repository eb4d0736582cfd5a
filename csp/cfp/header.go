// Package cfp implements the CAN Fragmentation Protocol: CSP packets are
// carried as sequences of 8 byte CAN frames, with the 29 bit extended
// identifier doubling as the fragmentation header.
//
// The identifier is divided into these fields, MSB first:
//
//	src:     5 bits
//	dst:     5 bits
//	type:    1 bit  (0 = BEGIN, 1 = MORE)
//	remain:  8 bits (frames still to come after this one)
//	session: 10 bits
//
// Source and destination match the CSP packet. Remain decrements by one per
// frame so the receiver can detect loss. The session field separates
// concurrent fragmented packets between the same pair of nodes.
package cfp

const (
	hostSize    = 5
	typeSize    = 1
	remainSize  = 8
	sessionSize = 10

	sessionShift = 0
	remainShift  = sessionShift + sessionSize
	typeShift    = remainShift + remainSize
	dstShift     = typeShift + typeSize
	srcShift     = dstShift + hostSize
)

// headerOverhead is the CSP identifier plus length field carried in the
// first frame.
const headerOverhead = 6

// Type distinguishes the first frame of a packet from the rest.
type Type uint8

const (
	Begin Type = 0
	More  Type = 1
)

// Header is the 29 bit CAN identifier.
type Header uint32

// ConnMask selects the source, destination and session bits which together
// identify one fragmentation stream.
const ConnMask Header = (1<<hostSize-1)<<srcShift |
	(1<<hostSize-1)<<dstShift |
	(1<<sessionSize - 1)

// MakeHeader builds a CAN identifier from its fields.
func MakeHeader(src, dst uint8, typ Type, remain uint8, session uint16) Header {
	return Header(src&0x1f)<<srcShift |
		Header(dst&0x1f)<<dstShift |
		Header(typ&0x1)<<typeShift |
		Header(remain)<<remainShift |
		Header(session&(1<<sessionSize-1))<<sessionShift
}

func (h Header) Src() uint8      { return uint8(h>>srcShift) & 0x1f }
func (h Header) Dst() uint8      { return uint8(h>>dstShift) & 0x1f }
func (h Header) Type() Type      { return Type(h>>typeShift) & 0x1 }
func (h Header) Remain() uint8   { return uint8(h >> remainShift) }
func (h Header) Session() uint16 { return uint16(h & (1<<sessionSize - 1)) }
