package csp

import (
	"encoding/binary"
	"hash/crc32"
)

// The CRC32 trailer uses the standard IEEE polynomial (0xEDB88320) computed
// over the packed identifier in network byte order followed by the payload,
// and travels in network byte order after the payload.

// Checksum computes the trailer value for an identifier and payload
// without touching a packet, for framers that produce the trailer straight
// into their output stream.
func Checksum(id ID, payload []byte) uint32 {
	return packetChecksum(id, payload)
}

func packetChecksum(id ID, payload []byte) uint32 {
	h := crc32.NewIEEE()
	var hdr [HeaderLength]byte
	PutID(hdr[:], id)
	h.Write(hdr[:])
	h.Write(payload)
	return h.Sum32()
}

// AppendCRC32 sets the CRC32 flag and appends the checksum trailer to the
// payload. Returns ErrInval if the trailer does not fit in the packet's
// backing storage.
func AppendCRC32(p *Packet) error {
	n := p.Length()
	if err := p.Resize(n + 4); err != nil {
		return err
	}

	p.ID.Flags |= FlagCRC32
	crc := packetChecksum(p.ID, p.Data[:n])
	binary.BigEndian.PutUint32(p.Data[n:], crc)
	return nil
}

// VerifyCRC32 checks and strips the checksum trailer, clearing the CRC32
// flag on success. Returns ErrInval on a packet too short to carry a
// trailer and ErrCRC32 on mismatch, leaving the packet untouched.
func VerifyCRC32(p *Packet) error {
	n := p.Length()
	if n < 4 {
		return ErrInval
	}

	want := binary.BigEndian.Uint32(p.Data[n-4:])
	if packetChecksum(p.ID, p.Data[:n-4]) != want {
		return ErrCRC32
	}

	p.Data = p.Data[:n-4]
	p.ID.Flags &^= FlagCRC32
	return nil
}
