package csp

import "sync/atomic"

// Packet is one CSP network-layer message. Data always aliases the packet's
// backing storage, so Resize never allocates; transports read and extend it
// in place. A packet is owned by exactly one component at a time and is
// returned to its pool with Release (or Pool.Free) when that component is
// done with it.
type Packet struct {
	ID   ID
	Data []byte

	storage []byte
	pool    *Pool
	pooled  atomic.Bool
}

// NewPacket allocates a standalone packet with the given payload capacity,
// outside any pool. Release on such a packet is a no-op; it is reclaimed by
// the garbage collector. Intended for application transmit paths and tests.
func NewPacket(capacity int) *Packet {
	storage := make([]byte, capacity)
	return &Packet{
		Data:    storage[:0],
		storage: storage,
	}
}

// Length returns the payload length in bytes.
func (p *Packet) Length() int {
	return len(p.Data)
}

// Capacity returns the payload capacity of the backing storage.
func (p *Packet) Capacity() int {
	return len(p.storage)
}

// Resize sets the payload length without touching the contents. Returns
// ErrInval if n exceeds the backing storage.
func (p *Packet) Resize(n int) error {
	if n < 0 || n > len(p.storage) {
		return ErrInval
	}
	p.Data = p.storage[:n]
	return nil
}

// Release returns the packet to its pool. Safe to call on a nil packet and
// on packets allocated with NewPacket.
func (p *Packet) Release() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Free(p)
}
