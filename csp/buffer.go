package csp

import "time"

// Pool is the fixed-count, fixed-size packet buffer pool. Slots are never
// split or coalesced; every Get hands out one whole slot, zeroed. Drivers,
// the router and the application all allocate from the same pool, so both
// entry points are safe for concurrent use. TryGet never blocks and is the
// variant for driver receive paths that must not stall the link.
type Pool struct {
	slots    chan *Packet
	slotSize int
	count    int
}

// NewPool pre-allocates count slots of slotSize payload bytes each.
func NewPool(count, slotSize int) (*Pool, error) {
	if count <= 0 || slotSize <= 0 {
		return nil, ErrInval
	}

	m := &Pool{
		slots:    make(chan *Packet, count),
		slotSize: slotSize,
		count:    count,
	}
	for i := 0; i < count; i++ {
		storage := make([]byte, slotSize)
		p := &Packet{
			Data:    storage[:0],
			storage: storage,
			pool:    m,
		}
		p.pooled.Store(true)
		m.slots <- p
	}
	return m, nil
}

// SlotSize returns the payload capacity of one slot.
func (m *Pool) SlotSize() int { return m.slotSize }

// Count returns the total number of slots.
func (m *Pool) Count() int { return m.count }

// Get acquires a zeroed slot with capacity of at least size bytes, blocking
// until one is free or the timeout elapses. Returns ErrInval if size exceeds
// the slot size and ErrTimedout if the wait elapses.
func (m *Pool) Get(size int, timeout time.Duration) (*Packet, error) {
	if size < 0 || size > m.slotSize {
		return nil, ErrInval
	}

	select {
	case p := <-m.slots:
		return m.checkout(p), nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p := <-m.slots:
		return m.checkout(p), nil
	case <-timer.C:
		return nil, ErrTimedout
	}
}

// TryGet is the non-blocking acquire. Returns ErrNoBufs when the pool is
// exhausted. It never suspends and may be called from any receive context.
func (m *Pool) TryGet(size int) (*Packet, error) {
	if size < 0 || size > m.slotSize {
		return nil, ErrInval
	}

	select {
	case p := <-m.slots:
		return m.checkout(p), nil
	default:
		return nil, ErrNoBufs
	}
}

func (m *Pool) checkout(p *Packet) *Packet {
	p.pooled.Store(false)
	p.ID = ID{}
	clear(p.storage)
	p.Data = p.storage[:0]
	return p
}

// Free returns p to the pool. Safe against nil and against packets that do
// not belong to this pool; a second Free of the same packet is ignored.
func (m *Pool) Free(p *Packet) {
	if p == nil || p.pool != m {
		return
	}
	if !p.pooled.CompareAndSwap(false, true) {
		return
	}
	m.slots <- p
}
