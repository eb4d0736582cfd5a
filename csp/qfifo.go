package csp

// fifoItem pairs a received packet with its ingress interface for the
// router.
type fifoItem struct {
	packet *Packet
	iface  Interface
}

// Fifo is the bounded dispatch queue feeding the router task. All link
// receivers produce into it; exactly one router consumes. It is FIFO across
// producers, so the router sees packets in Write order.
type Fifo struct {
	ch chan fifoItem
}

func NewFifo(depth int) *Fifo {
	if depth <= 0 {
		depth = 1
	}
	return &Fifo{ch: make(chan fifoItem, depth)}
}

// Write enqueues a received packet for routing, taking ownership. If the
// queue is full the packet is dropped, returned to its pool and the
// interface drop counter incremented. Never blocks.
func (m *Fifo) Write(p *Packet, ifc Interface) error {
	select {
	case m.ch <- fifoItem{packet: p, iface: ifc}:
		if ifc != nil {
			ifc.Stats().Rx.Add(1)
			ifc.Stats().RxBytes.Add(uint64(p.Length()))
		}
		return nil
	default:
		if ifc != nil {
			ifc.Stats().Drop.Add(1)
		}
		p.Release()
		return ErrNoBufs
	}
}

// Len returns the number of queued packets.
func (m *Fifo) Len() int {
	return len(m.ch)
}
