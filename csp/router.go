package csp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// nexthopTimeout bounds how long a forwarded packet may wait on a link
// driver before the router gives up on it.
const nexthopTimeout = time.Second

// Router consumes the dispatch fifo, delivering packets addressed to this
// node locally and forwarding the rest via the route table. Exactly one
// router task runs per stack.
type Router struct {
	addr   uint8
	fifo   *Fifo
	routes *Table
	log    *zap.SugaredLogger

	// verify is the inbound authentication hook (HMAC/XTEA); nil when the
	// node carries no keys.
	verify func(*Packet) error
	// rdp receives reassembled packets carrying the RDP flag.
	rdp func(*Packet)
	// local receives packets addressed to this node; ownership transfers.
	local func(*Packet)

	noRouteOnce  sync.Once
	nexthopOnce  sync.Once
	authErrOnce  sync.Once
	localDropped sync.Once
}

// NewRouter builds a router over the given fifo and route table. The local
// delivery handler may be nil, in which case local packets are released.
func NewRouter(addr uint8, fifo *Fifo, routes *Table, log *zap.SugaredLogger) *Router {
	return &Router{
		addr:   addr,
		fifo:   fifo,
		routes: routes,
		log:    log.With(zap.String("task", "router")),
	}
}

// Run consumes the fifo until ctx is canceled.
func (m *Router) Run(ctx context.Context) error {
	m.log.Infof("router started, address %d", m.addr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item := <-m.fifo.ch:
			m.process(item.packet, item.iface)
		}
	}
}

func (m *Router) process(p *Packet, ifc Interface) {
	dst := p.ID.Destination

	if dst == m.addr {
		m.deliver(p, ifc)
		return
	}

	route := m.routes.Find(dst)
	if route == nil {
		m.noRouteOnce.Do(func() {
			m.log.Warnf("no route to %d, dropping", dst)
		})
		if ifc != nil {
			ifc.Stats().Drop.Add(1)
		}
		p.Release()
		return
	}

	if err := route.Iface.Nexthop(p, nexthopTimeout); err != nil {
		m.nexthopOnce.Do(func() {
			m.log.Warnf("nexthop %s failed: %v", route.Iface.Name(), err)
		})
		route.Iface.Stats().TxError.Add(1)
		p.Release()
	}
}

func (m *Router) deliver(p *Packet, ifc Interface) {
	if p.ID.Flags&FlagCRC32 != 0 {
		if err := VerifyCRC32(p); err != nil {
			if ifc != nil {
				ifc.Stats().RxError.Add(1)
			}
			p.Release()
			return
		}
	}

	if p.ID.Flags&(FlagHMAC|FlagXTEA) != 0 {
		if m.verify == nil {
			m.authErrOnce.Do(func() {
				m.log.Warnf("authenticated packet received but no keys configured")
			})
			if ifc != nil {
				ifc.Stats().AuthErr.Add(1)
			}
			p.Release()
			return
		}
		if err := m.verify(p); err != nil {
			if ifc != nil {
				ifc.Stats().AuthErr.Add(1)
			}
			p.Release()
			return
		}
	}

	if p.ID.Flags&FlagRDP != 0 && m.rdp != nil {
		m.rdp(p)
		return
	}

	if m.local == nil {
		m.localDropped.Do(func() {
			m.log.Warnf("no local delivery handler installed, dropping")
		})
		p.Release()
		return
	}
	m.local(p)
}
