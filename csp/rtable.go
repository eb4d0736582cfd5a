package csp

import "sync"

// RouteDefault installs or looks up the fallback route.
const RouteDefault uint8 = AddrMax + 1

// Route maps a destination onto an interface and an optional link-layer
// via address. Via equal to NodeMAC means "use the packet destination as
// the link-layer address".
type Route struct {
	Iface Interface
	Via   uint8
}

// Table is the address route table: one slot per node address plus the
// default slot.
type Table struct {
	mu     sync.RWMutex
	routes [RouteDefault + 1]*Route
}

func NewTable() *Table {
	return &Table{}
}

// Set installs a route for dst (0..31, or RouteDefault for the fallback).
func (m *Table) Set(dst uint8, ifc Interface, via uint8) error {
	if dst > RouteDefault || ifc == nil {
		return ErrInval
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.routes[dst] = &Route{Iface: ifc, Via: via}
	return nil
}

// Find returns the route for dst, falling back to the default route. Nil if
// neither is installed.
func (m *Table) Find(dst uint8) *Route {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if dst <= AddrMax {
		if r := m.routes[dst]; r != nil {
			return r
		}
	}
	return m.routes[RouteDefault]
}

// FindMAC returns the via address for dst, or the NodeMAC sentinel when no
// route or via is set.
func (m *Table) FindMAC(dst uint8) uint8 {
	r := m.Find(dst)
	if r == nil {
		return NodeMAC
	}
	return r.Via
}
