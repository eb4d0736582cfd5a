package csp

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Stack is the single-instance protocol core: the buffer pool, interface
// registry, route table, dispatch fifo and router task, owned by one init
// call instead of scattered process globals.
type Stack struct {
	cfg    *Config
	log    *zap.SugaredLogger
	pool   *Pool
	ifaces *Iflist
	routes *Table
	fifo   *Fifo
	router *Router
}

// Option configures a Stack at construction time.
type Option func(*Stack)

// WithLocalHandler installs the delivery callback for packets addressed to
// this node. Ownership of the packet transfers to the handler.
func WithLocalHandler(fn func(*Packet)) Option {
	return func(s *Stack) { s.router.local = fn }
}

// WithRDPHandler hands packets carrying the RDP flag to the reliability
// state machine instead of the local handler.
func WithRDPHandler(fn func(*Packet)) Option {
	return func(s *Stack) { s.router.rdp = fn }
}

// WithVerifier installs the inbound HMAC/XTEA hook, invoked by the router
// on local-bound packets whose identifier carries either flag.
func WithVerifier(fn func(*Packet) error) Option {
	return func(s *Stack) { s.router.verify = fn }
}

func NewStack(cfg *Config, log *zap.SugaredLogger, opts ...Option) (*Stack, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid stack config: %w", err)
	}

	pool, err := NewPool(cfg.Buffers.Count, int(cfg.Buffers.Size.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("failed to create buffer pool: %w", err)
	}

	fifo := NewFifo(cfg.QueueDepth)
	routes := NewTable()

	s := &Stack{
		cfg:    cfg,
		log:    log,
		pool:   pool,
		ifaces: NewIflist(),
		routes: routes,
		fifo:   fifo,
		router: NewRouter(cfg.Address, fifo, routes, log),
	}
	for _, opt := range opts {
		opt(s)
	}

	log.Infof("stack up: %s (%s) at address %d, %d buffers of %s",
		cfg.Hostname, cfg.Model, cfg.Address, cfg.Buffers.Count, cfg.Buffers.Size)
	return s, nil
}

// Address returns this node's CSP address.
func (m *Stack) Address() uint8 { return m.cfg.Address }

// Buffers returns the packet buffer pool.
func (m *Stack) Buffers() *Pool { return m.pool }

// Interfaces returns the interface registry.
func (m *Stack) Interfaces() *Iflist { return m.ifaces }

// Routes returns the route table.
func (m *Stack) Routes() *Table { return m.routes }

// AddInterface installs a link interface.
func (m *Stack) AddInterface(ifc Interface) error {
	if err := m.ifaces.Add(ifc); err != nil {
		return fmt.Errorf("failed to add interface %q: %w", ifc.Name(), err)
	}
	m.log.Infof("interface %s added, mtu %d", ifc.Name(), ifc.MTU())
	return nil
}

// Enqueue hands a fully reassembled received packet to the router. Link
// receivers call this once per packet; ownership transfers.
func (m *Stack) Enqueue(p *Packet, ifc Interface) error {
	return m.fifo.Write(p, ifc)
}

// Run runs the router task until ctx is canceled.
func (m *Stack) Run(ctx context.Context) error {
	return m.router.Run(ctx)
}
