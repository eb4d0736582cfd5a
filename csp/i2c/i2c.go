// Package i2c maps CSP packets onto I²C frames: a destination address byte
// ahead of the CSP identifier in network byte order, then the payload.
package i2c

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/analyticalspace/csp-go/csp"
)

// MTU is the largest I²C frame body (identifier plus payload).
const MTU = 256

// Frame is one link-layer unit handed to or received from the driver.
type Frame struct {
	// Dest is the 7 bit destination address.
	Dest uint8
	// Data is the CSP identifier (4 bytes, network order) followed by the
	// payload.
	Data []byte
}

// Driver queues outbound frames on the bus.
type Driver interface {
	Send(f *Frame, timeout time.Duration) error
}

// Stub is the placeholder driver for boards without an I²C controller;
// every send fails at the driver layer.
type Stub struct{}

func (Stub) Send(f *Frame, timeout time.Duration) error {
	return csp.ErrTxDriver
}

// Config configures one I²C interface.
type Config struct {
	// Name is the interface registry name.
	Name string `yaml:"name"`
}

func DefaultConfig() Config {
	return Config{Name: "I2C"}
}

// Interface is an I²C link interface.
type Interface struct {
	csp.IfaceInfo

	stack  *csp.Stack
	driver Driver
	log    *zap.SugaredLogger
}

// New builds an I²C interface over the given driver and registers it with
// the stack.
func New(stack *csp.Stack, driver Driver, cfg Config, log *zap.SugaredLogger) (*Interface, error) {
	if driver == nil {
		return nil, csp.ErrInval
	}

	m := &Interface{
		IfaceInfo: csp.NewIfaceInfo(cfg.Name, MTU-csp.HeaderLength),
		stack:     stack,
		driver:    driver,
		log:       log.With(zap.String("iface", cfg.Name)),
	}

	if err := stack.AddInterface(m); err != nil {
		return nil, fmt.Errorf("failed to register I2C interface: %w", err)
	}
	return m, nil
}

// Nexthop maps the packet onto an I²C frame and queues it on the bus. On
// success the packet is released.
func (m *Interface) Nexthop(p *csp.Packet, timeout time.Duration) error {
	dest := m.stack.Routes().FindMAC(p.ID.Destination)
	if dest == csp.NodeMAC {
		dest = p.ID.Destination
	}

	data := make([]byte, csp.HeaderLength+p.Length())
	csp.PutID(data, p.ID)
	copy(data[csp.HeaderLength:], p.Data)

	if err := m.driver.Send(&Frame{Dest: dest, Data: data}, timeout); err != nil {
		return fmt.Errorf("%w: %w", csp.ErrTxDriver, err)
	}

	m.Stats().Tx.Add(1)
	m.Stats().TxBytes.Add(uint64(p.Length()))
	p.Release()
	return nil
}

// Rx accepts one received I²C frame. Invalid frames are counted and
// dropped.
func (m *Interface) Rx(f *Frame) {
	if f == nil {
		return
	}

	if len(f.Data) < csp.HeaderLength || len(f.Data) > MTU {
		m.Stats().Frame.Add(1)
		return
	}

	payload := f.Data[csp.HeaderLength:]

	pkt, err := m.stack.Buffers().TryGet(len(payload))
	if err != nil {
		m.Stats().RxError.Add(1)
		return
	}

	pkt.ID = csp.GetID(f.Data)
	pkt.Resize(len(payload))
	copy(pkt.Data, payload)

	m.stack.Enqueue(pkt, m)
}
