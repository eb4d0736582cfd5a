package cfp

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/analyticalspace/csp-go/csp"
)

// Driver sends raw CAN frames for one interface. Implementations block
// until the link accepts the frame or refuses it for good; frames carry an
// extended (29 bit) identifier and at most 8 data bytes.
type Driver interface {
	Send(id uint32, data []byte) error
}

// Stub is the placeholder driver for boards without a CAN controller;
// every send fails at the driver layer.
type Stub struct{}

func (Stub) Send(id uint32, data []byte) error {
	return csp.ErrTxDriver
}

// Config configures one CAN interface.
type Config struct {
	// Name is the interface registry name.
	Name string `yaml:"name"`
	// MTU is the largest CSP payload carried over this link.
	MTU int `yaml:"mtu"`
	// Connections sizes the reassembly table, bounding how many fragmented
	// packets can arrive interleaved.
	Connections int `yaml:"connections"`
	// ReassemblyTimeout reclaims a reassembly slot that has not seen a
	// frame for this long.
	ReassemblyTimeout time.Duration `yaml:"reassembly_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Name:              "CAN",
		MTU:               256,
		Connections:       16,
		ReassemblyTimeout: 10 * time.Second,
	}
}

// Interface is a CAN link interface running the fragmentation protocol.
type Interface struct {
	csp.IfaceInfo

	cfg      Config
	stack    *csp.Stack
	driver   Driver
	sessions *Sessions
	log      *zap.SugaredLogger
	now      func() time.Time

	mu    sync.Mutex
	pbufs []pbuf
}

// Option adjusts an Interface at construction time.
type Option func(*Interface)

// WithClock substitutes the wall clock, used by tests to expire reassembly
// slots.
func WithClock(now func() time.Time) Option {
	return func(m *Interface) { m.now = now }
}

// WithSessions shares a session id allocator between interfaces.
func WithSessions(s *Sessions) Option {
	return func(m *Interface) { m.sessions = s }
}

// New builds a CAN interface over the given driver and registers it with
// the stack.
func New(stack *csp.Stack, driver Driver, cfg Config, log *zap.SugaredLogger, opts ...Option) (*Interface, error) {
	if driver == nil || cfg.MTU <= 0 || cfg.Connections <= 0 {
		return nil, csp.ErrInval
	}

	m := &Interface{
		IfaceInfo: csp.NewIfaceInfo(cfg.Name, cfg.MTU),
		cfg:       cfg,
		stack:     stack,
		driver:    driver,
		sessions:  NewSessions(),
		log:       log.With(zap.String("iface", cfg.Name)),
		now:       time.Now,
		pbufs:     make([]pbuf, cfg.Connections),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := stack.AddInterface(m); err != nil {
		return nil, fmt.Errorf("failed to register CAN interface: %w", err)
	}
	return m, nil
}

// Nexthop fragments the packet into CAN frames and hands them to the
// driver. On success the packet is released; on driver failure the caller
// keeps ownership.
func (m *Interface) Nexthop(p *csp.Packet, timeout time.Duration) error {
	_ = timeout // the driver owns its retry budget

	session := m.sessions.Next()
	length := p.Length()

	// The link-layer destination comes from the route table unless no via
	// address is installed.
	dest := m.stack.Routes().FindMAC(p.ID.Destination)
	if dest == csp.NodeMAC {
		dest = p.ID.Destination
	}

	// First frame: CSP id and length, then whatever payload fits.
	bytes := min(length, 8-headerOverhead)
	remain := uint8((length + headerOverhead - 1) / 8)
	id := MakeHeader(p.ID.Source, dest, Begin, remain, session)

	var frame [8]byte
	csp.PutID(frame[:], p.ID)
	binary.BigEndian.PutUint16(frame[csp.HeaderLength:], uint16(length))
	copy(frame[headerOverhead:], p.Data[:bytes])

	if err := m.driver.Send(uint32(id), frame[:headerOverhead+bytes]); err != nil {
		return fmt.Errorf("%w: %w", csp.ErrTxDriver, err)
	}
	txCount := bytes

	for txCount < length {
		bytes = min(8, length-txCount)
		remain = uint8((length - txCount - bytes + 7) / 8)
		id = MakeHeader(p.ID.Source, dest, More, remain, session)

		if err := m.driver.Send(uint32(id), p.Data[txCount:txCount+bytes]); err != nil {
			return fmt.Errorf("%w: %w", csp.ErrTxDriver, err)
		}
		txCount += bytes
	}

	m.Stats().Tx.Add(1)
	m.Stats().TxBytes.Add(uint64(length))
	p.Release()
	return nil
}

// Rx accepts one received CAN frame. The driver's receive loop calls this
// for every extended-id data frame. Errors are informational: the frame has
// already been accounted for on the interface counters.
func (m *Interface) Rx(id uint32, data []byte) error {
	if len(data) > 8 {
		return csp.ErrInval
	}

	h := Header(id)

	m.mu.Lock()
	defer m.mu.Unlock()

	buf := m.findPbuf(h)
	if buf == nil {
		if h.Type() != Begin {
			// MORE frame with no reassembly in progress.
			m.Stats().Frame.Add(1)
			return csp.ErrInval
		}

		if buf = m.newPbuf(h); buf == nil {
			m.Stats().RxError.Add(1)
			return csp.ErrNoMem
		}
	}

	offset := 0
	if h.Type() == Begin {
		if len(data) < headerOverhead {
			m.Stats().Frame.Add(1)
			m.freePbuf(buf)
			return nil
		}

		if buf.packet != nil {
			// A new BEGIN supersedes the partial packet in this slot.
			m.Stats().Frame.Add(1)
		} else {
			pkt, err := m.stack.Buffers().TryGet(m.cfg.MTU)
			if err != nil {
				m.Stats().Frame.Add(1)
				m.freePbuf(buf)
				return nil
			}
			buf.packet = pkt
		}

		buf.packet.ID = csp.GetID(data[:csp.HeaderLength])
		length := int(binary.BigEndian.Uint16(data[csp.HeaderLength:headerOverhead]))
		if length > m.cfg.MTU || buf.packet.Resize(length) != nil {
			m.Stats().Frame.Add(1)
			m.freePbuf(buf)
			return nil
		}

		buf.rxCount = 0
		buf.remain = int(h.Remain()) + 1
		offset = headerOverhead
	}

	// Common path for the BEGIN tail and MORE frames.
	if int(h.Remain()) != buf.remain-1 {
		// A frame was lost; the whole packet fails.
		m.Stats().Frame.Add(1)
		m.freePbuf(buf)
		return nil
	}
	buf.remain--

	n := len(data) - offset
	if buf.rxCount+n > buf.packet.Length() {
		m.Stats().Frame.Add(1)
		m.freePbuf(buf)
		return nil
	}

	copy(buf.packet.Data[buf.rxCount:], data[offset:])
	buf.rxCount += n

	if buf.rxCount != buf.packet.Length() {
		return nil
	}

	pkt := buf.packet
	buf.packet = nil
	m.freePbuf(buf)
	m.stack.Enqueue(pkt, m)
	return nil
}
