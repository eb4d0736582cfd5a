// Package kiss implements SLIP-compatible serial framing for CSP packets
// with the TNC data-type discriminator and a CRC32 tail.
package kiss

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/analyticalspace/csp-go/csp"
)

const (
	fend  = 0xC0
	fesc  = 0xDB
	tfend = 0xDC
	tfesc = 0xDD

	tncData = 0x00
)

// crcLength is the CRC32 tail carried inside every frame.
const crcLength = 4

// Driver is the byte-stream side of a KISS interface.
type Driver interface {
	// Write sends one fully framed, escaped byte sequence.
	Write(frame []byte) error
	// Discard receives bytes arriving outside any frame, typically debug
	// ASCII sharing the line.
	Discard(b byte)
}

// Stub is the placeholder driver for boards without a serial port; every
// send fails at the driver layer.
type Stub struct{}

func (Stub) Write(frame []byte) error { return csp.ErrTxDriver }
func (Stub) Discard(b byte)           {}

type rxMode uint8

const (
	modeNotStarted rxMode = iota
	modeStarted
	modeEscaped
	modeSkipFrame
)

// Config configures one KISS interface.
type Config struct {
	// Name is the interface registry name.
	Name string `yaml:"name"`
	// MTU bounds the received frame: payload plus the CRC32 tail may not
	// exceed it, so the largest payload is MTU minus 4 bytes.
	MTU int `yaml:"mtu"`
}

func DefaultConfig() Config {
	return Config{
		Name: "KISS",
		MTU:  256,
	}
}

// Interface is a serial link interface running the KISS framer.
type Interface struct {
	csp.IfaceInfo

	cfg    Config
	stack  *csp.Stack
	driver Driver
	log    *zap.SugaredLogger

	mu       sync.Mutex
	mode     rxMode
	rxPacket *csp.Packet
	rxBuf    []byte
	rxLen    int
	rxFirst  bool
}

// New builds a KISS interface over the given driver and registers it with
// the stack.
func New(stack *csp.Stack, driver Driver, cfg Config, log *zap.SugaredLogger) (*Interface, error) {
	if driver == nil || cfg.MTU <= 0 {
		return nil, csp.ErrInval
	}

	m := &Interface{
		IfaceInfo: csp.NewIfaceInfo(cfg.Name, cfg.MTU),
		cfg:       cfg,
		stack:     stack,
		driver:    driver,
		log:       log.With(zap.String("iface", cfg.Name)),
		rxBuf:     make([]byte, cfg.MTU+csp.HeaderLength+crcLength),
	}

	if err := stack.AddInterface(m); err != nil {
		return nil, fmt.Errorf("failed to register KISS interface: %w", err)
	}
	return m, nil
}

// Nexthop frames the packet and hands it to the driver. The CRC32 tail and
// all escaping are produced into a separate output stream; the packet's own
// bytes are never modified, so a failed transmit can be retried. On success
// the packet is released.
func (m *Interface) Nexthop(p *csp.Packet, timeout time.Duration) error {
	_ = timeout

	var hdr [csp.HeaderLength]byte
	csp.PutID(hdr[:], p.ID)

	crc := csp.Checksum(p.ID, p.Data)
	var tail [crcLength]byte
	binary.BigEndian.PutUint32(tail[:], crc)

	out := make([]byte, 0, 2*(len(hdr)+p.Length()+len(tail))+2)
	out = append(out, fend, tncData)
	out = escapeAppend(out, hdr[:])
	out = escapeAppend(out, p.Data)
	out = escapeAppend(out, tail[:])
	out = append(out, fend)

	if err := m.driver.Write(out); err != nil {
		return fmt.Errorf("%w: %w", csp.ErrTxDriver, err)
	}

	m.Stats().Tx.Add(1)
	m.Stats().TxBytes.Add(uint64(p.Length()))
	p.Release()
	return nil
}

// escapeAppend appends src to dst with FEND and FESC escaped.
func escapeAppend(dst, src []byte) []byte {
	for _, b := range src {
		switch b {
		case fend:
			dst = append(dst, fesc, tfend)
		case fesc:
			dst = append(dst, fesc, tfesc)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}

// Rx feeds received serial bytes through the framing state machine. The
// driver's read loop calls this with whatever the line produced; partial
// frames are carried across calls.
func (m *Interface) Rx(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, b := range data {
		m.rxByte(b)
	}
}

func (m *Interface) rxByte(b byte) {
	// A frame larger than the MTU plus header cannot be valid.
	if m.rxLen > m.cfg.MTU+csp.HeaderLength {
		m.Stats().RxError.Add(1)
		m.mode = modeNotStarted
		m.rxLen = 0
	}

	switch m.mode {
	case modeNotStarted:
		if b != fend {
			m.driver.Discard(b)
			return
		}

		if m.rxPacket == nil {
			pkt, err := m.stack.Buffers().TryGet(m.cfg.MTU)
			if err != nil {
				m.mode = modeSkipFrame
				return
			}
			m.rxPacket = pkt
		}

		m.rxLen = 0
		m.rxFirst = true
		m.mode = modeStarted

	case modeStarted:
		if b == fesc {
			m.mode = modeEscaped
			return
		}

		if b == fend {
			if m.rxLen == 0 {
				// Tolerate back-to-back FENDs.
				return
			}
			m.finishFrame()
			return
		}

		// The first byte after FEND is the TNC data-type discriminator.
		if m.rxFirst {
			m.rxFirst = false
			return
		}

		m.rxBuf[m.rxLen] = b
		m.rxLen++

	case modeEscaped:
		switch b {
		case tfesc:
			m.rxBuf[m.rxLen] = fesc
			m.rxLen++
		case tfend:
			m.rxBuf[m.rxLen] = fend
			m.rxLen++
		}
		m.mode = modeStarted

	case modeSkipFrame:
		if b == fend {
			m.mode = modeNotStarted
		}
	}
}

// finishFrame validates the collected frame and hands the packet to the
// dispatch queue. The staged packet is kept for the next frame whenever the
// current one is rejected.
func (m *Interface) finishFrame() {
	defer func() {
		m.mode = modeNotStarted
		m.rxLen = 0
	}()

	if m.rxLen < csp.HeaderLength+crcLength {
		m.Stats().RxError.Add(1)
		return
	}

	pkt := m.rxPacket
	pkt.ID = csp.GetID(m.rxBuf[:csp.HeaderLength])

	if pkt.Resize(m.rxLen-csp.HeaderLength) != nil {
		m.Stats().RxError.Add(1)
		return
	}
	copy(pkt.Data, m.rxBuf[csp.HeaderLength:m.rxLen])

	if err := csp.VerifyCRC32(pkt); err != nil {
		m.Stats().RxError.Add(1)
		return
	}

	m.rxPacket = nil
	m.stack.Enqueue(pkt, m)
}
