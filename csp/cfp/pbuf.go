package cfp

import (
	"time"

	"github.com/analyticalspace/csp-go/csp"
)

type pbufState uint8

const (
	pbufFree pbufState = 0
	pbufUsed pbufState = 1
)

// pbuf is one reassembly slot. While used, packet is non-nil once the BEGIN
// frame has been seen, rxCount never exceeds the declared packet length,
// and remain counts the frames still expected.
type pbuf struct {
	state    pbufState
	cfpid    Header
	packet   *csp.Packet
	rxCount  int
	remain   int
	lastUsed time.Time
}

// freePbuf releases the slot and any partial packet it holds.
func (m *Interface) freePbuf(buf *pbuf) {
	buf.packet.Release()
	*buf = pbuf{}
}

// findPbuf returns the used slot whose connection bits match id, touching
// its timestamp. Callers hold the table mutex.
func (m *Interface) findPbuf(id Header) *pbuf {
	for i := range m.pbufs {
		buf := &m.pbufs[i]
		if buf.state == pbufUsed && buf.cfpid&ConnMask == id&ConnMask {
			buf.lastUsed = m.now()
			return buf
		}
	}
	return nil
}

// newPbuf claims a free slot for id, reclaiming any slot whose reassembly
// has been idle past the configured timeout. Returns nil when the table is
// full. Callers hold the table mutex.
func (m *Interface) newPbuf(id Header) *pbuf {
	now := m.now()

	for i := range m.pbufs {
		buf := &m.pbufs[i]
		if buf.state == pbufUsed && now.Sub(buf.lastUsed) > m.cfg.ReassemblyTimeout {
			m.freePbuf(buf)
		}

		if buf.state == pbufFree {
			buf.state = pbufUsed
			buf.cfpid = id
			buf.remain = 0
			buf.lastUsed = now
			return buf
		}
	}

	return nil
}
