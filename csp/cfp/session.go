package cfp

import (
	"sync/atomic"
	"time"
)

// Sessions allocates the 10 bit session identifiers. Interfaces given the
// same Sessions through WithSessions share one counter; it wraps at 1024.
// The initial value is taken from the wall clock so a rebooted node does
// not resume a session a peer may still be reassembling. Collisions are harmless regardless because
// the reassembly key also includes the source and destination bits.
type Sessions struct {
	counter atomic.Uint32
}

func NewSessions() *Sessions {
	m := &Sessions{}
	m.counter.Store(uint32(time.Now().UnixNano()))
	return m
}

// Next returns the next session id.
func (m *Sessions) Next() uint16 {
	return uint16(m.counter.Add(1)-1) & (1<<sessionSize - 1)
}
