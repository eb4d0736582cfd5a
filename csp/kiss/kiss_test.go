package kiss

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/analyticalspace/csp-go/csp"
)

// recordDriver captures framed writes and discarded line noise.
type recordDriver struct {
	mu        sync.Mutex
	frames    [][]byte
	discarded []byte
	err       error
}

func (m *recordDriver) Write(frame []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.frames = append(m.frames, append([]byte(nil), frame...))
	return nil
}

func (m *recordDriver) Discard(b byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.discarded = append(m.discarded, b)
}

func newTestStack(t *testing.T, addr uint8) (*csp.Stack, chan *csp.Packet) {
	t.Helper()

	delivered := make(chan *csp.Packet, 16)

	cfg := csp.DefaultConfig()
	cfg.Address = addr
	cfg.Buffers.Count = 4

	stack, err := csp.NewStack(cfg, zaptest.NewLogger(t).Sugar(),
		csp.WithLocalHandler(func(p *csp.Packet) {
			delivered <- p
		}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go stack.Run(ctx)

	return stack, delivered
}

func newTestIface(t *testing.T, stack *csp.Stack) (*Interface, *recordDriver) {
	t.Helper()

	drv := &recordDriver{}
	ifc, err := New(stack, drv, DefaultConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	return ifc, drv
}

func TestEscapeWireFormat(t *testing.T) {
	// Payload bytes C0 DB C0 00 escape to DB DC, DB DD, DB DC, 00; framing
	// adds FEND, the data-type byte and the closing FEND.
	payload := []byte{0xC0, 0xDB, 0xC0, 0x00}

	frame := append([]byte{fend, tncData}, escapeAppend(nil, payload)...)
	frame = append(frame, fend)

	want := []byte{0xC0, 0x00, 0xDB, 0xDC, 0xDB, 0xDD, 0xDB, 0xDC, 0x00, 0xC0}
	assert.Equal(t, want, frame)
}

func TestEscapeLeavesNoBareSpecials(t *testing.T) {
	var payload []byte
	for b := 0; b < 256; b++ {
		payload = append(payload, byte(b))
	}

	encoded := escapeAppend(nil, payload)
	for i := 0; i < len(encoded); i++ {
		if encoded[i] == fesc {
			i++ // the escape pair is expected
			continue
		}
		assert.NotEqual(t, byte(fend), encoded[i], "bare FEND at %d", i)
	}
}

func TestRoundTrip(t *testing.T) {
	sender, _ := newTestStack(t, 1)
	senderIfc, drv := newTestIface(t, sender)

	receiver, delivered := newTestStack(t, 2)
	receiverIfc, _ := newTestIface(t, receiver)

	id := csp.ID{Priority: 2, Source: 1, Destination: 2, DestPort: 10, SourcePort: 20}
	payload := []byte{0xC0, 0xDB, 0x00, 0x42}

	p, err := sender.Buffers().TryGet(len(payload))
	require.NoError(t, err)
	p.ID = id
	require.NoError(t, p.Resize(len(payload)))
	copy(p.Data, payload)

	require.NoError(t, senderIfc.Nexthop(p, time.Second))
	require.Len(t, drv.frames, 1)

	receiverIfc.Rx(drv.frames[0])

	select {
	case got := <-delivered:
		assert.Equal(t, id, got.ID)
		assert.Equal(t, payload, got.Data)
		got.Release()
	case <-time.After(time.Second):
		t.Fatal("packet never delivered")
	}

	assert.Equal(t, uint64(1), senderIfc.Stats().Tx.Load())
	assert.Equal(t, uint64(1), receiverIfc.Stats().Rx.Load())
}

func TestTransmitDoesNotMutatePacket(t *testing.T) {
	stack, _ := newTestStack(t, 1)
	ifc, drv := newTestIface(t, stack)

	payload := []byte{0xC0, 0xDB, 0xC0}
	p := csp.NewPacket(64)
	p.ID = csp.ID{Source: 1, Destination: 2}
	require.NoError(t, p.Resize(len(payload)))
	copy(p.Data, payload)

	require.NoError(t, ifc.Nexthop(p, time.Second))

	// The packet still carries its original bytes, so a retransmit would
	// produce the identical frame.
	assert.Equal(t, payload, p.Data)
	require.NoError(t, ifc.Nexthop(p, time.Second))
	assert.Equal(t, drv.frames[0], drv.frames[1])
}

func TestShortFrameDropped(t *testing.T) {
	stack, delivered := newTestStack(t, 2)
	ifc, _ := newTestIface(t, stack)

	ifc.Rx([]byte{fend, tncData, 0x01, 0x02, fend})

	assert.Equal(t, uint64(1), ifc.Stats().RxError.Load())
	assert.Empty(t, delivered)
}

func TestCRCMismatchDropped(t *testing.T) {
	sender, _ := newTestStack(t, 1)
	senderIfc, drv := newTestIface(t, sender)

	receiver, delivered := newTestStack(t, 2)
	receiverIfc, _ := newTestIface(t, receiver)

	p, err := sender.Buffers().TryGet(4)
	require.NoError(t, err)
	p.ID = csp.ID{Source: 1, Destination: 2}
	require.NoError(t, p.Resize(4))
	copy(p.Data, []byte{1, 2, 3, 4})
	require.NoError(t, senderIfc.Nexthop(p, time.Second))

	frame := drv.frames[0]
	// Corrupt a payload byte (first data byte after FEND, type and the
	// 4 byte identifier).
	frame[6] ^= 0x01

	receiverIfc.Rx(frame)

	assert.Equal(t, uint64(1), receiverIfc.Stats().RxError.Load())
	assert.Empty(t, delivered)
}

func TestNoiseOutsideFramesDiscarded(t *testing.T) {
	stack, _ := newTestStack(t, 2)
	ifc, drv := newTestIface(t, stack)

	ifc.Rx([]byte("boot: ok\r\n"))

	assert.Equal(t, []byte("boot: ok\r\n"), drv.discarded)
	assert.Zero(t, ifc.Stats().RxError.Load())
}

func TestBackToBackFENDs(t *testing.T) {
	sender, _ := newTestStack(t, 1)
	senderIfc, drv := newTestIface(t, sender)

	receiver, delivered := newTestStack(t, 2)
	receiverIfc, _ := newTestIface(t, receiver)

	p, err := sender.Buffers().TryGet(2)
	require.NoError(t, err)
	p.ID = csp.ID{Source: 1, Destination: 2}
	require.NoError(t, p.Resize(2))
	copy(p.Data, []byte{9, 9})
	require.NoError(t, senderIfc.Nexthop(p, time.Second))

	// Extra FENDs ahead of the frame are tolerated.
	stream := append([]byte{fend, fend, fend}, drv.frames[0]...)
	receiverIfc.Rx(stream)

	select {
	case got := <-delivered:
		assert.Equal(t, []byte{9, 9}, got.Data)
		got.Release()
	case <-time.After(time.Second):
		t.Fatal("packet never delivered")
	}
}

func TestOversizeFrameDropped(t *testing.T) {
	stack, delivered := newTestStack(t, 2)
	ifc, _ := newTestIface(t, stack)

	stream := []byte{fend, tncData}
	for i := 0; i < DefaultConfig().MTU+csp.HeaderLength+16; i++ {
		stream = append(stream, 0x11)
	}
	stream = append(stream, fend)

	ifc.Rx(stream)

	assert.Equal(t, uint64(1), ifc.Stats().RxError.Load())
	assert.Empty(t, delivered)
}

func TestAllocationFailureSkipsFrame(t *testing.T) {
	stack, delivered := newTestStack(t, 2)
	ifc, _ := newTestIface(t, stack)

	// Exhaust the pool so the framer cannot stage a packet.
	var held []*csp.Packet
	for {
		p, err := stack.Buffers().TryGet(1)
		if err != nil {
			break
		}
		held = append(held, p)
	}

	ifc.Rx([]byte{fend, tncData, 1, 2, 3})

	// Frames are skipped until a buffer frees up.
	for _, p := range held {
		p.Release()
	}
	ifc.Rx([]byte{fend})
	assert.Empty(t, delivered)
}

func TestDriverFailureSurfaces(t *testing.T) {
	stack, _ := newTestStack(t, 1)
	ifc, drv := newTestIface(t, stack)
	drv.err = csp.ErrTx

	p := csp.NewPacket(8)
	p.ID = csp.ID{Source: 1, Destination: 2}
	require.NoError(t, p.Resize(1))

	assert.ErrorIs(t, ifc.Nexthop(p, time.Second), csp.ErrTxDriver)
}
