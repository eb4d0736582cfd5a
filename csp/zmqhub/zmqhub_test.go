package zmqhub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/analyticalspace/csp-go/csp"
)

func newTestStack(t *testing.T, addr uint8) (*csp.Stack, chan *csp.Packet) {
	t.Helper()

	delivered := make(chan *csp.Packet, 16)

	cfg := csp.DefaultConfig()
	cfg.Address = addr
	cfg.Buffers.Count = 4
	cfg.Buffers.Size = 2048

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

func TestMessageLayout(t *testing.T) {
	id := csp.ID{Source: 1, Destination: 7, DestPort: 9}
	p := csp.NewPacket(16)
	p.ID = id
	require.NoError(t, p.Resize(3))
	copy(p.Data, []byte{1, 2, 3})

	msg := encodeMessage(12, p)

	require.Len(t, msg, 1+csp.HeaderLength+3)
	assert.Equal(t, uint8(12), msg[0])
	assert.Equal(t, id, csp.GetID(msg[1:]))
	assert.Equal(t, []byte{1, 2, 3}, msg[headerSize:])
}

func TestReceiveMessage(t *testing.T) {
	stack, delivered := newTestStack(t, 2)
	ifc, err := New(stack, DefaultConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	id := csp.ID{Source: 1, Destination: 2, DestPort: 9}
	p := csp.NewPacket(16)
	p.ID = id
	require.NoError(t, p.Resize(4))
	copy(p.Data, []byte{9, 8, 7, 6})

	ifc.rxMessage(encodeMessage(2, p))

	select {
	case got := <-delivered:
		assert.Equal(t, id, got.ID)
		assert.Equal(t, []byte{9, 8, 7, 6}, got.Data)
		got.Release()
	case <-time.After(time.Second):
		t.Fatal("packet never delivered")
	}

	assert.Equal(t, uint64(1), ifc.Stats().Rx.Load())
}

func TestReceiveValidatesLength(t *testing.T) {
	stack, delivered := newTestStack(t, 2)
	ifc, err := New(stack, DefaultConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	ifc.rxMessage([]byte{1, 2, 3, 4})

	assert.Equal(t, uint64(1), ifc.Stats().Frame.Load())
	assert.Empty(t, delivered)
}

func TestTransmitBeforeRun(t *testing.T) {
	stack, _ := newTestStack(t, 1)
	ifc, err := New(stack, DefaultConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	p := csp.NewPacket(8)
	p.ID = csp.ID{Source: 1, Destination: 7}

	assert.ErrorIs(t, ifc.Nexthop(p, time.Second), csp.ErrTx)
}

func TestDuplicateName(t *testing.T) {
	stack, _ := newTestStack(t, 1)

	_, err := New(stack, DefaultConfig(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	_, err = New(stack, DefaultConfig(), zaptest.NewLogger(t).Sugar())
	assert.ErrorIs(t, err, csp.ErrAlready)
}
