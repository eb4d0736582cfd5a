package cfp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	hosts := []uint8{0, 1, 15, 30, 31}
	remains := []uint8{0, 1, 2, 127, 255}
	sessions := []uint16{0, 1, 513, 1023}

	for _, src := range hosts {
		for _, dst := range hosts {
			for _, typ := range []Type{Begin, More} {
				for _, remain := range remains {
					for _, session := range sessions {
						h := MakeHeader(src, dst, typ, remain, session)

						require.Equal(t, src, h.Src())
						require.Equal(t, dst, h.Dst())
						require.Equal(t, typ, h.Type())
						require.Equal(t, remain, h.Remain())
						require.Equal(t, session, h.Session())
					}
				}
			}
		}
	}
}

func TestHeaderFits29Bits(t *testing.T) {
	h := MakeHeader(31, 31, More, 255, 1023)
	assert.Zero(t, uint32(h)&^uint32(1<<29-1))
}

func TestConnMask(t *testing.T) {
	// The connection mask keys on source, destination and session only:
	// BEGIN and MORE frames of one packet must collide.
	begin := MakeHeader(1, 2, Begin, 3, 77)
	more := MakeHeader(1, 2, More, 2, 77)
	assert.Equal(t, begin&ConnMask, more&ConnMask)

	other := MakeHeader(1, 2, More, 2, 78)
	assert.NotEqual(t, begin&ConnMask, other&ConnMask)
}
