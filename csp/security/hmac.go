package security

import (
	"crypto/hmac"
	"crypto/sha1"

	"github.com/analyticalspace/csp-go/csp"
)

// hmacLength is the truncated trailer size carried on the wire.
const hmacLength = 4

// HMAC appends and verifies the truncated HMAC-SHA1 packet trailer.
type HMAC struct {
	key []byte
}

func NewHMAC(key []byte) *HMAC {
	return &HMAC{key: append([]byte(nil), key...)}
}

func (m *HMAC) sum(p *csp.Packet, payload []byte) []byte {
	h := hmac.New(sha1.New, m.key)
	var hdr [csp.HeaderLength]byte
	csp.PutID(hdr[:], p.ID)
	h.Write(hdr[:])
	h.Write(payload)
	return h.Sum(nil)[:hmacLength]
}

// Append sets the HMAC flag and appends the truncated trailer.
func (m *HMAC) Append(p *csp.Packet) error {
	n := p.Length()
	if err := p.Resize(n + hmacLength); err != nil {
		return err
	}

	p.ID.Flags |= csp.FlagHMAC
	copy(p.Data[n:], m.sum(p, p.Data[:n]))
	return nil
}

// Verify checks and strips the trailer, clearing the HMAC flag on success.
func (m *HMAC) Verify(p *csp.Packet) error {
	n := p.Length()
	if n < hmacLength {
		return csp.ErrInval
	}

	want := p.Data[n-hmacLength:]
	if !hmac.Equal(m.sum(p, p.Data[:n-hmacLength]), want) {
		return csp.ErrHMAC
	}

	p.Data = p.Data[:n-hmacLength]
	p.ID.Flags &^= csp.FlagHMAC
	return nil
}
