package security

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/xtea"

	"github.com/analyticalspace/csp-go/csp"
)

// nonceLength is the per-packet counter appended to the ciphertext.
const nonceLength = 4

// XTEA enciphers packet payloads in counter mode. The 4 byte nonce travels
// after the ciphertext so the receiver can rebuild the keystream.
type XTEA struct {
	block *xtea.Cipher
	nonce atomic.Uint32
}

// NewXTEA builds the cipher from a 16 byte key.
func NewXTEA(key []byte) (*XTEA, error) {
	block, err := xtea.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init xtea: %w", err)
	}
	return &XTEA{block: block}, nil
}

// keystream XORs data with the counter-mode keystream for nonce.
func (m *XTEA) keystream(data []byte, nonce uint32) {
	var in, out [xtea.BlockSize]byte
	for off := 0; off < len(data); off += xtea.BlockSize {
		binary.BigEndian.PutUint32(in[0:], nonce)
		binary.BigEndian.PutUint32(in[4:], uint32(off/xtea.BlockSize))
		m.block.Encrypt(out[:], in[:])

		chunk := data[off:]
		if len(chunk) > xtea.BlockSize {
			chunk = chunk[:xtea.BlockSize]
		}
		for i := range chunk {
			chunk[i] ^= out[i]
		}
	}
}

// Encrypt enciphers the payload in place, appends the nonce and sets the
// XTEA flag.
func (m *XTEA) Encrypt(p *csp.Packet) error {
	n := p.Length()
	if err := p.Resize(n + nonceLength); err != nil {
		return err
	}

	nonce := m.nonce.Add(1)
	m.keystream(p.Data[:n], nonce)
	binary.BigEndian.PutUint32(p.Data[n:], nonce)
	p.ID.Flags |= csp.FlagXTEA
	return nil
}

// Decrypt strips the nonce, deciphers the payload in place and clears the
// XTEA flag.
func (m *XTEA) Decrypt(p *csp.Packet) error {
	n := p.Length()
	if n < nonceLength {
		return csp.ErrInval
	}

	nonce := binary.BigEndian.Uint32(p.Data[n-nonceLength:])
	p.Data = p.Data[:n-nonceLength]
	m.keystream(p.Data, nonce)
	p.ID.Flags &^= csp.FlagXTEA
	return nil
}
