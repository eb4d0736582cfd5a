package csp

import "errors"

// Protocol error kinds. These are deliberately coarse: at the frame boundary
// failures are counted on the interface and the frame is discarded, while at
// the transmit API boundary one of these is returned and the caller keeps
// ownership of the packet.
var (
	// ErrNoMem means a pool or table has no room: at init time, or when the
	// CFP reassembly table is full.
	ErrNoMem = errors.New("csp: out of memory")
	// ErrInval means an argument or frame failed validation.
	ErrInval = errors.New("csp: invalid argument")
	// ErrNoBufs means the buffer pool is exhausted or the dispatch queue is
	// full.
	ErrNoBufs = errors.New("csp: no buffers available")
	// ErrTimedout means a wait elapsed before the operation completed.
	ErrTimedout = errors.New("csp: operation timed out")
	// ErrAlready means the interface or route is already installed.
	ErrAlready = errors.New("csp: already exists")
	// ErrTx is a generic transmit failure.
	ErrTx = errors.New("csp: transmission failed")
	// ErrTxDriver means the link driver refused the frame.
	ErrTxDriver = errors.New("csp: driver transmit failed")
	// ErrNotSup means an optional feature is not compiled in or configured.
	ErrNotSup = errors.New("csp: not supported")
	// ErrCRC32 means the CRC32 trailer did not match.
	ErrCRC32 = errors.New("csp: crc32 mismatch")
	// ErrHMAC means the HMAC trailer did not match.
	ErrHMAC = errors.New("csp: hmac mismatch")
	// ErrXTEA means the XTEA payload could not be deciphered.
	ErrXTEA = errors.New("csp: xtea failure")
)
