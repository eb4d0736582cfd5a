//go:build linux

// Package usart drives a raw serial port for the KISS framer.
package usart

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/analyticalspace/csp-go/csp/kiss"
)

// Config configures one serial device.
type Config struct {
	// Device is the tty path, e.g. "/dev/ttyUSB0".
	Device string `yaml:"device"`
	// Baud is the line rate. Must be one of the standard termios rates.
	Baud int `yaml:"baud"`
}

func DefaultConfig() Config {
	return Config{
		Device: "/dev/ttyUSB0",
		Baud:   115200,
	}
}

var baudRates = map[int]uint32{
	9600:    unix.B9600,
	19200:   unix.B19200,
	38400:   unix.B38400,
	57600:   unix.B57600,
	115200:  unix.B115200,
	230400:  unix.B230400,
	460800:  unix.B460800,
	921600:  unix.B921600,
	1000000: unix.B1000000,
}

// Driver is an open serial port implementing the KISS driver contract.
type Driver struct {
	cfg Config
	log *zap.SugaredLogger
	fd  int
	ifc *kiss.Interface
}

// Open opens the tty and configures it raw, 8N1 at the given rate.
func Open(cfg Config, log *zap.SugaredLogger) (*Driver, error) {
	speed, ok := baudRates[cfg.Baud]
	if !ok {
		return nil, fmt.Errorf("unsupported baud rate %d", cfg.Baud)
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", cfg.Device, err)
	}

	tio, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to read termios: %w", err)
	}

	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.CBAUD
	tio.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL | speed
	tio.Ispeed = speed
	tio.Ospeed = speed
	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, tio); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to configure %q: %w", cfg.Device, err)
	}

	return &Driver{
		cfg: cfg,
		log: log.With(zap.String("driver", cfg.Device)),
		fd:  fd,
	}, nil
}

// Attach binds the driver to its KISS interface.
func (m *Driver) Attach(ifc *kiss.Interface) {
	m.ifc = ifc
}

// Write sends one framed byte sequence down the line.
func (m *Driver) Write(frame []byte) error {
	for len(frame) > 0 {
		n, err := unix.Write(m.fd, frame)
		if err != nil {
			return fmt.Errorf("failed to write to %q: %w", m.cfg.Device, err)
		}
		frame = frame[n:]
	}
	return nil
}

// Discard logs bytes arriving outside any frame, so debug output from the
// remote end stays visible.
func (m *Driver) Discard(b byte) {
	m.log.Debugf("line noise: %q", b)
}

// Run reads the line until ctx is canceled.
func (m *Driver) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		unix.Close(m.fd)
	}()

	buf := make([]byte, 256)
	for {
		n, err := unix.Read(m.fd, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Errorf("read: %v", err)
			continue
		}
		m.ifc.Rx(buf[:n])
	}
}
