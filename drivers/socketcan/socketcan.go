//go:build linux

// Package socketcan drives a Linux SocketCAN device for the CAN
// fragmentation protocol. The kernel filter passes only frames whose
// destination bits match this node; the receive loop then drops standard-id,
// error and remote-request frames.
package socketcan

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/analyticalspace/csp-go/csp"
	"github.com/analyticalspace/csp-go/csp/cfp"
)

// can_frame kernel layout: id, dlc, padding, 8 data bytes.
const frameSize = 16

const (
	// txBudget bounds how long a single frame may wait out ENOBUFS before
	// the transmit is surfaced as a driver failure.
	txBudget = time.Second
)

// Config configures one SocketCAN device.
type Config struct {
	// Device is the CAN network device name, e.g. "can0" or "vcan0".
	Device string `yaml:"device"`
	// BringUp sets the link up before opening the socket. The device's
	// bitrate must already be configured.
	BringUp bool `yaml:"bring_up"`
}

func DefaultConfig() Config {
	return Config{Device: "can0"}
}

// Driver is an open SocketCAN device.
type Driver struct {
	cfg Config
	log *zap.SugaredLogger
	fd  int
	ifc *cfp.Interface
}

// Open opens and binds the RAW CAN socket.
func Open(cfg Config, log *zap.SugaredLogger) (*Driver, error) {
	if cfg.BringUp {
		link, err := netlink.LinkByName(cfg.Device)
		if err != nil {
			return nil, fmt.Errorf("failed to look up link %q: %w", cfg.Device, err)
		}
		if err := netlink.LinkSetUp(link); err != nil {
			return nil, fmt.Errorf("failed to bring up %q: %w", cfg.Device, err)
		}
	}

	dev, err := net.InterfaceByName(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to find CAN device %q: %w", cfg.Device, err)
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: dev.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind to %q: %w", cfg.Device, err)
	}

	return &Driver{
		cfg: cfg,
		log: log.With(zap.String("driver", cfg.Device)),
		fd:  fd,
	}, nil
}

// Attach binds the driver to its CAN interface and installs the kernel
// receive filter for the node address.
func (m *Driver) Attach(ifc *cfp.Interface, addr uint8) error {
	m.ifc = ifc

	filter := []unix.CanFilter{{
		Id:   uint32(cfp.MakeHeader(0, addr, 0, 0, 0)),
		Mask: uint32(cfp.MakeHeader(0, csp.AddrMax, 0, 0, 0)),
	}}
	if err := unix.SetsockoptCanRawFilter(m.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filter); err != nil {
		return fmt.Errorf("failed to set CAN filter: %w", err)
	}
	return nil
}

// Send writes one extended-id frame, waiting out transient ENOBUFS from a
// saturated transmit queue.
func (m *Driver) Send(id uint32, data []byte) error {
	if len(data) > 8 {
		return csp.ErrInval
	}

	var frame [frameSize]byte
	binary.LittleEndian.PutUint32(frame[0:], id|unix.CAN_EFF_FLAG)
	frame[4] = uint8(len(data))
	copy(frame[8:], data)

	bo := backoff.ExponentialBackOff{
		InitialInterval:     5 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         10 * time.Millisecond,
	}
	bo.Reset()
	deadline := time.Now().Add(txBudget)

	for {
		_, err := unix.Write(m.fd, frame[:])
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.ENOBUFS) || time.Now().After(deadline) {
			return fmt.Errorf("failed to write CAN frame: %w", err)
		}
		time.Sleep(bo.NextBackOff())
	}
}

// Run reads frames until ctx is canceled. Error, remote-request and
// standard-id frames are discarded before they reach the protocol.
func (m *Driver) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		unix.Close(m.fd)
	}()

	var frame [frameSize]byte
	for {
		n, err := unix.Read(m.fd, frame[:])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Errorf("read: %v", err)
			continue
		}
		if n != frameSize {
			m.log.Warnf("incomplete CAN frame, %d bytes", n)
			continue
		}

		id := binary.LittleEndian.Uint32(frame[0:4])
		if id&(unix.CAN_ERR_FLAG|unix.CAN_RTR_FLAG) != 0 || id&unix.CAN_EFF_FLAG == 0 {
			continue
		}

		dlc := frame[4]
		if dlc > 8 {
			dlc = 8
		}

		m.ifc.Rx(id&unix.CAN_EFF_MASK, frame[8:8+dlc])
	}
}
