// Package zmqhub tunnels CSP packets over a ZeroMQ XSUB/XPUB hub. Every
// message starts with the resolved "via" address byte, which doubles as the
// subscription filter, followed by the CSP identifier and payload.
package zmqhub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"

	"github.com/analyticalspace/csp-go/csp"
)

// MTU is the largest CSP payload carried per message. There is no hard
// ZeroMQ limit; this assumes the peers run the same stack.
const MTU = 1024

// Default hub ports: the hub subscribes on 6000 (our publish side) and
// publishes on 7000 (our subscribe side).
const (
	HubSubscribePort = 6000
	HubPublishPort   = 7000
)

// headerSize is the via byte plus the CSP identifier.
const headerSize = csp.HeaderLength + 1

// Config configures one ZeroMQ interface.
type Config struct {
	// Name is the interface registry name.
	Name string `yaml:"name"`
	// Host is the hub's address.
	Host string `yaml:"host"`
	// PublishPort and SubscribePort are the hub's XSUB and XPUB ports.
	PublishPort   uint16 `yaml:"publish_port"`
	SubscribePort uint16 `yaml:"subscribe_port"`
	// Filter subscribes only to messages addressed to this node instead of
	// the whole bus.
	Filter bool `yaml:"filter"`
}

func DefaultConfig() Config {
	return Config{
		Name:          "ZMQHUB",
		Host:          "localhost",
		PublishPort:   HubSubscribePort,
		SubscribePort: HubPublishPort,
	}
}

// Interface is a ZeroMQ link interface.
type Interface struct {
	csp.IfaceInfo

	cfg   Config
	stack *csp.Stack
	log   *zap.SugaredLogger

	// ZeroMQ sockets are not safe for concurrent use; the publisher is
	// serialized.
	pubMu sync.Mutex
	pub   zmq4.Socket
	sub   zmq4.Socket
}

// New builds a ZeroMQ interface and registers it with the stack. Sockets
// are connected by Run.
func New(stack *csp.Stack, cfg Config, log *zap.SugaredLogger) (*Interface, error) {
	m := &Interface{
		IfaceInfo: csp.NewIfaceInfo(cfg.Name, MTU),
		cfg:       cfg,
		stack:     stack,
		log:       log.With(zap.String("iface", cfg.Name)),
	}

	if err := stack.AddInterface(m); err != nil {
		return nil, fmt.Errorf("failed to register ZMQ interface: %w", err)
	}
	return m, nil
}

// Run connects to the hub and receives until ctx is canceled.
func (m *Interface) Run(ctx context.Context) error {
	m.pubMu.Lock()
	m.pub = zmq4.NewPub(ctx)
	m.pubMu.Unlock()
	m.sub = zmq4.NewSub(ctx)
	defer m.pub.Close()
	defer m.sub.Close()

	pubEndpoint := fmt.Sprintf("tcp://%s:%d", m.cfg.Host, m.cfg.PublishPort)
	if err := m.pub.Dial(pubEndpoint); err != nil {
		return fmt.Errorf("failed to connect publisher to %s: %w", pubEndpoint, err)
	}

	subEndpoint := fmt.Sprintf("tcp://%s:%d", m.cfg.Host, m.cfg.SubscribePort)
	if err := m.sub.Dial(subEndpoint); err != nil {
		return fmt.Errorf("failed to connect subscriber to %s: %w", subEndpoint, err)
	}

	filter := ""
	if m.cfg.Filter {
		filter = string([]byte{m.stack.Address()})
	}
	if err := m.sub.SetOption(zmq4.OptionSubscribe, filter); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	m.log.Infof("connected, pub %s sub %s filtered=%v", pubEndpoint, subEndpoint, m.cfg.Filter)

	for {
		msg, err := m.sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.Stats().RxError.Add(1)
			continue
		}
		m.rxMessage(msg.Bytes())
	}
}

// rxMessage decodes one hub message into a packet and dispatches it.
func (m *Interface) rxMessage(data []byte) {
	if len(data) < headerSize {
		m.Stats().Frame.Add(1)
		return
	}

	// First byte is the via address the sender resolved; only the CSP
	// header determines further routing.
	payload := data[headerSize:]

	pkt, err := m.stack.Buffers().TryGet(len(payload))
	if err != nil {
		m.Stats().RxError.Add(1)
		return
	}

	pkt.ID = csp.GetID(data[1:headerSize])
	pkt.Resize(len(payload))
	copy(pkt.Data, payload)

	m.stack.Enqueue(pkt, m)
}

// Nexthop publishes the packet to the hub. On success the packet is
// released.
func (m *Interface) Nexthop(p *csp.Packet, timeout time.Duration) error {
	_ = timeout

	dest := m.stack.Routes().FindMAC(p.ID.Destination)
	if dest == csp.NodeMAC {
		dest = p.ID.Destination
	}

	buf := encodeMessage(dest, p)

	m.pubMu.Lock()
	if m.pub == nil {
		m.pubMu.Unlock()
		return fmt.Errorf("interface not running: %w", csp.ErrTx)
	}
	err := m.pub.Send(zmq4.NewMsg(buf))
	m.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %w", csp.ErrTxDriver, err)
	}

	m.Stats().Tx.Add(1)
	m.Stats().TxBytes.Add(uint64(p.Length()))
	p.Release()
	return nil
}

// encodeMessage lays out a hub message: via byte, identifier, payload.
func encodeMessage(via uint8, p *csp.Packet) []byte {
	buf := make([]byte, headerSize+p.Length())
	buf[0] = via
	csp.PutID(buf[1:], p.ID)
	copy(buf[headerSize:], p.Data)
	return buf
}
