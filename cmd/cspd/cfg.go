//go:build linux

package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/analyticalspace/csp-go/common/logging"
	"github.com/analyticalspace/csp-go/csp"
	"github.com/analyticalspace/csp-go/csp/cfp"
	"github.com/analyticalspace/csp-go/csp/kiss"
	"github.com/analyticalspace/csp-go/csp/security"
	"github.com/analyticalspace/csp-go/csp/zmqhub"
	"github.com/analyticalspace/csp-go/drivers/socketcan"
	"github.com/analyticalspace/csp-go/drivers/usart"
)

// Config is the daemon configuration.
type Config struct {
	// Logging configuration.
	Logging logging.Config `yaml:"logging"`
	// Node is the core stack configuration.
	Node *csp.Config `yaml:"node"`
	// Security carries the optional packet-layer keys.
	Security security.Config `yaml:"security"`
	// Metrics configures the prometheus endpoint; empty disables it.
	Metrics MetricsConfig `yaml:"metrics"`
	// Interfaces enumerates the links to bring up.
	Interfaces InterfacesConfig `yaml:"interfaces"`
	// Routes is the static route table.
	Routes []RouteConfig `yaml:"routes"`
}

type MetricsConfig struct {
	// Endpoint is the listen address, e.g. "localhost:9100".
	Endpoint string `yaml:"endpoint"`
}

type InterfacesConfig struct {
	CAN  []CANConfig  `yaml:"can"`
	KISS []KISSConfig `yaml:"kiss"`
	ZMQ  []zmqhub.Config `yaml:"zmq"`
}

// CANConfig pairs one SocketCAN device with its protocol settings.
type CANConfig struct {
	CFP  cfp.Config       `yaml:",inline"`
	Link socketcan.Config `yaml:",inline"`
}

// KISSConfig pairs one serial device with its framer settings.
type KISSConfig struct {
	Framer kiss.Config  `yaml:",inline"`
	Link   usart.Config `yaml:",inline"`
}

// RouteConfig is one static route: a destination address or "default", the
// egress interface name and an optional via address.
type RouteConfig struct {
	Dst       string `yaml:"dst"`
	Interface string `yaml:"interface"`
	Via       *uint8 `yaml:"via"`
}

// parseDst resolves the destination field to a route table slot.
func (m *RouteConfig) parseDst() (uint8, error) {
	if m.Dst == "default" {
		return csp.RouteDefault, nil
	}

	dst, err := strconv.ParseUint(m.Dst, 10, 8)
	if err != nil || dst > csp.AddrMax {
		return 0, fmt.Errorf("bad route destination %q", m.Dst)
	}
	return uint8(dst), nil
}

func DefaultConfig() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		Node:    csp.DefaultConfig(),
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}

	return cfg, nil
}
