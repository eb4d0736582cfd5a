package csp

import (
	"fmt"
	"os"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Config is the core stack configuration.
type Config struct {
	// Address is this node's CSP address (0..31).
	Address uint8 `yaml:"address"`
	// Hostname and Model name the node; the stack only writes them to its
	// startup log and sends them to no peer.
	Hostname string `yaml:"hostname"`
	Model    string `yaml:"model"`
	// Buffers configures the packet buffer pool.
	Buffers BufferConfig `yaml:"buffers"`
	// QueueDepth is the dispatch fifo capacity in packets.
	QueueDepth int `yaml:"queue_depth"`
}

// BufferConfig is the packet pool geometry.
type BufferConfig struct {
	// Count is the number of pool slots.
	Count int `yaml:"count"`
	// Size is the payload capacity of one slot. It must cover the largest
	// interface MTU plus the CRC32 trailer.
	Size datasize.ByteSize `yaml:"size"`
}

func DefaultConfig() *Config {
	return &Config{
		Address:  1,
		Hostname: hostnameOrDefault(),
		Model:    "csp-go",
		Buffers: BufferConfig{
			Count: 64,
			Size:  320,
		},
		QueueDepth: 100,
	}
}

func hostnameOrDefault() string {
	name, err := os.Hostname()
	if err != nil {
		return "csp-node"
	}
	return name
}

func (m *Config) validate() error {
	if m.Address > AddrMax {
		return fmt.Errorf("address %d out of range: %w", m.Address, ErrInval)
	}
	if m.Buffers.Count <= 0 || m.Buffers.Size == 0 {
		return fmt.Errorf("buffer pool geometry %dx%d: %w",
			m.Buffers.Count, m.Buffers.Size, ErrInval)
	}
	return nil
}

// LoadConfig loads the configuration from the given path over the defaults.
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
