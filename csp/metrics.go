package csp

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type counterDesc struct {
	desc  *prometheus.Desc
	value func(*Stats) *atomic.Uint64
}

// InterfaceCollector exposes the per-interface counters as prometheus
// metrics, one series per installed interface.
type InterfaceCollector struct {
	ifaces   *Iflist
	counters []counterDesc
}

func NewInterfaceCollector(ifaces *Iflist) *InterfaceCollector {
	labels := []string{"interface"}

	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("csp_iface_"+name, help, labels, nil)
	}

	return &InterfaceCollector{
		ifaces: ifaces,
		counters: []counterDesc{
			{mk("tx_packets_total", "Packets transmitted."), func(s *Stats) *atomic.Uint64 { return &s.Tx }},
			{mk("rx_packets_total", "Packets received."), func(s *Stats) *atomic.Uint64 { return &s.Rx }},
			{mk("tx_errors_total", "Transmit failures."), func(s *Stats) *atomic.Uint64 { return &s.TxError }},
			{mk("rx_errors_total", "Receive failures."), func(s *Stats) *atomic.Uint64 { return &s.RxError }},
			{mk("dropped_total", "Packets dropped on a full dispatch queue or for lack of a route."), func(s *Stats) *atomic.Uint64 { return &s.Drop }},
			{mk("auth_errors_total", "HMAC/XTEA rejections."), func(s *Stats) *atomic.Uint64 { return &s.AuthErr }},
			{mk("frame_errors_total", "Malformed or out-of-order link frames."), func(s *Stats) *atomic.Uint64 { return &s.Frame }},
			{mk("tx_bytes_total", "Payload bytes transmitted."), func(s *Stats) *atomic.Uint64 { return &s.TxBytes }},
			{mk("rx_bytes_total", "Payload bytes received."), func(s *Stats) *atomic.Uint64 { return &s.RxBytes }},
		},
	}
}

func (m *InterfaceCollector) Describe(descs chan<- *prometheus.Desc) {
	for _, c := range m.counters {
		descs <- c.desc
	}
}

func (m *InterfaceCollector) Collect(metrics chan<- prometheus.Metric) {
	for _, ifc := range m.ifaces.All() {
		stats := ifc.Stats()
		for _, c := range m.counters {
			metrics <- prometheus.MustNewConstMetric(
				c.desc, prometheus.CounterValue,
				float64(c.value(stats).Load()), ifc.Name())
		}
	}
}
