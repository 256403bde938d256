// Package metrics exposes node counters to Prometheus.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bbernstein/lacylights-artnet/pkg/artnet"
)

// Collector bundles the Art-Net node metrics. It implements dmx.Observer.
type Collector struct {
	gatherer prometheus.Gatherer

	PacketsReceived *prometheus.CounterVec
	PacketsSent     *prometheus.CounterVec
	MergeSources    *prometheus.GaugeVec
	Peers           prometheus.Gauge
}

// NewCollector registers the node metrics against reg, defaulting to the
// global Prometheus registry when nil.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	received, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "artnet_packets_received_total",
		Help: "Art-Net packets received, labeled by opcode.",
	}, []string{"op"}), "artnet_packets_received_total")
	if err != nil {
		return nil, err
	}
	sent, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "artnet_packets_sent_total",
		Help: "Art-Net packets sent, labeled by opcode.",
	}, []string{"op"}), "artnet_packets_sent_total")
	if err != nil {
		return nil, err
	}
	sources, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "artnet_merge_sources",
		Help: "Live DMX sources per output port.",
	}, []string{"port"}), "artnet_merge_sources")
	if err != nil {
		return nil, err
	}
	peers, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "artnet_peers",
		Help: "Peers in the node registry.",
	}), "artnet_peers")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:        gatherer,
		PacketsReceived: received,
		PacketsSent:     sent,
		MergeSources:    sources,
		Peers:           peers,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) PacketReceived(op artnet.OpCode) {
	c.PacketsReceived.WithLabelValues(op.String()).Inc()
}

func (c *Collector) PacketSent(op artnet.OpCode) {
	c.PacketsSent.WithLabelValues(op.String()).Inc()
}

func (c *Collector) PeerCount(n int) { c.Peers.Set(float64(n)) }

// MergeSourceCount records the live source count of an output port.
func (c *Collector) MergeSourceCount(port, n int) {
	c.MergeSources.WithLabelValues(strconv.Itoa(port)).Set(float64(n))
}

// register adds col to reg, reusing an identical collector registered
// earlier.
func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			return col, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return col, err
	}
	return col, nil
}
