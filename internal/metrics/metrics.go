// Package metrics exposes the process's Prometheus metrics: decoded/rejected
// packet counts by port and type, device visibility, master/tempo
// transitions, and claim outcomes. Modeled on the FlowPBX metrics
// collector's split between eagerly-registered counters and a lazily-pulled
// Collector for state that lives elsewhere (here, the device registry).
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector gathers prolink metrics. Packet and claim counters are
// incremented directly by callers; the devices-visible gauge and uptime are
// computed lazily at scrape time via Collect, the same split the FlowPBX
// collector used for state it didn't own.
type Collector struct {
	startTime time.Time

	packetsDecoded  *prometheus.CounterVec
	packetsRejected *prometheus.CounterVec
	claimOutcomes   *prometheus.CounterVec
	masterChanges   prometheus.Counter
	tempoChanges    prometheus.Counter

	devicesVisibleDesc *prometheus.Desc
	uptimeDesc         *prometheus.Desc

	deviceCount func() int
}

// NewCollector creates a Collector. deviceCount is called at scrape time to
// report prolink_devices_visible; it may be nil before the registry exists
// yet, in which case the gauge is omitted from that scrape.
func NewCollector(startTime time.Time, deviceCount func() int) *Collector {
	return &Collector{
		startTime:   startTime,
		deviceCount: deviceCount,

		packetsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prolink_packets_decoded_total",
			Help: "Packets successfully decoded, by port and packet type.",
		}, []string{"port", "type"}),
		packetsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prolink_packets_rejected_total",
			Help: "Packets that failed to decode, by port.",
		}, []string{"port"}),
		claimOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prolink_claim_outcomes_total",
			Help: "Virtual device number claim attempts, by outcome.",
		}, []string{"outcome"}),
		masterChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prolink_master_changes_total",
			Help: "Tempo master handoffs observed.",
		}),
		tempoChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prolink_tempo_changes_total",
			Help: "Master tempo changes observed.",
		}),

		devicesVisibleDesc: prometheus.NewDesc(
			"prolink_devices_visible", "Number of devices currently visible on the network.", nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"prolink_uptime_seconds", "Seconds since the process started.", nil, nil,
		),
	}
}

// PacketsDecoded increments the decoded counter for (port, type).
func (c *Collector) PacketsDecoded(port int, typeName fmt.Stringer) {
	c.packetsDecoded.WithLabelValues(portLabel(port), typeName.String()).Inc()
}

// PacketsRejected increments the rejected counter for port.
func (c *Collector) PacketsRejected(port int) {
	c.packetsRejected.WithLabelValues(portLabel(port)).Inc()
}

// ClaimOutcome increments the claim-outcome counter (outcome is e.g.
// "assigned", "defended", "exhausted").
func (c *Collector) ClaimOutcome(outcome string) {
	c.claimOutcomes.WithLabelValues(outcome).Inc()
}

// MasterChanged increments the master-handoff counter.
func (c *Collector) MasterChanged() { c.masterChanges.Inc() }

// TempoChanged increments the tempo-change counter.
func (c *Collector) TempoChanged() { c.tempoChanges.Inc() }

func portLabel(port int) string {
	switch port {
	case 50000:
		return "announcement"
	case 50001:
		return "beat"
	case 50002:
		return "status"
	default:
		return fmt.Sprintf("%d", port)
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.packetsDecoded.Describe(ch)
	c.packetsRejected.Describe(ch)
	c.claimOutcomes.Describe(ch)
	ch <- c.masterChanges.Desc()
	ch <- c.tempoChanges.Desc()
	ch <- c.devicesVisibleDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.packetsDecoded.Collect(ch)
	c.packetsRejected.Collect(ch)
	c.claimOutcomes.Collect(ch)
	ch <- c.masterChanges
	ch <- c.tempoChanges

	if c.deviceCount != nil {
		ch <- prometheus.MustNewConstMetric(c.devicesVisibleDesc, prometheus.GaugeValue, float64(c.deviceCount()))
	}
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}
