// Package metrics exposes the daemon's packet-handling outcomes as
// Prometheus metrics, by implementing events.Sink and wiring the result
// into a registry the same way the rest of the ambient stack does.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rus-cert/dnslogger-forward-go/internal/events"
	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

const (
	namespace = "dnslogger"
	subsystem = "forward"
)

const labelOutcome = "outcome"

// Outcome label values, one per per-packet events.Sink callback, with
// forward errors split into non-fatal and fatal.
const (
	outcomeLinkError            = "link_error"
	outcomeIPError               = "ip_error"
	outcomeIPFragmented          = "ip_fragmented"
	outcomeIPNotUDP              = "ip_not_udp"
	outcomeUDPError              = "udp_error"
	outcomeDNSTooShort           = "dns_too_short"
	outcomeDNSIsQuery            = "dns_is_query"
	outcomeDNSIsNotAuthoritative = "dns_is_not_authoritative"
	outcomeDNSHasNoAnswers       = "dns_has_no_answers"
	outcomeForwardErrorNonFatal  = "forward_error"
	outcomeForwardErrorFatal     = "forward_error_fatal"
	outcomeSuccess               = "success"
)

// Collector holds all packet-handling Prometheus metrics and implements
// events.Sink, so it can be teed alongside the logging and statistics
// sinks without either knowing about the other.
//
// Outcomes counts every disposition the pipeline can reach, labeled by
// name, so a single metric answers both "how many packets were dropped as
// queries" and "how many were forwarded successfully". The capture gauges
// separately track the driver-level counters reported by ShowStat.
type Collector struct {
	Outcomes *prometheus.CounterVec

	PacketsReceived  prometheus.Gauge
	PacketsDropped   prometheus.Gauge
	InterfaceDropped prometheus.Gauge
}

// NewCollector creates a Collector with all metrics registered against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()
	reg.MustRegister(c.Outcomes, c.PacketsReceived, c.PacketsDropped, c.InterfaceDropped)
	return c
}

// newMetrics creates all Prometheus metrics without registering them.
func newMetrics() *Collector {
	return &Collector{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outcomes_total",
			Help:      "Total captured packets by handling outcome.",
		}, []string{labelOutcome}),

		PacketsReceived: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "capture_packets_received",
			Help:      "Packets received by the capture handle, as last reported by its driver statistics.",
		}),

		PacketsDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "capture_packets_dropped",
			Help:      "Packets dropped by the capture handle's internal buffer, as last reported by its driver statistics.",
		}),

		InterfaceDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "capture_interface_dropped",
			Help:      "Packets dropped by the network interface itself, as last reported by its driver statistics.",
		}),
	}
}

var _ events.Sink = (*Collector)(nil)

func (c *Collector) HandleLinkError(error)       { c.Outcomes.WithLabelValues(outcomeLinkError).Inc() }
func (c *Collector) HandleIPError(error, []byte) { c.Outcomes.WithLabelValues(outcomeIPError).Inc() }

func (c *Collector) HandleIPFragmentedError(protocols.IPInfo) {
	c.Outcomes.WithLabelValues(outcomeIPFragmented).Inc()
}

func (c *Collector) HandleIPNotUDPError(protocols.IPInfo, []byte) {
	c.Outcomes.WithLabelValues(outcomeIPNotUDP).Inc()
}

func (c *Collector) HandleUDPError(protocols.IPInfo, error, []byte) {
	c.Outcomes.WithLabelValues(outcomeUDPError).Inc()
}

func (c *Collector) HandleDNSTooShort(protocols.IPInfo, protocols.UDPInfo, []byte) {
	c.Outcomes.WithLabelValues(outcomeDNSTooShort).Inc()
}

func (c *Collector) HandleDNSIsQuery(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo) {
	c.Outcomes.WithLabelValues(outcomeDNSIsQuery).Inc()
}

func (c *Collector) HandleDNSIsNotAuthoritative(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo) {
	c.Outcomes.WithLabelValues(outcomeDNSIsNotAuthoritative).Inc()
}

func (c *Collector) HandleDNSHasNoAnswers(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo) {
	c.Outcomes.WithLabelValues(outcomeDNSHasNoAnswers).Inc()
}

func (c *Collector) HandleNonFatalForwardError(_ protocols.IPInfo, _ protocols.UDPInfo, _ protocols.DNSInfo, _ []byte, err *forward.Error) {
	if err != nil && err.Fatal() {
		c.Outcomes.WithLabelValues(outcomeForwardErrorFatal).Inc()
	} else {
		c.Outcomes.WithLabelValues(outcomeForwardErrorNonFatal).Inc()
	}
}

func (c *Collector) HandleSuccess(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo, []byte) {
	c.Outcomes.WithLabelValues(outcomeSuccess).Inc()
}

func (c *Collector) ShowStat(stat events.Stat) {
	c.PacketsReceived.Set(float64(stat.PacketsReceived))
	c.PacketsDropped.Set(float64(stat.PacketsDropped))
	c.InterfaceDropped.Set(float64(stat.InterfaceDropped))
}
