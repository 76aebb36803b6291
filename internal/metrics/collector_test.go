package metrics_test

import (
	"net/netip"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/rus-cert/dnslogger-forward-go/internal/events"
	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/metrics"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

func testIPInfo() protocols.IPInfo {
	return protocols.IPInfo{
		Source:      netip.MustParseAddr("192.0.2.1"),
		Destination: netip.MustParseAddr("192.0.2.2"),
	}
}

func TestNewCollectorRegistersMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.Outcomes == nil {
		t.Fatal("Outcomes is nil")
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestCollectorOutcomeCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	ipInfo := testIPInfo()
	c.HandleDNSIsQuery(ipInfo, protocols.UDPInfo{}, protocols.DNSInfo{})
	c.HandleDNSIsQuery(ipInfo, protocols.UDPInfo{}, protocols.DNSInfo{})
	c.HandleSuccess(ipInfo, protocols.UDPInfo{}, protocols.DNSInfo{}, nil)

	if got := counterValue(t, c.Outcomes, "dns_is_query"); got != 2 {
		t.Errorf("dns_is_query outcome = %v, want 2", got)
	}
	if got := counterValue(t, c.Outcomes, "success"); got != 1 {
		t.Errorf("success outcome = %v, want 1", got)
	}
}

func TestCollectorNonFatalForwardErrorSplitsByFatal(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	ipInfo := testIPInfo()
	c.HandleNonFatalForwardError(ipInfo, protocols.UDPInfo{}, protocols.DNSInfo{}, nil, &forward.Error{Kind: forward.ErrorBufferTooSmall})
	c.HandleNonFatalForwardError(ipInfo, protocols.UDPInfo{}, protocols.DNSInfo{}, nil, &forward.Error{Kind: forward.ErrorIO})

	if got := counterValue(t, c.Outcomes, "forward_error"); got != 1 {
		t.Errorf("forward_error outcome = %v, want 1", got)
	}
	if got := counterValue(t, c.Outcomes, "forward_error_fatal"); got != 1 {
		t.Errorf("forward_error_fatal outcome = %v, want 1", got)
	}
}

func TestCollectorShowStat(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.ShowStat(events.Stat{PacketsReceived: 10, PacketsDropped: 2, InterfaceDropped: 1})

	if got := gaugeValue(t, c.PacketsReceived); got != 10 {
		t.Errorf("PacketsReceived = %v, want 10", got)
	}
	if got := gaugeValue(t, c.PacketsDropped); got != 2 {
		t.Errorf("PacketsDropped = %v, want 2", got)
	}
	if got := gaugeValue(t, c.InterfaceDropped); got != 1 {
		t.Errorf("InterfaceDropped = %v, want 1", got)
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
