// Package events defines the observation callbacks the capture loop and
// policy engine invoke while processing packets, and a handful of Sink
// implementations: structured logging, counters, a deterministic-text sink
// for end-to-end tests, and a Tee that composes two sinks (nest Tees to
// compose more). The Prometheus metrics sink lives in internal/metrics.
package events

import (
	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// Stat is the subset of capture driver statistics a Sink can report.
type Stat struct {
	PacketsReceived int
	PacketsDropped  int
	InterfaceDropped int
}

// Sink receives one callback for every disposition the pipeline reaches
// while handling a captured packet, plus a periodic statistics snapshot.
// Every method must return quickly and without blocking: a Sink backed by
// I/O (the logging sink) should buffer internally rather than stall the
// capture loop.
type Sink interface {
	HandleLinkError(err error)
	HandleIPError(err error, payload []byte)
	HandleIPFragmentedError(ipInfo protocols.IPInfo)
	HandleIPNotUDPError(ipInfo protocols.IPInfo, payload []byte)
	HandleUDPError(ipInfo protocols.IPInfo, err error, payload []byte)
	HandleDNSTooShort(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, payload []byte)
	HandleDNSIsQuery(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo)
	HandleDNSIsNotAuthoritative(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo)
	HandleDNSHasNoAnswers(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo)
	HandleNonFatalForwardError(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo, dnsData []byte, err *forward.Error)
	HandleSuccess(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo, dnsData []byte)
	ShowStat(stat Stat)
}

// Tee forwards every callback to First, then Second, in that order. It
// lets several independent Sinks (logging, counters, metrics) observe the
// same stream of events without any of them knowing about the others.
type Tee struct {
	First, Second Sink
}

// Combine composes two sinks into one that tees every callback to both, in
// order. Chaining further sinks is just Combine(Combine(a, b), c).
func Combine(first, second Sink) Sink {
	return Tee{First: first, Second: second}
}

func (t Tee) HandleLinkError(err error) {
	t.First.HandleLinkError(err)
	t.Second.HandleLinkError(err)
}

func (t Tee) HandleIPError(err error, payload []byte) {
	t.First.HandleIPError(err, payload)
	t.Second.HandleIPError(err, payload)
}

func (t Tee) HandleIPFragmentedError(ipInfo protocols.IPInfo) {
	t.First.HandleIPFragmentedError(ipInfo)
	t.Second.HandleIPFragmentedError(ipInfo)
}

func (t Tee) HandleIPNotUDPError(ipInfo protocols.IPInfo, payload []byte) {
	t.First.HandleIPNotUDPError(ipInfo, payload)
	t.Second.HandleIPNotUDPError(ipInfo, payload)
}

func (t Tee) HandleUDPError(ipInfo protocols.IPInfo, err error, payload []byte) {
	t.First.HandleUDPError(ipInfo, err, payload)
	t.Second.HandleUDPError(ipInfo, err, payload)
}

func (t Tee) HandleDNSTooShort(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, payload []byte) {
	t.First.HandleDNSTooShort(ipInfo, udpInfo, payload)
	t.Second.HandleDNSTooShort(ipInfo, udpInfo, payload)
}

func (t Tee) HandleDNSIsQuery(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo) {
	t.First.HandleDNSIsQuery(ipInfo, udpInfo, dnsInfo)
	t.Second.HandleDNSIsQuery(ipInfo, udpInfo, dnsInfo)
}

func (t Tee) HandleDNSIsNotAuthoritative(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo) {
	t.First.HandleDNSIsNotAuthoritative(ipInfo, udpInfo, dnsInfo)
	t.Second.HandleDNSIsNotAuthoritative(ipInfo, udpInfo, dnsInfo)
}

func (t Tee) HandleDNSHasNoAnswers(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo) {
	t.First.HandleDNSHasNoAnswers(ipInfo, udpInfo, dnsInfo)
	t.Second.HandleDNSHasNoAnswers(ipInfo, udpInfo, dnsInfo)
}

func (t Tee) HandleNonFatalForwardError(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo, dnsData []byte, err *forward.Error) {
	t.First.HandleNonFatalForwardError(ipInfo, udpInfo, dnsInfo, dnsData, err)
	t.Second.HandleNonFatalForwardError(ipInfo, udpInfo, dnsInfo, dnsData, err)
}

func (t Tee) HandleSuccess(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo, dnsData []byte) {
	t.First.HandleSuccess(ipInfo, udpInfo, dnsInfo, dnsData)
	t.Second.HandleSuccess(ipInfo, udpInfo, dnsInfo, dnsData)
}

func (t Tee) ShowStat(stat Stat) {
	t.First.ShowStat(stat)
	t.Second.ShowStat(stat)
}
