package events

import (
	"fmt"
	"io"

	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// TestingSink renders every callback as a fixed, line-oriented trace
// format. Most dispositions print a `dnslogger-forward: debug: ...` line;
// link errors, fragmented packets, and IP/UDP/forward errors without a
// dedicated message print without that prefix. It backs the `-T` one-shot
// test-vector mode: every expected-output fixture is exact text produced
// by this sink, not a structured log record.
type TestingSink struct {
	Writer     io.Writer
	TCPForward bool
}

func (s TestingSink) printf(format string, args ...any) {
	fmt.Fprintf(s.Writer, format+"\n", args...)
}

func (s TestingSink) HandleLinkError(err error) {
	s.printf("Couldn't find IPv4 / IPv6: %v", err)
}

func (s TestingSink) HandleIPError(err error, payload []byte) {
	ipErr, ok := err.(*protocols.IPError)
	if !ok {
		s.printf("Invalid IP packet: %v", err)
		return
	}
	switch ipErr.Kind {
	case protocols.IPErrorHeaderTruncated:
		s.printf("dnslogger-forward: debug: Short packet of length %d.", len(payload))
	case protocols.IPErrorHeaderLongerThanPacket:
		s.printf("dnslogger-forward: debug: IP packet total length smaller than header, indicated total length is %d, header is %d bytes long.",
			ipErr.TotalLength, ipErr.HeaderLength)
	case protocols.IPErrorPayloadTruncated:
		s.printf("dnslogger-forward: debug: Truncated IP packet, indicated length is %d, available is %d.",
			ipErr.ExpectedLength, len(payload))
	default:
		s.printf("Invalid IP packet: %v", err)
	}
}

func (s TestingSink) HandleIPFragmentedError(ipInfo protocols.IPInfo) {
	s.printf("IP packet is fragmented: %s", ipInfo)
}

func (s TestingSink) HandleIPNotUDPError(ipInfo protocols.IPInfo, _ []byte) {
	s.printf("dnslogger-forward: debug: Unexpected IP protocol %d (%s -> %s).",
		ipInfo.Protocol, ipInfo.Source, ipInfo.Destination)
}

func (s TestingSink) HandleUDPError(ipInfo protocols.IPInfo, err error, _ []byte) {
	udpErr, ok := err.(*protocols.UDPError)
	if !ok {
		s.printf("Invalid UDP packet %s: %v", ipInfo, err)
		return
	}
	switch udpErr.Kind {
	case protocols.UDPErrorHeaderTruncated:
		s.printf("dnslogger-forward: debug: Truncated UDP header (%s -> %s).", ipInfo.Source, ipInfo.Destination)
	case protocols.UDPErrorHeaderTooShort:
		s.printf("dnslogger-forward: debug: UDP total length smaller than header, indicated total length is %d, header is 8 bytes long.", udpErr.IndicatedLength)
	case protocols.UDPErrorPayloadTruncated:
		s.printf("dnslogger-forward: debug: Truncated UDP packet (%s -> %s, UDP length %d, available %d).",
			ipInfo.Source, ipInfo.Destination, udpErr.IndicatedLength, udpErr.AvailableLength)
	default:
		s.printf("Invalid UDP packet %s: %v", ipInfo, err)
	}
}

func (s TestingSink) HandleDNSTooShort(_ protocols.IPInfo, _ protocols.UDPInfo, payload []byte) {
	s.printf("dnslogger-forward: debug: Truncated DNS packet (length %d).", len(payload))
}

func (s TestingSink) HandleDNSIsQuery(ipInfo protocols.IPInfo, _ protocols.UDPInfo, _ protocols.DNSInfo) {
	s.printf("dnslogger-forward: debug: Dropping question packet (%s -> %s).", ipInfo.Source, ipInfo.Destination)
}

func (s TestingSink) HandleDNSIsNotAuthoritative(ipInfo protocols.IPInfo, _ protocols.UDPInfo, _ protocols.DNSInfo) {
	s.printf("dnslogger-forward: debug: Dropping non-authoritative DNS packet (%s -> %s).", ipInfo.Source, ipInfo.Destination)
}

func (s TestingSink) HandleDNSHasNoAnswers(ipInfo protocols.IPInfo, _ protocols.UDPInfo, _ protocols.DNSInfo) {
	s.printf("dnslogger-forward: debug: Dropping packet without answers (%s -> %s).", ipInfo.Source, ipInfo.Destination)
}

func (s TestingSink) HandleNonFatalForwardError(ipInfo protocols.IPInfo, _ protocols.UDPInfo, _ protocols.DNSInfo, dnsData []byte, err *forward.Error) {
	if err != nil && err.Kind == forward.ErrorBufferTooSmall {
		s.printf("dnslogger-forward: debug: Dropping overlong packet (%s -> %s, %d bytes).", ipInfo.Source, ipInfo.Destination, len(dnsData))
		return
	}
	s.printf("Failed forwarding DNS packet: %v", err)
}

func (s TestingSink) HandleSuccess(_ protocols.IPInfo, _ protocols.UDPInfo, _ protocols.DNSInfo, dnsData []byte) {
	if !s.TCPForward {
		s.printf("dnslogger-forward: debug: Forwarded %d bytes.", len(dnsData)+12)
	}
}

func (s TestingSink) ShowStat(Stat) {}
