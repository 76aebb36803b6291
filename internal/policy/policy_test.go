package policy_test

import (
	"encoding/binary"
	"testing"

	"github.com/rus-cert/dnslogger-forward-go/internal/capopt"
	"github.com/rus-cert/dnslogger-forward-go/internal/checksum"
	"github.com/rus-cert/dnslogger-forward-go/internal/events"
	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/policy"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

type fakeSink struct {
	events.StatisticsSink
	lastCall string
}

func (f *fakeSink) HandleDNSIsQuery(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo) {
	f.lastCall = "dns_is_query"
	f.StatisticsSink.HandleDNSIsQuery(protocols.IPInfo{}, protocols.UDPInfo{}, protocols.DNSInfo{})
}

func (f *fakeSink) HandleSuccess(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo, []byte) {
	f.lastCall = "success"
	f.StatisticsSink.HandleSuccess(protocols.IPInfo{}, protocols.UDPInfo{}, protocols.DNSInfo{}, nil)
}

func (f *fakeSink) HandleDNSHasNoAnswers(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo) {
	f.lastCall = "dns_has_no_answers"
	f.StatisticsSink.HandleDNSHasNoAnswers(protocols.IPInfo{}, protocols.UDPInfo{}, protocols.DNSInfo{})
}

func (f *fakeSink) HandleDNSIsNotAuthoritative(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo) {
	f.lastCall = "dns_is_not_authoritative"
	f.StatisticsSink.HandleDNSIsNotAuthoritative(protocols.IPInfo{}, protocols.UDPInfo{}, protocols.DNSInfo{})
}

type fakeForwarder struct {
	calls int
	err   error
}

func (f *fakeForwarder) Forward(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo, []byte) error {
	f.calls++
	return f.err
}
func (f *fakeForwarder) Close() error { return nil }

// ethernetDNSResponsePacket builds a complete Ethernet/IPv4/UDP/DNS frame
// with a valid IP and UDP checksum, a response with the given AA bit and
// answer count.
func ethernetDNSResponsePacket(t *testing.T, authoritative bool, ancount uint16) []byte {
	t.Helper()

	dns := make([]byte, 12)
	binary.BigEndian.PutUint16(dns[0:2], 0xabcd)
	flags := uint16(0x8000) // QR=1 (response)
	if authoritative {
		flags |= 0x0400
	}
	binary.BigEndian.PutUint16(dns[2:4], flags)
	binary.BigEndian.PutUint16(dns[6:8], ancount)

	udpLen := 8 + len(dns)
	udp := make([]byte, udpLen)
	binary.BigEndian.PutUint16(udp[0:2], 53)
	binary.BigEndian.PutUint16(udp[2:4], 40000)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	copy(udp[8:], dns)

	ipHdr := make([]byte, 20)
	ipHdr[0] = 0x45
	totalLength := 20 + udpLen
	binary.BigEndian.PutUint16(ipHdr[2:4], uint16(totalLength))
	ipHdr[8] = 64
	ipHdr[9] = 17
	copy(ipHdr[12:16], []byte{192, 0, 2, 1})
	copy(ipHdr[16:20], []byte{192, 0, 2, 2})

	var uc checksum.Checksum
	uc.Add(ipHdr[12:20])
	uc.Add([]byte{0, 17})
	uc.Add([]byte{byte(udpLen >> 8), byte(udpLen)})
	uc.Add(udp)
	uField := ^uc.Result()
	udp[6] = byte(uField >> 8)
	udp[7] = byte(uField)

	var ic checksum.Checksum
	ic.Add(ipHdr)
	iField := ^ic.Result()
	ipHdr[10] = byte(iField >> 8)
	ipHdr[11] = byte(iField)

	frame := make([]byte, 12)
	frame = append(frame, 0x08, 0x00) // EtherType IPv4
	frame = append(frame, ipHdr...)
	frame = append(frame, udp...)
	return frame
}

func TestHandlePacketForwardsSuccessfulResponse(t *testing.T) {
	t.Parallel()

	packet := ethernetDNSResponsePacket(t, true, 1)
	opts := &capopt.Options{}
	fwd := &fakeForwarder{}
	sink := &fakeSink{}

	if err := policy.HandlePacket(protocols.LinktypeEthernet, packet, opts, fwd, sink); err != nil {
		t.Fatalf("HandlePacket() error = %v", err)
	}
	if fwd.calls != 1 {
		t.Errorf("forwarder called %d times, want 1", fwd.calls)
	}
	if sink.lastCall != "success" {
		t.Errorf("lastCall = %q, want success", sink.lastCall)
	}
}

func TestHandlePacketDropsQuery(t *testing.T) {
	t.Parallel()

	dns := make([]byte, 12) // QR=0: query
	udpLen := 8 + len(dns)
	udp := make([]byte, udpLen)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	copy(udp[8:], dns)

	ipHdr := make([]byte, 20)
	ipHdr[0] = 0x45
	binary.BigEndian.PutUint16(ipHdr[2:4], uint16(20+udpLen))
	ipHdr[9] = 17
	copy(ipHdr[12:16], []byte{192, 0, 2, 1})
	copy(ipHdr[16:20], []byte{192, 0, 2, 2})
	var ic checksum.Checksum
	ic.Add(ipHdr)
	iField := ^ic.Result()
	ipHdr[10] = byte(iField >> 8)
	ipHdr[11] = byte(iField)

	frame := make([]byte, 12)
	frame = append(frame, 0x08, 0x00)
	frame = append(frame, ipHdr...)
	frame = append(frame, udp...)

	opts := &capopt.Options{}
	fwd := &fakeForwarder{}
	sink := &fakeSink{}

	if err := policy.HandlePacket(protocols.LinktypeEthernet, frame, opts, fwd, sink); err != nil {
		t.Fatalf("HandlePacket() error = %v", err)
	}
	if fwd.calls != 0 {
		t.Errorf("forwarder called %d times, want 0 for a query", fwd.calls)
	}
	if sink.lastCall != "dns_is_query" {
		t.Errorf("lastCall = %q, want dns_is_query", sink.lastCall)
	}
}

func TestHandlePacketDropsNonAuthoritativeWhenRequired(t *testing.T) {
	t.Parallel()

	packet := ethernetDNSResponsePacket(t, false, 1)
	opts := &capopt.Options{ForwardAuthOnly: true}
	fwd := &fakeForwarder{}
	sink := &fakeSink{}

	if err := policy.HandlePacket(protocols.LinktypeEthernet, packet, opts, fwd, sink); err != nil {
		t.Fatalf("HandlePacket() error = %v", err)
	}
	if fwd.calls != 0 {
		t.Errorf("forwarder called %d times, want 0", fwd.calls)
	}
	if sink.lastCall != "dns_is_not_authoritative" {
		t.Errorf("lastCall = %q, want dns_is_not_authoritative", sink.lastCall)
	}
}

func TestHandlePacketDropsEmptyAnswersWhenRequired(t *testing.T) {
	t.Parallel()

	packet := ethernetDNSResponsePacket(t, true, 0)
	opts := &capopt.Options{NoForwardEmpty: true}
	fwd := &fakeForwarder{}
	sink := &fakeSink{}

	if err := policy.HandlePacket(protocols.LinktypeEthernet, packet, opts, fwd, sink); err != nil {
		t.Fatalf("HandlePacket() error = %v", err)
	}
	if fwd.calls != 0 {
		t.Errorf("forwarder called %d times, want 0", fwd.calls)
	}
	if sink.lastCall != "dns_has_no_answers" {
		t.Errorf("lastCall = %q, want dns_has_no_answers", sink.lastCall)
	}
}

func TestHandlePacketFatalForwardError(t *testing.T) {
	t.Parallel()

	packet := ethernetDNSResponsePacket(t, true, 1)
	opts := &capopt.Options{}
	fwd := &fakeForwarder{err: &forward.Error{Kind: forward.ErrorIO}}
	sink := &fakeSink{}

	err := policy.HandlePacket(protocols.LinktypeEthernet, packet, opts, fwd, sink)
	if err == nil {
		t.Fatal("HandlePacket() error = nil, want fatal forward error")
	}
}
