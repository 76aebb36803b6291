// Package policy implements the ordered, short-circuiting decision that
// turns one captured frame into either a forwarded DNS response or a
// dropped packet with an observation callback explaining why.
package policy

import (
	"errors"
	"fmt"

	"github.com/rus-cert/dnslogger-forward-go/internal/capopt"
	"github.com/rus-cert/dnslogger-forward-go/internal/events"
	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// protocolUDP is the IP protocol number for UDP (RFC 768).
const protocolUDP = 17

// ErrFatalForward wraps a forwarder's fatal transport error. The capture
// loop treats it as a reason to stop the current capture handle and, per
// the supervisor's restart policy, reopen it.
var ErrFatalForward = errors.New("fatal forward error")

// HandlePacket decodes one captured frame end to end and either forwards
// it, drops it, or reports a fatal forwarding failure. Every non-fatal
// outcome is reported to sink and then treated as handled: HandlePacket
// returns nil in every case except a fatal Forwarder error, which it
// wraps in ErrFatalForward.
func HandlePacket(datalink protocols.Linktype, packet []byte, opts *capopt.Options, fwd forward.Forwarder, sink events.Sink) error {
	family, ipData, err := protocols.FindIPLayer(datalink, packet)
	if err != nil {
		sink.HandleLinkError(err)
		return nil
	}

	ipInfo, udpData, err := protocols.CheckPacket(family, ipData)
	if err != nil {
		sink.HandleIPError(err, ipData)
		return nil
	}
	if ipInfo.Fragment != nil {
		sink.HandleIPFragmentedError(ipInfo)
		return nil
	}
	if ipInfo.Protocol != protocolUDP {
		sink.HandleIPNotUDPError(ipInfo, udpData)
		return nil
	}

	udpInfo, dnsData, err := protocols.CheckUDP(family, ipInfo, ipData, udpData)
	if err != nil {
		sink.HandleUDPError(ipInfo, err, udpData)
		return nil
	}

	dnsInfo, ok := protocols.DecodeHeader(dnsData)
	if !ok {
		sink.HandleDNSTooShort(ipInfo, udpInfo, dnsData)
		return nil
	}

	if dnsInfo.QR == protocols.DNSTypeQuery {
		sink.HandleDNSIsQuery(ipInfo, udpInfo, dnsInfo)
		return nil
	}
	if opts.ForwardAuthOnly && !dnsInfo.AuthoritativeAnswer {
		sink.HandleDNSIsNotAuthoritative(ipInfo, udpInfo, dnsInfo)
		return nil
	}
	if opts.NoForwardEmpty && dnsInfo.ANCount == 0 {
		sink.HandleDNSHasNoAnswers(ipInfo, udpInfo, dnsInfo)
		return nil
	}

	if err := fwd.Forward(ipInfo, udpInfo, dnsInfo, dnsData); err != nil {
		fErr, ok := err.(*forward.Error)
		if !ok {
			fErr = &forward.Error{Kind: forward.ErrorIO, Cause: err}
		}
		if fErr.Fatal() {
			return fmt.Errorf("%w: %v", ErrFatalForward, fErr)
		}
		sink.HandleNonFatalForwardError(ipInfo, udpInfo, dnsInfo, dnsData, fErr)
		return nil
	}

	sink.HandleSuccess(ipInfo, udpInfo, dnsInfo, dnsData)
	return nil
}
