package events

import (
	"context"
	"log/slog"

	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// LoggingSink renders every callback as a structured log line. Level gates
// which callbacks produce output: 0 is silent, 1 logs protocol/link/DNS
// errors, 2 and above additionally logs drop decisions (query, not
// authoritative, empty answers) and successful forwards. ShowStat is not
// gated by Level.
type LoggingSink struct {
	Logger *slog.Logger
	Level  uint64
}

func (s LoggingSink) showProtocolErrors() bool { return s.Level >= 1 }
func (s LoggingSink) showDebug() bool          { return s.Level >= 2 }

func (s LoggingSink) HandleLinkError(err error) {
	if !s.showProtocolErrors() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelInfo, "couldn't find IP layer", slog.Any("error", err))
}

func (s LoggingSink) HandleIPError(err error, payload []byte) {
	if !s.showProtocolErrors() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelInfo, "invalid IP packet", slog.Any("error", err), slog.Int("length", len(payload)))
}

func (s LoggingSink) HandleIPFragmentedError(ipInfo protocols.IPInfo) {
	if !s.showDebug() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelDebug, "IP packet is fragmented", slog.String("packet", ipInfo.String()))
}

func (s LoggingSink) HandleIPNotUDPError(ipInfo protocols.IPInfo, payload []byte) {
	if !s.showDebug() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelDebug, "IP packet is not UDP", slog.String("packet", ipInfo.String()))
}

func (s LoggingSink) HandleUDPError(ipInfo protocols.IPInfo, err error, payload []byte) {
	if !s.showProtocolErrors() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelInfo, "invalid UDP packet", slog.String("packet", ipInfo.String()), slog.Any("error", err))
}

func (s LoggingSink) HandleDNSTooShort(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, payload []byte) {
	if !s.showProtocolErrors() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelInfo, "invalid DNS packet: too short",
		slog.String("packet", ipInfo.FormatPorts(udpInfo.SourcePort, udpInfo.DestinationPort)))
}

func (s LoggingSink) HandleDNSIsQuery(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo) {
	if !s.showDebug() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelDebug, "DNS packet is a query",
		slog.String("packet", ipInfo.FormatPorts(udpInfo.SourcePort, udpInfo.DestinationPort)), slog.Uint64("id", uint64(dnsInfo.ID)))
}

func (s LoggingSink) HandleDNSIsNotAuthoritative(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo) {
	if !s.showDebug() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelDebug, "DNS packet is not authoritative",
		slog.String("packet", ipInfo.FormatPorts(udpInfo.SourcePort, udpInfo.DestinationPort)), slog.Uint64("id", uint64(dnsInfo.ID)))
}

func (s LoggingSink) HandleDNSHasNoAnswers(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo) {
	if !s.showDebug() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelDebug, "DNS packet has no answers",
		slog.String("packet", ipInfo.FormatPorts(udpInfo.SourcePort, udpInfo.DestinationPort)), slog.Uint64("id", uint64(dnsInfo.ID)))
}

func (s LoggingSink) HandleNonFatalForwardError(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo, dnsData []byte, err *forward.Error) {
	if !s.showProtocolErrors() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelInfo, "failed forwarding DNS packet",
		slog.String("packet", ipInfo.FormatPorts(udpInfo.SourcePort, udpInfo.DestinationPort)), slog.Any("error", err))
}

func (s LoggingSink) HandleSuccess(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo, dnsData []byte) {
	if !s.showDebug() {
		return
	}
	s.Logger.Log(context.Background(), slog.LevelDebug, "successfully forwarded DNS packet",
		slog.String("packet", ipInfo.FormatPorts(udpInfo.SourcePort, udpInfo.DestinationPort)), slog.Uint64("id", uint64(dnsInfo.ID)))
}

func (s LoggingSink) ShowStat(stat Stat) {
	s.Logger.Info("capture stats",
		slog.Int("received", stat.PacketsReceived),
		slog.Int("dropped", stat.PacketsDropped),
		slog.Int("if_dropped", stat.InterfaceDropped))
}
