package events

import (
	"sync/atomic"

	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// StatisticsSink accumulates a plain count of each disposition the
// pipeline reaches. Safe for concurrent use, though the capture loop is
// currently single-threaded.
type StatisticsSink struct {
	LinkErrors             atomic.Uint64
	IPErrors               atomic.Uint64
	IPFragmentedErrors     atomic.Uint64
	IPNotUDPErrors         atomic.Uint64
	UDPErrors              atomic.Uint64
	DNSTooShort            atomic.Uint64
	DNSIsQuery             atomic.Uint64
	DNSIsNotAuthoritative  atomic.Uint64
	DNSHasNoAnswers        atomic.Uint64
	ForwardErrors          atomic.Uint64
	FatalForwardErrors     atomic.Uint64
	Success                atomic.Uint64
}

func NewStatisticsSink() *StatisticsSink {
	return &StatisticsSink{}
}

func (s *StatisticsSink) HandleLinkError(error)                 { s.LinkErrors.Add(1) }
func (s *StatisticsSink) HandleIPError(error, []byte)           { s.IPErrors.Add(1) }
func (s *StatisticsSink) HandleIPFragmentedError(protocols.IPInfo) { s.IPFragmentedErrors.Add(1) }
func (s *StatisticsSink) HandleIPNotUDPError(protocols.IPInfo, []byte) {
	s.IPNotUDPErrors.Add(1)
}
func (s *StatisticsSink) HandleUDPError(protocols.IPInfo, error, []byte) { s.UDPErrors.Add(1) }
func (s *StatisticsSink) HandleDNSTooShort(protocols.IPInfo, protocols.UDPInfo, []byte) {
	s.DNSTooShort.Add(1)
}
func (s *StatisticsSink) HandleDNSIsQuery(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo) {
	s.DNSIsQuery.Add(1)
}
func (s *StatisticsSink) HandleDNSIsNotAuthoritative(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo) {
	s.DNSIsNotAuthoritative.Add(1)
}
func (s *StatisticsSink) HandleDNSHasNoAnswers(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo) {
	s.DNSHasNoAnswers.Add(1)
}

func (s *StatisticsSink) HandleNonFatalForwardError(_ protocols.IPInfo, _ protocols.UDPInfo, _ protocols.DNSInfo, _ []byte, err *forward.Error) {
	if err != nil && err.Fatal() {
		s.FatalForwardErrors.Add(1)
	} else {
		s.ForwardErrors.Add(1)
	}
}

func (s *StatisticsSink) HandleSuccess(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo, []byte) {
	s.Success.Add(1)
}

func (s *StatisticsSink) ShowStat(Stat) {}
