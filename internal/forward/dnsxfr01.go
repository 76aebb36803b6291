// Package forward implements the DNSXFR01 wire protocol used to relay
// captured DNS responses to a remote collector, and the UDP/TCP
// forwarders that speak it.
package forward

import (
	"fmt"

	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// signature is the fixed 8-byte magic that opens every DNSXFR01 message.
const signature = "DNSXFR01"

// headerSize is the signature plus the 4-byte nameserver field.
const headerSize = 12

var zeroAddr [4]byte

// ErrorKind distinguishes a recoverable framing failure from a fatal
// transport one.
type ErrorKind uint8

const (
	// ErrorBufferTooSmall means the payload did not fit the destination
	// buffer; the packet is dropped but the forwarder stays usable.
	ErrorBufferTooSmall ErrorKind = iota
	// ErrorIO means the underlying socket write failed; the forwarder is
	// no longer trusted to make progress.
	ErrorIO
)

// Error reports a DNSXFR01 framing or transport failure. Cause is set only
// for ErrorIO.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrorBufferTooSmall:
		return "buffer too small"
	case ErrorIO:
		return fmt.Sprintf("i/o error: %v", e.Cause)
	default:
		return "unknown forward error"
	}
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the caller should stop trying to forward: a
// buffer-too-small error is a property of one oversized packet and does
// not justify giving up, an I/O error means the transport itself is
// broken.
func (e *Error) Fatal() bool {
	return e.Kind == ErrorIO
}

// packBuffer writes a DNSXFR01 message (signature + nameserver + payload)
// into buf and returns the slice actually used. The nameserver field
// carries the response's source address only when that source is an
// IPv4 address and the response is authoritative; in every other case
// (IPv6 source, or a non-authoritative answer) it is left zeroed, since
// only an authoritative IPv4 nameserver is meaningful to the collector.
func packBuffer(buf []byte, ipInfo protocols.IPInfo, dnsInfo protocols.DNSInfo, payload []byte) ([]byte, error) {
	if len(payload)+headerSize > len(buf) {
		return nil, &Error{Kind: ErrorBufferTooSmall}
	}

	nameserverBytes := zeroAddr
	if dnsInfo.AuthoritativeAnswer && ipInfo.Source.Is4() {
		nameserverBytes = ipInfo.Source.As4()
	}

	copy(buf[0:8], signature)
	copy(buf[8:12], nameserverBytes[:])
	copy(buf[12:12+len(payload)], payload)

	return buf[0 : 12+len(payload)], nil
}
