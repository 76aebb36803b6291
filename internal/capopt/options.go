// Package capopt holds the immutable run configuration shared by the
// capture loop, the policy engine and the forwarders. A single Options
// value is built once, from CLI flags (optionally overridden by the
// environment), and passed down by reference from then on.
package capopt

import "net"

// Options is the fixed configuration for one run of the daemon.
type Options struct {
	// Interface is the network interface to capture on. Empty selects the
	// capture backend's default device.
	Interface string

	// Filter is the BPF filter expression applied to the capture handle.
	Filter string

	// ForwardAuthOnly drops DNS responses that do not have the
	// Authoritative Answer bit set.
	ForwardAuthOnly bool

	// NoForwardEmpty drops DNS responses whose Answer Count is zero.
	NoForwardEmpty bool

	// TCPForward selects a TCP forwarder instead of the default UDP one.
	TCPForward bool

	// LogInterval is the minimum number of seconds between successive
	// capture-statistics log lines.
	LogInterval uint32

	// Verbose is the trace verbosity level: 0 silences per-packet tracing,
	// 1 logs protocol errors, 2 and above also logs drop decisions.
	Verbose uint64

	// TargetIP and TargetPort identify the collector responses are
	// forwarded to. Kept as an IP rather than a resolved net.Addr because
	// the forwarder needs to know the address family to pick a matching
	// local bind address before it can open a socket.
	TargetIP   net.IP
	TargetPort int

	// MaxMessageSize bounds the DNS payload a forwarder will accept before
	// reporting a non-fatal buffer-too-small error.
	MaxMessageSize int
}
