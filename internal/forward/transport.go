package forward

import (
	"encoding/binary"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// sendBufferSize is the SO_SNDBUF requested on every forwarding socket.
// DNS responses are small and bursty; a generous send buffer absorbs a
// burst of zone-transfer-sized answers without the forwarder blocking on
// the capture loop.
const sendBufferSize = 1 << 20

// setSendBuffer raises a socket's SO_SNDBUF through its raw file
// descriptor. Failure is non-fatal: the OS default is still a usable, if
// smaller, buffer.
func setSendBuffer(conn syscall.Conn) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufferSize)
	})
}

// Forwarder relays one DNS response payload toward the collector. A single
// Forwarder instance is reused across the whole run; implementations keep
// a pre-sized internal buffer rather than allocating per call.
type Forwarder interface {
	Forward(ipInfo protocols.IPInfo, udpInfo protocols.UDPInfo, dnsInfo protocols.DNSInfo, dnsData []byte) error
	Close() error
}

// UDPForwarder sends DNSXFR01 messages to a fixed collector address over a
// connectionless UDP socket.
type UDPForwarder struct {
	conn   *net.UDPConn
	target *net.UDPAddr
	buf    []byte
}

// NewUDPForwarder binds a UDP socket on the wildcard address matching
// target's address family and wraps it as a Forwarder. maxMessageSize
// bounds the DNS payload; the forwarder's internal buffer is sized for it
// plus the 12-byte DNSXFR01 header.
func NewUDPForwarder(target *net.UDPAddr, maxMessageSize int) (*UDPForwarder, error) {
	conn, err := net.ListenUDP(udpNetworkFor(target), bindAddrFor(target))
	if err != nil {
		return nil, fmt.Errorf("forward: opening UDP socket: %w", err)
	}
	setSendBuffer(conn)
	return &UDPForwarder{
		conn:   conn,
		target: target,
		buf:    make([]byte, maxMessageSize+headerSize),
	}, nil
}

func (f *UDPForwarder) Forward(ipInfo protocols.IPInfo, _ protocols.UDPInfo, dnsInfo protocols.DNSInfo, dnsData []byte) error {
	msg, err := packBuffer(f.buf, ipInfo, dnsInfo, dnsData)
	if err != nil {
		return err
	}
	if _, err := f.conn.WriteToUDP(msg, f.target); err != nil {
		return &Error{Kind: ErrorIO, Cause: err}
	}
	return nil
}

func (f *UDPForwarder) Close() error {
	return f.conn.Close()
}

// NewUDPForwarderFromConn wraps an already-open UDP socket as a Forwarder,
// for callers (such as the testing-mode harness) that need to supply their
// own loopback socket pair instead of binding a fresh one.
func NewUDPForwarderFromConn(conn *net.UDPConn, target *net.UDPAddr, maxMessageSize int) (*UDPForwarder, error) {
	setSendBuffer(conn)
	return &UDPForwarder{
		conn:   conn,
		target: target,
		buf:    make([]byte, maxMessageSize+headerSize),
	}, nil
}

// tcpHeaderSize is the DNSXFR01 header plus the 2-byte big-endian length
// prefix TCP framing adds in front of it.
const tcpHeaderSize = headerSize + 2

// TCPForwarder sends DNSXFR01 messages over a persistent TCP connection,
// each message prefixed with its own big-endian uint16 length so the
// collector can delimit messages on the stream.
type TCPForwarder struct {
	conn net.Conn
	buf  []byte
}

// NewTCPForwarder dials target and wraps the connection as a Forwarder.
func NewTCPForwarder(target *net.TCPAddr, maxMessageSize int) (*TCPForwarder, error) {
	conn, err := net.DialTCP("tcp", nil, target)
	if err != nil {
		return nil, fmt.Errorf("forward: dialing TCP collector: %w", err)
	}
	setSendBuffer(conn)
	return &TCPForwarder{
		conn: conn,
		buf:  make([]byte, maxMessageSize+tcpHeaderSize),
	}, nil
}

func (f *TCPForwarder) Forward(ipInfo protocols.IPInfo, _ protocols.UDPInfo, dnsInfo protocols.DNSInfo, dnsData []byte) error {
	msg, err := packBuffer(f.buf[2:], ipInfo, dnsInfo, dnsData)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(f.buf[0:2], uint16(len(msg)))

	if _, err := f.conn.Write(f.buf[0 : len(msg)+2]); err != nil {
		return &Error{Kind: ErrorIO, Cause: err}
	}
	return nil
}

func (f *TCPForwarder) Close() error {
	return f.conn.Close()
}

// NewTCPForwarderFromConn wraps an already-dialed connection as a Forwarder,
// for callers (such as the testing-mode harness) that need to supply their
// own loopback connection instead of dialing a fresh one.
func NewTCPForwarderFromConn(conn net.Conn, maxMessageSize int) *TCPForwarder {
	return &TCPForwarder{
		conn: conn,
		buf:  make([]byte, maxMessageSize+tcpHeaderSize),
	}
}

func udpNetworkFor(target *net.UDPAddr) string {
	if target.IP.To4() != nil {
		return "udp4"
	}
	return "udp6"
}

// bindAddrFor returns the wildcard local address matching target's IP
// family, so the dialed/bound socket's family agrees with it.
func bindAddrFor(target *net.UDPAddr) *net.UDPAddr {
	if target.IP.To4() != nil {
		return &net.UDPAddr{IP: net.IPv4zero, Port: 0}
	}
	return &net.UDPAddr{IP: net.IPv6zero, Port: 0}
}
