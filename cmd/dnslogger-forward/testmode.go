package main

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rus-cert/dnslogger-forward-go/internal/capopt"
	"github.com/rus-cert/dnslogger-forward-go/internal/events"
	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/policy"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// receiveTimeout bounds how long the in-process test receiver waits for
// the single forwarded message before reporting "No data received.".
const receiveTimeout = 100 * time.Millisecond

// runTest feeds one raw IPv4 frame through the policy engine with an
// in-process loopback forwarder/receiver pair, and writes the resulting
// trace plus the receiver's report to w. This is the -T harness: it makes
// the six end-to-end scenarios self-contained and deterministic without
// any real network collector.
func runTest(opts *capopt.Options, input []byte, w io.Writer) {
	sink := events.TestingSink{Writer: w, TCPForward: opts.TCPForward}

	if opts.TCPForward {
		fwd, receive, err := newLoopbackTCP(opts.MaxMessageSize)
		if err != nil {
			fmt.Fprintln(w, "dnslogger-forward: debug: No data received.")
			return
		}
		defer fwd.Close()
		_ = policy.HandlePacket(protocols.LinktypeRawIPv4, input, opts, fwd, sink)
		receive(w)
		return
	}

	fwd, receive, err := newLoopbackUDP(opts.MaxMessageSize)
	if err != nil {
		fmt.Fprintln(w, "dnslogger-forward: debug: No data received.")
		return
	}
	defer fwd.Close()
	_ = policy.HandlePacket(protocols.LinktypeRawIPv4, input, opts, fwd, sink)
	receive(w)
}

func localhostAnyPort() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0}
}

func newLoopbackUDP(maxMessageSize int) (forward.Forwarder, func(io.Writer), error) {
	server, err := net.ListenUDP("udp4", localhostAnyPort())
	if err != nil {
		return nil, nil, err
	}
	client, err := net.ListenUDP("udp4", localhostAnyPort())
	if err != nil {
		server.Close()
		return nil, nil, err
	}

	target := server.LocalAddr().(*net.UDPAddr)
	fwd, err := forward.NewUDPForwarderFromConn(client, target, maxMessageSize)
	if err != nil {
		server.Close()
		client.Close()
		return nil, nil, err
	}

	receive := func(w io.Writer) {
		defer server.Close()
		buf := make([]byte, 4096)
		_ = server.SetReadDeadline(time.Now().Add(receiveTimeout))
		n, _, err := server.ReadFromUDP(buf)
		if err != nil || n == 0 {
			fmt.Fprintln(w, "dnslogger-forward: debug: No data received.")
			return
		}
		fmt.Fprintf(w, "dnslogger-forward: Received data: %x\n", buf[:n])
	}
	return fwd, receive, nil
}

func newLoopbackTCP(maxMessageSize int) (forward.Forwarder, func(io.Writer), error) {
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}

	client, err := net.Dial("tcp4", listener.Addr().String())
	if err != nil {
		listener.Close()
		return nil, nil, err
	}

	serverConn, err := listener.Accept()
	if err != nil {
		listener.Close()
		client.Close()
		return nil, nil, err
	}
	listener.Close()

	fwd := forward.NewTCPForwarderFromConn(client, maxMessageSize)

	receive := func(w io.Writer) {
		defer serverConn.Close()
		buf := make([]byte, 4096)
		_ = serverConn.SetReadDeadline(time.Now().Add(receiveTimeout))

		total := 0
		for total < len(buf) {
			n, err := serverConn.Read(buf[total:])
			total += n
			if err != nil {
				break
			}
		}
		if total == 0 {
			fmt.Fprintln(w, "dnslogger-forward: debug: No data received.")
			return
		}
		fmt.Fprintf(w, "dnslogger-forward: Received data: %x\n", buf[:total])
	}
	return fwd, receive, nil
}
