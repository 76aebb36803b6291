package capture_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rus-cert/dnslogger-forward-go/internal/capopt"
	"github.com/rus-cert/dnslogger-forward-go/internal/capture"
	"github.com/rus-cert/dnslogger-forward-go/internal/events"
	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// fakeHandle replays a fixed list of packets, then returns read timeouts
// immediately, without blocking, until closed or told to fail.
type fakeHandle struct {
	packets  [][]byte
	pos      int
	closed   atomic.Bool
	failWith error
}

func (h *fakeHandle) Linktype() protocols.Linktype { return protocols.LinktypeRawIPv4 }

func (h *fakeHandle) ReadPacket() ([]byte, bool, error) {
	if h.failWith != nil {
		return nil, false, h.failWith
	}
	if h.pos < len(h.packets) {
		p := h.packets[h.pos]
		h.pos++
		return p, true, nil
	}
	if h.closed.Load() {
		return nil, false, errors.New("fakeHandle: read after close")
	}
	return nil, false, nil
}

func (h *fakeHandle) Stats() (events.Stat, error) {
	return events.Stat{PacketsReceived: len(h.packets)}, nil
}

func (h *fakeHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type noopForwarder struct{ err error }

func (f *noopForwarder) Forward(protocols.IPInfo, protocols.UDPInfo, protocols.DNSInfo, []byte) error {
	return f.err
}
func (f *noopForwarder) Close() error { return nil }

func noopForwarderOpener() (forward.Forwarder, error) { return &noopForwarder{}, nil }

func TestRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{}
	opts := &capopt.Options{LogInterval: 3600}
	sink := events.NewStatisticsSink()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := capture.Run(ctx, handle, opts, &noopForwarder{}, sink)
	if err != nil {
		t.Fatalf("Run() error = %v, want nil on context cancellation", err)
	}
}

func TestRunPropagatesReadError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("device vanished")
	handle := &fakeHandle{failWith: wantErr}
	opts := &capopt.Options{LogInterval: 3600}
	sink := events.NewStatisticsSink()

	err := capture.Run(context.Background(), handle, opts, &noopForwarder{}, sink)
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want wrapping %v", err, wantErr)
	}
}

func TestRunStopsOnFatalForwardError(t *testing.T) {
	t.Parallel()

	handle := &fakeHandle{packets: [][]byte{validRawIPv4DNSResponse(t)}}
	opts := &capopt.Options{LogInterval: 3600}
	sink := events.NewStatisticsSink()
	fwd := &noopForwarder{err: &forward.Error{Kind: forward.ErrorIO}}

	err := capture.Run(context.Background(), handle, opts, fwd, sink)
	if err == nil {
		t.Fatal("Run() error = nil, want fatal forward error")
	}
}

type fakeOpener struct {
	handles []*fakeHandle
	errs    []error
	calls   int
}

func (o *fakeOpener) open() (capture.Handle, error) {
	i := o.calls
	o.calls++
	if i < len(o.errs) && o.errs[i] != nil {
		return nil, o.errs[i]
	}
	return o.handles[i], nil
}

func TestRunSupervisedReopensAfterFailure(t *testing.T) {
	t.Parallel()

	first := &fakeHandle{failWith: errors.New("transient failure")}
	second := &fakeHandle{}

	opener := &fakeOpener{handles: []*fakeHandle{first, second}}
	opts := &capopt.Options{LogInterval: 3600}
	sink := events.NewStatisticsSink()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// The first attempt fails at once, so the supervisor waits out the
	// 5-second restart distance before reopening; the deadline leaves room
	// for exactly one reopen.
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	_ = capture.RunSupervised(ctx, opener.open, noopForwarderOpener, opts, sink, logger)

	if opener.calls < 2 {
		t.Fatalf("opener called %d times, want 2 (initial open plus one reopen)", opener.calls)
	}
}

// fakeForwarderOpener counts how many times a fresh forwarder was dialed,
// so tests can tell a broken one was never reused across restarts.
type fakeForwarderOpener struct {
	err   error
	calls atomic.Int64
}

func (o *fakeForwarderOpener) open() (forward.Forwarder, error) {
	o.calls.Add(1)
	if o.err != nil {
		return nil, o.err
	}
	return &noopForwarder{err: &forward.Error{Kind: forward.ErrorIO}}, nil
}

// TestRunSupervisedRedialsForwarderOnFatalError covers the restart policy: a
// fatal forwarder error must be treated like any other session failure,
// restarting with a freshly dialed forwarder rather than aborting the
// supervised loop or reusing the broken one.
func TestRunSupervisedRedialsForwarderOnFatalError(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{handles: []*fakeHandle{
		{packets: [][]byte{validRawIPv4DNSResponse(t)}},
		{packets: [][]byte{validRawIPv4DNSResponse(t)}},
		{},
	}}
	fwdOpener := &fakeForwarderOpener{}
	opts := &capopt.Options{LogInterval: 3600}
	sink := events.NewStatisticsSink()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Each attempt fails at once on the fatal forwarder error, so the
	// supervisor waits out the 5-second restart distance between attempts;
	// the deadline leaves room for one redial.
	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()

	err := capture.RunSupervised(ctx, opener.open, fwdOpener.open, opts, sink, logger)
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunSupervised() error = %v, want context deadline error, not an aborted loop", err)
	}
	if fwdOpener.calls.Load() < 2 {
		t.Fatalf("forwarder opener called %d times, want at least 2 (one per restart)", fwdOpener.calls.Load())
	}
}

func TestRunSupervisedReturnsOnOpenError(t *testing.T) {
	t.Parallel()

	opener := &fakeOpener{handles: []*fakeHandle{nil}, errs: []error{errors.New("permission denied")}}
	opts := &capopt.Options{LogInterval: 3600}
	sink := events.NewStatisticsSink()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := capture.RunSupervised(ctx, opener.open, noopForwarderOpener, opts, sink, logger)
	if err == nil {
		t.Fatal("RunSupervised() error = nil, want context deadline error while waiting to retry")
	}
}

func validRawIPv4DNSResponse(t *testing.T) []byte {
	t.Helper()
	return buildRawIPv4UDPDNS(t, true, 1)
}
