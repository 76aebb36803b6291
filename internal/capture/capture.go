// Package capture drives a Handle's packet stream through the policy
// engine, reports periodic statistics, and supervises restarts when the
// underlying capture handle fails.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rus-cert/dnslogger-forward-go/internal/capopt"
	"github.com/rus-cert/dnslogger-forward-go/internal/events"
	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	"github.com/rus-cert/dnslogger-forward-go/internal/policy"
	"github.com/rus-cert/dnslogger-forward-go/internal/protocols"
)

// Handle is one open capture device. ReadPacket blocks until a packet is
// available, the read times out, or the handle is closed.
type Handle interface {
	// Linktype reports the link-layer framing of packets this handle
	// produces.
	Linktype() protocols.Linktype

	// ReadPacket returns the next captured packet. ok is false on a read
	// timeout with no error to report; err is non-nil when the handle
	// failed and must be closed and reopened.
	ReadPacket() (data []byte, ok bool, err error)

	// Stats reports the handle's driver-level packet counters.
	Stats() (events.Stat, error)

	Close() error
}

// Opener opens a fresh Handle, using whatever options it was constructed
// with. RunSupervised calls it once per restart attempt.
type Opener func() (Handle, error)

// ForwarderOpener opens a fresh Forwarder, using whatever target and
// transport it was constructed with. RunSupervised calls it once per
// restart attempt, so a fatal forwarder error is followed by a freshly
// dialed socket rather than a reused, broken one.
type ForwarderOpener func() (forward.Forwarder, error)

// Run reads packets from handle until ctx is canceled or a fatal error
// occurs, feeding each one through policy.HandlePacket. Every
// opts.LogInterval seconds it reports the handle's driver statistics to
// sink. Run returns nil only when ctx is canceled; any other return is an
// error the caller should treat as fatal for this handle.
func Run(ctx context.Context, handle Handle, opts *capopt.Options, fwd forward.Forwarder, sink events.Sink) error {
	statWait := time.Duration(opts.LogInterval) * time.Second
	lastStatAt := time.Now()
	datalink := handle.Linktype()

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		data, ok, err := handle.ReadPacket()
		if err != nil {
			return fmt.Errorf("capture: reading packet: %w", err)
		}
		if ok {
			if err := policy.HandlePacket(datalink, data, opts, fwd, sink); err != nil {
				return err
			}
		}

		if statWait > 0 && time.Since(lastStatAt) >= statWait {
			lastStatAt = time.Now()
			stat, err := handle.Stats()
			if err != nil {
				return fmt.Errorf("capture: reading stats: %w", err)
			}
			sink.ShowStat(stat)
		}
	}
}

// restartDistance is the minimum wall-clock time a capture attempt must
// run before RunSupervised will immediately reopen it. Attempts that fail
// faster than this are throttled, so a persistently broken interface does
// not spin the process.
const restartDistance = 5 * time.Second

// RunSupervised opens a Handle via open and a Forwarder via openForwarder
// and runs them together, reopening and redialing both whenever the
// session fails for any reason — including a fatal forwarder error, which
// means the broken socket is never reused on the next attempt — until ctx
// is canceled. It never returns except when ctx is canceled, in which
// case it returns ctx.Err().
func RunSupervised(ctx context.Context, open Opener, openForwarder ForwarderOpener, opts *capopt.Options, sink events.Sink, logger *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		startedAt := time.Now()
		err := runOnce(ctx, open, openForwarder, opts, sink, logger)
		if err == nil {
			return ctx.Err()
		}

		logger.Error("capture stopped, restarting", slog.String("error", err.Error()))

		if runTime := time.Since(startedAt); runTime < restartDistance {
			pause := restartDistance - runTime
			logger.Info("waiting before restart", slog.Duration("pause", pause))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pause):
			}
		}
	}
}

func runOnce(ctx context.Context, open Opener, openForwarder ForwarderOpener, opts *capopt.Options, sink events.Sink, logger *slog.Logger) error {
	handle, err := open()
	if err != nil {
		return fmt.Errorf("capture: opening handle: %w", err)
	}
	defer handle.Close()

	fwd, err := openForwarder()
	if err != nil {
		return fmt.Errorf("capture: connecting forwarder: %w", err)
	}
	defer fwd.Close()

	logger.Info("starting capture", slog.String("linktype", handle.Linktype().String()))
	return Run(ctx, handle, opts, fwd, sink)
}
