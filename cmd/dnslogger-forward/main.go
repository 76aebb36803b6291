// dnslogger-forward captures DNS responses passing a network interface and
// forwards a filtered subset to a central monitoring collector.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rus-cert/dnslogger-forward-go/internal/capopt"
	"github.com/rus-cert/dnslogger-forward-go/internal/capture"
	"github.com/rus-cert/dnslogger-forward-go/internal/config"
	"github.com/rus-cert/dnslogger-forward-go/internal/events"
	"github.com/rus-cert/dnslogger-forward-go/internal/forward"
	dlfmetrics "github.com/rus-cert/dnslogger-forward-go/internal/metrics"
	appversion "github.com/rus-cert/dnslogger-forward-go/internal/version"
)

func main() {
	os.Exit(run())
}

// verboseCount implements flag.Value to support a repeatable -v flag,
// counting one occurrence per appearance on the command line.
type verboseCount uint64

func (v *verboseCount) String() string { return strconv.FormatUint(uint64(*v), 10) }
func (v *verboseCount) Set(string) error {
	*v++
	return nil
}
func (v *verboseCount) IsBoolFlag() bool { return true }

// cliFlags holds every parsed flag plus the positional host/port pair.
type cliFlags struct {
	iface          string
	filter         string
	forwardAuth    bool
	noForwardEmpty bool
	tcpForward     bool
	logInterval    uint32
	testing        bool
	verbose        verboseCount
	man            bool
	configFile     string
	metricsAddr    string
	host           string
	port           int
}

func parseFlags(args []string) (*cliFlags, error) {
	defaults, err := config.LoadDefaults(config.BuiltinDefaults(), os.Getenv("DNSLOGGER_FORWARD_CONFIG_FILE"))
	if err != nil {
		return nil, fmt.Errorf("loading configuration defaults: %w", err)
	}

	fs := flag.NewFlagSet("dnslogger-forward", flag.ContinueOnError)

	f := &cliFlags{}
	fs.StringVar(&f.iface, "i", defaults.Interface, "interface to capture packets on")
	fs.StringVar(&f.filter, "f", defaults.Filter, "filter expression (BPF syntax)")
	fs.BoolVar(&f.forwardAuth, "A", defaults.ForwardAuthOnly, "forward authoritative answers only")
	fs.BoolVar(&f.noForwardEmpty, "D", defaults.NoForwardEmpty, "do not forward empty answers")
	fs.BoolVar(&f.tcpForward, "t", defaults.TCPForward, "forward data over TCP (default is UDP)")
	var logInterval uint
	fs.UintVar(&logInterval, "L", uint(defaults.LogInterval), "write a checkpoint log entry every SECS seconds")
	fs.BoolVar(&f.testing, "T", false, "enable testing mode (reads from standard input)")
	fs.Var(&f.verbose, "v", "verbose output, include debugging messages (repeatable)")
	fs.BoolVar(&f.man, "man", false, "show man page")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "optional address to serve Prometheus metrics on")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.logInterval = uint32(logInterval)

	if f.man {
		return f, nil
	}

	rest := fs.Args()
	if f.testing {
		return f, nil
	}
	if len(rest) != 2 {
		return nil, fmt.Errorf("expected HOST and PORT, got %d positional arguments", len(rest))
	}
	f.host = rest[0]
	port, err := strconv.Atoi(rest[1])
	if err != nil {
		return nil, fmt.Errorf("invalid PORT %q: %w", rest[1], err)
	}
	f.port = port
	return f, nil
}

func run() int {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if f.man {
		printManPage(os.Stdout)
		return 0
	}

	opts := &capopt.Options{
		Interface:       f.iface,
		Filter:          f.filter,
		ForwardAuthOnly: f.forwardAuth,
		NoForwardEmpty:  f.noForwardEmpty,
		TCPForward:      f.tcpForward,
		LogInterval:     f.logInterval,
		Verbose:         uint64(f.verbose),
		MaxMessageSize:  4096,
	}

	if f.testing {
		opts.MaxMessageSize = 512
		input, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintln(os.Stderr, "reading testing-mode input:", err)
			return 1
		}
		runTest(opts, input, os.Stdout)
		return 0
	}

	ip := net.ParseIP(f.host)
	if ip == nil {
		fmt.Fprintf(os.Stderr, "invalid HOST %q\n", f.host)
		return 1
	}
	opts.TargetIP = ip
	opts.TargetPort = f.port

	logLevel := new(slog.LevelVar)
	logLevel.Set(verbosityToLevel(opts.Verbose))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	logger.Info("dnslogger-forward starting",
		slog.String("version", appversion.Version),
		slog.String("interface", opts.Interface),
		slog.String("filter", opts.Filter),
		slog.Bool("forward_auth_only", opts.ForwardAuthOnly),
		slog.Bool("no_forward_empty", opts.NoForwardEmpty),
		slog.Bool("tcp_forward", opts.TCPForward),
	)
	logger.Debug("passed options", slog.Any("options", opts))

	reg := prometheus.NewRegistry()
	collector := dlfmetrics.NewCollector(reg)
	sink := events.Combine(
		events.Combine(&events.LoggingSink{Logger: logger, Level: opts.Verbose}, events.NewStatisticsSink()),
		collector,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opener := func() (capture.Handle, error) {
		return capture.OpenLive(opts.Interface, opts.Filter)
	}
	forwarderOpener := func() (forward.Forwarder, error) {
		return connectForwarder(opts)
	}

	g, gCtx := errgroup.WithContext(ctx)

	if f.metricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(gCtx, f.metricsAddr, reg, logger)
		})
	}

	g.Go(func() error {
		return capture.RunSupervised(gCtx, opener, forwarderOpener, opts, sink, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error("dnslogger-forward stopped", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("dnslogger-forward stopped")
	return 0
}

// verbosityToLevel maps the repeatable -v occurrence count onto the
// ambient slog level, alongside (not instead of) the event-sink verbosity
// it also gates (see internal/events.LoggingSink).
func verbosityToLevel(verbose uint64) slog.Level {
	switch {
	case verbose >= 2:
		return slog.LevelDebug
	case verbose == 1:
		return slog.LevelInfo
	default:
		return slog.LevelWarn
	}
}

func connectForwarder(opts *capopt.Options) (forward.Forwarder, error) {
	if opts.TCPForward {
		target := &net.TCPAddr{IP: opts.TargetIP, Port: opts.TargetPort}
		return forward.NewTCPForwarder(target, opts.MaxMessageSize)
	}
	target := &net.UDPAddr{IP: opts.TargetIP, Port: opts.TargetPort}
	return forward.NewUDPForwarder(target, opts.MaxMessageSize)
}

// serveMetrics runs the Prometheus HTTP endpoint until ctx is canceled. It
// returns nil on a clean shutdown so it composes with errgroup.Group: one
// failing goroutine (the capture supervisor or this one) cancels gCtx and
// unblocks the other.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	logger.Info("metrics server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
