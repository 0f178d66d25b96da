// Command verlihubd is the hub daemon: it wires configuration, logging, the
// Hub Context's reactor loop, the DC command dispatcher and the scripting
// bridge together, and owns process-level signal handling.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pavel-pimenov/verlihub/internal/config"
	"github.com/pavel-pimenov/verlihub/internal/hub"
	"github.com/pavel-pimenov/verlihub/internal/logging"
	"github.com/pavel-pimenov/verlihub/internal/protocol"
	"github.com/pavel-pimenov/verlihub/internal/script"
	appversion "github.com/pavel-pimenov/verlihub/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to drain
// in-flight requests during graceful shutdown.
const shutdownTimeout = 10 * time.Second

var (
	optSyslog       bool
	optSyslogSuffix string
	optConfigDir    string
	optVerbose      int
	optScriptFile   string
)

func main() {
	os.Exit(run())
}

func run() int {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		return exitCode(err)
	}
	return 0
}

// errExitCode carries a specific process exit code through cobra's error
// return path, the same 0/3/128+signum scheme the original's main() and
// signal handlers use.
type errExitCode struct {
	code int
	err  error
}

func (e *errExitCode) Error() string { return e.err.Error() }
func (e *errExitCode) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ec *errExitCode
	if errors.As(err, &ec) {
		return ec.code
	}
	return 1
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "verlihubd [port]",
		Short:         "Direct Connect hub daemon",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, args []string) error {
			return runDaemon(args)
		},
	}

	cmd.Flags().BoolVarP(&optSyslog, "syslog", "S", false, "log to syslog instead of stderr")
	cmd.Flags().StringVarP(&optSyslogSuffix, "syslog-suffix", "s", "", "suffix appended to the syslog identifier")
	cmd.Flags().StringVarP(&optConfigDir, "config-dir", "d", "", "configuration directory (overrides the discovery chain)")
	cmd.Flags().CountVarP(&optVerbose, "verbose", "v", "increase log verbosity (repeatable)")
	cmd.Flags().StringVar(&optScriptFile, "script", "", "path to a Lua script file defining hub callback hooks")

	return cmd
}

func runDaemon(args []string) error {
	dir := config.DiscoverConfigDir(optConfigDir)
	cfgPath := ""
	if dir != "" {
		cfgPath = filepath.Join(dir, config.DefaultConfigFile)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load configuration:", err)
		return &errExitCode{code: 3, err: err}
	}

	if len(args) == 1 {
		port, perr := strconv.Atoi(args[0])
		if perr != nil {
			return &errExitCode{code: 3, err: fmt.Errorf("invalid port %q: %w", args[0], perr)}
		}
		cfg.Listen.Port = port
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(bumpVerbosity(config.ParseLogLevel(cfg.Log.Level), optVerbose))

	useSyslog := optSyslog || cfg.Log.Syslog
	syslogSuffix := optSyslogSuffix
	if syslogSuffix == "" {
		syslogSuffix = cfg.Log.SyslogSuffix
	}
	logger := newLogger(cfg.Log, useSyslog, syslogSuffix, logLevel)
	logger.Info("verlihub starting",
		slog.String("version", appversion.Version),
		slog.Int("port", cfg.Listen.Port),
		slog.String("config_dir", dir),
	)

	h, err := hub.New(cfg, logger)
	if err != nil {
		return &errExitCode{code: 3, err: fmt.Errorf("build hub context: %w", err)}
	}

	bridge, err := loadScriptBridge(h, optScriptFile)
	if err != nil {
		return &errExitCode{code: 3, err: err}
	}
	if bridge != nil {
		defer bridge.Close()
	}

	dispatcher := protocol.New(bridge, logger)
	h.SetFrameHandler(dispatcher.HandleFrame)

	if err := h.Listen(); err != nil {
		return &errExitCode{code: 3, err: fmt.Errorf("listen: %w", err)}
	}

	return runUntilSignal(h, cfg, logger, cfgPath, logLevel)
}

// loadScriptBridge creates the scripting bridge and loads path into it if
// non-empty. Returns a nil bridge (not an error) when no script is
// configured, so the dispatcher simply skips all hook calls.
func loadScriptBridge(h *hub.Context, path string) (*script.Bridge, error) {
	if path == "" {
		return nil, nil
	}
	b := script.New(h)
	if err := b.LoadFile(path); err != nil {
		b.Close()
		return nil, fmt.Errorf("load script %s: %w", path, err)
	}
	return b, nil
}

// faultPanic carries a recovered panic (and its stack trace) across an
// errgroup goroutine boundary, so runUntilSignal's single g.Wait call can
// turn it into the 128+11 SIGSEGV-equivalent exit regardless of which
// goroutine it came from. recover only unwinds the goroutine it is called
// in, so each g.Go body is individually wrapped with guard rather than
// relying on one top-level recover.
type faultPanic struct {
	val   any
	stack string
}

func (f *faultPanic) Error() string { return fmt.Sprintf("panic: %v", f.val) }

// guard wraps fn so a panic inside it is recovered and reported as a
// *faultPanic error instead of crashing the process.
func guard(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &faultPanic{val: r, stack: string(debug.Stack())}
			}
		}()
		return fn()
	}
}

// runUntilSignal drives the reactor loop and the metrics HTTP endpoint
// under an errgroup, and handles the daemon's process signals directly:
// SIGPIPE/SIGIO are logged and ignored, SIGQUIT drives graceful shutdown,
// SIGHUP re-reads configuration and applies its log level only (see
// reload), SIGSEGV is approximated via
// debug.SetPanicOnFault plus guard's per-goroutine recover, converted to a
// 128+11 exit once it surfaces through g.Wait.
func runUntilSignal(h *hub.Context, cfg *config.Config, logger *slog.Logger, cfgPath string, logLevel *slog.LevelVar) error {
	debug.SetPanicOnFault(true)

	ctx, stopQuit := signal.NotifyContext(context.Background(), syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	defer stopQuit()

	ignored := make(chan os.Signal, 8)
	signal.Notify(ignored, syscall.SIGPIPE, syscall.SIGIO)
	go func() {
		for sig := range ignored {
			logger.Info("received signal, ignoring", slog.String("signal", sig.String()))
		}
	}()
	defer signal.Stop(ignored)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gCtx := errgroup.WithContext(ctx)

	// reactorDone closes once h.Run's goroutine has actually returned, so
	// the shutdown goroutine below never calls h.Shutdown while Run might
	// still be mid-tick — Context is not safe for concurrent use from more
	// than the single reactor goroutine (internal/hub's own invariant).
	reactorDone := make(chan struct{})
	g.Go(guard(func() error {
		defer close(reactorDone)
		return h.Run(gCtx)
	}))

	metricsSrv := newMetricsServer(cfg.Metrics.Addr, cfg.Metrics.Path)
	g.Go(guard(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr))
		return listenAndServeMetrics(gCtx, metricsSrv)
	}))

	g.Go(guard(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case <-hup:
				logger.Info("received SIGHUP, reloading configuration")
				reload(cfgPath, logLevel, logger)
			}
		}
	}))

	g.Go(guard(func() error {
		<-gCtx.Done()
		<-reactorDone
		return gracefulShutdown(h, metricsSrv, logger)
	}))

	if err := g.Wait(); err != nil {
		var fp *faultPanic
		if errors.As(err, &fp) {
			logger.Error("fatal fault, dumping stack", slog.Any("panic", fp.val), slog.String("stack", fp.stack))
			os.Exit(128 + int(syscall.SIGSEGV))
		}
		if !errors.Is(err, context.Canceled) {
			return &errExitCode{code: 3, err: err}
		}
	}

	logger.Info("verlihub stopped")
	return nil
}

// reload re-reads configuration from cfgPath and applies the log-level
// delta dynamically. Database and geo-directory changes require a restart
// in this implementation; only the log level is live-reloadable, matching
// what the shared slog.LevelVar actually allows without tearing the hub
// down mid-run.
func reload(cfgPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.Any("error", err))
		return
	}

	old := logLevel.Level()
	newLevel := config.ParseLogLevel(cfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded", slog.String("old_log_level", old.String()), slog.String("new_log_level", newLevel.String()))
}

func gracefulShutdown(h *hub.Context, metricsSrv *http.Server, logger *slog.Logger) error {
	logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := h.Shutdown(shutdownCtx); err != nil {
		firstErr = fmt.Errorf("hub shutdown: %w", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("metrics server shutdown: %w", err)
	}
	return firstErr
}

func newMetricsServer(addr, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func listenAndServeMetrics(ctx context.Context, srv *http.Server) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics on %s: %w", srv.Addr, err)
	}
	return nil
}

func newLogger(cfg config.LogConfig, useSyslog bool, suffix string, level *slog.LevelVar) *slog.Logger {
	if useSyslog {
		return logging.NewSyslog(cfg.Format, suffix, level)
	}
	return logging.New(cfg.Format, level)
}

// bumpVerbosity lowers the effective slog level by one step per repeated
// -v, floored at Debug.
func bumpVerbosity(base slog.Level, count int) slog.Level {
	lvl := base
	for i := 0; i < count; i++ {
		switch {
		case lvl > slog.LevelDebug:
			lvl -= 4
		default:
			return slog.LevelDebug
		}
	}
	return lvl
}
