// Command proxy runs the programmable reverse TCP proxy: the data plane
// (spec.md §4.G) plus the admin RPC surface (spec.md §4.H) that installs
// rule programs into it.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tcproxy/ruleproxy/admin"
	"github.com/tcproxy/ruleproxy/internal/config"
	"github.com/tcproxy/ruleproxy/internal/logging"
	"github.com/tcproxy/ruleproxy/proxy"
	"github.com/tcproxy/ruleproxy/store"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("proxy", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to an optional TOML config file")

	// Pre-scan just for --config so its values can seed flag defaults
	// before the full parse, matching "explicit flags always win over the
	// config file" (SPEC_FULL.md §1.3).
	cfgFile, err := preScanConfig(args)
	if err != nil {
		return err
	}

	bindIP := fs.String("bind-ip", firstNonEmpty(cfgFile.BindIP, "0.0.0.0"), "address to bind the data-plane listener on")
	bindPort := fs.Uint("bind-port", uint(cfgFile.BindPort), "port to bind the data-plane listener on (required)")
	destIP := fs.String("dest-ip", firstNonEmpty(cfgFile.DestIP, "127.0.0.1"), "upstream address to relay to")
	destPort := fs.Uint("dest-port", uint(cfgFile.DestPort), "upstream port to relay to (required)")

	stdout := fs.Bool("stdout", cfgFile.Stdout, "log to stdout instead of a file")
	logLevel := fs.String("log-level", firstNonEmpty(cfgFile.LogLevel, "info"), "log level")
	logDir := fs.String("log-dir", firstNonEmpty(cfgFile.LogDir, "log"), "directory for log files")
	logFile := fs.String("log-file", firstNonEmpty(cfgFile.LogFile, "connections.log"), "log file name")

	adminAddr := fs.String("admin-addr", firstNonEmpty(cfgFile.AdminAddr, admin.DefaultAddr), "admin RPC bind address")
	metricsAddr := fs.String("metrics-addr", cfgFile.MetricsAddr, "optional Prometheus metrics listen address")
	storePath := fs.String("store-path", "rules.db", "path to the rule-file store")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("RULEPROXY")); err != nil {
		return err
	}
	_ = configPath

	if *bindPort == 0 {
		return fmt.Errorf("proxy: --bind-port is required")
	}
	if *destPort == 0 {
		return fmt.Errorf("proxy: --dest-port is required")
	}

	logger, err := logging.New(logging.Config{
		Stdout:   *stdout,
		Level:    *logLevel,
		Dir:      *logDir,
		FileName: *logFile,
	})
	if err != nil {
		return err
	}
	defer logger.Sync()

	s, err := store.Open(*storePath)
	if err != nil {
		return fmt.Errorf("proxy: open rule store: %w", err)
	}
	defer s.Close()

	cell := store.NewCell()

	reg := prometheus.NewRegistry()
	metrics := proxy.NewMetrics(reg)

	p := &proxy.Proxy{
		BindAddr: fmt.Sprintf("%s:%d", *bindIP, *bindPort),
		DestAddr: fmt.Sprintf("%s:%d", *destIP, *destPort),
		Cell:     cell,
		Logger:   logger,
		Metrics:  metrics,
	}

	adminServer := &admin.Server{Store: s, Cell: cell, Logger: logger}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.ListenAndServe(gctx) })
	g.Go(func() error { return adminServer.ListenAndServe(gctx, *adminAddr) })

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: *metricsAddr, Handler: mux}
		g.Go(func() error {
			go func() {
				<-gctx.Done()
				srv.Close()
			}()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	logger.Info("proxy started",
		zap.String("bind", p.BindAddr),
		zap.String("dest", p.DestAddr),
		zap.String("admin", *adminAddr),
	)

	return g.Wait()
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func preScanConfig(args []string) (*config.File, error) {
	for i, a := range args {
		if a == "-config" || a == "--config" {
			if i+1 < len(args) {
				return config.Load(args[i+1])
			}
		}
	}
	return &config.File{}, nil
}
