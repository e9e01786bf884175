package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/periscope/pkg/config"
	"github.com/odvcencio/periscope/pkg/console"
	"github.com/odvcencio/periscope/pkg/devserver"
	"github.com/odvcencio/periscope/pkg/inventory"
	"github.com/odvcencio/periscope/pkg/logging"
	"github.com/odvcencio/periscope/pkg/telemetry"
)

// Version information - set via ldflags during build
var (
	version   = "1.0.0-dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	configPath  string
	serverURL   string
	metricsBind string
	demoMode    bool
	demoBind    string
	showVersion bool
)

func main() {
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.StringVar(&serverURL, "server", "", "backend base URL (overrides config)")
	flag.StringVar(&metricsBind, "metrics", "", "bind address for the Prometheus listener (overrides config)")
	flag.BoolVar(&demoMode, "demo", false, "run against an embedded mock backend")
	flag.StringVar(&demoBind, "demo-bind", "127.0.0.1:4490", "bind address for the embedded mock backend")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("periscope %s (%s, built %s)\n", version, commit, buildDate)
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "periscope: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if serverURL != "" {
		cfg.Server.BaseURL = serverURL
	}
	if metricsBind != "" {
		cfg.Metrics.Bind = metricsBind
	}

	logger := logging.NewLogger(os.Stderr)
	logger.SetMinLevel(logging.Level(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if demoMode {
		cfg.Server.BaseURL = "http://" + demoBind
		mock := devserver.New(devserver.Options{
			Processes:   demoProcesses(),
			StreamDelay: 50 * time.Millisecond,
			Logger:      logger,
		})
		srv := &http.Server{Addr: demoBind, Handler: mock.Router()}
		g.Go(func() error {
			logger.Info(logging.CategoryServer, "demo_listening", demoBind, nil)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Metrics.Bind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Bind, Handler: mux}
		g.Go(func() error {
			logger.Info(logging.CategoryServer, "metrics_listening", cfg.Metrics.Bind, nil)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	controller := console.New(cfg, logger)
	controller.Start()

	g.Go(func() error {
		<-ctx.Done()
		controller.Dispose()
		return nil
	})

	return g.Wait()
}

// demoProcesses seeds the embedded mock backend.
func demoProcesses() []inventory.Entity {
	return []inventory.Entity{
		{PID: 1, Name: "systemd", User: "root", Status: "running", CPUPercent: 0.1, MemoryDisplay: "12MB", Protected: true, Command: "/sbin/init"},
		{PID: 412, Name: "sshd", User: "root", Status: "sleeping", CPUPercent: 0.0, MemoryDisplay: "8MB", Ports: []int{22}, Command: "/usr/sbin/sshd -D"},
		{PID: 1101, Name: "nginx", User: "root", Status: "running", CPUPercent: 1.8, MemoryDisplay: "96MB", Ports: []int{80, 443}, Command: "nginx: master process"},
		{PID: 2203, Name: "node", User: "dev", Status: "running", CPUPercent: 14.2, MemoryDisplay: "412MB", Ports: []int{3000}, Command: "node server.js"},
		{PID: 2204, Name: "node", User: "dev", Status: "sleeping", CPUPercent: 0.3, MemoryDisplay: "388MB", Ports: []int{3001}, Command: "node worker.js"},
		{PID: 3310, Name: "postgres", User: "postgres", Status: "sleeping", CPUPercent: 0.9, MemoryDisplay: "256MB", Ports: []int{5432}, Command: "postgres -D /var/lib/pgsql"},
		{PID: 4501, Name: "defunct-worker", User: "dev", Status: "zombie", CPUPercent: 0.0, MemoryDisplay: "0MB", Command: "[worker] <defunct>"},
	}
}
