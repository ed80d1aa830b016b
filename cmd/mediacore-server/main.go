package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mediacore/pipelinecore/internal/auth"
	"github.com/mediacore/pipelinecore/internal/cleanup"
	"github.com/mediacore/pipelinecore/internal/config"
	"github.com/mediacore/pipelinecore/internal/ipc"
	"github.com/mediacore/pipelinecore/internal/limits"
	"github.com/mediacore/pipelinecore/internal/logger"
	"github.com/mediacore/pipelinecore/internal/observability"
	"github.com/mediacore/pipelinecore/internal/registry"
	"github.com/mediacore/pipelinecore/internal/router"
	"github.com/mediacore/pipelinecore/internal/transport"
	"github.com/mediacore/pipelinecore/internal/transport/ffi"
	"github.com/mediacore/pipelinecore/internal/transport/httpjson"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	configDir := flag.String("config", "", "Directory holding mediacore.jsonc (default: ./config, then ~/.mediacore/config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mediacore-server %s\n", Version)
		os.Exit(0)
	}

	configPath, err := config.FindConfigPath(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mediacore.jsonc not found: %v\nRun with --config pointing at a directory containing one.\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadAll(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	home := filepath.Dir(cfg.ConfigDir)
	logDir := resolveUnderHome(home, cfg.Logging.Dir)
	authDataDir := resolveUnderHome(home, cfg.Auth.DataDir)

	if err := logger.Init(logDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Close() }()

	logger.Println("mediacore pipeline engine starting")
	logger.Printf("config: %s", configPath)

	reg := registry.New()
	transports := transport.NewRegistry()

	factories, err := cfg.BuildFactories(transports)
	if err != nil {
		logger.Fatalf("building node factories: %v", err)
	}
	for _, f := range factories {
		if err := reg.Register(f); err != nil {
			logger.Fatalf("registering node type %q: %v", f.TypeName(), err)
		}
	}
	logger.Printf("registered %d node type(s): %v", len(reg.TypeNames()), reg.TypeNames())

	limitsMgr := limits.New(cfg.Limits.ToLimitsConfig())
	rtr := router.New(reg, router.Config{Limits: limitsMgr})

	ffiTransport := ffi.New(rtr)
	if err := transports.Register(ffiTransport); err != nil {
		logger.Fatalf("registering ffi transport: %v", err)
	}

	httpTransport := httpjson.New(rtr, httpjson.Config{
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	})
	if err := transports.Register(httpTransport); err != nil {
		logger.Fatalf("registering http transport: %v", err)
	}

	var authStore *auth.Store
	handler := httpTransport.Handler()
	if cfg.Auth.Enabled {
		authStore, err = auth.NewStore(authDataDir)
		if err != nil {
			logger.Fatalf("initializing auth store: %v", err)
		}
		defer func() { _ = authStore.Close() }()
		logger.Printf("auth enabled (data dir: %s)", authDataDir)

		limiter := auth.NewRateLimiter(cfg.Auth.RateLimitRPS, cfg.Auth.RateLimitBurst)
		handler = auth.Middleware(authStore)(auth.RateLimitMiddleware(limiter)(handler))
	} else {
		logger.Println("auth disabled; all requests accepted unauthenticated")
	}

	cleaner := cleanup.New(cleanup.DefaultConfig(ipc.ScratchDir))
	cleaner.Start()

	pressure := limits.NewSampler(limitsMgr, 5*time.Second)
	pressure.Start()

	watchCtx, cancelWatch := context.WithCancel(context.Background())
	holder := config.NewHolder(configPath, cfg.UnifiedConfig, limitsMgr)
	if err := holder.Watch(watchCtx); err != nil {
		logger.Printf("config hot-reload disabled: %v", err)
	}

	httpServer := &http.Server{Addr: cfg.Server.Address, Handler: handler}
	metricsServer := &http.Server{Addr: cfg.Server.MetricsAddress, Handler: observability.Handler()}

	serverErr := make(chan error, 2)
	go func() {
		logger.Printf("listening for pipeline requests on %s", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Printf("serving metrics on %s", cfg.Server.MetricsAddress)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Fatalf("server error: %v", err)
	case sig := <-shutdownChan:
		logger.Printf("received signal %v, initiating graceful shutdown", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Limits.ToLimitsConfig().GraceShutdown)
		defer cancel()

		logger.Println("draining active sessions...")
		limitsMgr.Shutdown(shutdownCtx, func() bool { return len(rtr.Sessions()) == 0 }, rtr.Shutdown)

		logger.Println("stopping config watcher...")
		holder.Stop()
		cancelWatch()

		logger.Println("stopping cleanup...")
		cleaner.Stop()
		pressure.Stop()

		logger.Println("stopping http listeners...")
		_ = httpServer.Shutdown(shutdownCtx)
		_ = metricsServer.Shutdown(shutdownCtx)

		logger.Println("shutdown complete")
	}
}

// resolveUnderHome joins a config-relative directory against the mediacore
// home directory (the parent of the directory mediacore.jsonc lives in),
// leaving already-absolute paths untouched.
func resolveUnderHome(home, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(home, dir)
}
