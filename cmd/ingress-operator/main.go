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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/ingress-operator/internal/api"
	"github.com/wudi/ingress-operator/internal/applier"
	"github.com/wudi/ingress-operator/internal/certs"
	"github.com/wudi/ingress-operator/internal/config"
	"github.com/wudi/ingress-operator/internal/logging"
	"github.com/wudi/ingress-operator/internal/metrics"
	"github.com/wudi/ingress-operator/internal/reconciler"
	"github.com/wudi/ingress-operator/internal/registry"
	"github.com/wudi/ingress-operator/internal/relation"
	"github.com/wudi/ingress-operator/internal/resolver"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", "", "Path to the operator config file (optional, defaults apply)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Ingress Operator %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load config. Without a file the built-in defaults apply and there is
	// nothing to watch.
	var (
		watcher *config.Watcher
		current = config.DefaultConfig
	)
	if *configPath != "" {
		w, err := config.NewWatcher(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		watcher = w
		current = w.Current
	}
	cfg := current()

	logger, err := logging.NewWithOptions(logging.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	logging.Info("Starting ingress operator",
		zap.String("version", version),
		zap.String("external-hostname", cfg.ExternalHostname),
		zap.String("routing-mode", cfg.RoutingMode),
	)

	certManager := certs.NewManager(cfg.TLS.CertDir)
	if cfg.TLS.Enabled {
		if err := certManager.LoadFromDisk(); err != nil {
			logging.Warn("Discarding persisted certificate material", zap.Error(err))
		}
	}

	var publisher applier.Publisher
	if cfg.Proxy.ConfigURL != "" {
		publisher = applier.NewHTTPPublisher(cfg.Proxy.ConfigURL, cfg.Proxy.PublishTimeout)
		logging.Info("Publishing proxy config over HTTP", zap.String("url", cfg.Proxy.ConfigURL))
	} else {
		publisher = applier.NewFilePublisher(cfg.Proxy.ConfigPath)
		logging.Info("Publishing proxy config to file", zap.String("path", cfg.Proxy.ConfigPath))
	}

	reg := registry.New()
	parser, err := relation.NewParser()
	if err != nil {
		logging.Error("Failed to build route request parser", zap.Error(err))
		os.Exit(1)
	}
	m := metrics.New()
	res := resolver.New(certManager.CertPath(), certManager.KeyPath())

	snapshot := func() resolver.Snapshot {
		c := current()
		snap := resolver.Snapshot{
			Requests:         reg.Snapshot(),
			ExternalHostname: c.ExternalHostname,
			RoutingMode:      resolver.RoutingMode(c.RoutingMode),
		}
		if c.TLS.Enabled {
			if state, ok := certManager.Current(); ok {
				snap.TLS = &state
			}
		}
		return snap
	}

	loop := reconciler.New(reconciler.Options{
		Snapshot: snapshot,
		// Both counters only advance, so their sum is a mutation clock.
		Generation: func() int64 {
			return reg.Generation() + certManager.Generation()
		},
		Resolver:       res,
		Applier:        applier.New(publisher, logger),
		Metrics:        m,
		Logger:         logger,
		Debounce:       cfg.Reconcile.Debounce,
		TickInterval:   cfg.Reconcile.TickInterval,
		MaxRetries:     cfg.Reconcile.MaxRetries,
		InitialBackoff: cfg.Reconcile.InitialBackoff,
		MaxBackoff:     cfg.Reconcile.MaxBackoff,
	})

	if watcher != nil {
		watcher.OnChange(func(c *config.Config) {
			logging.Info("Operator config changed",
				zap.String("external-hostname", c.ExternalHostname),
				zap.String("routing-mode", c.RoutingMode),
			)
			loop.Enqueue(reconciler.Trigger{
				Kind:   reconciler.TriggerConfig,
				Reason: "operator config changed",
			})
		})
		if err := watcher.Start(); err != nil {
			logging.Error("Failed to watch config file", zap.Error(err))
			os.Exit(1)
		}
		defer watcher.Stop()
	}

	apiServer := api.NewServer(api.Options{
		Registry:   reg,
		Parser:     parser,
		Certs:      certManager,
		Loop:       loop,
		Metrics:    m,
		Logger:     logger,
		TLSEnabled: func() bool { return current().TLS.Enabled },
	})
	httpServer := &http.Server{
		Addr:    cfg.ListenAddress,
		Handler: apiServer,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return loop.Run(gctx)
	})

	g.Go(func() error {
		logging.Info("Admin API listening", zap.String("address", cfg.ListenAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin api: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down admin API")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("Shutdown error", zap.Error(err))
		os.Exit(1)
	}

	logging.Info("Ingress operator stopped")
}
