package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	prommetrics "github.com/papermatch/papermatch-functions/pkg/billing/metrics/prometheus"
	"github.com/papermatch/papermatch-functions/pkg/config"
	"github.com/papermatch/papermatch-functions/pkg/functions"
	"github.com/papermatch/papermatch-functions/pkg/ledger"
	zlog "github.com/papermatch/papermatch-functions/pkg/ledger/logger/zerolog"
)

const (
	metricsNamespace  = "papermatch"
	readHeaderTimeout = 10 * time.Second
)

func serveCmd(opts *rootOptions) *cobra.Command {
	var shutdownTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP functions and Prometheus metrics",
		Long: `Serve the credit functions under /functions/v1:

  POST /functions/v1/stripe-webhook
  POST /functions/v1/stripe-checkout
  POST /functions/v1/onesignal-notify
  POST /functions/v1/revenuecat-webhook
  GET  /functions/v1/credits
  GET  /healthz

A function is only routed when its keys are configured.
Metrics are served on METRICS_ADDR, or on the main listener when it is empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, shutdownTimeout)
		},
	}

	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 15*time.Second, "grace period for in-flight requests")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, shutdownTimeout time.Duration) error {
	zl := newLogger(cfg, os.Stderr)
	logger := zlog.NewLogger(&zl)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open %s ledger: %w", cfg.LedgerBackend, err)
	}
	defer closeStore()

	if cfg.LedgerBreakerThreshold > 0 {
		store = withBreaker(store, cfg, logger)
	}

	writer, err := ledger.NewWriter(store, ledger.Config{Logger: logger})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := prommetrics.NewMetrics(reg, metricsNamespace)
	metricsHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})

	handlers, err := functions.Build(cfg, functions.Deps{
		Writer:  writer,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	router := functions.NewRouter(handlers)

	servers := []*http.Server{{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}}
	if cfg.MetricsAddr == "" || cfg.MetricsAddr == cfg.HTTPAddr {
		router.Handle("/metrics", metricsHandler)
	} else {
		mux := chi.NewRouter()
		mux.Handle("/metrics", metricsHandler)
		servers = append(servers, &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(func() error {
			logger.Info("listening", ledger.F("addr", srv.Addr), ledger.F("backend", cfg.LedgerBackend))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logger.Info("shutting down")
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// withBreaker fails ledger calls fast while the backend keeps erroring
func withBreaker(store ledger.Store, cfg *config.Config, logger ledger.Logger) ledger.Store {
	cb := ledger.NewCircuitBreaker(cfg.LedgerBreakerThreshold, cfg.LedgerBreakerReset, func(state ledger.CircuitBreakerState) {
		logger.Warn("ledger circuit breaker state changed",
			ledger.F("state", string(state)),
			ledger.F("backend", cfg.LedgerBackend),
		)
	})
	return ledger.NewBreakerStore(store, cb)
}
