package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/pos-checkout/internal/domain/auth"
	"github.com/xenking/pos-checkout/internal/domain/checkout"
	"github.com/xenking/pos-checkout/internal/handler"
	"github.com/xenking/pos-checkout/internal/session"
	"github.com/xenking/pos-checkout/pkg/health"
	"github.com/xenking/pos-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and background loops,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
		zap.String("inventory", cfg.Inventory),
	)

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return errors.Wrap(err, "load time zone")
	}

	b, err := openBackend(ctx, lg, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	// Domain services.
	svc, err := checkout.NewService(b.ledger, b.stock, b.locks, checkout.Options{
		RequireChangeAck: cfg.Checkout.RequireChangeAck,
		OpTimeout:        cfg.Checkout.OpTimeout,
		MeterProvider:    m.MeterProvider(),
		TracerProvider:   m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create checkout service")
	}
	reconciler, err := checkout.NewReconciler(b.ledger, b.stock, b.locks, checkout.ReconcilerOptions{
		Concurrency:   cfg.Checkout.ReconcileConcurrency,
		MeterProvider: m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create reconciler")
	}
	sessions := session.NewRegistry(cfg.Sessions.Idle)

	// Health checks.
	healthSvc := health.New()
	for _, c := range b.checks {
		healthSvc.Add(health.Readiness, c.name, 5*time.Second, c.check)
	}
	healthSvc.Add(health.Readiness, "reconcile_backlog", 5*time.Second,
		health.BacklogCheck(cfg.Checkout.BacklogLimit, func(ctx context.Context) (int, error) {
			pending, err := b.ledger.ListUnreconciled(ctx)
			return len(pending), err
		}),
	)
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	// HTTP.
	h := handler.NewHandler(handler.HandlerConfig{Location: loc}, handler.Deps{
		Catalog:    b.catalog,
		Sessions:   sessions,
		Checkout:   svc,
		Reconciler: reconciler,
		Ledger:     b.ledger,
		Auth:       auth.NewAuthenticator(b.keys, []byte(cfg.APIKeyPepper)),
	})
	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:    cfg.RateLimit.Max,
		Window: cfg.RateLimit.Window,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", limiter.Middleware()(h.Routes()))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Checkout.OpTimeout*3 + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("pos-api", m.MeterProvider(), m.TracerProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthSvc.Run(gctx, 10*time.Second) })
	g.Go(func() error { return limiter.Run(gctx) })
	if cfg.Sessions.SweepInterval > 0 {
		g.Go(func() error { return sessions.Run(gctx, cfg.Sessions.SweepInterval) })
	}
	if cfg.Checkout.ReconcileInterval > 0 {
		g.Go(func() error { return reconcileLoop(gctx, reconciler, cfg.Checkout.ReconcileInterval) })
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}

// reconcileLoop replays unreconciled sales every interval. A failed pass is
// logged and retried on the next tick.
func reconcileLoop(ctx context.Context, r *checkout.Reconciler, interval time.Duration) error {
	lg := zctx.From(ctx).Named("reconcile")
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		report, err := r.ReplayPending(zctx.Base(ctx, lg))
		if err != nil {
			lg.Warn("Reconciliation pass incomplete",
				zap.Int("failed", len(report.Failed)),
				zap.Error(err),
			)
		}
	}
}
