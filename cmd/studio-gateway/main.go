// studio-gateway is the HTTP gateway for the studio site: streaming chat,
// the live voice WebSocket, the public portfolio endpoints, and the admin
// CRM API, backed by Postgres and the Gemini API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/atelierhq/studio/internal/billing"
	"github.com/atelierhq/studio/internal/metrics"
	"github.com/atelierhq/studio/internal/siteconfig"
	"github.com/atelierhq/studio/internal/store"
	"github.com/atelierhq/studio/pkg/gateway/config"
	"github.com/atelierhq/studio/pkg/gateway/lifecycle"
	"github.com/atelierhq/studio/pkg/gateway/live/sessions"
	"github.com/atelierhq/studio/pkg/gateway/mw"
	"github.com/atelierhq/studio/pkg/gateway/server"
	"github.com/atelierhq/studio/pkg/gateway/upstream"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer st.Close()

	initial, err := st.SiteConfig().Load(ctx)
	if err != nil {
		return err
	}
	siteCfg := siteconfig.NewStore(initial)
	broadcaster := siteconfig.NewBroadcaster(st.Pool(), siteCfg, logger)
	go func() {
		if err := broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("site config listener stopped", "error", err)
		}
	}()

	gemini, err := upstream.NewGemini(ctx, cfg.GeminiAPIKey, cfg.ChatModel, cfg.LiveModel)
	if err != nil {
		return err
	}

	var issuer billing.Issuer = billing.Disabled{}
	if cfg.StripeAPIKey != "" {
		issuer = billing.NewStripeIssuer(cfg.StripeAPIKey, logger)
	}

	lc := &lifecycle.Lifecycle{}
	tracker := sessions.NewTracker(cfg.LiveMaxSessions)

	srv := server.New(server.Dependencies{
		Config:              cfg,
		Logger:              logger,
		Leads:               st.Leads(),
		Invoices:            st.Invoices(),
		CaseStudies:         st.CaseStudies(),
		Inquiries:           st.Inquiries(),
		Pinger:              st,
		SiteConfig:          siteCfg,
		SiteConfigPersister: st.SiteConfig(),
		SiteConfigPublisher: broadcaster,
		Streamer:            gemini,
		Dialer:              gemini,
		Issuer:              issuer,
		Tokens:              mw.NewTokenStore(mw.DefaultAdminSessionTTL),
		Lifecycle:           lc,
		Sessions:            tracker,
		Metrics:             metrics.New("studio"),
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown: flip readiness, warn live sessions, give them a
	// moment to wind down, then cancel stragglers and close the server.
	logger.Info("shutting down", "grace", cfg.ShutdownGracePeriod)
	lc.SetDraining(true)
	tracker.WarnAll("shutting_down", "gateway is shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	drainCtx, drainCancel := context.WithTimeout(shutdownCtx, cfg.ShutdownGracePeriod/2)
	if !tracker.Wait(drainCtx) {
		logger.Warn("canceling live sessions still active after drain", "count", tracker.Count())
		tracker.CancelAll()
	}
	drainCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}
