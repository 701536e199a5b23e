package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/controllers"
	"sentinel/internal/middleware"
	"sentinel/internal/routes"
	"sentinel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	liveSampleTTL   = time.Second
	healthPushEvery = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring loop and the HTTP API",
	RunE:  runSentinel,
}

func runSentinel(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, flush, err := newLogger()
	if err != nil {
		return err
	}
	defer flush()
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	auth, err := services.NewAuthService(cfg.AuthSecretFile, cfg.TokenExpiry, nil, logger)
	if err != nil {
		return err
	}
	audit := middleware.NewSecurityLogger(logger)
	hub := services.NewWebSocketHub(a.sentinel, healthPushEvery, logger)
	a.sentinel.RegisterAlertCallback(services.MatchAll, hub.OnAlert)

	if _, err := os.Stat(cfg.Path); err == nil {
		watcher, err := config.NewWatcher(cfg.Path, cfg, logger, func(next *config.Config) {
			if err := a.sentinel.ApplyConfig(next); err != nil {
				logger.Error(err, "reloaded config rejected")
			}
		})
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	handler := &controllers.Handler{
		Sentinel: a.sentinel,
		// own sampler so HTTP polling does not shorten the loop's CPU window
		Live:     services.NewCachedSampler(services.NewHostSampler(cfg.DiskPath, nil, logger), liveSampleTTL, nil),
		Store:    a.store,
		Backups:  a.backups,
		Alerts:   a.alertLog,
		Hub:      hub,
		Audit:    audit,
		Logger:   logger.WithName("http"),
	}
	srv := &http.Server{
		Addr: cfg.Listen,
		Handler: routes.NewRouter(handler, routes.Security{
			Auth:           auth,
			Audit:          audit,
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedIPs:     cfg.AllowedIPs,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sentinel.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		logger.Info("http api listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
