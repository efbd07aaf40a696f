package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"channel-watch-server/internal/auth"
	"channel-watch-server/internal/config"
	"channel-watch-server/internal/hub"
	"channel-watch-server/internal/lifecycle"
	"channel-watch-server/internal/logging"
	"channel-watch-server/internal/middleware"
	"channel-watch-server/internal/model"
	"channel-watch-server/internal/monitor"
	"channel-watch-server/internal/remote/memory"
	"channel-watch-server/internal/server"
	"channel-watch-server/internal/session"
	"channel-watch-server/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.GinMode)

	st, err := store.NewFileStore(cfg.SessionDir)
	if err != nil {
		return err
	}

	network := memory.NewNetwork(memory.Options{DefaultCode: cfg.DevCode})
	seedChannels(network)

	sessions := session.NewManager(network.Dialer(), st, logger.Named("session"), session.Options{
		TTL:           cfg.SessionTTL,
		EnforceExpiry: cfg.EnforceSessionExpiry,
	})
	restored, err := sessions.Restore(ctx)
	if err != nil {
		return err
	}
	logger.Info("sessions restored", zap.Int("count", restored))

	h := hub.New(logger.Named("hub"), cfg.EventQueueSize)
	monitors := monitor.New(sessions, h, logger.Named("monitor"), monitor.Options{})
	lc := lifecycle.New(sessions, monitors, h, logger.Named("lifecycle"))
	limiter := middleware.NewRateLimiter(cfg.SendCodeRateLimit, cfg.SendCodeRateWindow)

	router := server.NewRouter(server.Deps{
		Config:          cfg,
		TokenConfig:     auth.DefaultTokenConfig(cfg.MasterSecret),
		Sessions:        sessions,
		Monitors:        monitors,
		Hub:             h,
		Lifecycle:       lc,
		SendCodeLimiter: limiter,
		Log:             logger.Named("http"),
	})
	srv := server.NewHTTPServer(cfg, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, cfg, srv, logger)
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	if cfg.EnforceSessionExpiry {
		g.Go(func() error {
			lc.RunJanitor(gctx, cfg.JanitorInterval)
			return nil
		})
	}
	if cfg.DevFeedInterval > 0 {
		g.Go(func() error {
			network.RunFeed(gctx, cfg.DevFeedInterval, logger.Named("feed"))
			return nil
		})
	}

	serveErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := lc.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown finished with errors", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return serveErr
}

// seedChannels gives the in-process backend something to watch.
func seedChannels(n *memory.Network) {
	for _, ch := range []model.Channel{
		{ID: "1001", Title: "Engineering updates", Username: "eng_updates", SubscribersCount: 1200},
		{ID: "1002", Title: "Release notes", Username: "release_notes", SubscribersCount: 860},
		{ID: "1003", Title: "Status page", Username: "status", SubscribersCount: 4300},
	} {
		n.AddChannel(ch)
	}
}
