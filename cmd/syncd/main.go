package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"dashsync/internal/app"
	"dashsync/internal/config"
	cronrunner "dashsync/internal/cron"
	"dashsync/internal/handler"
	"dashsync/internal/logger"
	"dashsync/internal/metrics"
	"dashsync/internal/orchestrator"

	_ "dashsync/docs"
)

func main() {
	cfgPath := os.Getenv("DASHSYNC_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("DASHSYNC_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap failed", zap.Error(err))
	}
	defer a.Close()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	if strings.TrimSpace(cfg.Server.APIToken) == "" {
		logger.Warn("server.api_token is empty, /api routes are unauthenticated")
	}
	engine.Use(handler.RequireBearer(cfg.Server.APIToken))

	healthHandler := &handler.HealthHandler{DB: a.DB, DryRun: a.DryRun}
	healthHandler.Register(engine)
	syncHandler := &handler.SyncHandler{
		Runner: a.Orchestrator,
		Store:  a.Store,
		Events: a.Events,
		Logger: logger,
	}
	syncHandler.Register(engine)
	oauthHandler := &handler.OAuthHandler{Logger: logger}
	if a.Tokens != nil {
		oauthHandler.Flow = a.Tokens
	}
	oauthHandler.Register(engine)

	engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.Sync, func(ctx context.Context) {
			sum, err := a.Orchestrator.Run(ctx, orchestrator.Request{})
			if err != nil {
				logger.Warn("cron sync pass failed", zap.Error(err))
				return
			}
			counts := sum.Counts()
			logger.Info("cron sync pass done",
				zap.String("run_id", sum.RunID),
				zap.Bool("aborted", sum.Aborted),
				zap.Int("ok", counts[orchestrator.StatusOK]),
				zap.Int("failed", counts[orchestrator.StatusFailed]),
				zap.Int("skipped", counts[orchestrator.StatusSkipped]),
			)
		})
		if err != nil {
			logger.Warn("cron register sync failed", zap.Error(err))
		}
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
