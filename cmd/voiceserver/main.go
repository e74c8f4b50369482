package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JVHBO/vibefid-voice/config"
	"github.com/JVHBO/vibefid-voice/internal/handlers"
	"github.com/JVHBO/vibefid-voice/internal/middleware"
	"github.com/JVHBO/vibefid-voice/internal/redis"
	"github.com/JVHBO/vibefid-voice/internal/store"
)

func main() {
	cfg := config.Load()

	rdb, err := redis.Connect(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to Redis", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("redis connection established", "host", cfg.Redis.Host)

	signals := store.NewSignalStore(rdb, cfg.SignalTTL)
	presence := store.NewPresenceStore(rdb, cfg.PresenceTTL, cfg.BotPrefixes)

	// Time-based sweeps are the only cleanup for abandoned signals and
	// zombie participants; neither is an error condition.
	go runSweeper(context.Background(), cfg.SweepInterval, signals, presence)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		voice := apiGroup.Group("/voice")
		{
			voice.POST("/signals", handlers.SendSignal(signals))
			voice.GET("/signals", handlers.GetSignals(signals))
			voice.POST("/signals/processed", handlers.MarkSignalsProcessed(signals))

			voice.POST("/channels/:roomId/join", handlers.JoinVoiceChannel(presence))
			voice.POST("/channels/:roomId/leave", handlers.LeaveVoiceChannel(presence))
			voice.GET("/channels/:roomId/participants", handlers.GetVoiceParticipants(presence))

			// Room teardown is destructive; only the authenticated room
			// layer may call it.
			voice.DELETE("/channels/:roomId", middleware.JWTAuth(cfg.JWTSecret), handlers.ClearVoiceRoom(presence))
		}
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signals/:roomId", handlers.SubscribeSignals(signals))
	}

	slog.Info("starting voice signaling server", "port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func runSweeper(ctx context.Context, interval time.Duration, signals *store.SignalStore, presence *store.PresenceStore) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := signals.Sweep(ctx); err != nil {
				slog.Warn("signal sweep failed", "err", err)
			} else if n > 0 {
				slog.Info("swept stale signals", "removed", n)
			}
			if n, err := presence.SweepStale(ctx); err != nil {
				slog.Warn("presence sweep failed", "err", err)
			} else if n > 0 {
				slog.Info("swept stale participants", "removed", n)
			}
		}
	}
}
