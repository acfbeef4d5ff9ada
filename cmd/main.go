package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"roomrelay/backend/internal/api/handler"
	"roomrelay/backend/internal/chathub"
	"roomrelay/backend/internal/config"
	"roomrelay/backend/internal/log"
	"roomrelay/backend/internal/media"
	"roomrelay/backend/internal/payment"
	"roomrelay/backend/internal/registry"
	"roomrelay/backend/internal/storage"
	"roomrelay/backend/internal/telegram"
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.L().Fatal().Err(err).Msg("failed to load configuration")
	}
	log.Init(cfg.Log)
	logger := log.L()
	logger.Info().Str("addr", cfg.Server.Addr()).Msg("starting room relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	db, err := storage.Open(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	if err := storage.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	store := storage.NewStorageService(db)

	// 2. Room registry
	roomStore, release, err := registry.OpenStore(ctx, cfg, store)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open room registry")
	}
	defer release()
	rooms := registry.New(roomStore)
	defer rooms.Close()

	policy, err := registry.NewPolicy(cfg.Rooms.PaidPattern)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid room policy")
	}

	// 3. Payment oracle
	oracle, err := payment.Dial(ctx, cfg.Payment)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up payment oracle")
	}
	defer oracle.Close()

	// 4. Media uploads
	blobs, err := media.NewBlobStore(ctx, cfg.Upload, cfg.Server.PublicURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up upload storage")
	}
	uploadDir := ""
	if local, ok := blobs.(*media.LocalStore); ok {
		uploadDir = local.Dir()
	}

	// 5. Chat sessions
	hub := chathub.NewManagerService(store, rooms, chathub.Options{
		SweepInterval:   cfg.Chat.SweepInterval,
		PresenceTimeout: cfg.Chat.PresenceTimeout,
		IdleTimeout:     cfg.Chat.IdleTimeout,
		StorageTimeout:  cfg.Chat.StorageTimeout,
	})

	deps := handler.Deps{
		Hub:            hub,
		Rooms:          rooms,
		Policy:         policy,
		Oracle:         oracle,
		Claims:         store,
		Uploader:       media.NewUploader(blobs, cfg.Upload.MaxSize),
		Admin:          cfg.Admin,
		WebSocket:      cfg.WebSocket,
		RateLimit:      cfg.RateLimit,
		SendBuffer:     cfg.Chat.SendBuffer,
		StaticDir:      cfg.Server.StaticDir,
		UploadDir:      uploadDir,
		TrustedProxies: cfg.Server.TrustedProxies,
	}

	// 6. Operator bot (optional)
	if cfg.Telegram.BotToken != "" {
		bot, err := telegram.New(cfg.Telegram, rooms, hub)
		if err != nil {
			logger.Error().Err(err).Msg("telegram bot disabled")
		} else {
			deps.Notifier = bot.Notifier
			go bot.Run(ctx)
		}
	}

	// 7. HTTP
	if !cfg.Log.Pretty {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(log.GinMiddleware(*logger), gin.Recovery())
	if err := handler.NewHandler(deps).Register(r); err != nil {
		logger.Fatal().Err(err).Msg("failed to register routes")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()
	logger.Info().Str("addr", server.Addr).Msg("listening")

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	hub.Shutdown()
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
