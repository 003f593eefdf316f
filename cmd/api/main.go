package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"auth-core/internal/config"
	"auth-core/internal/db"
	"auth-core/internal/email"
	apihttp "auth-core/internal/http"
	"auth-core/internal/metrics"
	"auth-core/internal/repository"
	"auth-core/internal/service"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	userRepo := repository.NewPgUserRepository(pool)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS, cfg.AppURL)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	var (
		linkLimiter service.LinkRateLimiter
		tokenStore  service.OneTimeTokenStore
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			linkLimiter = service.NewRedisLinkRateLimiter(redisClient, time.Duration(cfg.LinkRateWindowMinutes)*time.Minute, cfg.LinkRateMax)
			tokenStore = service.NewRedisOneTimeTokenStore(redisClient)
		}
		cancel()
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewPromCollector(registry)

	sessionSvc := service.NewSessionService(
		service.NewHS256Signer(cfg.JWTSecret),
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
	)

	authSvc := service.NewAuthService(
		logger,
		userRepo,
		tokenStore,
		sessionSvc,
		service.NewBcryptHasher(),
		emailSender,
		linkLimiter,
		collector,
		time.Duration(cfg.LinkTTLMinutes)*time.Minute,
	)

	authHandler := apihttp.NewAuthHandler(logger, authSvc, sessionSvc)
	router := apihttp.NewRouter(logger, authHandler, sessionSvc, registry)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}
