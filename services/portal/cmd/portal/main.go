package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"intellimed/internal/federated"
	"intellimed/internal/util"
	"intellimed/pkg/analysis"
	"intellimed/pkg/store"
	"intellimed/pkg/storage"
	"intellimed/services/portal/internal/app"
	"intellimed/services/portal/internal/config"
	"intellimed/services/portal/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	tokenTTL, err := config.ParseTokenTTL(cfg.TokenTTL)
	if err != nil {
		log.Fatalf("failed to parse token TTL: %v", err)
	}

	logger := util.InitLogger("portal", cfg.LogLevel, util.WithLogFile(util.LogFile{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}))

	dataStore, err := newStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	artifacts, err := newArtifactStore(cfg)
	if err != nil {
		log.Fatalf("failed to init artifact storage: %v", err)
	}
	sessions, err := store.NewJWTHS256SessionStore(cfg.JWTSecret, tokenTTL, store.JWTOptions{Issuer: cfg.JWTIssuer})
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	var verifier app.IdentityVerifier
	if cfg.GoogleClientID != "" {
		v, err := federated.NewVerifier(federated.Config{
			ClientID: cfg.GoogleClientID,
			JWKSURL:  cfg.GoogleJWKSURL,
		})
		if err != nil {
			log.Fatalf("failed to init google verifier: %v", err)
		}
		verifier = v
	}

	adminEmail := cfg.AdminEmail
	if cfg.AdminPassword == "" {
		logger.Warn("reserved admin disabled: no admin password configured", "admin_email", adminEmail)
		adminEmail = ""
	}
	if cfg.DoctorRegistrationCode == "" {
		logger.Warn("doctor self-registration disabled: no registration code configured")
	}

	metrics := analysis.NewMetrics("portal")
	pipelineOpts := []analysis.Option{analysis.WithMetrics(metrics), analysis.WithLogger(logger)}
	pipeline := analysis.NewDefaultPipeline(pipelineOpts...)
	if cfg.NLPBaseURL != "" {
		generator, err := analysis.NewChatCompletionsGenerator(cfg.NLPBaseURL, cfg.NLPAPIKey, cfg.NLPModel)
		if err != nil {
			log.Fatalf("failed to init nlp model client: %v", err)
		}
		pipeline = analysis.NewPipeline(
			analysis.NewTextExtractor(),
			analysis.NewImageClassifier(),
			analysis.NewSummarizingAnalyzer(
				analysis.NewBreakerGenerator(generator, analysis.BreakerConfig{Name: "nlp_model"}),
				analysis.NewLexiconAnalyzer(),
			),
			pipelineOpts...,
		)
		logger.Info("nlp summaries delegated to model", "model", cfg.NLPModel)
	}

	appCore, err := app.New(app.Config{
		Store:                  dataStore,
		Sessions:               sessions,
		Artifacts:              artifacts,
		Pipeline:               pipeline,
		Verifier:               verifier,
		Logger:                 logger,
		AdminEmail:             adminEmail,
		AdminPassword:          cfg.AdminPassword,
		DoctorRegistrationCode: cfg.DoctorRegistrationCode,
		MaxUploadBytes:         cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	httpServer, err := server.New(server.Config{
		App:                     appCore,
		Redis:                   redisClient,
		LoginRateLimitPerMinute: cfg.LoginRateLimitPerMinute,
		LinkRateLimitPerMinute:  cfg.LinkRateLimitPerMinute,
		CORSOrigins:             cfg.CORSOrigins,
		TrustedProxies:          trusted,
		Metrics:                 metrics.Handler(),
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	}()

	slog.Info("server listening", "addr", addr, "store", cfg.StoreDriver, "storage", cfg.StorageDriver)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func newStore(cfg config.FileConfig) (store.Store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return store.NewMemoryStore(), nil
	}
	return store.NewGormStore(cfg.DatabaseURL)
}

func newArtifactStore(cfg config.FileConfig) (storage.ArtifactStore, error) {
	if cfg.StorageDriver == config.StorageDriverMinio {
		return storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	}
	return storage.NewFileStore(cfg.UploadDir)
}
