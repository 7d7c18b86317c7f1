package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/devicelocator/locator-relay/internal/config"
	"github.com/devicelocator/locator-relay/internal/database"
	"github.com/devicelocator/locator-relay/internal/handler"
	"github.com/devicelocator/locator-relay/internal/jobs"
	"github.com/devicelocator/locator-relay/internal/metadata"
	"github.com/devicelocator/locator-relay/internal/middleware"
	"github.com/devicelocator/locator-relay/internal/particle"
	"github.com/devicelocator/locator-relay/internal/push"
	"github.com/devicelocator/locator-relay/internal/redis"
	"github.com/devicelocator/locator-relay/internal/relay"
	"github.com/devicelocator/locator-relay/internal/repository"
	"github.com/devicelocator/locator-relay/internal/service"
	"github.com/devicelocator/locator-relay/internal/subscription"
	"github.com/devicelocator/locator-relay/internal/util"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	healthChecks := map[string]handler.HealthCheck{}

	var ledger subscription.Ledger
	var subscriptionsHandler *handler.SubscriptionsHandler
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		cancel()

		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		log.Info().Msg("database connected")

		subscriptionRepo := repository.NewSubscriptionRepository(db.DB)
		ledger = subscriptionRepo
		subscriptionsHandler = handler.NewSubscriptionsHandler(subscriptionRepo)
		healthChecks["database"] = db.Ping

		cleanupJob := jobs.NewCleanupJob(subscriptionRepo, cfg.LedgerRetention(), config.CleanupJobInterval)
		cleanupJob.Start()
		defer cleanupJob.Stop()
	}

	var sessionRepo repository.SessionRepository
	var loginLimiter middleware.LoginLimiter
	if cfg.RedisURL != "" {
		redisClient, err := redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		var sessionCipher *util.Cipher
		if cfg.SessionEncryptionKey != "" {
			if sessionCipher, err = util.NewCipher(cfg.SessionEncryptionKey); err != nil {
				log.Fatal().Err(err).Msg("failed to create session cipher")
			}
		}

		sessionRepo = repository.NewRedisSessionRepository(redisClient, config.SessionTTL, sessionCipher)
		loginLimiter = middleware.NewRedisLoginRateLimiter(redisClient, config.LoginAttemptsPerMinute)
		healthChecks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	} else {
		memoryRepo := repository.NewMemorySessionRepository(config.SessionTTL)
		defer memoryRepo.Close()
		sessionRepo = memoryRepo
		loginLimiter = middleware.NewLoginRateLimiter(config.LoginAttemptsPerMinute)
	}

	registry := push.NewRegistry()
	particleClient := particle.NewClient(cfg.ParticleAPIURL, cfg.ParticleClientID, cfg.ParticleClientSecret)
	manager := subscription.NewManager(
		particleClient,
		relay.NewTransformer(cfg.EventName),
		registry,
		ledger,
		subscription.Options{
			DeviceSelector:    config.DeviceSelectorMine,
			AuthTimeout:       cfg.AuthTimeout(),
			StreamOpenTimeout: cfg.StreamOpenTimeout(),
			Policy:            cfg.SubscriptionPolicy,
		},
	)

	sessionService := service.NewSessionService(sessionRepo, cfg.SessionSecret)
	relayService := service.NewRelayService(manager, sessionService, cfg.CancelOnLogout)
	ipLookup := metadata.NewLookup(cfg.MetadataURL, cfg.MetadataCacheTTL())

	sessionMiddleware := middleware.NewSessionMiddleware(sessionService, isProduction)
	sessionGate := middleware.NewSessionGate(sessionService)
	loginRateLimitMiddleware := middleware.NewLoginRateLimitMiddleware(loginLimiter)
	csrfMiddleware := middleware.NewCSRFMiddleware(isProduction)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction, "ws:", "wss:")

	pagesHandler := handler.NewPagesHandler(relayService, sessionService, ipLookup, handler.PageConfig{
		PushPort:  cfg.PushPort,
		PushRoute: config.PushRoute,
		MapAPIKey: cfg.MapAPIKey,
		Secure:    isProduction,
	})
	diagnosticsHandler := handler.NewDiagnosticsHandler(registry, manager, ipLookup, healthChecks)
	pushHandler := handler.NewPushHandler(registry, config.PushPingInterval)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", diagnosticsHandler.Health)
	r.Get("/event", diagnosticsHandler.Event)
	r.Get("/ip", diagnosticsHandler.IP)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", handler.NewAssetHandler())

	r.Group(func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		r.Use(csrfMiddleware.Handler)
		r.Use(sessionMiddleware.Handler)

		r.Get("/", pagesHandler.Index)
		r.Get("/login", pagesHandler.LoginPage)
		r.With(loginRateLimitMiddleware.Handler).Post("/login", pagesHandler.Login)
		r.Get("/logout", pagesHandler.Logout)
		r.With(sessionGate.Handler).Get("/map", pagesHandler.Map)
		if subscriptionsHandler != nil {
			r.With(sessionGate.Handler).Mount("/subscriptions", subscriptionsHandler.Routes())
		}
	})

	pr := chi.NewRouter()
	pr.Use(chimiddleware.RequestID)
	pr.Use(chimiddleware.RealIP)
	pr.Use(middleware.RequestLogger(log.Logger))
	pr.Use(chimiddleware.Recoverer)
	pr.Handle(config.PushRoute, pushHandler)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	pushServer := &http.Server{
		Addr:              cfg.PushAddr(),
		Handler:           pr,
		ReadHeaderTimeout: config.ServerReadTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	go func() {
		log.Info().Str("addr", cfg.PushAddr()).Str("route", config.PushRoute).Msg("starting push server")
		if err := pushServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("push server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	manager.Close()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := pushServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("push server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
