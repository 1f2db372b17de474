package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/api"
	"github.com/lalithlochan/beacon/internal/auth"
	"github.com/lalithlochan/beacon/internal/channels"
	"github.com/lalithlochan/beacon/internal/circuitbreaker"
	appconfig "github.com/lalithlochan/beacon/internal/config"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/events"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/observ"
	"github.com/lalithlochan/beacon/internal/realtime"
	"github.com/lalithlochan/beacon/internal/redis"
	"github.com/lalithlochan/beacon/internal/sns"
	"github.com/lalithlochan/beacon/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger("beacon-gateway", cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting beacon gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("channel_adapters", cfg.ChannelAdapters),
	)

	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis is optional: without it there is no rate limiting or
	// idempotency, but notifications still flow.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, rate limiting and idempotency disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: time.Minute,
		})
		defer redisClient.Close()
	}

	bus := realtime.NewBus(logger)

	adapters, err := buildAdapters(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create channel adapters: %w", err)
	}
	breakers := circuitbreaker.Protect(logger, adapters...)
	registry := channels.NewRegistry(logger, breakers.Adapters()...)

	dispatcher, err := dispatch.New(repo, bus, registry, dispatch.Config{
		AdapterTimeout: cfg.AdapterTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	wsHandler, err := realtime.NewHandler(bus, func(r *http.Request) (realtime.UserID, error) {
		userID, err := verifier.FromRequest(r)
		if err != nil {
			return realtime.UserID{}, err
		}
		return realtime.UserID(userID), nil
	}, realtime.HandlerConfig{
		AllowedOrigin: cfg.ClientOrigin,
		SendBuffer:    cfg.WSSendBuffer,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create websocket handler: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if cfg.SQSQueueURL != "" {
		sqsClient, err := sqs.NewClient(ctx, sqs.Config{
			Region:   cfg.SQSRegion,
			QueueURL: cfg.SQSQueueURL,
			Endpoint: cfg.AWSEndpoint,
		})
		if err != nil {
			logger.Warn("sqs unavailable, domain events disabled", zap.Error(err))
		} else {
			consumer := sqs.NewConsumer(sqsClient, cfg.SQSQueueURL, logger)
			listener := events.New(consumer, dispatcher, events.Config{}, logger)
			go listener.Start(bgCtx)
			logger.Info("domain event listener started")
		}
	}

	go reportPoolStats(bgCtx, database, redisClient)

	handler := api.NewHandler(logger, repo, dispatcher, bus)
	if idempotencyService != nil {
		handler.WithIdempotency(idempotencyService)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(requestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.CORS(cfg.ClientOrigin))

		// Long-lived; authenticates the upgrade itself. Handshakes are
		// limited per client IP since no caller is known yet.
		r.With(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc)).Handle("/ws", wsHandler)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(auth.Middleware(verifier, logger))
			r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.UserKeyFunc))
			handler.Routes(r)
		})
	})

	r.Method(http.MethodGet, "/health", api.NewHealthHandler(database, bus, breakers))

	r.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Let in-flight email/SMS/push sends finish.
		dispatcher.Wait()
		logger.Info("server stopped gracefully")
	}

	return nil
}

// buildAdapters returns the real AWS adapters or, in log mode, adapters
// that only log what they would send.
func buildAdapters(ctx context.Context, cfg *appconfig.Config, logger *zap.Logger) ([]channels.Adapter, error) {
	if cfg.ChannelAdapters != appconfig.AdaptersAWS {
		return channels.LogAdapters(logger), nil
	}

	email, err := channels.NewEmailAdapter(ctx, channels.EmailConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("email adapter: %w", err)
	}

	sms, err := channels.NewSMSAdapter(ctx, cfg.SNSRegion, logger)
	if err != nil {
		return nil, fmt.Errorf("sms adapter: %w", err)
	}

	adapters := []channels.Adapter{email, sms}

	if cfg.SNSPushTopicARN == "" {
		logger.Warn("SNS_PUSH_TOPIC_ARN not set, push notifications log only")
		return append(adapters, channels.NewLogAdapter(channels.ChannelPush, logger)), nil
	}

	var publisher *sns.Publisher
	if cfg.AWSEndpoint != "" {
		publisher, err = sns.NewPublisherWithEndpoint(ctx, cfg.SNSPushTopicARN, cfg.AWSEndpoint, cfg.SNSRegion)
	} else {
		publisher, err = sns.NewPublisher(ctx, cfg.SNSPushTopicARN, config.WithRegion(cfg.SNSRegion))
	}
	if err != nil {
		return nil, fmt.Errorf("push adapter: %w", err)
	}

	return append(adapters, channels.NewPushAdapter(publisher, logger)), nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func reportPoolStats(ctx context.Context, database *db.DB, redisClient *redis.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDBConnections(database.AcquiredConns())
			if redisClient != nil {
				metrics.SetRedisConnections(redisClient.ActiveConns())
			}
		}
	}
}
