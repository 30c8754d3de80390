package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sweet-shop/api/internal/di"
	"github.com/sweet-shop/api/internal/handlers"
	"github.com/sweet-shop/api/internal/notifications"
	"github.com/sweet-shop/api/internal/payments"
	"github.com/sweet-shop/api/internal/platform/auth"
	"github.com/sweet-shop/api/internal/platform/config"
	pfirestore "github.com/sweet-shop/api/internal/platform/firestore"
	"github.com/sweet-shop/api/internal/platform/idempotency"
	"github.com/sweet-shop/api/internal/platform/jobs"
	"github.com/sweet-shop/api/internal/platform/observability"
	"github.com/sweet-shop/api/internal/platform/requestctx"
	"github.com/sweet-shop/api/internal/platform/secrets"
	"github.com/sweet-shop/api/internal/repositories"
	firestoreRepo "github.com/sweet-shop/api/internal/repositories/firestore"
	"github.com/sweet-shop/api/internal/services"
)

const stripeProviderName = "stripe"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithClientOptions(clientOpts...))
	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	checks := []repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   firestoreProvider.Ping,
	}}
	if probe := secretManagerCheck(fetcher, envValues); probe != nil {
		checks = append(checks, *probe)
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: observability.EventLogger(logger.Named("payments")),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(
		map[string]payments.Provider{stripeProviderName: stripeProvider},
		payments.WithDefaultProvider(stripeProviderName),
		payments.WithCallTimeout(cfg.PSP.Timeout),
	)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	var dispatchers notifications.Fanout
	if emailDispatcher := buildEmailDispatcher(logger, cfg, registry.PickupLocations()); emailDispatcher != nil {
		dispatchers = append(dispatchers, emailDispatcher)
	}

	var pubsubClient *pubsub.Client
	var eventsTopic *pubsub.Topic
	if topic := strings.TrimSpace(cfg.Events.Topic); topic != "" && cfg.Events.ProjectID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Events.ProjectID, clientOpts...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		eventsTopic = pubsubClient.Topic(topic)
		publisher, err := jobs.NewPubSubPublisher(eventsTopic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		eventDispatcher, err := notifications.NewEventDispatcher(publisher, time.Now)
		if err != nil {
			logger.Fatal("failed to initialise event dispatcher", zap.Error(err))
		}
		dispatchers = append(dispatchers, eventDispatcher)
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check:   topicExists(eventsTopic),
		})
	}

	idempotencyStore, redisClient := buildIdempotencyStore(cfg, firestoreProvider)
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithGateway(paymentManager),
		di.WithNotifier(dispatchers),
		di.WithHealthChecks(checks...),
		di.WithBuildInfo(buildInfo),
		di.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)
	cleaner := idempotency.NewCleaner(idempotencyStore, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	if cfg.Idempotency.CleanupInterval > 0 {
		if err := cleaner.Start(cfg.Idempotency.CleanupInterval); err != nil {
			logger.Fatal("failed to schedule idempotency cleanup", zap.Error(err))
		}
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithRoleClaim(cfg.Security.RoleClaim))

	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	var webhookVerifier handlers.WebhookVerifier
	if secret := strings.TrimSpace(cfg.PSP.StripeWebhookSecret); secret != "" {
		verifier, err := payments.NewStripeWebhookVerifier(secret, 0)
		if err != nil {
			logger.Fatal("failed to initialise stripe webhook verifier", zap.Error(err))
		}
		webhookVerifier = verifier
	} else {
		logger.Warn("stripe webhook secret not configured; webhook route disabled")
	}

	orders := container.Services.Orders
	storefrontHandlers := handlers.NewStorefrontHandlers(container.Services.Storefront)
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, orders, handlers.WithCheckoutIdempotency(idempotencyMiddleware))
	meHandlers := handlers.NewMeOrderHandlers(authenticator, orders)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, orders)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(webhookVerifier, orders)
	maintenanceHandlers := handlers.NewMaintenanceHandlers(cleaner)

	var healthOpts []handlers.HealthOption
	healthOpts = append(healthOpts, handlers.WithHealthBuildInfo(buildInfo))
	if container.Services.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(container.Services.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(),
		observability.RequestLoggerMiddleware(),
	}

	var opts []handlers.Option
	opts = append(opts, handlers.WithMiddlewares(middlewares...))
	opts = append(opts, handlers.WithHealthHandlers(healthHandlers))
	opts = append(opts, handlers.WithStorefrontRoutes(storefrontHandlers.Routes))
	opts = append(opts, handlers.WithCheckoutRoutes(checkoutHandlers.Routes))
	opts = append(opts, handlers.WithMeRoutes(meHandlers.Routes))
	opts = append(opts, handlers.WithAdminRoutes(adminHandlers.Routes))
	opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
	opts = append(opts, handlers.WithInternalRoutes(maintenanceHandlers.Routes))
	if oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("sweet-shop api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if cfg.Idempotency.CleanupInterval > 0 {
		if err := cleaner.Stop(); err != nil {
			logger.Warn("idempotency cleanup stop error", zap.Error(err))
		}
	}
	// Notifications run after commit; let them finish before the publishers close.
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
	if eventsTopic != nil {
		eventsTopic.Stop()
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func buildEmailDispatcher(logger *zap.Logger, cfg config.Config, locations repositories.PickupLocationRepository) notifications.Dispatcher {
	smtp := cfg.Notifications
	if strings.TrimSpace(smtp.SMTPHost) == "" {
		logger.Warn("smtp host not configured; email notifications disabled")
		return nil
	}
	sender, err := notifications.NewSMTPSender(notifications.SMTPConfig{
		Host:     smtp.SMTPHost,
		Port:     smtp.SMTPPort,
		Username: smtp.SMTPUsername,
		Password: smtp.SMTPPassword,
	})
	if err != nil {
		logger.Fatal("failed to initialise smtp sender", zap.Error(err))
	}
	dispatcher, err := notifications.NewEmailDispatcher(notifications.EmailDispatcherDeps{
		Sender:          sender,
		From:            smtp.From,
		AdminRecipients: smtp.AdminEmails,
		Locations:       locations,
		Logger:          observability.EventLogger(logger.Named("notifications")),
	})
	if err != nil {
		logger.Fatal("failed to initialise email dispatcher", zap.Error(err))
	}
	if len(smtp.AdminEmails) == 0 {
		logger.Warn("no admin emails configured; admin notifications will be skipped")
	}
	return dispatcher
}

func buildIdempotencyStore(cfg config.Config, provider *pfirestore.Provider) (idempotency.Store, *redis.Client) {
	if addr := strings.TrimSpace(cfg.Idempotency.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		return idempotency.NewRedisStore(client), client
	}
	return idempotency.NewFirestoreStore(provider), nil
}

func topicExists(topic *pubsub.Topic) func(context.Context) error {
	return func(ctx context.Context) error {
		ok, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("topic %s not found", topic.ID())
		}
		return nil
	}
}

func secretManagerCheck(fetcher *secrets.Fetcher, env map[string]string) *repositories.DependencyCheck {
	if fetcher == nil || strings.TrimSpace(env["API_SECRET_DEFAULT_PROJECT_ID"]) == "" {
		return nil
	}
	const secretHealthReference = "secret://system-healthz?version=latest"
	return &repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil {
				return nil
			}
			// Reaching Secret Manager is what matters; the probe secret need not exist.
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validatorOpts := []auth.OIDCOption{auth.WithOIDCLogger(logger)}
	if recorder, err := auth.NewMeterRecorder(otel.Meter("github.com/sweet-shop/api/auth")); err == nil {
		validatorOpts = append(validatorOpts, auth.WithOIDCMetrics(recorder))
	} else {
		logger.Warn("auth: unable to register verification metrics", zap.Error(err))
	}
	validator := auth.NewOIDCValidator(cache, validatorOpts...)
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve to a value. Local environments may run
// without webhooks; the SMTP password is only needed when a username is configured.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"PSP.StripeAPIKey"}
	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if environment != "" && environment != "local" {
		required = append(required, "PSP.StripeWebhookSecret")
	}
	if strings.TrimSpace(env["API_SMTP_USERNAME"]) != "" {
		required = append(required, "Notifications.SMTPPassword")
	}
	return required
}
