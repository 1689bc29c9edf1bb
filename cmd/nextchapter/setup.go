package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"github.com/aelexs/nextchapter/internal/auth"
	"github.com/aelexs/nextchapter/internal/chapter/adapter"
	"github.com/aelexs/nextchapter/internal/chapter/app"
	"github.com/aelexs/nextchapter/internal/chapter/port"
	"github.com/aelexs/nextchapter/internal/config"
	"github.com/aelexs/nextchapter/internal/domain"
	"github.com/aelexs/nextchapter/internal/dynamo"
	"github.com/aelexs/nextchapter/internal/realtime"
	"github.com/aelexs/nextchapter/internal/redis"
	"github.com/aelexs/nextchapter/internal/server"
)

// Session tokens are only ever checked by this service.
const (
	jwtIssuer   = "nextchapter"
	jwtAudience = "nextchapter-boards"
)

// setup is the composition root. It creates infrastructure clients,
// adapters and services, seeds the PIN, and registers the routes.
func setup(ctx context.Context, deps server.SetupDeps) (func(context.Context) error, error) {
	cfg := deps.Config
	logger := deps.Logger

	timeline, err := cfg.Timeline.Resolve()
	if err != nil {
		return nil, fmt.Errorf("nextchapter setup: %w", err)
	}

	// 1. Infrastructure clients.
	dynamoClient, err := dynamo.NewClient(ctx, dynamo.Config{
		Endpoint: cfg.DynamoDB.Endpoint,
		Region:   cfg.AWS.Region,
		Timeout:  cfg.DynamoDB.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("nextchapter setup: create dynamo client: %w", err)
	}

	redisClient := redis.NewClient(redis.Config{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password.Expose(),
		DB:           cfg.Redis.DB,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.Timeout)
	defer cancel()
	if err := redisClient.Ping(pingCtx); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("nextchapter setup: ping redis %s: %w", cfg.Redis.Addr, err)
	}
	deps.Readiness("redis", redisClient.Ping)

	// 2. Document database.
	clock := domain.RealClock{}
	store := realtime.NewStore(
		adapter.NewDocumentStore(dynamoClient.DB, cfg.DynamoDB.Table),
		adapter.NewChangeFeed(redisClient.RDB),
		clock,
	)

	// 3. Session keys (environment-dependent).
	keyStore, err := createKeyStore(ctx, cfg, logger)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("nextchapter setup: create key store: %w", err)
	}

	// 4. Services.
	security := app.NewSecurityService(app.SecurityServiceConfig{
		DB:      store,
		Limiter: adapter.NewAttemptLimiter(redisClient.RDB, domain.MaxPINAttempts, domain.PINAttemptWindow),
		Minter: auth.NewMinter(auth.MinterConfig{
			KeyStore: keyStore,
			TTL:      cfg.Auth.TTL,
			Issuer:   jwtIssuer,
			Audience: jwtAudience,
			Clock:    clock,
		}),
		Validator: auth.NewValidator(auth.ValidatorConfig{
			KeyStore: keyStore,
			Issuer:   jwtIssuer,
			Audience: jwtAudience,
			Clock:    clock,
		}),
		Clock:         clock,
		Logger:        logger,
		GlobalLimiter: adapter.NewAttemptLimiter(redisClient.RDB, domain.MaxGlobalPINAttempts, domain.PINAttemptWindow),
	})
	if err := security.Initialize(ctx); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("nextchapter setup: initialize PIN: %w", err)
	}

	handler := port.NewHandler(port.HandlerConfig{
		Timeline: app.NewTimeline(app.TimelineConfig{
			Clock:     clock,
			Location:  timeline.Location,
			Countdown: timeline.Countdown,
			Together:  timeline.Together,
		}),
		Notes: app.NewNotesService(app.NotesServiceConfig{
			DB:       store,
			Clock:    clock,
			Location: timeline.Location,
			Logger:   logger,
		}),
		Bucket: app.NewBucketService(app.BucketServiceConfig{
			DB:       store,
			Clock:    clock,
			Location: timeline.Location,
			Logger:   logger,
		}),
		Security:         security,
		Clock:            clock,
		Logger:           logger,
		TrustedProxyHops: cfg.HTTP.TrustedProxyHops,
	})

	// 5. Routes.
	handler.Register(deps.Router)

	logger.InfoContext(ctx, "nextchapter initialized",
		slog.String("zone", timeline.Location.String()),
		slog.Time("countdown", timeline.Countdown),
		slog.Time("together", timeline.Together),
	)

	cleanup := func(_ context.Context) error {
		return redisClient.Close()
	}
	return cleanup, nil
}

// createKeyStore returns the session signing keys for the environment.
// Local: an ephemeral RSA key pair, so sessions end with the process.
// Otherwise: the PEM key held in Secrets Manager under cfg.Auth.Secret.
func createKeyStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.KeyStore, error) {
	if cfg.IsLocal() && cfg.Auth.Secret == "" {
		ks, err := auth.GenerateStaticKeyStore("dev-key-001")
		if err != nil {
			return nil, err
		}
		logger.Info("using ephemeral RSA key for local development", slog.String("key_id", "dev-key-001"))
		return ks, nil
	}

	awsCfg, err := dynamo.LoadAWSConfig(ctx, cfg.AWS.Region, cfg.AWS.Endpoint)
	if err != nil {
		return nil, err
	}
	var smOpts []func(*secretsmanager.Options)
	if cfg.AWS.Endpoint != "" {
		endpoint := cfg.AWS.Endpoint
		smOpts = append(smOpts, func(o *secretsmanager.Options) {
			o.BaseEndpoint = &endpoint
		})
	}

	ks, err := adapter.NewSecretKeyStore(ctx, secretsmanager.NewFromConfig(awsCfg, smOpts...), cfg.Auth.Secret)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded signing key from Secrets Manager", slog.String("secret", cfg.Auth.Secret))
	return ks, nil
}
