package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/wellgone/augment-token-manager-worker/internal/adapter/cache"
	"github.com/wellgone/augment-token-manager-worker/internal/adapter/portal"
	"github.com/wellgone/augment-token-manager-worker/internal/adapter/tenant"
	"github.com/wellgone/augment-token-manager-worker/internal/config"
	"github.com/wellgone/augment-token-manager-worker/internal/credential"
	httptransport "github.com/wellgone/augment-token-manager-worker/internal/http"
	"github.com/wellgone/augment-token-manager-worker/internal/http/handler"
	httpmiddleware "github.com/wellgone/augment-token-manager-worker/internal/http/middleware"
	"github.com/wellgone/augment-token-manager-worker/internal/metrics"
	apimiddleware "github.com/wellgone/augment-token-manager-worker/internal/middleware"
	"github.com/wellgone/augment-token-manager-worker/internal/repository"
	"github.com/wellgone/augment-token-manager-worker/internal/server"
	authservice "github.com/wellgone/augment-token-manager-worker/internal/service/auth"
	"github.com/wellgone/augment-token-manager-worker/internal/service/session"
	"github.com/wellgone/augment-token-manager-worker/internal/service/tokens"
	"github.com/wellgone/augment-token-manager-worker/internal/service/validator"
	"github.com/wellgone/augment-token-manager-worker/internal/telemetry"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			fx.Provide(
				newConfig,
				newLogger,
				newTelemetry,
				newTracer,
				newMetrics,
				newSnowflake,
				newKVStore,
				newTokenRepository,
				newSessionRepository,
				newOAuthStateStore,
				newTenantClient,
				newPortalClient,
				newEngine,
				newOAuthService,
				newValidator,
				newTokenService,
				newCredentialStore,
				newSessionService,
				handler.NewSessionHandler,
				handler.NewOAuthHandler,
				handler.NewTokenHandler,
				newAuthMiddleware,
				newLimiters,
				httptransport.NewRouter,
				server.NewHTTPServer,
			),
			fx.Invoke(useTelemetry, startHTTPServer),
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "HTTP port (overrides HTTP_PORT)")
}

func newConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if servePort != "" {
		cfg.HTTPPort = servePort
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, handler.Version, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newTracer(provider *telemetry.Provider) trace.Tracer {
	return provider.Tracer()
}

func newMetrics(cfg config.Config) *metrics.Metrics {
	if !cfg.MetricsEnabled {
		return nil
	}
	return metrics.New()
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newKVStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.KVStore, error) {
	if cfg.KVBackend == config.KVBackendMemory {
		logger.Warn("using in-memory key-value store; data is lost on restart")
		store := cacheadapter.NewMemoryKV()
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				store.Stop()
				return nil
			},
		})
		return store, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return cacheadapter.NewRedisKV(client), nil
}

func newTokenRepository(kv repository.KVStore) repository.TokenRepository {
	return repository.NewKVTokenRepo(kv)
}

func newSessionRepository(kv repository.KVStore) repository.SessionRepository {
	return repository.NewKVSessionRepo(kv)
}

func newOAuthStateStore(kv repository.KVStore, cfg config.Config, logger *zap.Logger) repository.OAuthStateStore {
	return cacheadapter.NewKVStateStore(kv, logger, cacheadapter.WithMaxAge(cfg.OAuthStateMaxAge))
}

func newTenantClient() tenant.Client {
	return tenant.NewHTTPClient(nil)
}

func newPortalClient(cfg config.Config) tokens.PortalClient {
	return portal.NewClient(cfg.PortalBaseURL, nil)
}

func newEngine(cfg config.Config, client tenant.Client, tracer trace.Tracer, m *metrics.Metrics, logger *zap.Logger) *authservice.Engine {
	return authservice.NewEngine(authservice.EngineConfig{
		ClientID:    cfg.OAuthClientID,
		AuthBaseURL: cfg.OAuthAuthBaseURL,
		RedirectURI: cfg.OAuthRedirectURI,
	}, client, logger, authservice.WithTracer(tracer), authservice.WithMetrics(m))
}

func newOAuthService(engine *authservice.Engine, states repository.OAuthStateStore, cfg config.Config, logger *zap.Logger) authservice.OAuthService {
	return authservice.NewOAuthService(engine, states, authservice.ServiceConfig{
		StateTTL:         cfg.OAuthStateTTL,
		StateMaxAge:      cfg.OAuthStateMaxAge,
		DefaultTenantURL: cfg.OAuthDefaultTenantURL,
	}, logger)
}

func newValidator(cfg config.Config, client tenant.Client, tracer trace.Tracer, m *metrics.Metrics, logger *zap.Logger) tokens.Validator {
	return validator.New(client, validator.Options{
		Timeout: cfg.ValidatorTimeout,
		Debug:   cfg.ValidatorDebug,
		Tracer:  tracer,
		Metrics: m,
	}, logger)
}

func newTokenService(repo repository.TokenRepository, v tokens.Validator, p tokens.PortalClient, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *tokens.Service {
	return tokens.NewService(repo, v, p, node, tokens.Config{Concurrency: cfg.ValidatorConcurrency}, logger)
}

func newCredentialStore(cfg config.Config, logger *zap.Logger) (*credential.Store, error) {
	store, err := credential.Parse(cfg.UserCredentials)
	if err != nil {
		return nil, fmt.Errorf("USER_CREDENTIALS: %w", err)
	}
	logger.Info("dashboard credentials loaded", zap.Int("users", store.Len()))
	return store, nil
}

func newSessionService(creds *credential.Store, repo repository.SessionRepository, cfg config.Config, logger *zap.Logger) *session.Service {
	return session.NewService(creds, repo, cfg.SessionTTL, logger)
}

func newAuthMiddleware(sessions *session.Service) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Sessions: sessions}
}

func newLimiters(cfg config.Config) httptransport.Limiters {
	return httptransport.Limiters{
		Login: apimiddleware.NewRateLimiter(cfg.RateLimitLoginRPM),
		API:   apimiddleware.NewRateLimiter(cfg.RateLimitAPIRPM),
	}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(provider *telemetry.Provider, logger *zap.Logger) {
	logger.Info("telemetry ready", zap.Bool("tracing", provider.Enabled()))
}
