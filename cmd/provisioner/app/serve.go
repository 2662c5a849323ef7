package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/spf13/cobra"

	"github.com/indexhub/provisioner/pkg/api"
	"github.com/indexhub/provisioner/pkg/certs"
	"github.com/indexhub/provisioner/pkg/config"
	"github.com/indexhub/provisioner/pkg/connectors"
	"github.com/indexhub/provisioner/pkg/credentials"
	"github.com/indexhub/provisioner/pkg/datasource"
	"github.com/indexhub/provisioner/pkg/flowstate"
	"github.com/indexhub/provisioner/pkg/logger"
	"github.com/indexhub/provisioner/pkg/networking"
	"github.com/indexhub/provisioner/pkg/oauth"
	"github.com/indexhub/provisioner/pkg/secrets"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second

	secretDescription = "Amazon Q Business connector credentials"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the provisioner HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger.SetDebug(cfg.Debug)

	deps, cleanup, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(*deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildDeps(ctx context.Context, cfg *config.Config) (*api.Deps, func(), error) {
	cleanup := func() {}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	httpClient, err := networking.NewHttpClientBuilder().Build()
	if err != nil {
		return nil, cleanup, err
	}

	var states flowstate.Store
	if cfg.Redis.Addr != "" {
		redisStore, err := flowstate.NewRedisStore(ctx, flowstate.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, cleanup, err
		}
		states = redisStore
		cleanup = func() {
			if err := redisStore.Close(); err != nil {
				logger.Warnf("failed to close redis connection: %v", err)
			}
		}
	} else {
		logger.Warn("no redis address configured, using in-memory flow state; " +
			"interactive flows will not survive a restart")
		states = flowstate.NewMemoryStore()
	}

	creds := credentials.NewManager(secrets.NewSecretsManagerStore(
		secretsmanager.NewFromConfig(awsCfg), secretDescription))
	authCode := oauth.NewAuthCodeEngine(states, creds, httpClient,
		oauth.WithStateTTL(cfg.OAuth.StateTTL))
	direct := oauth.NewDirectExchangeEngine(httpClient)
	dataSources := datasource.NewService(
		datasource.NewQBusinessPlatform(qbusiness.NewFromConfig(awsCfg)), creds,
		datasource.WithDefaultRoleARN(cfg.DataSource.RoleARN))
	certStorage := certs.NewStorage(certs.NewS3BlobStore(
		s3.NewFromConfig(awsCfg), cfg.Certificate.Bucket))
	registrar := certs.NewRegistrar(httpClient)

	return &api.Deps{
		Zendesk:     connectors.NewZendesk(authCode, creds, dataSources, httpClient, cfg.OAuth.RedirectBaseURL),
		ServiceNow:  connectors.NewServiceNow(creds, dataSources, httpClient),
		Salesforce:  connectors.NewSalesforce(creds, direct, dataSources, httpClient),
		SharePoint:  connectors.NewSharePoint(creds, certStorage, registrar, dataSources, httpClient, cfg.Certificate.Bucket),
		Credentials: creds,
	}, cleanup, nil
}
