package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/memoryshelf/backend/internal/albums"
	"github.com/memoryshelf/backend/internal/auth"
	"github.com/memoryshelf/backend/internal/config"
	"github.com/memoryshelf/backend/internal/logging"
	"github.com/memoryshelf/backend/internal/memories"
	"github.com/memoryshelf/backend/internal/server"
	"github.com/memoryshelf/backend/internal/storage"
	"github.com/memoryshelf/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "memoryshelf-api",
		Short: "MemoryShelf photo album backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().String("storage-driver", defaults.GetString("storage.driver"), "Storage driver (sqlite or mongo)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("mongo-uri", "", "MongoDB connection URI")
	cmd.PersistentFlags().String("mongo-database", defaults.GetString("mongo.database"), "MongoDB database name")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "storage.driver", "storage-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "mongo.uri", "mongo-uri")
	bindFlag(cmd, "mongo.database", "mongo-database")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

type backingStores struct {
	albums     albums.Store
	memories   memories.Store
	identities users.Store
	close      func()
}

func openStores(ctx context.Context, appConfig config.AppConfig, feed *storage.Changefeed, logger *zap.Logger) (backingStores, error) {
	switch appConfig.StorageDriver {
	case config.StorageDriverMongo:
		db, err := storage.OpenMongo(ctx, appConfig.MongoURI, appConfig.MongoDatabase, logger)
		if err != nil {
			return backingStores{}, err
		}
		return backingStores{
			albums:     storage.NewMongoAlbumStore(db, feed),
			memories:   storage.NewMongoMemoryStore(db, feed),
			identities: storage.NewMongoIdentityStore(db),
			close: func() {
				disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = db.Client().Disconnect(disconnectCtx)
			},
		}, nil
	default:
		db, err := storage.OpenSQLite(appConfig.DatabasePath, logger)
		if err != nil {
			return backingStores{}, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return backingStores{}, err
		}
		return backingStores{
			albums:     storage.NewGormAlbumStore(db, feed),
			memories:   storage.NewGormMemoryStore(db, feed),
			identities: storage.NewGormIdentityStore(db),
			close:      func() { _ = sqlDB.Close() },
		}, nil
	}
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	feed := storage.NewChangefeed()
	stores, err := openStores(ctx, appConfig, feed, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	tokenManager := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "memoryshelf-auth",
		Audience:      "memoryshelf-api",
		TokenTTL:      time.Duration(appConfig.TokenTTLMinutes) * time.Minute,
	})

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		Audience:       appConfig.GoogleClientID,
		JWKSURL:        appConfig.GoogleJWKSURL,
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	identityService, err := users.NewService(users.ServiceConfig{
		Store: stores.identities,
	})
	if err != nil {
		return err
	}

	albumService, err := albums.NewService(albums.ServiceConfig{
		Store:      stores.albums,
		Feed:       feed,
		IDProvider: storage.UUIDProvider{},
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	memoryService, err := memories.NewService(memories.ServiceConfig{
		Store:      stores.memories,
		Feed:       feed,
		IDProvider: storage.UUIDProvider{},
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		GoogleVerifier: googleVerifier,
		TokenManager:   tokenManager,
		Identities:     identityService,
		Albums:         albumService,
		Memories:       memoryService,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage_driver", appConfig.StorageDriver))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
