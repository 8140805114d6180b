package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "MEMORYSHELF"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "memoryshelf.db"
	defaultLogLevel     = "info"
	defaultTokenTTL     = 30
	defaultGoogleJWKS   = "https://www.googleapis.com/oauth2/v3/certs"
	defaultMongoDB      = "memoryshelf"

	// StorageDriverSQLite selects the embedded relational backend.
	StorageDriverSQLite = "sqlite"
	// StorageDriverMongo selects the remote document backend.
	StorageDriverMongo = "mongo"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	LogLevel        string
	SigningSecret   string
	TokenTTLMinutes int
	GoogleClientID  string
	GoogleJWKSURL   string
	StorageDriver   string
	DatabasePath    string
	MongoURI        string
	MongoDatabase   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKS)
	configViper.SetDefault("storage.driver", StorageDriverSQLite)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("mongo.database", defaultMongoDB)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		LogLevel:        configViper.GetString("log.level"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTLMinutes: configViper.GetInt("token.ttl_minutes"),
		GoogleClientID:  configViper.GetString("google.client_id"),
		GoogleJWKSURL:   configViper.GetString("google.jwks_url"),
		StorageDriver:   configViper.GetString("storage.driver"),
		DatabasePath:    configViper.GetString("database.path"),
		MongoURI:        configViper.GetString("mongo.uri"),
		MongoDatabase:   configViper.GetString("mongo.database"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if c.TokenTTLMinutes <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	switch c.StorageDriver {
	case StorageDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case StorageDriverMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("mongo.uri is required for the mongo driver")
		}
		if strings.TrimSpace(c.MongoDatabase) == "" {
			return fmt.Errorf("mongo.database is required for the mongo driver")
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q", StorageDriverSQLite, StorageDriverMongo)
	}
	return nil
}
