// Package config provides configuration management for the items API and
// the import tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreBackendMongo  = "mongo"
	StoreBackendMemory = "memory"
)

// Default configuration values.
const (
	DefaultServerPort             = 8080
	DefaultLogLevel               = "info"
	DefaultShutdownTimeout        = 30 * time.Second
	DefaultMetricsEnabled         = true
	DefaultStoreBackend           = StoreBackendMongo
	DefaultMongoDatabase          = "mydatabase"
	DefaultMongoCollection        = "items"
	DefaultServerSelectionTimeout = 5 * time.Second
	DefaultConnectTimeout         = 10 * time.Second
	DefaultSocketTimeout          = 20 * time.Second
	DefaultCORSAllowedOrigins     = "http://localhost:3000,http://127.0.0.1:3000"
	DefaultBulkMaxItems           = 100
	DefaultAuthMode               = "none"
	DefaultMinioRegion            = "us-east-1"
)

// Environment variable names.
const (
	EnvServerPort             = "APP_SERVER_PORT"
	EnvLogLevel               = "APP_LOG_LEVEL"
	EnvShutdownTimeout        = "APP_SHUTDOWN_TIMEOUT"
	EnvMetricsEnabled         = "APP_METRICS_ENABLED"
	EnvStoreBackend           = "APP_STORE_BACKEND"
	EnvMongoURI               = "APP_MONGO_URI"
	EnvMongoDatabase          = "APP_MONGO_DATABASE"
	EnvMongoCollection        = "APP_MONGO_COLLECTION"
	EnvServerSelectionTimeout = "APP_MONGO_SERVER_SELECTION_TIMEOUT"
	EnvConnectTimeout         = "APP_MONGO_CONNECT_TIMEOUT"
	EnvSocketTimeout          = "APP_MONGO_SOCKET_TIMEOUT"
	EnvCORSAllowedOrigins     = "APP_CORS_ALLOWED_ORIGINS"
	EnvBulkMaxItems           = "APP_BULK_MAX_ITEMS"
	EnvAuthMode               = "APP_AUTH_MODE"
	EnvBasicAuthUsers         = "APP_BASIC_AUTH_USERS"
	EnvAPIKeys                = "APP_API_KEYS" //nolint:gosec // env var name, not a credential
	EnvOIDCIssuerURL          = "APP_OIDC_ISSUER_URL"
	EnvOIDCClientID           = "APP_OIDC_CLIENT_ID"
	EnvMinioEndpoint          = "APP_MINIO_ENDPOINT"
	EnvMinioAccessKey         = "APP_MINIO_ACCESS_KEY"
	EnvMinioSecretKey         = "APP_MINIO_SECRET_KEY" //nolint:gosec // env var name, not a credential
	EnvMinioRegion            = "APP_MINIO_REGION"
	EnvMinioUseSSL            = "APP_MINIO_USE_SSL"
)

// Config holds the application configuration.
type Config struct {
	// Server settings.
	ServerPort      int
	LogLevel        string
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
	BulkMaxItems    int

	// CORS origins, comma separated. "*" allows any origin.
	CORSAllowedOrigins string

	// Store settings.
	StoreBackend           string
	MongoURI               string
	MongoDatabase          string
	MongoCollection        string
	ServerSelectionTimeout time.Duration
	ConnectTimeout         time.Duration
	SocketTimeout          time.Duration

	// Authentication mode: none, basic, apikey, oidc, multi.
	AuthMode string

	// Basic auth settings (format: "user1:bcrypt_hash,user2:bcrypt_hash").
	BasicAuthUsers string

	// API key settings (format: "key1:name1,key2:name2").
	APIKeys string

	// OIDC settings.
	OIDCIssuerURL string
	OIDCClientID  string

	// Object storage used as an import source.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioRegion    string
	MinioUseSSL    bool
}

// Validation errors.
var (
	ErrInvalidServerPort      = errors.New("server port must be between 1 and 65535")
	ErrInvalidLogLevel        = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
	ErrInvalidBulkMaxItems    = errors.New("bulk max items must be positive")
	ErrInvalidStoreBackend    = errors.New("store backend must be one of: mongo, memory")
	ErrMissingMongoURI        = errors.New("mongo URI must be set when store backend is mongo")
	ErrInvalidMongoURI        = errors.New("mongo URI must start with mongodb:// or mongodb+srv://")
	ErrInvalidMongoNames      = errors.New("mongo database and collection must not be empty")
	ErrInvalidMongoTimeout    = errors.New("mongo timeouts must be positive")
	ErrInvalidAuthMode        = errors.New(
		"auth mode must be one of: none, basic, apikey, oidc, multi",
	)
	ErrInvalidOIDCConfig = errors.New(
		"OIDC issuer URL and client ID must be set when auth mode is oidc",
	)
	ErrInvalidBasicAuthConfig = errors.New(
		"basic auth users must be set when auth mode is basic",
	)
	ErrInvalidAPIKeyConfig = errors.New(
		"API keys must be set when auth mode is apikey",
	)
	ErrInvalidMultiAuthConfig = errors.New(
		"at least one auth config must be provided when auth mode is multi",
	)
	ErrInvalidMinioEndpoint = errors.New("minio endpoint must not include a scheme")
)

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is loaded first when present; it
// never overrides variables already set in the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration populated with default values.
func Default() *Config {
	return &Config{
		ServerPort:             DefaultServerPort,
		LogLevel:               DefaultLogLevel,
		ShutdownTimeout:        DefaultShutdownTimeout,
		MetricsEnabled:         DefaultMetricsEnabled,
		BulkMaxItems:           DefaultBulkMaxItems,
		CORSAllowedOrigins:     DefaultCORSAllowedOrigins,
		StoreBackend:           DefaultStoreBackend,
		MongoDatabase:          DefaultMongoDatabase,
		MongoCollection:        DefaultMongoCollection,
		ServerSelectionTimeout: DefaultServerSelectionTimeout,
		ConnectTimeout:         DefaultConnectTimeout,
		SocketTimeout:          DefaultSocketTimeout,
		AuthMode:               DefaultAuthMode,
		MinioRegion:            DefaultMinioRegion,
	}
}

// loadFromEnv loads configuration values from environment variables.
func (c *Config) loadFromEnv() error {
	if err := c.loadServerEnv(); err != nil {
		return err
	}

	if err := c.loadStoreEnv(); err != nil {
		return err
	}

	c.loadAuthEnv()

	if err := c.loadMinioEnv(); err != nil {
		return err
	}

	return nil
}

// loadServerEnv loads server-related environment variables.
func (c *Config) loadServerEnv() error {
	if err := intEnv(EnvServerPort, &c.ServerPort); err != nil {
		return err
	}

	if val := os.Getenv(EnvLogLevel); val != "" {
		c.LogLevel = val
	}

	if err := durationEnv(EnvShutdownTimeout, &c.ShutdownTimeout); err != nil {
		return err
	}

	if err := boolEnv(EnvMetricsEnabled, &c.MetricsEnabled); err != nil {
		return err
	}

	if err := intEnv(EnvBulkMaxItems, &c.BulkMaxItems); err != nil {
		return err
	}

	if val := os.Getenv(EnvCORSAllowedOrigins); val != "" {
		c.CORSAllowedOrigins = val
	}

	return nil
}

// loadStoreEnv loads document store environment variables.
func (c *Config) loadStoreEnv() error {
	if val := os.Getenv(EnvStoreBackend); val != "" {
		c.StoreBackend = val
	}

	if val := os.Getenv(EnvMongoURI); val != "" {
		c.MongoURI = val
	}

	if val := os.Getenv(EnvMongoDatabase); val != "" {
		c.MongoDatabase = val
	}

	if val := os.Getenv(EnvMongoCollection); val != "" {
		c.MongoCollection = val
	}

	if err := durationEnv(EnvServerSelectionTimeout, &c.ServerSelectionTimeout); err != nil {
		return err
	}

	if err := durationEnv(EnvConnectTimeout, &c.ConnectTimeout); err != nil {
		return err
	}

	return durationEnv(EnvSocketTimeout, &c.SocketTimeout)
}

// loadAuthEnv loads authentication environment variables.
func (c *Config) loadAuthEnv() {
	if val := os.Getenv(EnvAuthMode); val != "" {
		c.AuthMode = val
	}

	if val := os.Getenv(EnvBasicAuthUsers); val != "" {
		c.BasicAuthUsers = val
	}

	if val := os.Getenv(EnvAPIKeys); val != "" {
		c.APIKeys = val
	}

	if val := os.Getenv(EnvOIDCIssuerURL); val != "" {
		c.OIDCIssuerURL = val
	}

	if val := os.Getenv(EnvOIDCClientID); val != "" {
		c.OIDCClientID = val
	}
}

// loadMinioEnv loads object storage environment variables.
func (c *Config) loadMinioEnv() error {
	if val := os.Getenv(EnvMinioEndpoint); val != "" {
		c.MinioEndpoint = val
	}

	if val := os.Getenv(EnvMinioAccessKey); val != "" {
		c.MinioAccessKey = val
	}

	if val := os.Getenv(EnvMinioSecretKey); val != "" {
		c.MinioSecretKey = val
	}

	if val := os.Getenv(EnvMinioRegion); val != "" {
		c.MinioRegion = val
	}

	return boolEnv(EnvMinioUseSSL, &c.MinioUseSSL)
}

// Validate checks if the configuration values are valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	if strings.Contains(c.MinioEndpoint, "://") {
		return ErrInvalidMinioEndpoint
	}

	return nil
}

// validateServer validates server-related configuration.
func (c *Config) validateServer() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return ErrInvalidServerPort
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return ErrInvalidLogLevel
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	if c.BulkMaxItems <= 0 {
		return ErrInvalidBulkMaxItems
	}

	return nil
}

// validateStore validates document store configuration.
func (c *Config) validateStore() error {
	switch c.StoreBackend {
	case StoreBackendMemory:
		return nil
	case StoreBackendMongo:
	default:
		return ErrInvalidStoreBackend
	}

	if c.MongoURI == "" {
		return ErrMissingMongoURI
	}

	if !strings.HasPrefix(c.MongoURI, "mongodb://") &&
		!strings.HasPrefix(c.MongoURI, "mongodb+srv://") {
		return ErrInvalidMongoURI
	}

	if strings.TrimSpace(c.MongoDatabase) == "" || strings.TrimSpace(c.MongoCollection) == "" {
		return ErrInvalidMongoNames
	}

	if c.ServerSelectionTimeout <= 0 || c.ConnectTimeout <= 0 || c.SocketTimeout <= 0 {
		return ErrInvalidMongoTimeout
	}

	return nil
}

// validateAuth validates authentication configuration.
func (c *Config) validateAuth() error {
	authMode := c.AuthMode
	if authMode == "" {
		authMode = DefaultAuthMode
	}

	switch authMode {
	case "none":
	case "oidc":
		if c.OIDCIssuerURL == "" || c.OIDCClientID == "" {
			return ErrInvalidOIDCConfig
		}
	case "basic":
		if c.BasicAuthUsers == "" {
			return ErrInvalidBasicAuthConfig
		}
	case "apikey":
		if c.APIKeys == "" {
			return ErrInvalidAPIKeyConfig
		}
	case "multi":
		if !c.hasAnyAuthConfig() {
			return ErrInvalidMultiAuthConfig
		}
	default:
		return ErrInvalidAuthMode
	}

	return nil
}

// hasAnyAuthConfig checks if at least one auth-related configuration is provided.
func (c *Config) hasAnyAuthConfig() bool {
	return (c.OIDCIssuerURL != "" && c.OIDCClientID != "") ||
		c.BasicAuthUsers != "" ||
		c.APIKeys != ""
}

// Address returns the server address in host:port format.
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.ServerPort)
}

// AllowedOrigins returns the configured CORS origins.
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func intEnv(key string, dst *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = n
	return nil
}

func boolEnv(key string, dst *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = b
	return nil
}

func durationEnv(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = d
	return nil
}
