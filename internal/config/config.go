// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DBTypePostgres = "postgres"
	DBTypeMemory   = "memory"

	AuthModeJWT      = "jwt"
	AuthModeProvider = "provider"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port            int
	Host            string
	MetricsEnabled  bool
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration settings
type DatabaseConfig struct {
	Type       string // "postgres" or "memory"
	URI        string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SSLMode    string
	InitSchema bool
}

// AuthConfig selects how bearer tokens are verified.
type AuthConfig struct {
	Mode           string // "jwt" or "provider"
	JWTSecret      string
	JWTSecretParam string // SSM parameter name, resolved at startup
	ProviderURL    string
	ProviderAPIKey string
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Auth           *AuthConfig
	AllowedOrigins []string
	Debug          bool
	LogNoColor     bool
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		Host:            "0.0.0.0",
		MetricsEnabled:  true,
		RequestTimeout:  5 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// DefaultDatabaseConfig provides default database settings
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type:       DBTypePostgres,
		Port:       5432,
		SSLMode:    "require",
		InitSchema: true,
	}
}

// loadDotEnv tries the usual .env locations. A missing file is fine.
func loadDotEnv() {
	envLocations := []string{
		".env",
		"../../.env", // project root when running from cmd/server
	}
	for _, location := range envLocations {
		if _, err := os.Stat(location); err != nil {
			continue
		}
		if err := godotenv.Load(location); err == nil {
			return
		}
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	server := DefaultConfig()
	v.SetDefault("HOST", server.Host)
	v.SetDefault("PORT", server.Port)
	v.SetDefault("METRICS_ENABLED", server.MetricsEnabled)
	v.SetDefault("REQUEST_TIMEOUT", server.RequestTimeout)
	v.SetDefault("SHUTDOWN_TIMEOUT", server.ShutdownTimeout)

	db := DefaultDatabaseConfig()
	v.SetDefault("DB_TYPE", db.Type)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", db.Port)
	v.SetDefault("DB_NAME", "postgres")
	v.SetDefault("DB_SSL_MODE", db.SSLMode)
	v.SetDefault("DB_INIT_SCHEMA", db.InitSchema)

	v.SetDefault("AUTH_MODE", AuthModeJWT)
	v.SetDefault("ALLOWED_ORIGINS", "*")
	v.SetDefault("DEBUG", false)
	v.SetDefault("LOG_NO_COLOR", false)
	return v
}

// LoadConfig loads configuration from .env and environment variables and applies defaults
func LoadConfig() (*Config, error) {
	loadDotEnv()
	return fromViper(newViper())
}

func fromViper(v *viper.Viper) (*Config, error) {
	serverConfig := &ServerConfig{
		Host:            v.GetString("HOST"),
		Port:            v.GetInt("PORT"),
		MetricsEnabled:  v.GetBool("METRICS_ENABLED"),
		RequestTimeout:  v.GetDuration("REQUEST_TIMEOUT"),
		ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
	}
	if serverConfig.Port <= 0 || serverConfig.Port > 65535 {
		return nil, fmt.Errorf("PORT must be between 1 and 65535, got %d", serverConfig.Port)
	}
	if serverConfig.RequestTimeout <= 0 {
		return nil, fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	dbConfig, err := databaseFromViper(v)
	if err != nil {
		return nil, err
	}

	authConfig, err := authFromViper(v)
	if err != nil {
		return nil, err
	}

	config := &Config{
		Server:         serverConfig,
		Database:       dbConfig,
		Auth:           authConfig,
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		Debug:          v.GetBool("DEBUG"),
		LogNoColor:     v.GetBool("LOG_NO_COLOR"),
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	return config, nil
}

func databaseFromViper(v *viper.Viper) (*DatabaseConfig, error) {
	dbConfig := DefaultDatabaseConfig()
	dbConfig.Type = strings.ToLower(v.GetString("DB_TYPE"))
	dbConfig.InitSchema = v.GetBool("DB_INIT_SCHEMA")

	switch dbConfig.Type {
	case DBTypeMemory:
		return dbConfig, nil
	case DBTypePostgres:
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q (want %q or %q)", dbConfig.Type, DBTypePostgres, DBTypeMemory)
	}

	// Prioritize DATABASE_URL if provided
	if uri := v.GetString("DATABASE_URL"); uri != "" {
		dbConfig.URI = uri
		dbConfig.SSLMode = getSSLModeFromURI(uri)
		return dbConfig, nil
	}

	dbConfig.Host = v.GetString("DB_HOST")
	dbConfig.Port = v.GetInt("DB_PORT")
	dbConfig.User = v.GetString("DB_USER")
	if dbConfig.User == "" {
		return nil, fmt.Errorf("DB_USER environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
	}
	dbConfig.Password = v.GetString("DB_PASSWORD")
	if dbConfig.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD environment variable is required when DB_TYPE is postgres and DATABASE_URL is not set")
	}
	dbConfig.Name = v.GetString("DB_NAME")
	dbConfig.SSLMode = v.GetString("DB_SSL_MODE")

	dsn := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(dbConfig.User, dbConfig.Password),
		Host:     fmt.Sprintf("%s:%d", dbConfig.Host, dbConfig.Port),
		Path:     "/" + dbConfig.Name,
		RawQuery: "sslmode=" + url.QueryEscape(dbConfig.SSLMode),
	}
	dbConfig.URI = dsn.String()
	return dbConfig, nil
}

func authFromViper(v *viper.Viper) (*AuthConfig, error) {
	auth := &AuthConfig{
		Mode:           strings.ToLower(v.GetString("AUTH_MODE")),
		JWTSecret:      v.GetString("AUTH_JWT_SECRET"),
		JWTSecretParam: v.GetString("AUTH_JWT_SECRET_PARAM"),
		ProviderURL:    strings.TrimRight(v.GetString("AUTH_PROVIDER_URL"), "/"),
		ProviderAPIKey: v.GetString("AUTH_PROVIDER_API_KEY"),
	}

	switch auth.Mode {
	case AuthModeJWT:
		if auth.JWTSecret == "" && auth.JWTSecretParam == "" {
			return nil, fmt.Errorf("AUTH_JWT_SECRET or AUTH_JWT_SECRET_PARAM is required when AUTH_MODE is jwt")
		}
	case AuthModeProvider:
		if auth.ProviderURL == "" {
			return nil, fmt.Errorf("AUTH_PROVIDER_URL is required when AUTH_MODE is provider")
		}
	default:
		return nil, fmt.Errorf("unsupported AUTH_MODE %q", auth.Mode)
	}
	return auth, nil
}

// Helper function to extract sslmode from a DSN, defaults to "require"
func getSSLModeFromURI(uri string) string {
	parsed, err := url.Parse(uri)
	if err == nil {
		if mode := parsed.Query().Get("sslmode"); mode != "" {
			return mode
		}
	}
	return "require"
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Addr returns the listen address.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
