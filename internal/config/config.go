// Package config provides configuration management using Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Portal  PortalConfig  `mapstructure:"portal"`
	Fetch   FetchConfig   `mapstructure:"fetch"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Output  OutputConfig  `mapstructure:"output"`
	Session SessionConfig `mapstructure:"session"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Mosaic  MosaicConfig  `mapstructure:"mosaic"`
	Server  ServerConfig  `mapstructure:"server"`
	TLS     TLSConfig     `mapstructure:"tls"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PortalConfig holds tile portal endpoint configuration.
type PortalConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	SearchPath string        `mapstructure:"search_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Delay      time.Duration `mapstructure:"delay"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// FetchConfig holds download run configuration.
type FetchConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts"`
	MaxAreaKm2  float64 `mapstructure:"max_area_km2"`
}

// CatalogConfig holds tile catalog configuration.
type CatalogConfig struct {
	Dir   string `mapstructure:"dir"`
	Watch bool   `mapstructure:"watch"`
}

// OutputConfig holds the local download tree configuration.
type OutputConfig struct {
	Root string `mapstructure:"root"`
}

// SessionConfig points at the captured portal session file.
type SessionConfig struct {
	File string `mapstructure:"file"`
}

// ArchiveConfig holds post-run upload configuration.
type ArchiveConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Type    string      `mapstructure:"type"` // s3, azure
	S3      S3Config    `mapstructure:"s3"`
	Azure   AzureConfig `mapstructure:"azure"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// MosaicConfig holds post-run mosaic build configuration.
type MosaicConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Command string `mapstructure:"command"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["https://example.com", "*.sub.domain.tld"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool      `mapstructure:"enabled"`
	Domains  []string  `mapstructure:"domains"`
	Email    string    `mapstructure:"email"`
	CacheDir string    `mapstructure:"cache_dir"`
	Staging  bool      `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      DNSConfig `mapstructure:"dns"`
}

// DNSConfig holds Azure DNS provider configuration for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	ClientID          string `mapstructure:"client_id"` // Managed identity client ID (optional)
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Portal defaults
	viper.SetDefault("portal.base_url", "https://cdd.dgterritorio.gov.pt")
	viper.SetDefault("portal.search_path", "/dgt-be/v1/search")
	viper.SetDefault("portal.timeout", 60*time.Second)
	viper.SetDefault("portal.delay", 5*time.Second)
	viper.SetDefault("portal.user_agent", "cddfetch/1.0")

	// Fetch defaults
	viper.SetDefault("fetch.max_attempts", 3)
	viper.SetDefault("fetch.max_area_km2", 200.0)

	// Catalog defaults
	viper.SetDefault("catalog.dir", "./catalogs")
	viper.SetDefault("catalog.watch", true)

	// Output defaults
	viper.SetDefault("output.root", "./downloads")

	// Session defaults
	viper.SetDefault("session.file", "./session.yaml")

	// Archive defaults
	viper.SetDefault("archive.enabled", false)
	viper.SetDefault("archive.type", "s3")

	// Mosaic defaults
	viper.SetDefault("mosaic.enabled", false)
	viper.SetDefault("mosaic.command", "gdalbuildvrt {output} {inputs}")

	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.cors.allowed_origins", []string{})

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("CDDFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/cddfetch")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal base URL is required")
	}
	if c.Portal.Delay < 0 {
		return fmt.Errorf("portal delay must not be negative")
	}
	if c.Fetch.MaxAttempts < 1 {
		return fmt.Errorf("fetch max attempts must be at least 1")
	}
	if c.Fetch.MaxAreaKm2 <= 0 {
		return fmt.Errorf("fetch max area must be positive")
	}
	if c.Output.Root == "" {
		return fmt.Errorf("output root is required")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return fmt.Errorf("TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return fmt.Errorf("TLS enabled but no email specified")
		}
	}

	if c.Archive.Enabled {
		switch c.Archive.Type {
		case "s3":
			if c.Archive.S3.Bucket == "" {
				return fmt.Errorf("S3 bucket is required")
			}
			if c.Archive.S3.Region == "" {
				return fmt.Errorf("S3 region is required")
			}
		case "azure":
			if c.Archive.Azure.Container == "" {
				return fmt.Errorf("azure container is required")
			}
			if c.Archive.Azure.AccountName == "" && c.Archive.Azure.ConnectionString == "" {
				return fmt.Errorf("azure account name or connection string is required")
			}
		default:
			return fmt.Errorf("unknown archive type: %s", c.Archive.Type)
		}
	}

	if c.Mosaic.Enabled && c.Mosaic.Command == "" {
		return fmt.Errorf("mosaic enabled but no command specified")
	}

	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
