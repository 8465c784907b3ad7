package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "ANKI2SPOTIFY"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultLogLevel           = "info"
	defaultCookieName         = "app_session"
	defaultSessionIssuer      = "tauth"
	defaultMaxPackageBytes    = 512 << 20
	defaultMaxCollectionBytes = 2 << 30
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	TAuthSigningKey    string
	TAuthCookieName    string
	TAuthIssuer        string
	LogLevel           string
	ImportTempDir      string
	MaxPackageBytes    int64
	MaxCollectionBytes uint64
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
	configViper.SetDefault("tauth.cookie_name", defaultCookieName)
	configViper.SetDefault("tauth.issuer", defaultSessionIssuer)
	configViper.SetDefault("import.temp_dir", "")
	configViper.SetDefault("import.max_package_bytes", defaultMaxPackageBytes)
	configViper.SetDefault("import.max_collection_bytes", defaultMaxCollectionBytes)
}

// Load parses runtime configuration for the HTTP server from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := LoadImport(configViper)
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadImport reads configuration without the server-only requirements, for local parsing.
func LoadImport(configViper *viper.Viper) AppConfig {
	return AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		TAuthSigningKey:    configViper.GetString("tauth.signing_secret"),
		TAuthCookieName:    configViper.GetString("tauth.cookie_name"),
		TAuthIssuer:        configViper.GetString("tauth.issuer"),
		LogLevel:           configViper.GetString("log.level"),
		ImportTempDir:      configViper.GetString("import.temp_dir"),
		MaxPackageBytes:    configViper.GetInt64("import.max_package_bytes"),
		MaxCollectionBytes: configViper.GetUint64("import.max_collection_bytes"),
	}
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.TAuthSigningKey) == "" {
		return fmt.Errorf("tauth.signing_secret is required")
	}
	if strings.TrimSpace(c.TAuthCookieName) == "" {
		return fmt.Errorf("tauth.cookie_name is required")
	}
	if strings.TrimSpace(c.TAuthIssuer) == "" {
		return fmt.Errorf("tauth.issuer is required")
	}
	if c.MaxPackageBytes <= 0 {
		return fmt.Errorf("import.max_package_bytes must be positive")
	}
	return nil
}
