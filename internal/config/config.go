package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	EventBus EventBusConfig `yaml:"event_bus"`
	Auth     AuthConfig     `yaml:"auth"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	// DebugLevel: 0 info, 1 debug wire, 2 debug core.
	DebugLevel int `yaml:"debug_level"`
}

type ServerConfig struct {
	Port               int           `yaml:"port"`
	ReadTimeout        time.Duration `yaml:"read_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	CORSAllowedOrigins []string      `yaml:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type StorageConfig struct {
	FileStorageDir string `yaml:"file_storage_dir"`
}

type EventBusConfig struct {
	// Queue is the redis URI used as a cross-process back-plane.
	// Empty means in-process fan-out only.
	Queue string `yaml:"queue"`
}

type AuthConfig struct {
	IdentityHeader       string        `yaml:"identity_header"`
	AuthSubrequestURL    string        `yaml:"auth_subrequest_url"`
	AuthSubrequestMethod string        `yaml:"auth_subrequest_method"`
	JWTPublicKey         string        `yaml:"jwt_public_key"`
	JWTAlgorithm         string        `yaml:"jwt_algorithm"`
	AccessTokenLifetime  time.Duration `yaml:"access_token_lifetime"`
	RefreshTokenLifetime time.Duration `yaml:"refresh_token_lifetime"`
}

type DispatchConfig struct {
	// WatchdogInterval re-runs assignment on Ready printers to heal
	// missed wakeups. Zero disables the watchdog. Minimum 60s.
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/printqd.db",
		},
		Storage: StorageConfig{
			FileStorageDir: "./data/gcode",
		},
		Auth: AuthConfig{
			IdentityHeader:       "X-Identity",
			AuthSubrequestMethod: "POST",
			JWTAlgorithm:         "HS256",
			AccessTokenLifetime:  time.Hour,
			RefreshTokenLifetime: 24 * time.Hour,
		},
	}
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PRINTQD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PRINTQD_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PRINTQD_FILE_STORAGE_DIR"); v != "" {
		cfg.Storage.FileStorageDir = v
	}
	if v := os.Getenv("PRINTQD_EVENT_BUS_QUEUE"); v != "" {
		cfg.EventBus.Queue = v
	}
	if v := os.Getenv("PRINTQD_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.CORSAllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("PRINTQD_IDENTITY_HEADER"); v != "" {
		cfg.Auth.IdentityHeader = v
	}
	if v := os.Getenv("PRINTQD_JWT_PUBLIC_KEY"); v != "" {
		cfg.Auth.JWTPublicKey = v
	}
	if v := os.Getenv("PRINTQD_DEBUG_LEVEL"); v != "" {
		if lvl, err := strconv.Atoi(v); err == nil {
			cfg.DebugLevel = lvl
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Storage.FileStorageDir == "" {
		return fmt.Errorf("file storage dir is required")
	}

	if c.Auth.IdentityHeader == "" {
		return fmt.Errorf("identity header is required")
	}

	switch c.Auth.JWTAlgorithm {
	case "HS256", "RS256", "ES256":
	default:
		return fmt.Errorf("invalid jwt algorithm: %s (valid: HS256, RS256, ES256)", c.Auth.JWTAlgorithm)
	}

	if c.Auth.AccessTokenLifetime <= 0 {
		return fmt.Errorf("access token lifetime must be positive")
	}

	if c.Auth.RefreshTokenLifetime <= 0 {
		return fmt.Errorf("refresh token lifetime must be positive")
	}

	if c.Dispatch.WatchdogInterval != 0 && c.Dispatch.WatchdogInterval < 60*time.Second {
		return fmt.Errorf("watchdog interval must be at least 60s, got %s", c.Dispatch.WatchdogInterval)
	}

	if c.DebugLevel < 0 || c.DebugLevel > 2 {
		return fmt.Errorf("debug level must be 0, 1 or 2, got %d", c.DebugLevel)
	}

	return nil
}
