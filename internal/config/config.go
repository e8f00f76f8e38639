// Package config handles configuration management with validation
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App           AppConfig           `yaml:"app" toml:"app"`
	Wallet        WalletConfig        `yaml:"wallet" toml:"wallet"`
	Mint          MintConfig          `yaml:"mint" toml:"mint"`
	Refill        RefillConfig        `yaml:"refill" toml:"refill"`
	Topup         TopupConfig         `yaml:"topup" toml:"topup"`
	Persistence   PersistenceConfig   `yaml:"persistence" toml:"persistence"`
	Credentials   CredentialsConfig   `yaml:"credentials" toml:"credentials"`
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	System        SystemConfig        `yaml:"system" toml:"system"`
	Telemetry     TelemetryConfig     `yaml:"telemetry" toml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name         string `yaml:"name" toml:"name"`
	DatabasePath string `yaml:"database_path" toml:"database_path"`
}

// WalletConfig points at the local wallet and the remote wallet bridge
type WalletConfig struct {
	ActiveMint       string `yaml:"active_mint" toml:"active_mint"`
	BridgeURL        string `yaml:"bridge_url" toml:"bridge_url"` // websocket JSON-RPC bridge to the remote wallet
	BridgeToken      Secret `yaml:"bridge_token" toml:"bridge_token"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms" toml:"request_timeout_ms"`
}

// MintConfig contains mint HTTP and issuance settings
type MintConfig struct {
	IssuerURL      string `yaml:"issuer_url" toml:"issuer_url"` // blind-signature service
	IssuerToken    Secret `yaml:"issuer_token" toml:"issuer_token"`
	TimeoutSeconds int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
	PollAttempts   int    `yaml:"poll_attempts" toml:"poll_attempts"`
	PollIntervalMs int    `yaml:"poll_interval_ms" toml:"poll_interval_ms"`
}

// RefillConfig contains orchestrator timing
type RefillConfig struct {
	CheckIntervalMs int `yaml:"check_interval_ms" toml:"check_interval_ms"`
	CooldownSeconds int `yaml:"cooldown_seconds" toml:"cooldown_seconds"`
	TickSeconds     int `yaml:"tick_seconds" toml:"tick_seconds"`
	Workers         int `yaml:"workers" toml:"workers"`
}

// TopupConfig contains credential top-up settings
type TopupConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// PersistenceConfig selects the conversation snapshot backend
type PersistenceConfig struct {
	Backend    string `yaml:"backend" toml:"backend"` // sqlite or file
	FilePath   string `yaml:"file_path" toml:"file_path"`
	DebounceMs int    `yaml:"debounce_ms" toml:"debounce_ms"`
}

// CredentialConfig is one metered API key known at startup
type CredentialConfig struct {
	ID      string `yaml:"id" toml:"id"`
	Key     Secret `yaml:"key" toml:"key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// CredentialsConfig contains the credential list and its sync schedule
type CredentialsConfig struct {
	SyncSchedule   string             `yaml:"sync_schedule" toml:"sync_schedule"`
	TimeoutSeconds int                `yaml:"timeout_seconds" toml:"timeout_seconds"`
	Keys           []CredentialConfig `yaml:"keys" toml:"keys"`
}

// ServerConfig contains the admin HTTP and gRPC health listeners
type ServerConfig struct {
	Addr                 string   `yaml:"addr" toml:"addr"`
	GRPCAddr             string   `yaml:"grpc_addr" toml:"grpc_addr"`
	AllowedOrigins       []string `yaml:"allowed_origins" toml:"allowed_origins"`
	Production           bool     `yaml:"production" toml:"production"`
	MaxStreamConnections int      `yaml:"max_stream_connections" toml:"max_stream_connections"`
	AdminKeys            []Secret `yaml:"admin_keys" toml:"admin_keys"` // guard mutating admin routes; empty leaves them open
}

// NotificationsConfig contains alert delivery channels
type NotificationsConfig struct {
	WebhookURL       Secret `yaml:"webhook_url" toml:"webhook_url"`
	TelegramAPIURL   string `yaml:"telegram_api_url" toml:"telegram_api_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token" toml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id" toml:"telegram_chat_id"`
	Workers          int    `yaml:"workers" toml:"workers"`
	QueueSize        int    `yaml:"queue_size" toml:"queue_size"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"` // console or json
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name" toml:"service_name"`
	EnableTracing bool   `yaml:"enable_tracing" toml:"enable_tracing"`
	EnableMetrics bool   `yaml:"enable_metrics" toml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration with environment variable expansion. Files
// ending in .toml are parsed as TOML, anything else as YAML. Unset fields keep
// their DefaultConfig values.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.Decode(expanded, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	for _, validate := range []func() error{
		c.validateAppConfig,
		c.validateWalletConfig,
		c.validateMintConfig,
		c.validateRefillConfig,
		c.validatePersistenceConfig,
		c.validateCredentialsConfig,
		c.validateServerConfig,
		c.validateSystemConfig,
	} {
		if err := validate(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

func (c *Config) validateAppConfig() error {
	if c.App.DatabasePath == "" {
		return ValidationError{Field: "app.database_path", Message: "database path is required"}
	}
	return nil
}

func (c *Config) validateWalletConfig() error {
	if c.Wallet.ActiveMint != "" && !isHTTPURL(c.Wallet.ActiveMint) {
		return ValidationError{Field: "wallet.active_mint", Value: c.Wallet.ActiveMint, Message: "must be an http(s) URL"}
	}
	if c.Wallet.BridgeURL != "" {
		u, err := url.Parse(c.Wallet.BridgeURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return ValidationError{Field: "wallet.bridge_url", Value: c.Wallet.BridgeURL, Message: "must be a ws(s) URL"}
		}
	}
	if c.Wallet.RequestTimeoutMs <= 0 {
		return ValidationError{Field: "wallet.request_timeout_ms", Value: c.Wallet.RequestTimeoutMs, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateMintConfig() error {
	if c.Mint.IssuerURL != "" && !isHTTPURL(c.Mint.IssuerURL) {
		return ValidationError{Field: "mint.issuer_url", Value: c.Mint.IssuerURL, Message: "must be an http(s) URL"}
	}
	if c.Mint.PollAttempts < 1 || c.Mint.PollAttempts > 120 {
		return ValidationError{Field: "mint.poll_attempts", Value: c.Mint.PollAttempts, Message: "must be between 1 and 120"}
	}
	if c.Mint.PollIntervalMs < 10 {
		return ValidationError{Field: "mint.poll_interval_ms", Value: c.Mint.PollIntervalMs, Message: "must be at least 10"}
	}
	if c.Mint.TimeoutSeconds <= 0 {
		return ValidationError{Field: "mint.timeout_seconds", Value: c.Mint.TimeoutSeconds, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateRefillConfig() error {
	if c.Refill.CheckIntervalMs < 100 {
		return ValidationError{Field: "refill.check_interval_ms", Value: c.Refill.CheckIntervalMs, Message: "must be at least 100"}
	}
	if c.Refill.CooldownSeconds < 0 {
		return ValidationError{Field: "refill.cooldown_seconds", Value: c.Refill.CooldownSeconds, Message: "must not be negative"}
	}
	if c.Refill.TickSeconds <= 0 {
		return ValidationError{Field: "refill.tick_seconds", Value: c.Refill.TickSeconds, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validatePersistenceConfig() error {
	switch c.Persistence.Backend {
	case "sqlite":
	case "file":
		if c.Persistence.FilePath == "" {
			return ValidationError{Field: "persistence.file_path", Message: "file path is required for the file backend"}
		}
	default:
		return ValidationError{Field: "persistence.backend", Value: c.Persistence.Backend, Message: "must be one of: sqlite, file"}
	}
	if c.Persistence.DebounceMs <= 0 {
		return ValidationError{Field: "persistence.debounce_ms", Value: c.Persistence.DebounceMs, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateCredentialsConfig() error {
	seen := make(map[string]bool, len(c.Credentials.Keys))
	for i, k := range c.Credentials.Keys {
		field := fmt.Sprintf("credentials.keys[%d]", i)
		if k.ID == "" {
			return ValidationError{Field: field + ".id", Message: "id is required"}
		}
		if seen[k.ID] {
			return ValidationError{Field: field + ".id", Value: k.ID, Message: "duplicate credential id"}
		}
		seen[k.ID] = true
		if k.Key == "" {
			return ValidationError{Field: field + ".key", Message: "key is required"}
		}
		if !isHTTPURL(k.BaseURL) {
			return ValidationError{Field: field + ".base_url", Value: k.BaseURL, Message: "must be an http(s) URL"}
		}
	}
	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Addr == "" {
		return ValidationError{Field: "server.addr", Message: "listen address is required"}
	}
	if c.Server.Production && contains(c.Server.AllowedOrigins, "*") {
		return ValidationError{Field: "server.allowed_origins", Value: "*", Message: "wildcard origin is not allowed in production"}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.System.LogFormat != "" && c.System.LogFormat != "console" && c.System.LogFormat != "json" {
		return ValidationError{Field: "system.log_format", Value: c.System.LogFormat, Message: "must be console or json"}
	}
	return nil
}

// Duration helpers

func (c WalletConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c MintConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

func (c MintConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c RefillConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalMs) * time.Millisecond
}

func (c RefillConfig) Cooldown() time.Duration { return time.Duration(c.CooldownSeconds) * time.Second }

func (c RefillConfig) Tick() time.Duration { return time.Duration(c.TickSeconds) * time.Second }

func (c TopupConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSeconds) * time.Second }

func (c PersistenceConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

func (c CredentialsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	configCopy := *c
	configCopy.Notifications.TelegramChatID = maskString(c.Notifications.TelegramChatID)
	data, _ := yaml.Marshal(&configCopy)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:         "walletd",
			DatabasePath: "walletd.db",
		},
		Wallet: WalletConfig{
			RequestTimeoutMs: 30000,
		},
		Mint: MintConfig{
			TimeoutSeconds: 15,
			PollAttempts:   15,
			PollIntervalMs: 2000,
		},
		Refill: RefillConfig{
			CheckIntervalMs: 5000,
			CooldownSeconds: 300,
			TickSeconds:     30,
			Workers:         2,
		},
		Topup: TopupConfig{
			TimeoutSeconds: 15,
		},
		Persistence: PersistenceConfig{
			Backend:    "sqlite",
			DebounceMs: 500,
		},
		Credentials: CredentialsConfig{
			SyncSchedule:   "@every 30s",
			TimeoutSeconds: 10,
		},
		Server: ServerConfig{
			Addr:                 "127.0.0.1:8484",
			AllowedOrigins:       []string{"http://localhost:5173"},
			MaxStreamConnections: 32,
		},
		Notifications: NotificationsConfig{
			Workers:   2,
			QueueSize: 64,
		},
		System: SystemConfig{
			LogLevel:  "INFO",
			LogFormat: "console",
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "walletd",
			EnableMetrics: true,
		},
	}
}
