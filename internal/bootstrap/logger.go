package bootstrap

import (
	"walletd/internal/config"
	"walletd/pkg/logging"
)

// InitLogger builds the root logger. Telemetry must already be set up so the
// OTel bridge binds to the real provider.
func InitLogger(cfg *config.Config) (*logging.ZapLogger, error) {
	name := cfg.App.Name
	if name == "" {
		name = "walletd"
	}
	return logging.New(logging.Options{
		Level:   cfg.System.LogLevel,
		JSON:    cfg.System.LogFormat == "json",
		Service: name,
	})
}
