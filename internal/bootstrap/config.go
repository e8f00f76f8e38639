package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"walletd/internal/config"
)

// LoadConfig loads the file and runs environment checks that schema
// validation cannot express
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := checkPreFlight(path, cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}

	return cfg, nil
}

func checkPreFlight(path string, cfg *config.Config) error {
	if err := checkDir("app.database_path", cfg.App.DatabasePath); err != nil {
		return err
	}
	if cfg.Persistence.Backend == "file" {
		if err := checkDir("persistence.file_path", cfg.Persistence.FilePath); err != nil {
			return err
		}
	}

	// A config file carrying secrets must not be readable by group or others.
	if hasSecrets(cfg) {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			return fmt.Errorf("insecure permissions on %s: %04o (should be 0600)", path, mode)
		}
	}

	return nil
}

// checkDir requires the parent directory of file to exist
func checkDir(field, file string) error {
	dir := filepath.Dir(file)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: directory %s does not exist", field, dir)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %s is not a directory", field, dir)
	}
	return nil
}

func hasSecrets(cfg *config.Config) bool {
	if cfg.Wallet.BridgeToken.IsSet() ||
		cfg.Mint.IssuerToken.IsSet() ||
		cfg.Notifications.WebhookURL.IsSet() ||
		cfg.Notifications.TelegramBotToken.IsSet() {
		return true
	}
	for _, k := range cfg.Credentials.Keys {
		if k.Key.IsSet() {
			return true
		}
	}
	return len(cfg.Server.AdminKeys) > 0
}
