package config

import (
	"os"
	"strings"
)

// loadSecrets pulls credentials from the environment into the config.
// Sensitive values are never read from config files: API keys, secrets,
// passphrases, database and Redis passwords, and the Telegram bot token
// all come from ARBOT_-prefixed environment variables.
func loadSecrets(cfg *Config) {
	cfg.Database.Password = os.Getenv("ARBOT_DATABASE_PASSWORD")
	cfg.Redis.Password = os.Getenv("ARBOT_REDIS_PASSWORD")
	cfg.Alerts.TelegramToken = os.Getenv("ARBOT_ALERTS_TELEGRAM_TOKEN")

	for name, ex := range cfg.Exchanges {
		prefix := "ARBOT_EXCHANGES_" + strings.ToUpper(name) + "_"
		ex.APIKey = os.Getenv(prefix + "API_KEY")
		ex.APISecret = os.Getenv(prefix + "API_SECRET")
		ex.Passphrase = os.Getenv(prefix + "PASSPHRASE")
		cfg.Exchanges[name] = ex
	}
}

// HasCredentials reports whether the exchange has a key pair configured.
func (e *ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" && e.APISecret != ""
}
