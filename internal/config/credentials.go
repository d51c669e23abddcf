package config

import (
	"strings"

	"github.com/vkozlov/cryptofolio/internal/domain"
)

// EnvCredentials resolves per-session exchange credentials from the
// environment. A session named "alice" first checks ALICE_BINANCE_API_KEY
// and ALICE_BINANCE_API_SECRET, then falls back to the shared keys.
type EnvCredentials struct {
	cfg *Config
}

// NewEnvCredentials creates an environment-backed credentials provider
func NewEnvCredentials(cfg *Config) *EnvCredentials {
	return &EnvCredentials{cfg: cfg}
}

// Credentials returns the exchange credentials for a session.
func (p *EnvCredentials) Credentials(sessionID string) (domain.Credentials, error) {
	prefix := sessionPrefix(sessionID)
	creds := domain.Credentials{
		ExchangeKey:    getEnv(prefix+"BINANCE_API_KEY", p.cfg.ExchangeAPIKey),
		ExchangeSecret: getEnv(prefix+"BINANCE_API_SECRET", p.cfg.ExchangeAPISecret),
		MarketDataKey:  getEnv(prefix+"COINMARKETCAP_API_KEY", p.cfg.MarketDataAPIKey),
	}
	if !creds.Complete() {
		return domain.Credentials{}, domain.ErrCredentialsMissing
	}
	return creds, nil
}

// sessionPrefix turns a session ID into an env var prefix, keeping only
// characters valid in variable names.
func sessionPrefix(sessionID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(sessionID) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == ' ':
			b.WriteByte('_')
		case r == '_':
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + "_"
}
