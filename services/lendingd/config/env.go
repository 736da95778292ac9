package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment overrides. Secrets are usually supplied this way rather than
// in the YAML file.
const (
	EnvListen        = "LENDINGD_LISTEN"
	EnvEnvironment   = "LENDINGD_ENV"
	EnvHMACSecret    = "LENDINGD_HMAC_SECRET"
	EnvJournalDSN    = "LENDINGD_JOURNAL_DSN"
	EnvTLSCertFile   = "LENDINGD_TLS_CERT_FILE"
	EnvTLSKeyFile    = "LENDINGD_TLS_KEY_FILE"
	EnvAllowInsecure = "LENDINGD_ALLOW_INSECURE"
)

func (cfg *Config) applyEnv() {
	cfg.ListenAddress = stringFromEnv(EnvListen, cfg.ListenAddress)
	cfg.Environment = stringFromEnv(EnvEnvironment, cfg.Environment)
	cfg.Auth.HMACSecret = stringFromEnv(EnvHMACSecret, cfg.Auth.HMACSecret)
	cfg.Journal.DSN = stringFromEnv(EnvJournalDSN, cfg.Journal.DSN)
	cfg.TLS.CertPath = stringFromEnv(EnvTLSCertFile, cfg.TLS.CertPath)
	cfg.TLS.KeyPath = stringFromEnv(EnvTLSKeyFile, cfg.TLS.KeyPath)
	cfg.TLS.AllowInsecure = boolFromEnv(EnvAllowInsecure, cfg.TLS.AllowInsecure)
}

// Sanitized returns a copy of the Config with secrets masked for logging.
func (cfg Config) Sanitized() Config {
	clone := cfg
	clone.Auth.HMACSecret = maskSecret(clone.Auth.HMACSecret)
	clone.Journal.DSN = maskSecret(clone.Journal.DSN)
	if len(clone.Telemetry.Headers) > 0 {
		headers := make(map[string]string, len(clone.Telemetry.Headers))
		for k, v := range clone.Telemetry.Headers {
			headers[k] = maskSecret(v)
		}
		clone.Telemetry.Headers = headers
	}
	return clone
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	return "***"
}

func stringFromEnv(key, fallback string) string {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func boolFromEnv(key string, fallback bool) bool {
	trimmed := strings.TrimSpace(os.Getenv(key))
	if trimmed == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(trimmed)
	if err != nil {
		return fallback
	}
	return parsed
}
