package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const keyringService = "finpipe"

// Keyring item keys.
const (
	KeyMailAPIKey    = "mail_api_key"
	KeyTelegramToken = "telegram_token"
	KeyDatabaseDSN   = "database_dsn"
)

// Secrets are read from the environment only. Business code receives them
// through constructors and never reads the environment itself.
type Secrets struct {
	MailFrom      string `env:"FINPIPE_MAIL_FROM"`
	AdminEmail    string `env:"FINPIPE_ADMIN_EMAIL"`
	MailAPIKey    string `env:"FINPIPE_MAIL_API_KEY"`
	TelegramToken string `env:"FINPIPE_TELEGRAM_TOKEN"`
	DevMode       bool   `env:"FINPIPE_DEV_MODE"`
	DatabaseDSN   string `env:"FINPIPE_DATABASE_DSN"`
	UseKeyring    bool   `env:"FINPIPE_KEYRING"`
}

// HasMailCredential reports whether a real mail provider can be used.
func (s Secrets) HasMailCredential() bool {
	return strings.TrimSpace(s.MailAPIKey) != "" && strings.TrimSpace(s.MailFrom) != ""
}

// Lookup fetches one secret by key. A missing key returns "" and no error.
type Lookup func(key string) (string, error)

// LoadSecrets reads an optional .env file, then the process environment.
// Values already set in the environment win over the file. When UseKeyring
// is set, empty credentials are filled from lookup (the OS keyring when nil).
func LoadSecrets(dotenv string, lookup Lookup) (Secrets, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Secrets{}, fmt.Errorf("loading %s: %w", dotenv, err)
		}
	}
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return Secrets{}, fmt.Errorf("parse env: %w", err)
	}
	if !s.UseKeyring {
		return s, nil
	}
	if lookup == nil {
		lookup = KeyringLookup
	}
	fill := []struct {
		key string
		dst *string
	}{
		{KeyMailAPIKey, &s.MailAPIKey},
		{KeyTelegramToken, &s.TelegramToken},
		{KeyDatabaseDSN, &s.DatabaseDSN},
	}
	for _, f := range fill {
		if strings.TrimSpace(*f.dst) != "" {
			continue
		}
		v, err := lookup(f.key)
		if err != nil {
			return Secrets{}, err
		}
		*f.dst = v
	}
	return s, nil
}

func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/finpipe/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("finpipe-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringLookup reads key from the OS keyring.
func KeyringLookup(key string) (string, error) {
	ring, err := openKeyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// StoreSecret writes key to the OS keyring.
func StoreSecret(key, value string) error {
	switch key {
	case KeyMailAPIKey, KeyTelegramToken, KeyDatabaseDSN:
	default:
		return fmt.Errorf("unknown secret %q", key)
	}
	ring, err := openKeyring()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}
