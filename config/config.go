// Package config loads environment variables and the Twitch auth file and
// provides a typed Config used across the service. Environment variables get
// sensible defaults so the binary can run locally with minimal setup; the
// auth file is strictly validated because nothing works without credentials.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Auth holds the secrets read from the auth file. The file is JSON:
//
//	{
//	  "clientId": "...",         // from the Twitch dev console
//	  "clientSecret": "...",     // from the Twitch dev console
//	  "ircAuthToken": "...",     // user OAuth token for IRC chat
//	  "oneWeatherApiKey": "..."  // optional; OpenWeather key
//	}
type Auth struct {
	ClientID         string `json:"clientId"`
	ClientSecret     string `json:"clientSecret"`
	IRCAuthToken     string `json:"ircAuthToken"`
	OneWeatherAPIKey string `json:"oneWeatherApiKey"`
}

type Config struct {
	// Files
	AuthFile  string
	UsersFile string

	// Secrets loaded from AuthFile
	Auth Auth

	// Token storage: Postgres when DBDsn is set, bbolt file otherwise.
	DBDsn       string
	TokenDBPath string

	// Credential validation cycle
	ValidateInterval time.Duration

	// HTTP surface
	HTTPAddr string

	// Bot identity
	BotUsername string
}

// Load reads environment variables, applies defaults, then reads and
// validates the auth file. A missing or malformed auth file is an error; the
// caller is expected to treat that as fatal.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.AuthFile = os.Getenv("AUTH_FILE")
	if cfg.AuthFile == "" {
		cfg.AuthFile = "authfile.json"
	}
	cfg.UsersFile = os.Getenv("USERS_FILE")
	if cfg.UsersFile == "" {
		cfg.UsersFile = "users.json"
	}

	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.TokenDBPath = os.Getenv("TOKEN_DB_PATH")
	if cfg.TokenDBPath == "" {
		cfg.TokenDBPath = "data/tokens.db"
	}

	cfg.ValidateInterval = 30 * time.Minute
	if v := os.Getenv("VALIDATE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid VALIDATE_INTERVAL: %w", err)
		}
		cfg.ValidateInterval = d
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.BotUsername = os.Getenv("BOT_USERNAME")
	if cfg.BotUsername == "" {
		cfg.BotUsername = "chattender"
	}

	auth, err := LoadAuthFile(cfg.AuthFile)
	if err != nil {
		return nil, err
	}
	cfg.Auth = *auth

	return cfg, nil
}

// LoadAuthFile reads and validates the auth file at path. clientId,
// clientSecret and ircAuthToken must all be present and non-blank; partial
// configuration is rejected outright.
func LoadAuthFile(path string) (*Auth, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("auth file path is blank")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read auth file %s: %w", path, err)
	}
	var auth Auth
	if err := json.Unmarshal(raw, &auth); err != nil {
		return nil, fmt.Errorf("parse auth file %s: %w", path, err)
	}
	for _, f := range []struct{ name, value string }{
		{"clientId", auth.ClientID},
		{"clientSecret", auth.ClientSecret},
		{"ircAuthToken", auth.IRCAuthToken},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, fmt.Errorf("auth file %s has missing or blank %q", path, f.name)
		}
	}
	return &auth, nil
}
