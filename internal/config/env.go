package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override secrets in the config file.
const (
	EnvDiscordToken  = "STREAMRELAY_DISCORD_TOKEN"
	EnvTelegramToken = "STREAMRELAY_TELEGRAM_TOKEN"
	EnvPostgresDSN   = "STREAMRELAY_POSTGRES_DSN"
	EnvHTTPToken     = "STREAMRELAY_HTTP_TOKEN"
	EnvTwitchID      = "TWITCH_CLIENT_ID"
	EnvTwitchSecret  = "TWITCH_CLIENT_SECRET"
)

// LoadDotEnv loads a .env file into the process environment if present.
// Existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	existing := paths[:0]
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// ApplyEnv fills secrets from the environment. Non-empty env values win over the file.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&cfg.Chat.Discord.Token, EnvDiscordToken)
	set(&cfg.Chat.Telegram.Token, EnvTelegramToken)
	set(&cfg.Storage.DSN, EnvPostgresDSN)
	set(&cfg.HTTP.Token, EnvHTTPToken)
	set(&cfg.Twitch.ClientID, EnvTwitchID)
	set(&cfg.Twitch.ClientSecret, EnvTwitchSecret)
}
