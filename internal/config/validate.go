package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	MinCheckInterval     = 30 * time.Second
	DefaultCheckInterval = 60 * time.Second
)

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Normalize fills defaults and canonicalizes names in place.
//
//   - check_interval below the floor (or absent) becomes the default
//   - notification channel names and account logins are lowercased and deduplicated
//   - mention keys are lowercased so lookups by account id are case-insensitive
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	r := &cfg.Relay
	if r.CheckInterval.Std() < MinCheckInterval {
		r.CheckInterval = Duration(DefaultCheckInterval)
	}
	r.NotificationChannels = lowerUnique(r.NotificationChannels)
	r.Accounts = lowerUnique(r.Accounts)
	if len(r.Mentions) > 0 {
		m := make(map[string]string, len(r.Mentions))
		for k, v := range r.Mentions {
			k = strings.ToLower(strings.TrimSpace(k))
			v = strings.TrimSpace(v)
			if k == "" || v == "" {
				continue
			}
			m[k] = v
		}
		r.Mentions = m
	}
	r.EmbedColor = strings.TrimSpace(r.EmbedColor)

	cfg.Chat.Driver = strings.ToLower(strings.TrimSpace(cfg.Chat.Driver))
	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
}

// Validate checks a normalized config. It returns a *ValidationError.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Problems: []string{"config is nil"}}
	}
	var p []string
	if len(cfg.Relay.NotificationChannels) == 0 {
		p = append(p, "relay.notification_channels: at least one channel name is required")
	}
	if len(cfg.Relay.Accounts) == 0 {
		p = append(p, "relay.accounts: at least one account is required")
	}

	switch cfg.Chat.Driver {
	case "discord":
		if strings.TrimSpace(cfg.Chat.Discord.Token) == "" {
			p = append(p, "chat.discord.token: required")
		}
	case "telegram":
		if strings.TrimSpace(cfg.Chat.Telegram.Token) == "" {
			p = append(p, "chat.telegram.token: required")
		}
		if _, err := ParseDurationField("chat.telegram.poll_timeout", cfg.Chat.Telegram.PollTimeout); err != nil {
			p = append(p, err.Error())
		}
	default:
		p = append(p, fmt.Sprintf("chat.driver: unknown driver %q (want discord or telegram)", cfg.Chat.Driver))
	}

	if strings.TrimSpace(cfg.Twitch.ClientID) == "" || strings.TrimSpace(cfg.Twitch.ClientSecret) == "" {
		p = append(p, "twitch.client_id and twitch.client_secret: required")
	}
	if _, err := ParseDurationField("twitch.timeout", cfg.Twitch.Timeout); err != nil {
		p = append(p, err.Error())
	}

	switch cfg.Storage.Driver {
	case "", "memory", "none", "file", "sqlite", "sqlite3":
	case "postgres", "postgresql":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			p = append(p, "storage.dsn: required for postgres")
		}
	case "gcs":
		if strings.TrimSpace(cfg.Storage.Bucket) == "" {
			p = append(p, "storage.bucket: required for gcs")
		}
	default:
		p = append(p, fmt.Sprintf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		p = append(p, err.Error())
	}

	if cfg.Notifier.RatePerSec < 0 {
		p = append(p, "notifier.rate_per_sec: must be >= 0")
	}
	if _, err := ParseDurationField("notifier.call_timeout", cfg.Notifier.CallTimeout); err != nil {
		p = append(p, err.Error())
	}
	for _, f := range []struct{ path, raw string }{
		{"http.read_timeout", cfg.HTTP.ReadTimeout},
		{"http.idle_timeout", cfg.HTTP.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			p = append(p, err.Error())
		}
	}

	if len(p) > 0 {
		return &ValidationError{Problems: p}
	}
	return nil
}

func lowerUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
