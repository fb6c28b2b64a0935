package app

import (
	"fmt"
	"strings"
	"time"

	"streamrelay/internal/chat/telegram"
	"streamrelay/internal/config"
	"streamrelay/internal/observability/httpserver"
	"streamrelay/internal/platform/twitch"
	"streamrelay/internal/reconcile"
	"streamrelay/internal/render"
	"streamrelay/internal/storage"
	logx "streamrelay/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		JSON:       cfg.Logging.JSON,
		RecentSize: cfg.Logging.RecentSize,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        strings.TrimSpace(sc.Path),
		DSN:         sc.DSN,
		Bucket:      sc.Bucket,
		Object:      sc.Object,
		BusyTimeout: busy,
	}, nil
}

func mapReconcileConfig(cfg *config.Config) (reconcile.Config, error) {
	color, err := render.ParseColor(cfg.Relay.EmbedColor)
	if err != nil {
		return reconcile.Config{}, fmt.Errorf("relay.embed_color: %w", err)
	}
	timeout, err := config.ParseDurationField("notifier.call_timeout", cfg.Notifier.CallTimeout)
	if err != nil {
		return reconcile.Config{}, err
	}
	if cfg.Notifier.RatePerSec < 0 {
		return reconcile.Config{}, fmt.Errorf("notifier.rate_per_sec must be >= 0")
	}
	return reconcile.Config{
		Mentions: cfg.Relay.Mentions,
		Render: render.Options{
			ShowThumbnail: cfg.Relay.Thumbnail(),
			ShowImage:     cfg.Relay.Image(),
			Color:         color,
		},
		RatePerSec:  cfg.Notifier.RatePerSec,
		CallTimeout: timeout,
	}, nil
}

func mapHTTPConfig(cfg *config.Config) (httpserver.Config, error) {
	h := cfg.HTTP
	read, err := config.ParseDurationOrDefault("http.read_timeout", h.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("http.idle_timeout", h.IdleTimeout, 60*time.Second)
	if err != nil {
		return httpserver.Config{}, err
	}
	return httpserver.Config{
		Enabled:       h.Enabled,
		Addr:          h.Addr,
		Token:         h.Token,
		AllowInsecure: h.AllowInsecure,
		Pprof:         h.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}

func mapTwitchConfig(cfg *config.Config) (twitch.Config, error) {
	timeout, err := config.ParseDurationOrDefault("twitch.timeout", cfg.Twitch.Timeout, 15*time.Second)
	if err != nil {
		return twitch.Config{}, err
	}
	return twitch.Config{
		ClientID:     cfg.Twitch.ClientID,
		ClientSecret: cfg.Twitch.ClientSecret,
		BaseURL:      cfg.Twitch.BaseURL,
		TokenURL:     cfg.Twitch.TokenURL,
		Timeout:      timeout,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Chat.Telegram
	poll, err := config.ParseDurationOrDefault("chat.telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	out := telegram.Config{Token: tc.Token, PollTimeout: poll}
	for _, c := range tc.Chats {
		out.Chats = append(out.Chats, telegram.Chat{ID: c.ID, Channels: c.Channels, Roles: c.Roles})
	}
	return out, nil
}

// validateRuntime rejects reloads whose values would fail to map.
func validateRuntime(cfg *config.Config) error {
	if _, err := mapReconcileConfig(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
