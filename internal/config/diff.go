package config

import (
	"reflect"
	"slices"
	"strings"

	logx "streamrelay/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and log fields describing
// the new values. Secrets are reported only as "set / not set".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	fields := make([]logx.Field, 0, 16)

	o, n := oldCfg.Relay, newCfg.Relay
	if o.CheckInterval != n.CheckInterval ||
		!slices.Equal(o.NotificationChannels, n.NotificationChannels) ||
		!slices.Equal(o.Accounts, n.Accounts) ||
		!reflect.DeepEqual(o.Mentions, n.Mentions) ||
		o.Thumbnail() != n.Thumbnail() || o.Image() != n.Image() ||
		o.EmbedColor != n.EmbedColor {
		changed = append(changed, "relay")
		fields = append(fields,
			logx.Duration("relay.check_interval", n.CheckInterval.Std()),
			logx.Strings("relay.notification_channels", n.NotificationChannels),
			logx.Int("relay.accounts", len(n.Accounts)),
			logx.Int("relay.mentions", len(n.Mentions)),
		)
	}

	if oldCfg.Chat.Driver != newCfg.Chat.Driver ||
		oldCfg.Chat.Discord.Token != newCfg.Chat.Discord.Token ||
		oldCfg.Chat.Telegram.Token != newCfg.Chat.Telegram.Token ||
		!reflect.DeepEqual(oldCfg.Chat.Telegram.Chats, newCfg.Chat.Telegram.Chats) {
		changed = append(changed, "chat")
		fields = append(fields,
			logx.String("chat.driver", newCfg.Chat.Driver),
			logx.Bool("chat.token_changed", oldCfg.Chat.Discord.Token != newCfg.Chat.Discord.Token ||
				oldCfg.Chat.Telegram.Token != newCfg.Chat.Telegram.Token),
		)
	}

	if oldCfg.Twitch != newCfg.Twitch {
		changed = append(changed, "twitch")
		fields = append(fields, logx.Bool("twitch.client_id_set", strings.TrimSpace(newCfg.Twitch.ClientID) != ""))
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		fields = append(fields, logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		fields = append(fields,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
		)
	}

	if oldCfg.Systemd != newCfg.Systemd {
		changed = append(changed, "systemd")
	}

	return changed, fields
}

// RestartRequired lists changed sections that only take effect after a restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "chat", "twitch", "storage", "systemd":
			out = append(out, s)
		}
	}
	return out
}
