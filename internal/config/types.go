package config

// Config is the on-disk configuration (JSON or YAML).
//
// Secrets may be left empty and supplied through the environment, see ApplyEnv.
type Config struct {
	Relay    RelayConfig    `json:"relay"`
	Chat     ChatConfig     `json:"chat"`
	Twitch   TwitchConfig   `json:"twitch"`
	Storage  StorageConfig  `json:"storage"`
	Notifier NotifierConfig `json:"notifier"`
	Logging  LoggingConfig  `json:"logging"`
	HTTP     HTTPConfig     `json:"http"`
	Systemd  SystemdConfig  `json:"systemd"`
}

// RelayConfig is the user-facing notification behaviour.
//
// check_interval accepts a Go duration string ("90s") or a number of milliseconds.
// Values below 30s (or absent) fall back to 60s, see Normalize.
type RelayConfig struct {
	CheckInterval        Duration          `json:"check_interval"`
	NotificationChannels []string          `json:"notification_channels"`
	Accounts             []string          `json:"accounts"`
	Mentions             map[string]string `json:"mentions,omitempty"`

	// Pointers distinguish "omitted" (default true) from an explicit false.
	ShowThumbnail *bool  `json:"show_thumbnail,omitempty"`
	ShowImage     *bool  `json:"show_image,omitempty"`
	EmbedColor    string `json:"embed_color,omitempty"`
}

func (r RelayConfig) Thumbnail() bool { return r.ShowThumbnail == nil || *r.ShowThumbnail }
func (r RelayConfig) Image() bool     { return r.ShowImage == nil || *r.ShowImage }

// ChatConfig selects and configures the chat platform notifications go to.
type ChatConfig struct {
	// Driver: "discord" | "telegram".
	Driver   string             `json:"driver"`
	Discord  DiscordConfig      `json:"discord"`
	Telegram TelegramChatConfig `json:"telegram"`
}

type DiscordConfig struct {
	Token string `json:"token,omitempty"` // do not log
	// Activity toggles the "watching N streams" presence.
	Activity *bool `json:"activity,omitempty"`
}

// TelegramChatConfig models Telegram groups as servers and forum topics as channels.
//
// Example (YAML):
//
//	telegram:
//	  token: "..."
//	  poll_timeout: 10s
//	  chats:
//	    - id: -1001234567890
//	      channels: { general: 0, streams: 42 }
//	      roles: { mods: [alice, bob] }
type TelegramChatConfig struct {
	Token       string         `json:"token,omitempty"` // do not log
	PollTimeout string         `json:"poll_timeout,omitempty"`
	Chats       []TelegramChat `json:"chats,omitempty"`
}

type TelegramChat struct {
	ID int64 `json:"id"`
	// Channels maps a channel name to a forum thread id (0 = main chat).
	// Empty means {"general": 0}.
	Channels map[string]int `json:"channels,omitempty"`
	// Roles maps a role name to member usernames (without "@").
	Roles map[string][]string `json:"roles,omitempty"`
}

type TwitchConfig struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"` // do not log
	// BaseURL and TokenURL are overridable for tests and proxies.
	BaseURL  string `json:"base_url,omitempty"`
	TokenURL string `json:"token_url,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

// StorageConfig controls where notification history is persisted.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./streamrelay.db" }
type StorageConfig struct {
	// Driver: "memory" | "file" | "sqlite" | "postgres" | "gcs".
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"` // postgres, do not log
	Bucket      string `json:"bucket,omitempty"`
	Object      string `json:"object,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// NotifierConfig paces outgoing chat calls.
type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	CallTimeout string `json:"call_timeout,omitempty"`
}

type LoggingConfig struct {
	Level      string `json:"level"`
	Console    bool   `json:"console"`
	JSON       bool   `json:"json,omitempty"`
	RecentSize int    `json:"recent_size,omitempty"`
	File       LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// HTTPConfig controls the optional health/metrics server.
//
// Prefer binding to localhost. A non-loopback addr requires a token or allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // bearer token for /debug, do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}
