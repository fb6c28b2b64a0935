// Package twitch implements platform.Source on top of the Twitch Helix API using
// an app access token.
package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"streamrelay/internal/stream"
	logx "streamrelay/pkg/logx"
)

const (
	DefaultBaseURL  = "https://api.twitch.tv/helix"
	DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

	// Helix accepts at most 100 logins per request.
	maxPerRequest = 100
	thumbWidth    = "1280"
	thumbHeight   = "720"
)

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	TokenURL     string
	Timeout      time.Duration
	// HTTPClient is the transport used for token and API calls (tests).
	HTTPClient *http.Client
}

type Client struct {
	clientID string
	baseURL  string
	http     *http.Client
	log      logx.Logger

	mu       sync.Mutex
	profiles map[string]string // login -> profile image url
}

// New builds a client whose HTTP transport fetches and refreshes the app token.
func New(cfg Config, log logx.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpc := cc.Client(tokenCtx)
	httpc.Timeout = cfg.Timeout

	return &Client{
		clientID: cfg.ClientID,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     httpc,
		log:      log,
		profiles: map[string]string{},
	}
}

func (c *Client) Name() string { return "Twitch" }

type helixStream struct {
	ID           string    `json:"id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameName     string    `json:"game_name"`
	Type         string    `json:"type"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

type helixUser struct {
	Login           string `json:"login"`
	ProfileImageURL string `json:"profile_image_url"`
}

// LiveStreams returns one live event per account currently streaming.
func (c *Client) LiveStreams(ctx context.Context, accounts []string) ([]stream.Event, error) {
	var streams []helixStream
	for _, chunk := range chunks(accounts, maxPerRequest) {
		q := url.Values{"first": {fmt.Sprint(maxPerRequest)}}
		for _, a := range chunk {
			q.Add("user_login", a)
		}
		var body struct {
			Data []helixStream `json:"data"`
		}
		if err := c.get(ctx, "/streams", q, &body); err != nil {
			return nil, err
		}
		streams = append(streams, body.Data...)
	}

	logins := make([]string, 0, len(streams))
	for _, s := range streams {
		logins = append(logins, strings.ToLower(s.UserLogin))
	}
	if err := c.loadProfiles(ctx, logins); err != nil {
		// cosmetic only
		c.log.Debug("profile lookup failed", logx.Err(err))
	}

	now := time.Now()
	out := make([]stream.Event, 0, len(streams))
	for _, s := range streams {
		if s.Type != "" && s.Type != "live" {
			continue
		}
		login := strings.ToLower(s.UserLogin)
		out = append(out, stream.Event{
			AccountID: login,
			SubjectID: s.ID,
			IsLive:    true,
			Timestamp: now,
			Display: stream.Display{
				Platform:        c.Name(),
				UserName:        s.UserName,
				Login:           login,
				Title:           s.Title,
				Game:            s.GameName,
				ViewerCount:     s.ViewerCount,
				StartedAt:       s.StartedAt,
				URL:             "https://www.twitch.tv/" + login,
				ThumbnailURL:    sizeThumbnail(s.ThumbnailURL),
				ProfileImageURL: c.profile(login),
			},
		})
	}
	return out, nil
}

func (c *Client) profile(login string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profiles[login]
}

func (c *Client) loadProfiles(ctx context.Context, logins []string) error {
	c.mu.Lock()
	var missing []string
	for _, l := range logins {
		if _, ok := c.profiles[l]; !ok {
			missing = append(missing, l)
		}
	}
	c.mu.Unlock()

	for _, chunk := range chunks(missing, maxPerRequest) {
		q := url.Values{}
		for _, l := range chunk {
			q.Add("login", l)
		}
		var body struct {
			Data []helixUser `json:"data"`
		}
		if err := c.get(ctx, "/users", q, &body); err != nil {
			return err
		}
		c.mu.Lock()
		for _, u := range body.Data {
			c.profiles[strings.ToLower(u.Login)] = u.ProfileImageURL
		}
		c.mu.Unlock()
	}
	return nil
}

// StatusError is a non-2xx Helix response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix: HTTP %d: %s", e.Status, e.Body)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path + "?" + q.Encode()
	return retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Client-Id", c.clientID)
		resp, err := c.http.Do(req)
		if err != nil {
			var rerr *oauth2.RetrieveError
			if errors.As(err, &rerr) && rerr.Response != nil && !retryable(rerr.Response.StatusCode) {
				return retry.Unrecoverable(fmt.Errorf("twitch token: %w", err))
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode/100 != 2 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			serr := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
			if retryable(resp.StatusCode) {
				return serr
			}
			return retry.Unrecoverable(serr)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Unrecoverable(fmt.Errorf("decode %s: %w", path, err))
		}
		return nil
	},
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.MaxJitter(250*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("retrying helix request", logx.String("path", path), logx.Int("attempt", int(n)), logx.Err(err))
		}),
	)
}

func sizeThumbnail(raw string) string {
	r := strings.NewReplacer("{width}", thumbWidth, "{height}", thumbHeight)
	return r.Replace(raw)
}

func chunks(in []string, size int) [][]string {
	var out [][]string
	for len(in) > 0 {
		n := min(size, len(in))
		out = append(out, in[:n])
		in = in[n:]
	}
	return out
}
