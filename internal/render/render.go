// Package render builds notification content for stream events.
package render

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"streamrelay/internal/chat"
	"streamrelay/internal/stream"
)

// DefaultColor is Twitch purple.
const DefaultColor = 0x9146FF

var namedColors = map[string]int{
	"purple": 0x9146FF,
	"red":    0xED4245,
	"green":  0x57F287,
	"blue":   0x3498DB,
	"yellow": 0xFEE75C,
	"white":  0xFFFFFF,
	"black":  0x000000,
	"random": -1,
}

type Options struct {
	ShowThumbnail bool
	ShowImage     bool
	Color         int
}

// ParseColor accepts "#RRGGBB", "0xRRGGBB", a decimal value or a color name.
// Empty input yields DefaultColor.
func ParseColor(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultColor, nil
	}
	if c, ok := namedColors[s]; ok {
		if c < 0 {
			return DefaultColor, nil
		}
		return c, nil
	}
	var (
		v   uint64
		err error
	)
	switch {
	case strings.HasPrefix(s, "#"):
		v, err = strconv.ParseUint(s[1:], 16, 32)
	case strings.HasPrefix(s, "0x"):
		v, err = strconv.ParseUint(s[2:], 16, 32)
	default:
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil || v > 0xFFFFFF {
		return 0, fmt.Errorf("invalid embed color %q", s)
	}
	return int(v), nil
}

// Renderer is immutable; build a new one when options change.
type Renderer struct {
	opts Options
}

func New(opts Options) *Renderer { return &Renderer{opts: opts} }

func (r *Renderer) Options() Options { return r.opts }

// Headline is the message text without mention.
func Headline(ev stream.Event) string {
	platform := ev.Display.Platform
	if platform == "" {
		platform = "Twitch"
	}
	if ev.IsLive {
		return fmt.Sprintf("**%s** is live on %s!", ev.Name(), platform)
	}
	return fmt.Sprintf("**%s** was live on %s.", ev.Name(), platform)
}

// Render builds the content. mention is appended to the text when non-empty; callers
// pass it only for new messages.
func (r *Renderer) Render(ev stream.Event, mention string) chat.Content {
	text := Headline(ev)
	if mention != "" {
		text += " " + mention
	}
	return chat.Content{Text: text, Embed: r.embed(ev)}
}

func (r *Renderer) embed(ev stream.Event) *chat.Embed {
	d := ev.Display
	e := &chat.Embed{
		Title:      d.Title,
		URL:        d.URL,
		Color:      r.opts.Color,
		AuthorName: ev.Name(),
		AuthorURL:  d.URL,
		AuthorIcon: d.ProfileImageURL,
		Footer:     d.Platform,
		Timestamp:  ev.Timestamp,
	}
	if e.Title == "" {
		e.Title = ev.Name()
	}
	if e.Footer == "" {
		e.Footer = "Twitch"
	}

	if d.Game != "" {
		e.Fields = append(e.Fields, chat.EmbedField{Name: "Game", Value: d.Game, Inline: true})
	}
	if ev.IsLive {
		e.Fields = append(e.Fields, chat.EmbedField{Name: "Viewers", Value: strconv.Itoa(d.ViewerCount), Inline: true})
		if up := ev.Uptime(); up > 0 {
			e.Fields = append(e.Fields, chat.EmbedField{Name: "Uptime", Value: formatDuration(up), Inline: true})
		}
	} else {
		e.Description = "The stream has ended."
		if up := ev.Uptime(); up > 0 {
			e.Fields = append(e.Fields, chat.EmbedField{Name: "Duration", Value: formatDuration(up), Inline: true})
		}
	}

	if r.opts.ShowThumbnail && d.ProfileImageURL != "" {
		e.ThumbnailURL = d.ProfileImageURL
	}
	if r.opts.ShowImage && ev.IsLive && d.ThumbnailURL != "" {
		e.ImageURL = cacheBust(d.ThumbnailURL, ev.Timestamp)
	}
	return e
}

// cacheBust makes chat clients refetch the preview on every edit.
func cacheBust(raw string, t time.Time) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("t", strconv.FormatInt(t.Unix(), 10))
	u.RawQuery = q.Encode()
	return u.String()
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %02dm", h, m)
}
