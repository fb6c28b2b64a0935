// Package discord is a chat.Client backed by a Discord gateway session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"streamrelay/internal/chat"
	logx "streamrelay/pkg/logx"
)

type Client struct {
	s   *discordgo.Session
	log logx.Logger

	hookMu sync.Mutex
	hooks  []func()
}

func New(token string, log logx.Logger) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuilds
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{s: s, log: log}
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildCreate) {
		c.log.Debug("guild available", logx.String("guild_id", e.ID), logx.String("guild", e.Name))
		c.fireMembership()
	})
	s.AddHandler(func(_ *discordgo.Session, e *discordgo.GuildDelete) {
		c.log.Debug("guild removed", logx.String("guild_id", e.ID))
		c.fireMembership()
	})
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.log.Info("discord ready", logx.String("user", r.User.Username), logx.Int("guilds", len(r.Guilds)))
	})
	return c, nil
}

func (c *Client) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.s.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	return c.s.Close()
}

func (c *Client) OnMembershipChange(fn func()) {
	if fn == nil {
		return
	}
	c.hookMu.Lock()
	c.hooks = append(c.hooks, fn)
	c.hookMu.Unlock()
}

func (c *Client) fireMembership() {
	c.hookMu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.hookMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Servers reads guilds from the gateway state cache.
func (c *Client) Servers(ctx context.Context) ([]chat.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st := c.s.State
	if st == nil || st.User == nil {
		return nil, errors.New("discord: session not ready")
	}
	st.RLock()
	guilds := append([]*discordgo.Guild(nil), st.Guilds...)
	st.RUnlock()

	userID := st.User.ID
	perms := func(channelID string) (int64, error) {
		return st.UserChannelPermissions(userID, channelID)
	}
	return buildServers(guilds, perms), nil
}

func buildServers(guilds []*discordgo.Guild, perms func(channelID string) (int64, error)) []chat.Server {
	out := make([]chat.Server, 0, len(guilds))
	for _, g := range guilds {
		if g == nil || g.Unavailable {
			continue
		}
		s := chat.Server{ID: g.ID, Name: g.Name}
		for _, ch := range g.Channels {
			if ch == nil {
				continue
			}
			text := ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews
			canSend := false
			if text {
				if p, err := perms(ch.ID); err == nil {
					need := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages)
					canSend = p&need == need
				}
			}
			s.Channels = append(s.Channels, chat.Channel{
				ID:         ch.ID,
				Name:       strings.ToLower(ch.Name),
				ServerID:   g.ID,
				ServerName: g.Name,
				Text:       text,
				CanSend:    canSend,
			})
		}
		sort.SliceStable(s.Channels, func(i, j int) bool { return s.Channels[i].ID < s.Channels[j].ID })
		for _, r := range g.Roles {
			if r == nil || r.ID == g.ID { // @everyone
				continue
			}
			s.Roles = append(s.Roles, chat.Role{ID: r.ID, Name: r.Name, Mention: "<@&" + r.ID + ">"})
		}
		out = append(out, s)
	}
	return out
}

func (c *Client) Send(ctx context.Context, ch chat.Channel, content chat.Content) (string, error) {
	msg, err := c.s.ChannelMessageSendComplex(ch.ID, messageSend(content), discordgo.WithContext(ctx))
	if err != nil {
		return "", classify(err)
	}
	return msg.ID, nil
}

func (c *Client) Fetch(ctx context.Context, ch chat.Channel, id string) (*chat.Message, error) {
	msg, err := c.s.ChannelMessage(ch.ID, id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify(err)
	}
	return &chat.Message{ID: msg.ID, Channel: ch}, nil
}

func (c *Client) Edit(ctx context.Context, m *chat.Message, content chat.Content) error {
	edit := discordgo.NewMessageEdit(m.Channel.ID, m.ID).SetContent(content.Text)
	embeds := []*discordgo.MessageEmbed{}
	if e := toEmbed(content.Embed); e != nil {
		embeds = append(embeds, e)
	}
	edit.Embeds = &embeds
	if _, err := c.s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return classify(err)
	}
	return nil
}

// SetActivity shows "Watching <text>".
func (c *Client) SetActivity(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.s.UpdateWatchStatus(0, text)
}

func messageSend(c chat.Content) *discordgo.MessageSend {
	m := &discordgo.MessageSend{
		Content: c.Text,
		// Only role and broadcast pings from the mention prefix.
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{discordgo.AllowedMentionTypeRoles, discordgo.AllowedMentionTypeEveryone},
		},
	}
	if e := toEmbed(c.Embed); e != nil {
		m.Embeds = []*discordgo.MessageEmbed{e}
	}
	return m
}

func toEmbed(e *chat.Embed) *discordgo.MessageEmbed {
	if e == nil {
		return nil
	}
	out := &discordgo.MessageEmbed{
		Title:       e.Title,
		URL:         e.URL,
		Description: e.Description,
		Color:       e.Color,
	}
	if e.AuthorName != "" {
		out.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, URL: e.AuthorURL, IconURL: e.AuthorIcon}
	}
	if e.ThumbnailURL != "" {
		out.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
	}
	if e.ImageURL != "" {
		out.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	if !e.Timestamp.IsZero() {
		out.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
	}
	return out
}

// classify maps "Unknown Message"/"Unknown Channel" and bare 404s to chat.ErrNotFound.
func classify(err error) error {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		if rerr.Message != nil {
			switch rerr.Message.Code {
			case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
				return fmt.Errorf("%w: %v", chat.ErrNotFound, err)
			}
		}
		if rerr.Response != nil && rerr.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %v", chat.ErrNotFound, err)
		}
	}
	return err
}
