// Package telegram is a chat.Client backed by the Telegram Bot API.
//
// Configured group chats are servers; forum topics (thread ids) are channels.
// Telegram has no roles, so roles are named lists of usernames from config.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"streamrelay/internal/chat"
	rtsup "streamrelay/internal/runtime/supervisor"
	logx "streamrelay/pkg/logx"
)

const (
	DefaultChannel = "general"
	textLimit      = 4096
)

type Chat struct {
	ID       int64
	Channels map[string]int
	Roles    map[string][]string
}

type Config struct {
	Token       string
	PollTimeout time.Duration
	Chats       []Chat
}

// api is the subset of *tele.Bot the client needs.
type api interface {
	ChatByID(id int64) (*tele.Chat, error)
	ChatMemberOf(chat, user tele.Recipient) (*tele.ChatMember, error)
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
}

type Client struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot // nil in tests
	api api
	me  tele.Recipient

	hookMu sync.Mutex
	hooks  []func()

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	var me tele.Recipient
	if b.Me != nil {
		me = b.Me
	}
	c := newClient(cfg, b, me, log)
	c.bot = b
	c.registerHandlers()
	return c, nil
}

func newClient(cfg Config, a api, me tele.Recipient, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, api: a, me: me, log: log}
}

func (c *Client) registerHandlers() {
	changed := func(tele.Context) error {
		c.fireMembership()
		return nil
	}
	c.bot.Handle(tele.OnAddedToGroup, changed)
	c.bot.Handle(tele.OnMyChatMember, changed)
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

// Start runs the update poller used for membership events.
func (c *Client) Start(ctx context.Context) error {
	c.runMu.Lock()
	if c.running || c.bot == nil {
		c.runMu.Unlock()
		return nil
	}
	c.running = true
	c.sup = rtsup.New(ctx,
		rtsup.WithLogger(c.log.Component("telegram.client")),
		rtsup.WithCancelOnError(false),
	)
	sup := c.sup
	c.runMu.Unlock()

	sup.Go0("telebot.stop_on_cancel", func(ctx context.Context) {
		<-ctx.Done()
		c.bot.Stop()
	})
	// Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(ctx context.Context) error {
		c.log.Info("polling started")
		c.bot.Start()
		c.log.Info("polling stopped")
		if ctx.Err() == nil {
			return errors.New("telebot poller exited")
		}
		return nil
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
	return nil
}

func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	sup := c.sup
	c.sup = nil
	was := c.running
	c.running = false
	c.runMu.Unlock()
	if !was || sup == nil {
		return nil
	}
	sup.Cancel()
	go c.bot.Stop()

	// Don't let a pending getUpdates long-poll hold shutdown.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		c.log.Warn("telegram stop error", logx.Err(err))
	}
	return nil
}

// Servers reports the configured chats the bot can still see.
func (c *Client) Servers(ctx context.Context) ([]chat.Server, error) {
	out := make([]chat.Server, 0, len(c.cfg.Chats))
	for _, cc := range c.cfg.Chats {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tc, err := c.api.ChatByID(cc.ID)
		if err != nil {
			c.log.Warn("telegram chat unavailable", logx.Int64("chat_id", cc.ID), logx.Err(err))
			continue
		}
		canSend := true
		if c.me != nil {
			if m, err := c.api.ChatMemberOf(tc, c.me); err == nil && m != nil {
				switch m.Role {
				case tele.Left, tele.Kicked:
					continue
				case tele.Restricted:
					canSend = m.CanSendMessages
				}
			}
		}
		out = append(out, buildServer(cc, tc.Title, canSend))
	}
	return out, nil
}

func buildServer(cc Chat, title string, canSend bool) chat.Server {
	sid := strconv.FormatInt(cc.ID, 10)
	if title == "" {
		title = sid
	}
	s := chat.Server{ID: sid, Name: title}

	topics := cc.Channels
	if len(topics) == 0 {
		topics = map[string]int{DefaultChannel: 0}
	}
	names := make([]string, 0, len(topics))
	for n := range topics {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		s.Channels = append(s.Channels, chat.Channel{
			ID:         channelID(cc.ID, topics[n]),
			Name:       strings.ToLower(n),
			ServerID:   sid,
			ServerName: title,
			Text:       true,
			CanSend:    canSend,
		})
	}

	roles := make([]string, 0, len(cc.Roles))
	for n := range cc.Roles {
		roles = append(roles, n)
	}
	sort.Strings(roles)
	for _, n := range roles {
		users := make([]string, 0, len(cc.Roles[n]))
		for _, u := range cc.Roles[n] {
			if u = strings.TrimPrefix(strings.TrimSpace(u), "@"); u != "" {
				users = append(users, "@"+u)
			}
		}
		if len(users) == 0 {
			continue
		}
		s.Roles = append(s.Roles, chat.Role{ID: n, Name: n, Mention: strings.Join(users, " ")})
	}
	return s
}

// channelID encodes "<chat>/<thread>".
func channelID(chatID int64, thread int) string {
	return strconv.FormatInt(chatID, 10) + "/" + strconv.Itoa(thread)
}

func parseChannelID(id string) (int64, int, error) {
	cs, ts, ok := strings.Cut(id, "/")
	if !ok {
		return 0, 0, fmt.Errorf("telegram: bad channel id %q", id)
	}
	chatID, err := strconv.ParseInt(cs, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: bad channel id %q: %w", id, err)
	}
	thread, err := strconv.Atoi(ts)
	if err != nil {
		return 0, 0, fmt.Errorf("telegram: bad channel id %q: %w", id, err)
	}
	return chatID, thread, nil
}

func (c *Client) Send(ctx context.Context, ch chat.Channel, content chat.Content) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	chatID, thread, err := parseChannelID(ch.ID)
	if err != nil {
		return "", err
	}
	msg, err := c.api.Send(&tele.Chat{ID: chatID}, renderHTML(content), &tele.SendOptions{
		ParseMode: tele.ModeHTML,
		ThreadID:  thread,
	})
	if err != nil {
		return "", classify(err)
	}
	return strconv.Itoa(msg.ID), nil
}

// Fetch cannot be checked without editing; the Bot API has no getMessage.
// A vanished message surfaces as chat.ErrNotFound from Edit.
func (c *Client) Fetch(ctx context.Context, ch chat.Channel, id string) (*chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := strconv.Atoi(id); err != nil {
		return nil, fmt.Errorf("%w: bad message id %q", chat.ErrNotFound, id)
	}
	return &chat.Message{ID: id, Channel: ch}, nil
}

func (c *Client) Edit(ctx context.Context, m *chat.Message, content chat.Content) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, _, err := parseChannelID(m.Channel.ID)
	if err != nil {
		return err
	}
	ref := tele.StoredMessage{MessageID: m.ID, ChatID: chatID}
	_, err = c.api.Edit(ref, renderHTML(content), &tele.SendOptions{ParseMode: tele.ModeHTML})
	if err != nil {
		if notModified(err) {
			return nil
		}
		return classify(err)
	}
	return nil
}

func notModified(err error) bool {
	if errors.Is(err, tele.ErrMessageNotModified) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

var goneErrs = []error{
	tele.ErrNotFoundToEdit,
	tele.ErrCantEditMessage,
	tele.ErrChatNotFound,
}

// goneDescriptions covers responses telebot does not map to a sentinel.
var goneDescriptions = []string{
	"message to edit not found",
	"message_id_invalid",
	"message can't be edited",
	"chat not found",
}

func classify(err error) error {
	for _, target := range goneErrs {
		if errors.Is(err, target) {
			return fmt.Errorf("%w: %w", chat.ErrNotFound, err)
		}
	}
	s := strings.ToLower(err.Error())
	for _, d := range goneDescriptions {
		if strings.Contains(s, d) {
			return fmt.Errorf("%w: %w", chat.ErrNotFound, err)
		}
	}
	return err
}
