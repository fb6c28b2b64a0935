// Package chattest provides an in-memory chat.Client for tests.
package chattest

import (
	"context"
	"fmt"
	"sync"

	"streamrelay/internal/chat"
)

// Call records one client operation.
type Call struct {
	Op        string // "send" | "fetch" | "edit"
	ChannelID string
	MessageID string
	Content   chat.Content
}

// Client keeps messages per channel and lets tests inject failures per channel.
type Client struct {
	mu       sync.Mutex
	servers  []chat.Server
	messages map[string]map[string]chat.Content // channel id -> message id -> content
	seq      int
	calls    []Call

	// Failure hooks, keyed by channel id. Returning a non-nil error fails the call.
	SendErr  map[string]error
	FetchErr map[string]error
	EditErr  map[string]error

	activity string
	onChange []func()
}

func New(servers ...chat.Server) *Client {
	return &Client{
		servers:  servers,
		messages: map[string]map[string]chat.Content{},
		SendErr:  map[string]error{},
		FetchErr: map[string]error{},
		EditErr:  map[string]error{},
	}
}

// TextChannel is a shorthand for a sendable text channel.
func TextChannel(serverID, id, name string) chat.Channel {
	return chat.Channel{ID: id, Name: name, ServerID: serverID, ServerName: serverID, Text: true, CanSend: true}
}

// SetServers replaces the membership and fires change callbacks.
func (c *Client) SetServers(servers ...chat.Server) {
	c.mu.Lock()
	c.servers = servers
	fns := append([]func(){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (c *Client) SetFailure(op, channelID string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch op {
	case "send":
		c.SendErr[channelID] = err
	case "fetch":
		c.FetchErr[channelID] = err
	case "edit":
		c.EditErr[channelID] = err
	}
}

// DeleteMessage simulates a message removed by someone else.
func (c *Client) DeleteMessage(channelID, id string) {
	c.mu.Lock()
	delete(c.messages[channelID], id)
	c.mu.Unlock()
}

func (c *Client) Servers(ctx context.Context) ([]chat.Server, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Server(nil), c.servers...), nil
}

func (c *Client) Send(ctx context.Context, ch chat.Channel, content chat.Content) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Op: "send", ChannelID: ch.ID, Content: content})
	if err := c.SendErr[ch.ID]; err != nil {
		return "", err
	}
	c.seq++
	id := fmt.Sprintf("m%d", c.seq)
	if c.messages[ch.ID] == nil {
		c.messages[ch.ID] = map[string]chat.Content{}
	}
	c.messages[ch.ID][id] = content
	return id, nil
}

func (c *Client) Fetch(ctx context.Context, ch chat.Channel, id string) (*chat.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Op: "fetch", ChannelID: ch.ID, MessageID: id})
	if err := c.FetchErr[ch.ID]; err != nil {
		return nil, err
	}
	if _, ok := c.messages[ch.ID][id]; !ok {
		return nil, fmt.Errorf("fetch %s/%s: %w", ch.ID, id, chat.ErrNotFound)
	}
	return &chat.Message{ID: id, Channel: ch}, nil
}

func (c *Client) Edit(ctx context.Context, m *chat.Message, content chat.Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Op: "edit", ChannelID: m.Channel.ID, MessageID: m.ID, Content: content})
	if err := c.EditErr[m.Channel.ID]; err != nil {
		return err
	}
	if _, ok := c.messages[m.Channel.ID][m.ID]; !ok {
		return fmt.Errorf("edit %s/%s: %w", m.Channel.ID, m.ID, chat.ErrNotFound)
	}
	c.messages[m.Channel.ID][m.ID] = content
	return nil
}

func (c *Client) OnMembershipChange(fn func()) {
	c.mu.Lock()
	c.onChange = append(c.onChange, fn)
	c.mu.Unlock()
}

func (c *Client) SetActivity(ctx context.Context, text string) error {
	c.mu.Lock()
	c.activity = text
	c.mu.Unlock()
	return nil
}

func (c *Client) Activity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activity
}

// Calls returns the recorded operations, optionally filtered by op.
func (c *Client) Calls(op string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Call
	for _, call := range c.calls {
		if op == "" || call.Op == op {
			out = append(out, call)
		}
	}
	return out
}

// Message returns the current content of a message.
func (c *Client) Message(channelID, id string) (chat.Content, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.messages[channelID][id]
	return m, ok
}

var (
	_ chat.Client             = (*Client)(nil)
	_ chat.MembershipNotifier = (*Client)(nil)
	_ chat.ActivitySetter     = (*Client)(nil)
)
