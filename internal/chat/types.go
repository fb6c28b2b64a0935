// Package chat defines the chat-platform surface the relay talks to.
//
// Concrete clients live in subpackages (discord, telegram); chattest provides a
// scriptable in-memory client for tests.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound reports that a message (or its channel) no longer exists.
// Clients must wrap their platform error so that errors.Is(err, ErrNotFound) holds.
var ErrNotFound = errors.New("chat: message not found")

// Kind classifies a client error for the reconciler.
type Kind int

const (
	KindOther Kind = iota
	KindNotFound
)

func (k Kind) String() string {
	if k == KindNotFound {
		return "not_found"
	}
	return "other"
}

// KindOf classifies err. nil is KindOther.
func KindOf(err error) Kind {
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindOther
}

// Server is one connected guild / group.
type Server struct {
	ID       string
	Name     string
	Channels []Channel
	Roles    []Role
}

// Channel is a destination inside a server.
type Channel struct {
	ID         string
	Name       string
	ServerID   string
	ServerName string
	// Text reports whether the channel accepts text messages.
	Text bool
	// CanSend reports whether the bot has permission to post.
	CanSend bool
}

// Role is a mentionable group of users.
type Role struct {
	ID   string
	Name string
	// Mention is the token that pings the role when included in message text.
	Mention string
}

// FindRole looks a role up by case-insensitive name.
func (s Server) FindRole(name string) (Role, bool) {
	for _, r := range s.Roles {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return Role{}, false
}

// Message is a reference to a previously sent message.
type Message struct {
	ID      string
	Channel Channel
}

// Content is what a notification looks like on the wire.
type Content struct {
	Text  string
	Embed *Embed
}

type Embed struct {
	Title        string
	URL          string
	Description  string
	Color        int
	AuthorName   string
	AuthorIcon   string
	AuthorURL    string
	ThumbnailURL string
	ImageURL     string
	Fields       []EmbedField
	Footer       string
	Timestamp    time.Time
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Client is the minimal chat surface used by the relay.
type Client interface {
	// Servers lists every server the bot is currently a member of.
	Servers(ctx context.Context) ([]Server, error)
	Send(ctx context.Context, ch Channel, c Content) (string, error)
	Fetch(ctx context.Context, ch Channel, id string) (*Message, error)
	Edit(ctx context.Context, m *Message, c Content) error
}

// MembershipNotifier is implemented by clients that can report joining or leaving servers.
type MembershipNotifier interface {
	OnMembershipChange(fn func())
}

// ActivitySetter is implemented by clients that can show a bot status line.
type ActivitySetter interface {
	SetActivity(ctx context.Context, text string) error
}
