// Package channels decides which channel on each connected server receives
// notifications.
package channels

import (
	"fmt"
	"strings"

	"streamrelay/internal/chat"
)

type WarningKind int

const (
	// WarnNoChannel: no configured channel name exists on the server.
	WarnNoChannel WarningKind = iota + 1
	// WarnNoPermission: the channel exists but the bot cannot post there.
	WarnNoPermission
)

func (k WarningKind) String() string {
	switch k {
	case WarnNoChannel:
		return "no_channel"
	case WarnNoPermission:
		return "no_permission"
	default:
		return "unknown"
	}
}

type Warning struct {
	Kind       WarningKind
	ServerID   string
	ServerName string
	Channel    string
}

func (w Warning) String() string {
	switch w.Kind {
	case WarnNoChannel:
		return fmt.Sprintf("no notification channel found on server %q", w.ServerName)
	case WarnNoPermission:
		return fmt.Sprintf("missing permission to send in #%s on server %q", w.Channel, w.ServerName)
	default:
		return "channel warning"
	}
}

// Resolver matches channels against the configured names.
type Resolver struct {
	names map[string]struct{}
}

// NewResolver lowercases names; matching is case-insensitive.
func NewResolver(names []string) *Resolver {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			m[n] = struct{}{}
		}
	}
	return &Resolver{names: m}
}

// Resolve picks, per server, the first text channel whose name is configured.
// Servers without a match are skipped with WarnNoChannel. A match the bot cannot
// post to is still returned, with WarnNoPermission.
func (r *Resolver) Resolve(servers []chat.Server) ([]chat.Channel, []Warning) {
	var (
		out   []chat.Channel
		warns []Warning
	)
	for _, srv := range servers {
		ch, ok := r.pick(srv)
		if !ok {
			warns = append(warns, Warning{Kind: WarnNoChannel, ServerID: srv.ID, ServerName: srv.Name})
			continue
		}
		if ch.ServerID == "" {
			ch.ServerID = srv.ID
		}
		if ch.ServerName == "" {
			ch.ServerName = srv.Name
		}
		if !ch.CanSend {
			warns = append(warns, Warning{Kind: WarnNoPermission, ServerID: srv.ID, ServerName: srv.Name, Channel: ch.Name})
		}
		out = append(out, ch)
	}
	return out, warns
}

func (r *Resolver) pick(srv chat.Server) (chat.Channel, bool) {
	for _, ch := range srv.Channels {
		if !ch.Text {
			continue
		}
		if _, ok := r.names[strings.ToLower(ch.Name)]; ok {
			return ch, true
		}
	}
	return chat.Channel{}, false
}
