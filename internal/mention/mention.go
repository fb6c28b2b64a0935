// Package mention turns a configured mention spec into the token appended to
// new notifications.
package mention

import (
	"fmt"
	"strings"

	"streamrelay/internal/chat"
)

const (
	Everyone = "everyone"
	Here     = "here"
)

// Warning describes a mention that could not be resolved.
type Warning struct {
	Role       string
	ServerID   string
	ServerName string
}

func (w Warning) String() string {
	return fmt.Sprintf("cannot tag role %q: not found on server %q", w.Role, w.ServerName)
}

// Resolve maps spec to a mention token for server.
//
// "everyone" and "here" map to the reserved tokens; anything else is a role name
// matched case-insensitively. An empty spec resolves to no token and no warning.
func Resolve(spec string, server chat.Server) (token string, warn *Warning) {
	s := strings.ToLower(strings.TrimSpace(spec))
	switch s {
	case "":
		return "", nil
	case Everyone, Here:
		return "@" + s, nil
	}
	if r, ok := server.FindRole(s); ok && r.Mention != "" {
		return r.Mention, nil
	}
	return "", &Warning{Role: s, ServerID: server.ID, ServerName: server.Name}
}

// Lookup returns the configured spec for account from a lowercased mentions map.
func Lookup(mentions map[string]string, account string) string {
	if len(mentions) == 0 {
		return ""
	}
	return mentions[strings.ToLower(account)]
}
