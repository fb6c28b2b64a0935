// Package stream holds the platform-neutral stream event delivered to the relay.
package stream

import (
	"strings"
	"time"
)

// Event reports the current state of a watched account's stream.
//
// SubjectID identifies the notification message: a new stream gets a new id and
// therefore a new message, updates to the same stream edit it.
type Event struct {
	AccountID string
	SubjectID string
	IsLive    bool
	Timestamp time.Time
	Display   Display
}

// Display is everything needed to render a notification.
type Display struct {
	Platform        string
	UserName        string
	Login           string
	Title           string
	Game            string
	ViewerCount     int
	StartedAt       time.Time
	URL             string
	ThumbnailURL    string
	ProfileImageURL string
}

// Name returns the best human-readable name for the account.
func (e Event) Name() string {
	if s := strings.TrimSpace(e.Display.UserName); s != "" {
		return s
	}
	if s := strings.TrimSpace(e.Display.Login); s != "" {
		return s
	}
	return e.AccountID
}

// Offline returns a copy marked as ended at t.
func (e Event) Offline(t time.Time) Event {
	e.IsLive = false
	e.Timestamp = t
	return e
}

// Uptime is the stream duration at the event time, zero when unknown.
func (e Event) Uptime() time.Duration {
	if e.Display.StartedAt.IsZero() || e.Timestamp.Before(e.Display.StartedAt) {
		return 0
	}
	return e.Timestamp.Sub(e.Display.StartedAt)
}
