package reconcile

import (
	"streamrelay/internal/chat"
	"streamrelay/internal/history"
	"streamrelay/internal/stream"
)

// Outcome is what happened to one target channel for one event.
type Outcome int

const (
	// Sent: a new message was posted and tracked.
	Sent Outcome = iota + 1
	// Edited: the tracked message was updated and stays tracked.
	Edited
	// Closed: the tracked message got its final (offline) edit and was untracked.
	Closed
	// Stale: the tracked message no longer exists and was untracked.
	Stale
	// SkippedOffline: nothing tracked and the account is offline.
	SkippedOffline
	// Failed: a chat call failed; history is unchanged.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Edited:
		return "edited"
	case Closed:
		return "closed"
	case Stale:
		return "stale"
	case SkippedOffline:
		return "skipped_offline"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Delivered reports whether a message was created or edited.
func (o Outcome) Delivered() bool { return o == Sent || o == Edited || o == Closed }

type ChannelResult struct {
	Channel   chat.Channel
	Key       history.Key
	Outcome   Outcome
	MessageID string
	// Stage names the failing call ("send", "fetch", "edit") when Outcome is Failed.
	Stage string
	Err   error
}

// Result is the batch outcome of one event.
type Result struct {
	RunID    string
	Event    stream.Event
	Channels []ChannelResult
	FlushErr error
}

// Handled reports whether any channel was created or edited.
func (r Result) Handled() bool {
	for _, c := range r.Channels {
		if c.Outcome.Delivered() {
			return true
		}
	}
	return false
}

func (r Result) Count(o Outcome) int {
	n := 0
	for _, c := range r.Channels {
		if c.Outcome == o {
			n++
		}
	}
	return n
}
