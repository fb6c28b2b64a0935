// Package presence tracks which watched accounts are currently live.
package presence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"streamrelay/internal/chat"
	"streamrelay/internal/stream"
	logx "streamrelay/pkg/logx"
)

// Tracker keeps account -> last live event. It never blocks callers on the
// change hook and is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	online  map[string]stream.Event
	running bool

	onChange func(count int)
	// hookMu serializes hook calls; each call reads the count under it so the
	// last call always reports the latest state.
	hookMu sync.Mutex
	log    logx.Logger
}

func New(log logx.Logger) *Tracker {
	return &Tracker{online: map[string]stream.Event{}, log: log}
}

// OnChange installs a hook receiving the online count after each change.
// Calls run on their own goroutine, one at a time.
func (t *Tracker) OnChange(fn func(count int)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Init starts tracking with an empty state.
func (t *Tracker) Init() {
	t.mu.Lock()
	t.online = map[string]stream.Event{}
	t.running = true
	t.mu.Unlock()
	t.notify()
}

// Shutdown stops tracking; later marks are ignored.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	t.running = false
	t.online = map[string]stream.Event{}
	t.mu.Unlock()
}

func (t *Tracker) MarkOnline(accountID string, ev stream.Event) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	_, existed := t.online[accountID]
	t.online[accountID] = ev
	n := len(t.online)
	t.mu.Unlock()
	if !existed {
		t.log.Debug("account online", logx.String("account", accountID), logx.Int("online", n))
		t.notify()
	}
}

func (t *Tracker) MarkOffline(accountID string) {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	_, existed := t.online[accountID]
	delete(t.online, accountID)
	n := len(t.online)
	t.mu.Unlock()
	if existed {
		t.log.Debug("account offline", logx.String("account", accountID), logx.Int("online", n))
		t.notify()
	}
}

func (t *Tracker) IsOnline(accountID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[accountID]
	return ok
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.online)
}

// Online returns the live events sorted by account.
func (t *Tracker) Online() []stream.Event {
	t.mu.Lock()
	out := make([]stream.Event, 0, len(t.online))
	for _, ev := range t.online {
		out = append(out, ev)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

func (t *Tracker) notify() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn == nil {
		return
	}
	go func() {
		t.hookMu.Lock()
		defer t.hookMu.Unlock()
		defer func() {
			if r := recover(); r != nil {
				t.log.Warn("presence hook panicked", logx.Any("panic", r))
			}
		}()
		fn(t.Count())
	}()
}

// ActivityText renders the bot status for n live accounts.
func ActivityText(n int) string {
	switch n {
	case 0:
		return ""
	case 1:
		return "1 stream"
	default:
		return fmt.Sprintf("%d streams", n)
	}
}

// ActivityHook returns an OnChange hook that mirrors the online count into the
// client's status line. Failures are logged only.
func ActivityHook(setter chat.ActivitySetter, timeout time.Duration, log logx.Logger) func(int) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return func(n int) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := setter.SetActivity(ctx, ActivityText(n)); err != nil {
			log.Debug("set activity failed", logx.Err(err))
		}
	}
}
