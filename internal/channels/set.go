package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"streamrelay/internal/chat"
	"streamrelay/internal/eventbus"
	logx "streamrelay/pkg/logx"
)

// Set owns the current target channels and rebuilds them from the chat client.
type Set struct {
	client chat.Client
	log    logx.Logger
	bus    eventbus.Bus

	mu       sync.RWMutex
	resolver *Resolver
	targets  []chat.Channel
	servers  map[string]chat.Server

	// resyncMu serializes rebuilds; readers never wait on it.
	resyncMu sync.Mutex
}

// SyncedEvent is published as eventbus.TypeTargetsSynced after every resync.
type SyncedEvent struct {
	Servers int `json:"servers"`
	Targets int `json:"targets"`
	// Changed is set when the target channels differ from the previous resync.
	Changed bool `json:"changed"`
}

func NewSet(client chat.Client, names []string, log logx.Logger) *Set {
	return &Set{
		client:   client,
		log:      log,
		resolver: NewResolver(names),
		servers:  map[string]chat.Server{},
	}
}

// PublishTo makes later resyncs announce themselves on bus.
func (s *Set) PublishTo(bus eventbus.Bus) {
	s.mu.Lock()
	s.bus = bus
	s.mu.Unlock()
}

// Resync lists servers and swaps in a freshly resolved target list.
// On error the previous list stays in place.
func (s *Set) Resync(ctx context.Context) error {
	s.resyncMu.Lock()
	defer s.resyncMu.Unlock()

	servers, err := s.client.Servers(ctx)
	if err != nil {
		return fmt.Errorf("list servers: %w", err)
	}

	s.mu.RLock()
	resolver := s.resolver
	s.mu.RUnlock()

	targets, warns := resolver.Resolve(servers)
	for _, w := range warns {
		s.log.Warn(w.String(),
			logx.String("kind", w.Kind.String()),
			logx.String("server_id", w.ServerID),
			logx.String("channel", w.Channel))
	}

	byID := make(map[string]chat.Server, len(servers))
	for _, srv := range servers {
		byID[srv.ID] = srv
	}

	s.mu.Lock()
	changed := !sameTargets(s.targets, targets)
	s.targets = targets
	s.servers = byID
	bus := s.bus
	s.mu.Unlock()

	if bus != nil {
		bus.Publish(eventbus.Event{
			Type: eventbus.TypeTargetsSynced,
			Time: time.Now(),
			Data: SyncedEvent{Servers: len(servers), Targets: len(targets), Changed: changed},
		})
	}

	if changed {
		s.log.Info("notification targets updated",
			logx.Int("servers", len(servers)), logx.Int("targets", len(targets)))
	}
	return nil
}

type targetKey struct{ serverID, channelID string }

func sameTargets(a, b []chat.Channel) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[targetKey]int, len(a))
	for _, ch := range a {
		seen[targetKey{ch.ServerID, ch.ID}]++
	}
	for _, ch := range b {
		k := targetKey{ch.ServerID, ch.ID}
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}

// Apply swaps the configured channel names and resyncs.
func (s *Set) Apply(ctx context.Context, names []string) error {
	s.mu.Lock()
	s.resolver = NewResolver(names)
	s.mu.Unlock()
	return s.Resync(ctx)
}

// Targets returns a copy of the current target channels.
func (s *Set) Targets() []chat.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]chat.Channel(nil), s.targets...)
}

// Server returns the last known state of a server (roles included).
func (s *Set) Server(id string) (chat.Server, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[id]
	return srv, ok
}

// Watch resyncs whenever the client reports a membership change.
// Clients without membership notifications are left alone.
func (s *Set) Watch(ctx context.Context) {
	mn, ok := s.client.(chat.MembershipNotifier)
	if !ok {
		return
	}
	mn.OnMembershipChange(func() {
		if ctx.Err() != nil {
			return
		}
		if err := s.Resync(ctx); err != nil {
			s.log.Warn("channel resync after membership change failed", logx.Err(err))
		}
	})
}
