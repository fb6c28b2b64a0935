package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/chat"
	"streamrelay/internal/chat/chattest"
	"streamrelay/internal/config"
	"streamrelay/internal/render"
	"streamrelay/internal/stream"
	logx "streamrelay/pkg/logx"
)

type stubSource struct {
	mu   sync.Mutex
	live []stream.Event
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) LiveStreams(context.Context, []string) ([]stream.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Event(nil), s.live...), nil
}

func (s *stubSource) set(live ...stream.Event) {
	s.mu.Lock()
	s.live = live
	s.mu.Unlock()
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Relay.CheckInterval = config.Duration(time.Hour)
	cfg.Relay.NotificationChannels = []string{"live"}
	cfg.Relay.Accounts = []string{"alice"}
	cfg.Relay.Mentions = map[string]string{"alice": "everyone"}
	cfg.Chat.Driver = "discord"
	return cfg
}

func liveEvent() stream.Event {
	return stream.Event{
		AccountID: "alice",
		SubjectID: "s1",
		IsLive:    true,
		Timestamp: time.Now(),
		Display:   stream.Display{Platform: "Twitch", UserName: "Alice", Login: "alice"},
	}
}

func TestAppRelaysLiveThenOffline(t *testing.T) {
	client := chattest.New(chat.Server{ID: "g1", Name: "Guild", Channels: []chat.Channel{
		chattest.TextChannel("g1", "c1", "live"),
	}})
	src := &stubSource{}
	src.set(liveEvent())

	a, err := assemble(nil, testConfig(), nil, logx.Nop(), parts{client: client, source: src})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.Start(ctx))

	require.Eventually(t, func() bool { return len(client.Calls("send")) == 1 }, 2*time.Second, 10*time.Millisecond)
	sent, ok := client.Message("c1", "m1")
	require.True(t, ok)
	assert.Contains(t, sent.Text, "@everyone")
	assert.Eventually(t, func() bool { return client.Activity() == "1 stream" }, time.Second, 10*time.Millisecond)

	st := a.Status()
	assert.Equal(t, []string{"alice"}, st.Online)
	assert.Equal(t, 1, st.Targets)
	assert.Equal(t, 1, st.HistoryEntries)

	src.set()
	require.NoError(t, a.monitor.Poll(ctx))
	assert.Len(t, client.Calls("send"), 1)
	assert.NotEmpty(t, client.Calls("edit"))
	assert.Equal(t, 0, a.history.Len())
	assert.False(t, a.tracker.IsOnline("alice"))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSIGTERM))
}

func TestApplyConfigSwapsAccountsAndChannels(t *testing.T) {
	client := chattest.New(chat.Server{ID: "g1", Channels: []chat.Channel{
		chattest.TextChannel("g1", "c1", "live"),
		chattest.TextChannel("g1", "c2", "alerts"),
	}})
	cfg := testConfig()
	a, err := assemble(nil, cfg, nil, logx.Nop(), parts{client: client, source: &stubSource{}})
	require.NoError(t, err)

	next := testConfig()
	next.Relay.Accounts = []string{"Bob", "carol"}
	next.Relay.NotificationChannels = []string{"alerts"}
	a.applyConfig(context.Background(), cfg, next)

	assert.Equal(t, []string{"bob", "carol"}, a.monitor.Accounts())
	targets := a.targets.Targets()
	require.Len(t, targets, 1)
	assert.Equal(t, "c2", targets[0].ID)
}

func TestMapReconcileConfig(t *testing.T) {
	cfg := testConfig()
	off := false
	cfg.Relay.ShowImage = &off
	cfg.Relay.EmbedColor = "#ff0000"
	cfg.Notifier.RatePerSec = 2
	cfg.Notifier.CallTimeout = "3s"

	rc, err := mapReconcileConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, render.Options{ShowThumbnail: true, ShowImage: false, Color: 0xFF0000}, rc.Render)
	assert.Equal(t, 2, rc.RatePerSec)
	assert.Equal(t, 3*time.Second, rc.CallTimeout)

	cfg.Relay.EmbedColor = "not-a-color"
	_, err = mapReconcileConfig(cfg)
	assert.Error(t, err)
	assert.Error(t, validateRuntime(cfg))
}

func TestMapTelegramConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Chat.Telegram.Token = "t"
	cfg.Chat.Telegram.Chats = []config.TelegramChat{{ID: -5, Channels: map[string]int{"live": 3}}}
	tc, err := mapTelegramConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, tc.PollTimeout)
	require.Len(t, tc.Chats, 1)
	assert.Equal(t, int64(-5), tc.Chats[0].ID)

	cfg.Chat.Telegram.PollTimeout = "soon"
	_, err = mapTelegramConfig(cfg)
	assert.Error(t, err)
}

func TestStatusLine(t *testing.T) {
	assert.Equal(t, "idle", statusLine(0))
	assert.Equal(t, "watching 3 streams", statusLine(3))
}
