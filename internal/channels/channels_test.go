package channels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/chat"
	"streamrelay/internal/chat/chattest"
	"streamrelay/internal/eventbus"
	logx "streamrelay/pkg/logx"
)

func server(id string, chans ...chat.Channel) chat.Server {
	return chat.Server{ID: id, Name: "srv-" + id, Channels: chans}
}

func TestResolvePicksFirstMatchingTextChannel(t *testing.T) {
	voice := chat.Channel{ID: "v", Name: "live", Text: false, CanSend: true}
	first := chat.Channel{ID: "c1", Name: "Live", Text: true, CanSend: true}
	second := chat.Channel{ID: "c2", Name: "streams", Text: true, CanSend: true}

	r := NewResolver([]string{"streams", "LIVE"})
	got, warns := r.Resolve([]chat.Server{server("g1", voice, first, second)})

	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].ID)
	assert.Equal(t, "g1", got[0].ServerID)
	assert.Empty(t, warns)
}

func TestResolveWarnings(t *testing.T) {
	r := NewResolver([]string{"live"})
	servers := []chat.Server{
		server("g1", chat.Channel{ID: "x", Name: "general", Text: true, CanSend: true}),
		server("g2", chat.Channel{ID: "c", Name: "live", Text: true, CanSend: false}),
	}

	got, warns := r.Resolve(servers)

	require.Len(t, got, 1, "a channel without send permission is still targeted")
	assert.Equal(t, "c", got[0].ID)
	require.Len(t, warns, 2)
	assert.Equal(t, WarnNoChannel, warns[0].Kind)
	assert.Equal(t, "g1", warns[0].ServerID)
	assert.Equal(t, WarnNoPermission, warns[1].Kind)
	assert.Contains(t, warns[1].String(), "#live")
}

func TestResolveIsIdempotent(t *testing.T) {
	r := NewResolver([]string{"live"})
	servers := []chat.Server{server("g1", chattest.TextChannel("g1", "c1", "live"))}
	a, _ := r.Resolve(servers)
	b, _ := r.Resolve(servers)
	assert.Equal(t, a, b)
}

func TestSetResyncOnMembershipChange(t *testing.T) {
	ctx := context.Background()
	client := chattest.New(server("g1", chattest.TextChannel("g1", "c1", "live")))
	set := NewSet(client, []string{"live"}, logx.Nop())
	set.Watch(ctx)

	require.NoError(t, set.Resync(ctx))
	require.Len(t, set.Targets(), 1)

	client.SetServers(
		server("g1", chattest.TextChannel("g1", "c1", "live")),
		server("g2", chattest.TextChannel("g2", "c2", "live")),
	)
	assert.Len(t, set.Targets(), 2)
	_, ok := set.Server("g2")
	assert.True(t, ok)

	client.SetServers()
	assert.Empty(t, set.Targets())
}

func TestSetApplyRenames(t *testing.T) {
	ctx := context.Background()
	client := chattest.New(server("g1",
		chattest.TextChannel("g1", "c1", "live"),
		chattest.TextChannel("g1", "c2", "alerts")))
	set := NewSet(client, []string{"live"}, logx.Nop())
	require.NoError(t, set.Resync(ctx))
	assert.Equal(t, "c1", set.Targets()[0].ID)

	require.NoError(t, set.Apply(ctx, []string{"alerts"}))
	assert.Equal(t, "c2", set.Targets()[0].ID)
}

func TestSetPublishesSync(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, eventbus.TypeTargetsSynced)
	defer unsub()

	client := chattest.New(server("g1", chattest.TextChannel("g1", "c1", "live")))
	set := NewSet(client, []string{"live"}, logx.Nop())
	set.PublishTo(bus)
	require.NoError(t, set.Resync(context.Background()))

	e := <-events
	assert.Equal(t, SyncedEvent{Servers: 1, Targets: 1, Changed: true}, e.Data)
}

func TestResyncDetectsSwappedChannel(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, eventbus.TypeTargetsSynced)
	defer unsub()

	client := chattest.New(server("g1", chattest.TextChannel("g1", "c1", "live")))
	set := NewSet(client, []string{"live"}, logx.Nop())
	set.PublishTo(bus)
	ctx := context.Background()

	require.NoError(t, set.Resync(ctx))
	assert.True(t, (<-events).Data.(SyncedEvent).Changed)

	require.NoError(t, set.Resync(ctx))
	assert.False(t, (<-events).Data.(SyncedEvent).Changed, "same channels")

	client.SetServers(server("g1", chattest.TextChannel("g1", "c2", "live")))
	require.NoError(t, set.Resync(ctx))
	e := (<-events).Data.(SyncedEvent)
	assert.True(t, e.Changed, "same count, different channel")
	assert.Equal(t, 1, e.Targets)
	assert.Equal(t, "c2", set.Targets()[0].ID)
}

func TestSameTargets(t *testing.T) {
	a := chattest.TextChannel("g1", "c1", "live")
	b := chattest.TextChannel("g2", "c1", "live")
	c := chattest.TextChannel("g1", "c2", "live")

	assert.True(t, sameTargets(nil, nil))
	assert.True(t, sameTargets([]chat.Channel{a, c}, []chat.Channel{c, a}))
	assert.False(t, sameTargets([]chat.Channel{a}, []chat.Channel{b}), "server id is part of the key")
	assert.False(t, sameTargets([]chat.Channel{a}, []chat.Channel{c}))
	assert.False(t, sameTargets([]chat.Channel{a}, []chat.Channel{a, c}))
}
