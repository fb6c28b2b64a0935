package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixFilterAndDrops(t *testing.T) {
	b := New()
	relay, unsubRelay := b.Subscribe(1, TypeRelayPrefix)
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()

	b.Publish(Event{Type: "relay.sent"})
	b.Publish(Event{Type: TypePollFailed})
	b.Publish(Event{Type: "relay.edited"})

	ev := <-relay
	assert.Equal(t, "relay.sent", ev.Type)
	assert.False(t, ev.Time.IsZero())
	assert.Len(t, all, 3)
	assert.Equal(t, uint64(1), b.Dropped(), "second relay event overflowed the 1-slot buffer")

	unsubRelay()
	unsubRelay()
	_, ok := <-relay
	require.False(t, ok)
	b.Publish(Event{Type: "relay.sent"})
}
