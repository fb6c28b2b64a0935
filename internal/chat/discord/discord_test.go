package discord

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/chat"
)

func TestBuildServers(t *testing.T) {
	g := &discordgo.Guild{
		ID:   "g1",
		Name: "Friends",
		Channels: []*discordgo.Channel{
			{ID: "c2", Name: "Streams", Type: discordgo.ChannelTypeGuildText},
			{ID: "c1", Name: "voice", Type: discordgo.ChannelTypeGuildVoice},
			{ID: "c3", Name: "streams", Type: discordgo.ChannelTypeGuildNews},
		},
		Roles: []*discordgo.Role{
			{ID: "g1", Name: "@everyone"},
			{ID: "r1", Name: "Viewers"},
		},
	}
	perms := func(id string) (int64, error) {
		if id == "c3" {
			return discordgo.PermissionViewChannel, nil
		}
		return discordgo.PermissionViewChannel | discordgo.PermissionSendMessages, nil
	}

	servers := buildServers([]*discordgo.Guild{g, {ID: "g2", Unavailable: true}}, perms)
	require.Len(t, servers, 1)
	s := servers[0]
	require.Len(t, s.Channels, 3)
	assert.Equal(t, "c1", s.Channels[0].ID)
	assert.False(t, s.Channels[0].Text)
	assert.Equal(t, "streams", s.Channels[1].Name)
	assert.True(t, s.Channels[1].CanSend)
	assert.True(t, s.Channels[2].Text)
	assert.False(t, s.Channels[2].CanSend)

	require.Len(t, s.Roles, 1)
	r, ok := s.FindRole("viewers")
	require.True(t, ok)
	assert.Equal(t, "<@&r1>", r.Mention)
}

func TestClassify(t *testing.T) {
	unknown := &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage, Message: "Unknown Message"}}
	assert.ErrorIs(t, classify(unknown), chat.ErrNotFound)

	gone := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}
	assert.ErrorIs(t, classify(gone), chat.ErrNotFound)

	forbidden := &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeMissingPermissions},
	}
	assert.Equal(t, chat.KindOther, chat.KindOf(classify(forbidden)))

	plain := errors.New("boom")
	assert.Equal(t, plain, classify(plain))
}

func TestToEmbed(t *testing.T) {
	assert.Nil(t, toEmbed(nil))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := toEmbed(&chat.Embed{
		Title:        "title",
		Color:        0x9146FF,
		AuthorName:   "Alice",
		ThumbnailURL: "thumb",
		Fields:       []chat.EmbedField{{Name: "Game", Value: "Celeste", Inline: true}},
		Timestamp:    ts,
	})
	require.NotNil(t, e.Author)
	assert.Equal(t, "Alice", e.Author.Name)
	assert.Equal(t, "thumb", e.Thumbnail.URL)
	assert.Nil(t, e.Image)
	assert.Nil(t, e.Footer)
	require.Len(t, e.Fields, 1)
	assert.True(t, e.Fields[0].Inline)
	assert.Equal(t, "2026-01-02T03:04:05Z", e.Timestamp)

	m := messageSend(chat.Content{Text: "@everyone hi"})
	assert.Empty(t, m.Embeds)
	assert.Equal(t, "@everyone hi", m.Content)
}
