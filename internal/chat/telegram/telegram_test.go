package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"streamrelay/internal/chat"
	logx "streamrelay/pkg/logx"
)

type fakeAPI struct {
	chats   map[int64]*tele.Chat
	members map[int64]*tele.ChatMember
	sent    []string
	edited  []string
	editErr error
	nextID  int
}

func (f *fakeAPI) ChatByID(id int64) (*tele.Chat, error) {
	if c, ok := f.chats[id]; ok {
		return c, nil
	}
	return nil, errors.New("telegram: Bad Request: chat not found (400)")
}

func (f *fakeAPI) ChatMemberOf(c, _ tele.Recipient) (*tele.ChatMember, error) {
	tc := c.(*tele.Chat)
	if m, ok := f.members[tc.ID]; ok {
		return m, nil
	}
	return &tele.ChatMember{Role: tele.Member}, nil
}

func (f *fakeAPI) Send(_ tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	f.nextID++
	f.sent = append(f.sent, what.(string))
	return &tele.Message{ID: f.nextID}, nil
}

func (f *fakeAPI) Edit(_ tele.Editable, what interface{}, _ ...interface{}) (*tele.Message, error) {
	if f.editErr != nil {
		return nil, f.editErr
	}
	f.edited = append(f.edited, what.(string))
	return &tele.Message{}, nil
}

func TestServers(t *testing.T) {
	api := &fakeAPI{
		chats: map[int64]*tele.Chat{
			-100: {ID: -100, Title: "Streams"},
			-200: {ID: -200, Title: "Muted"},
			-300: {ID: -300, Title: "Gone"},
		},
		members: map[int64]*tele.ChatMember{
			-200: {Role: tele.Restricted},
			-300: {Role: tele.Kicked},
		},
	}
	c := newClient(Config{Chats: []Chat{
		{ID: -100, Channels: map[string]int{"Live": 7}, Roles: map[string][]string{"mods": {"@alice", "bob"}, "empty": nil}},
		{ID: -200},
		{ID: -300},
		{ID: -400},
	}}, api, &tele.User{ID: 1}, logx.Nop())

	servers, err := c.Servers(context.Background())
	require.NoError(t, err)
	require.Len(t, servers, 2)

	s := servers[0]
	assert.Equal(t, "-100", s.ID)
	require.Len(t, s.Channels, 1)
	assert.Equal(t, "live", s.Channels[0].Name)
	assert.Equal(t, "-100/7", s.Channels[0].ID)
	assert.True(t, s.Channels[0].CanSend)
	role, ok := s.FindRole("MODS")
	require.True(t, ok)
	assert.Equal(t, "@alice @bob", role.Mention)
	_, ok = s.FindRole("empty")
	assert.False(t, ok)

	muted := servers[1]
	require.Len(t, muted.Channels, 1)
	assert.Equal(t, DefaultChannel, muted.Channels[0].Name)
	assert.False(t, muted.Channels[0].CanSend)
}

func TestSendEdit(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(Config{}, api, nil, logx.Nop())
	ch := chat.Channel{ID: "-100/0"}

	id, err := c.Send(context.Background(), ch, chat.Content{Text: "@alice **Bob** is live on Twitch!"})
	require.NoError(t, err)
	assert.Equal(t, "1", id)
	assert.Equal(t, "@alice <b>Bob</b> is live on Twitch!", api.sent[0])

	m, err := c.Fetch(context.Background(), ch, id)
	require.NoError(t, err)
	require.NoError(t, c.Edit(context.Background(), m, chat.Content{Text: "**Bob** was live on Twitch."}))
	assert.Equal(t, []string{"<b>Bob</b> was live on Twitch."}, api.edited)

	api.editErr = errors.New("telegram: Bad Request: message is not modified (400)")
	assert.NoError(t, c.Edit(context.Background(), m, chat.Content{Text: "x"}))

	api.editErr = errors.New("telegram: Bad Request: message to edit not found (400)")
	err = c.Edit(context.Background(), m, chat.Content{Text: "x"})
	assert.ErrorIs(t, err, chat.ErrNotFound)

	api.editErr = errors.New("telegram: Too Many Requests: retry after 5 (429)")
	err = c.Edit(context.Background(), m, chat.Content{Text: "x"})
	require.Error(t, err)
	assert.Equal(t, chat.KindOther, chat.KindOf(err))
}

func TestFetchRejectsBadID(t *testing.T) {
	c := newClient(Config{}, &fakeAPI{}, nil, logx.Nop())
	_, err := c.Fetch(context.Background(), chat.Channel{ID: "-1/0"}, "abc")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestRenderHTML(t *testing.T) {
	out := renderHTML(chat.Content{
		Text: "**A<b>** is live",
		Embed: &chat.Embed{
			Title:    "Speedrun & chill",
			URL:      "https://www.twitch.tv/a",
			Fields:   []chat.EmbedField{{Name: "Game", Value: "Celeste"}},
			ImageURL: "https://cdn/x.jpg",
		},
	})
	assert.Contains(t, out, "<b>A&lt;b&gt;</b> is live")
	assert.Contains(t, out, `<a href="https://www.twitch.tv/a">Speedrun &amp; chill</a>`)
	assert.Contains(t, out, "<b>Game:</b> Celeste")
	assert.Contains(t, out, `<a href="https://cdn/x.jpg">`)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("ab<b>cd</b>", 4))
}

func TestEditClassifiesTelebotErrors(t *testing.T) {
	api := &fakeAPI{}
	c := newClient(Config{}, api, nil, logx.Nop())
	m := &chat.Message{ID: "7", Channel: chat.Channel{ID: "-100/0"}}

	api.editErr = fmt.Errorf("edit: %w", tele.ErrMessageNotModified)
	assert.NoError(t, c.Edit(context.Background(), m, chat.Content{Text: "x"}))

	for _, gone := range []error{tele.ErrNotFoundToEdit, tele.ErrCantEditMessage, tele.ErrChatNotFound} {
		api.editErr = fmt.Errorf("edit: %w", gone)
		err := c.Edit(context.Background(), m, chat.Content{Text: "x"})
		assert.ErrorIs(t, err, chat.ErrNotFound, gone.Error())
		assert.ErrorIs(t, err, gone)
	}
}
