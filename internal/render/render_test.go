package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/stream"
)

func liveEvent() stream.Event {
	start := time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
	return stream.Event{
		AccountID: "alice",
		SubjectID: "42",
		IsLive:    true,
		Timestamp: start.Add(90 * time.Minute),
		Display: stream.Display{
			Platform:        "Twitch",
			UserName:        "Alice",
			Title:           "Speedrunning",
			Game:            "Celeste",
			ViewerCount:     17,
			StartedAt:       start,
			URL:             "https://twitch.tv/alice",
			ThumbnailURL:    "https://cdn/alice-1280x720.jpg",
			ProfileImageURL: "https://cdn/alice.png",
		},
	}
}

func TestRenderLive(t *testing.T) {
	r := New(Options{ShowThumbnail: true, ShowImage: true, Color: 0x123456})
	c := r.Render(liveEvent(), "@everyone")

	assert.Equal(t, "**Alice** is live on Twitch! @everyone", c.Text)
	require.NotNil(t, c.Embed)
	assert.Equal(t, "Speedrunning", c.Embed.Title)
	assert.Equal(t, 0x123456, c.Embed.Color)
	assert.Equal(t, "https://cdn/alice.png", c.Embed.ThumbnailURL)
	assert.Contains(t, c.Embed.ImageURL, "t=")
	require.Len(t, c.Embed.Fields, 3)
	assert.Equal(t, "1h 30m", c.Embed.Fields[2].Value)
}

func TestRenderOfflineHidesImage(t *testing.T) {
	r := New(Options{ShowThumbnail: false, ShowImage: true})
	c := r.Render(liveEvent().Offline(time.Date(2026, 1, 2, 17, 0, 0, 0, time.UTC)), "")

	assert.Equal(t, "**Alice** was live on Twitch.", c.Text)
	assert.Empty(t, c.Embed.ImageURL)
	assert.Empty(t, c.Embed.ThumbnailURL)
	assert.Equal(t, "Duration", c.Embed.Fields[len(c.Embed.Fields)-1].Name)
}

func TestParseColor(t *testing.T) {
	cases := map[string]int{
		"":         DefaultColor,
		"#ff0000":  0xFF0000,
		"0x00FF00": 0x00FF00,
		"255":      255,
		"Purple":   0x9146FF,
	}
	for in, want := range cases {
		got, err := ParseColor(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseColor("#zzzzzz")
	assert.Error(t, err)
	_, err = ParseColor("#1000000")
	assert.Error(t, err)
}
