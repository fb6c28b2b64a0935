package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamrelay/internal/chat"
)

func TestResolve(t *testing.T) {
	srv := chat.Server{
		ID:   "g1",
		Name: "Guild One",
		Roles: []chat.Role{
			{ID: "r1", Name: "Streamers", Mention: "<@&r1>"},
		},
	}

	cases := []struct {
		name  string
		spec  string
		token string
		warn  bool
	}{
		{"empty", "", "", false},
		{"everyone", "everyone", "@everyone", false},
		{"here mixed case", "HeRe", "@here", false},
		{"role case-insensitive", "streamers", "<@&r1>", false},
		{"role upper", "STREAMERS", "<@&r1>", false},
		{"missing role", "subs", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tok, w := Resolve(tc.spec, srv)
			assert.Equal(t, tc.token, tok)
			if !tc.warn {
				assert.Nil(t, w)
				return
			}
			require.NotNil(t, w)
			assert.Equal(t, "subs", w.Role)
			assert.Contains(t, w.String(), "Guild One")
		})
	}
}

func TestLookup(t *testing.T) {
	m := map[string]string{"alice": "everyone"}
	assert.Equal(t, "everyone", Lookup(m, "Alice"))
	assert.Equal(t, "", Lookup(m, "bob"))
	assert.Equal(t, "", Lookup(nil, "alice"))
}
