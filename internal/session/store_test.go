package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStoreSetGetClear(t *testing.T) {
	s := NewStore()

	_, ok := s.Get(1)
	assert.False(t, ok)

	ctx := Context{Title: "Jigokuraku", Season: 2, Episode: 5, Domain: "example.com"}
	s.Set(1, ctx)

	got, ok := s.Get(1)
	assert.True(t, ok)
	assert.Equal(t, ctx, got)

	s.Clear(1)
	_, ok = s.Get(1)
	assert.False(t, ok)
}

func TestSignatureNormalizes(t *testing.T) {
	a := Context{Title: "Jigokuraku [VOSTFR]", Season: 2, Episode: 5}
	b := Context{Title: "jigokuraku", Season: 2, Episode: 5}
	assert.Equal(t, a.Signature(), b.Signature())

	c := Context{Title: "jigokuraku", Season: 2, Episode: 6}
	assert.NotEqual(t, a.Signature(), c.Signature())

	// Unknown season and season 1 are the same episode.
	d := Context{Title: "One Piece", Episode: 3}
	e := Context{Title: "One Piece", Season: 1, Episode: 3}
	assert.Equal(t, d.Signature(), e.Signature())
}

func TestEpisodeKey(t *testing.T) {
	ctx := Context{Title: "Jigokuraku", Season: 2, Episode: 5}
	assert.Equal(t, "jigokuraku|s2|e5", ctx.EpisodeKey())
}

func TestTabs(t *testing.T) {
	s := NewStore()
	s.Set(1, Context{Title: "A", Episode: 1})
	s.Set(7, Context{Title: "B", Episode: 2})

	tabs := s.Tabs()
	assert.ElementsMatch(t, []int{1, 7}, tabs)
}
