package auth

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vualdirr/Hyak-Tracker/internal/database"
)

// makeToken builds an unsigned JWT with the given claims; the store
// never verifies signatures.
func makeToken(t *testing.T, claims map[string]any) string {
	t.Helper()

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	body := base64.RawURLEncoding.EncodeToString(payload)
	sig := base64.RawURLEncoding.EncodeToString([]byte("sig"))

	return header + "." + body + "." + sig
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	return NewStore(db)
}

func TestSetTokenDerivesUID(t *testing.T) {
	s := newTestStore(t)

	uid, err := s.SetToken(makeToken(t, map[string]any{"uid": "user-123"}))
	require.NoError(t, err)
	assert.Equal(t, "user-123", uid)

	got, err := s.UID()
	require.NoError(t, err)
	assert.Equal(t, "user-123", got)
}

func TestSetTokenStripsBearerPrefix(t *testing.T) {
	s := newTestStore(t)
	raw := makeToken(t, map[string]any{"uid": "user-123"})

	uid, err := s.SetToken("Bearer " + raw)
	require.NoError(t, err)
	assert.Equal(t, "user-123", uid)

	stored, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, raw, stored)
}

func TestUIDClaimFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]any
		want   string
	}{
		{"uid claim", map[string]any{"uid": "a"}, "a"},
		{"_id claim", map[string]any{"_id": "b"}, "b"},
		{"sub claim", map[string]any{"sub": "c"}, "c"},
		{"uid wins over sub", map[string]any{"uid": "a", "sub": "c"}, "a"},
		{"numeric uid", map[string]any{"uid": 12345}, "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			uid, err := s.SetToken(makeToken(t, tt.claims))
			require.NoError(t, err)
			assert.Equal(t, tt.want, uid)
		})
	}
}

func TestSetTokenRejectsGarbage(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SetToken("not-a-jwt")
	assert.Error(t, err)

	_, err = s.SetToken("")
	assert.ErrorIs(t, err, ErrNoToken)

	// Decodable but without any id claim.
	_, err = s.SetToken(makeToken(t, map[string]any{"role": "admin"}))
	assert.ErrorIs(t, err, ErrNoUID)
}

func TestUIDWithoutToken(t *testing.T) {
	s := newTestStore(t)
	_, err := s.UID()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SetToken(makeToken(t, map[string]any{"uid": "user-123"}))
	require.NoError(t, err)

	require.NoError(t, s.Clear())

	_, err = s.Token()
	assert.ErrorIs(t, err, ErrNoToken)
	_, err = s.UID()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestUIDSurvivesRestart(t *testing.T) {
	db, err := database.OpenMemory()
	require.NoError(t, err)

	s1 := NewStore(db)
	_, err = s1.SetToken(makeToken(t, map[string]any{"uid": "user-123"}))
	require.NoError(t, err)

	// A fresh store over the same database re-derives the uid from the
	// persisted token.
	s2 := NewStore(db)
	uid, err := s2.UID()
	require.NoError(t, err)
	assert.Equal(t, "user-123", uid)
}
