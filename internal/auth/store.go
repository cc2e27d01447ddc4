// Package auth stores the Hyakanime bearer token and derives the user
// id from it.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

const tokenSettingKey = "hyakanime_token"

// ErrNoToken is returned when no token is stored.
var ErrNoToken = errors.New("auth: no token configured")

// ErrNoUID is returned when a stored token carries no usable user id.
var ErrNoUID = errors.New("auth: token has no user id")

// Store persists the token and caches the uid decoded from it.
type Store struct {
	db *gorm.DB

	mu  sync.Mutex
	uid string
}

// NewStore creates a token store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SetToken validates and persists a raw token. A leading "Bearer "
// prefix is tolerated since tokens tend to be copied out of request
// headers. Returns the derived uid.
func (s *Store) SetToken(raw string) (string, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Bearer "))
	if raw == "" {
		return "", ErrNoToken
	}

	uid, err := uidFromToken(raw)
	if err != nil {
		return "", err
	}

	token := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	data, err := json.Marshal(token)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token: %w", err)
	}

	err = s.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, tokenSettingKey, string(data), time.Now()).Error
	if err != nil {
		return "", fmt.Errorf("failed to save token: %w", err)
	}

	s.mu.Lock()
	s.uid = uid
	s.mu.Unlock()

	return uid, nil
}

// Token returns the stored raw token.
func (s *Store) Token() (string, error) {
	var value string
	err := s.db.Raw("SELECT value FROM settings WHERE key = ?", tokenSettingKey).Scan(&value).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to load token: %w", err)
	}
	if value == "" {
		return "", ErrNoToken
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(value), &token); err != nil {
		return "", fmt.Errorf("failed to unmarshal token: %w", err)
	}
	if token.AccessToken == "" {
		return "", ErrNoToken
	}
	return token.AccessToken, nil
}

// UID returns the user id derived from the stored token.
func (s *Store) UID() (string, error) {
	s.mu.Lock()
	if s.uid != "" {
		uid := s.uid
		s.mu.Unlock()
		return uid, nil
	}
	s.mu.Unlock()

	raw, err := s.Token()
	if err != nil {
		return "", err
	}

	uid, err := uidFromToken(raw)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.uid = uid
	s.mu.Unlock()
	return uid, nil
}

// Clear removes the stored token.
func (s *Store) Clear() error {
	if err := s.db.Exec("DELETE FROM settings WHERE key = ?", tokenSettingKey).Error; err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	s.mu.Lock()
	s.uid = ""
	s.mu.Unlock()
	return nil
}

// uidFromToken decodes the JWT payload without verifying the
// signature; verification is the server's job, we only need the id
// claim. Accepted claims in order: uid, _id, sub.
func uidFromToken(raw string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return "", fmt.Errorf("auth: undecodable token: %w", err)
	}

	for _, name := range []string{"uid", "_id", "sub"} {
		if v, ok := claims[name]; ok {
			if uid := claimString(v); uid != "" {
				return uid, nil
			}
		}
	}
	return "", ErrNoUID
}

func claimString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
