// Package session tracks the stream context reported by each browser
// tab.
package session

import (
	"sync"

	"github.com/vualdirr/Hyak-Tracker/internal/match"
)

// Context is what a site adapter knows about the stream in a tab.
// Season 0 means unknown and is treated as season 1 downstream.
type Context struct {
	Title      string  `json:"title"`
	Season     int     `json:"season,omitempty"`
	Episode    int     `json:"episode"`
	Domain     string  `json:"domain,omitempty"`
	PageURL    string  `json:"pageUrl,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Signature is a normalized identity for change detection: it only
// moves when the watched episode actually changes.
func (c Context) Signature() string {
	return c.EpisodeKey()
}

// EpisodeKey is the mark-idempotency key for the context.
func (c Context) EpisodeKey() string {
	return match.EpisodeKey(c.Title, c.Season, c.Episode)
}

// Store holds per-tab contexts. Safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	byTab map[int]Context
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byTab: make(map[int]Context)}
}

// Set records the context for a tab.
func (s *Store) Set(tab int, ctx Context) {
	s.mu.Lock()
	s.byTab[tab] = ctx
	s.mu.Unlock()
}

// Get returns the context for a tab.
func (s *Store) Get(tab int) (Context, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.byTab[tab]
	return ctx, ok
}

// Clear drops the context for a tab.
func (s *Store) Clear(tab int) {
	s.mu.Lock()
	delete(s.byTab, tab)
	s.mu.Unlock()
}

// Tabs lists the tabs with a known context.
func (s *Store) Tabs() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.byTab))
	for tab := range s.byTab {
		out = append(out, tab)
	}
	return out
}
