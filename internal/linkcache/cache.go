// Package linkcache persists the mapping from normalized title/season
// keys to catalog anime ids so a show is resolved against the search
// API once, not on every watched episode.
package linkcache

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vualdirr/Hyak-Tracker/internal/database"
	"github.com/vualdirr/Hyak-Tracker/internal/match"
)

const (
	// MaxEntries caps the table; oldest entries beyond it are evicted.
	MaxEntries = 200
	// TTL is how long an unused mapping survives.
	TTL = 30 * 24 * time.Hour
)

// Entry is a cached title-to-anime mapping.
type Entry struct {
	Key       string    `json:"key"`
	AnimeID   int       `json:"animeId"`
	Season    int       `json:"season"`
	TitleRaw  string    `json:"titleRaw"`
	Auto      bool      `json:"auto"`
	MatchedOn string    `json:"matchedOn,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Queries   []string  `json:"queries,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Cache is the persistent link store.
type Cache struct {
	db         *gorm.DB
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// New creates a cache with production limits.
func New(db *gorm.DB) *Cache {
	return &Cache{
		db:         db,
		maxEntries: MaxEntries,
		ttl:        TTL,
		now:        time.Now,
	}
}

// WithLimits overrides retention limits, used by tests.
func (c *Cache) WithLimits(maxEntries int, ttl time.Duration) *Cache {
	c.maxEntries = maxEntries
	c.ttl = ttl
	return c
}

// WithClock overrides the clock, used by tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Key builds the cache key for a title and season.
func Key(title string, season int) string {
	return match.AnimeKey(title, season)
}

// Lookup returns the entry for a key, or (nil, nil) on a miss.
func (c *Cache) Lookup(key string) (*Entry, error) {
	var rec database.AnimeLink
	err := c.db.Where("key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("link lookup: %w", err)
	}
	e := fromModel(rec)
	return &e, nil
}

// Upsert inserts or replaces the entry for its key and refreshes its
// timestamp.
func (c *Cache) Upsert(e Entry) error {
	if e.Key == "" {
		return fmt.Errorf("link upsert: empty key")
	}
	if e.AnimeID <= 0 {
		return fmt.Errorf("link upsert: invalid anime id %d", e.AnimeID)
	}

	rec := database.AnimeLink{
		Key:       e.Key,
		AnimeID:   e.AnimeID,
		Season:    e.Season,
		TitleRaw:  e.TitleRaw,
		Auto:      e.Auto,
		MatchedOn: e.MatchedOn,
		Score:     e.Score,
		Queries:   strings.Join(e.Queries, " | "),
		UpdatedAt: c.now(),
	}

	err := c.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"anime_id", "season", "title_raw", "auto",
			"matched_on", "score", "queries", "updated_at",
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("link upsert: %w", err)
	}
	return nil
}

// Cleanup drops entries older than the TTL and then trims the table to
// its size cap, newest first. Runs after every successful commit.
func (c *Cache) Cleanup() error {
	cutoff := c.now().Add(-c.ttl)
	if err := c.db.Where("updated_at < ?", cutoff).Delete(&database.AnimeLink{}).Error; err != nil {
		return fmt.Errorf("link cleanup: %w", err)
	}

	var count int64
	if err := c.db.Model(&database.AnimeLink{}).Count(&count).Error; err != nil {
		return fmt.Errorf("link cleanup: %w", err)
	}
	if count <= int64(c.maxEntries) {
		return nil
	}

	// Keep the newest maxEntries rows.
	var keep []uint
	err := c.db.Model(&database.AnimeLink{}).
		Order("updated_at DESC").
		Limit(c.maxEntries).
		Pluck("id", &keep).Error
	if err != nil {
		return fmt.Errorf("link cleanup: %w", err)
	}

	if err := c.db.Where("id NOT IN ?", keep).Delete(&database.AnimeLink{}).Error; err != nil {
		return fmt.Errorf("link cleanup: %w", err)
	}
	return nil
}

// List returns all entries, newest first.
func (c *Cache) List() ([]Entry, error) {
	var recs []database.AnimeLink
	if err := c.db.Order("updated_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("link list: %w", err)
	}

	out := make([]Entry, len(recs))
	for i, rec := range recs {
		out[i] = fromModel(rec)
	}
	return out, nil
}

// Delete removes the entry for a key. Deleting a missing key is not an
// error.
func (c *Cache) Delete(key string) error {
	if err := c.db.Where("key = ?", key).Delete(&database.AnimeLink{}).Error; err != nil {
		return fmt.Errorf("link delete: %w", err)
	}
	return nil
}

// Filter fuzzy-filters the stored entries by their raw title, best
// matches first. An empty pattern returns everything.
func (c *Cache) Filter(pattern string) ([]Entry, error) {
	entries, err := c.List()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(pattern) == "" {
		return entries, nil
	}

	titles := make([]string, len(entries))
	for i, e := range entries {
		titles[i] = e.TitleRaw
	}

	matches := fuzzy.Find(pattern, titles)
	out := make([]Entry, 0, len(matches))
	for _, m := range matches {
		out = append(out, entries[m.Index])
	}
	return out, nil
}

func fromModel(rec database.AnimeLink) Entry {
	e := Entry{
		Key:       rec.Key,
		AnimeID:   rec.AnimeID,
		Season:    rec.Season,
		TitleRaw:  rec.TitleRaw,
		Auto:      rec.Auto,
		MatchedOn: rec.MatchedOn,
		Score:     rec.Score,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.Queries != "" {
		e.Queries = strings.Split(rec.Queries, " | ")
	}
	return e
}
