// Package history keeps the short undo log of progression changes.
package history

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/vualdirr/Hyak-Tracker/internal/database"
)

// ErrIndexOutOfRange is returned for an index outside the current log.
var ErrIndexOutOfRange = errors.New("history index out of range")

// MaxEntries is the size of the undo window. Older entries are evicted
// on append.
const MaxEntries = 10

// Entry is one recorded progression change, newest first in listings.
type Entry struct {
	AnimeID    int       `json:"animeId"`
	OldEpisode *int      `json:"oldEpisode"` // nil when no record existed before
	NewEpisode int       `json:"newEpisode"`
	Date       time.Time `json:"date"`
}

// Service provides history management functionality
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService creates a new history service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// WithClock overrides the clock, used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Append records a progression change. When the newest entry already
// covers the same anime and episode only its timestamp is refreshed,
// so a retried commit does not burn an undo slot. The log is capped at
// MaxEntries, evicting the oldest.
func (s *Service) Append(e Entry) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	var head database.MarkEntry
	err := s.db.Order("date DESC, id DESC").First(&head).Error
	if err == nil && head.AnimeID == e.AnimeID && head.NewEpisode == e.NewEpisode {
		head.Date = s.now()
		return s.db.Save(&head).Error
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		return fmt.Errorf("failed to read history head: %w", err)
	}

	rec := database.MarkEntry{
		AnimeID:    e.AnimeID,
		OldEpisode: e.OldEpisode,
		NewEpisode: e.NewEpisode,
		Date:       s.now(),
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	return s.trim()
}

// List returns the log, newest first.
func (s *Service) List() ([]Entry, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	var recs []database.MarkEntry
	err := s.db.Order("date DESC, id DESC").Limit(MaxEntries).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	out := make([]Entry, len(recs))
	for i, rec := range recs {
		out[i] = Entry{
			AnimeID:    rec.AnimeID,
			OldEpisode: rec.OldEpisode,
			NewEpisode: rec.NewEpisode,
			Date:       rec.Date,
		}
	}
	return out, nil
}

// Get returns the entry at a list index (0 = newest).
func (s *Service) Get(index int) (*Entry, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(entries) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	e := entries[index]
	return &e, nil
}

// Remove deletes the entry at a list index (0 = newest).
func (s *Service) Remove(index int) error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}

	var recs []database.MarkEntry
	err := s.db.Order("date DESC, id DESC").Limit(MaxEntries).Find(&recs).Error
	if err != nil {
		return fmt.Errorf("failed to fetch history: %w", err)
	}
	if index < 0 || index >= len(recs) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	return s.db.Delete(&database.MarkEntry{}, recs[index].ID).Error
}

// NewestIndexFor returns the list index of the most recent entry for an
// anime, or -1 when the anime has no entry. Undo is only allowed at
// this index.
func (s *Service) NewestIndexFor(animeID int) (int, error) {
	entries, err := s.List()
	if err != nil {
		return -1, err
	}
	for i, e := range entries {
		if e.AnimeID == animeID {
			return i, nil
		}
	}
	return -1, nil
}

// trim evicts entries beyond the cap, oldest first.
func (s *Service) trim() error {
	var count int64
	if err := s.db.Model(&database.MarkEntry{}).Count(&count).Error; err != nil {
		return err
	}
	if count <= MaxEntries {
		return nil
	}

	var keep []uint
	err := s.db.Model(&database.MarkEntry{}).
		Order("date DESC, id DESC").
		Limit(MaxEntries).
		Pluck("id", &keep).Error
	if err != nil {
		return err
	}

	return s.db.Where("id NOT IN ?", keep).Delete(&database.MarkEntry{}).Error
}
