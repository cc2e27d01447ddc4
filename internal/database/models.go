package database

import (
	"time"

	"gorm.io/gorm"
)

// AnimeLink memoizes a resolved title/season pair to a catalog anime id.
type AnimeLink struct {
	ID       uint   `gorm:"primaryKey"`
	Key      string `gorm:"not null;uniqueIndex"` // normalized title + season
	AnimeID  int    `gorm:"not null;index"`
	Season   int    `gorm:"default:1"`
	TitleRaw string `gorm:"not null"`
	Auto     bool   `gorm:"default:false"` // true when resolved automatically
	// Provenance of an automatic resolution, kept for the mapping
	// management view.
	MatchedOn string    `gorm:""`
	Score     float64   `gorm:"default:0.0"`
	Queries   string    `gorm:""` // query plan that produced the match, joined with " | "
	UpdatedAt time.Time `gorm:"index;default:CURRENT_TIMESTAMP"`
}

// TableName overrides the table name
func (AnimeLink) TableName() string {
	return "anime_links"
}

// MarkEntry is one progression change recorded for undo.
type MarkEntry struct {
	ID         uint      `gorm:"primaryKey"`
	AnimeID    int       `gorm:"not null;index"`
	OldEpisode *int      `gorm:"default:NULL"` // nil when no record existed before
	NewEpisode int       `gorm:"not null"`
	Date       time.Time `gorm:"index;default:CURRENT_TIMESTAMP"`
}

// TableName overrides the table name
func (MarkEntry) TableName() string {
	return "mark_history"
}

// Setting represents a key-value store for application settings
type Setting struct {
	Key       string    `gorm:"primaryKey"`
	Value     string    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"default:CURRENT_TIMESTAMP"`
}

// TableName overrides the table name
func (Setting) TableName() string {
	return "settings"
}

// Migrate runs database migrations
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&AnimeLink{},
		&MarkEntry{},
		&Setting{},
	)
}
