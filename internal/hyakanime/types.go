package hyakanime

import "time"

// Watch status values used by the progression API.
const (
	StatusWatching   = 1
	StatusPaused     = 2
	StatusCompleted  = 3
	StatusDropped    = 4
	StatusPlanned    = 5
	StatusRewatching = 6
)

// Titles holds the known title variants of a catalog entry.
type Titles struct {
	FR     string `json:"fr,omitempty"`
	EN     string `json:"en,omitempty"`
	JP     string `json:"jp,omitempty"`
	Romaji string `json:"romaji,omitempty"`
}

// AnimeSummary is a catalog search result after normalization.
type AnimeSummary struct {
	ID            int    `json:"id"`
	Titles        Titles `json:"titles"`
	DisplayTitle  string `json:"displayTitle"`
	Poster        string `json:"poster,omitempty"`
	Status        int    `json:"status,omitempty"`
	TotalEpisodes int    `json:"totalEpisodes,omitempty"`
}

// TitleVariants returns the non-empty title variants, display title
// first, in a stable order.
func (a AnimeSummary) TitleVariants() []string {
	out := make([]string, 0, 5)
	for _, t := range []string{a.DisplayTitle, a.Titles.FR, a.Titles.EN, a.Titles.JP, a.Titles.Romaji} {
		if t == "" {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == t {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	return out
}

// MediaDetail describes the media half of a progression lookup.
type MediaDetail struct {
	ID            int    `json:"id"`
	Status        int    `json:"status,omitempty"`
	DisplayTitle  string `json:"displayTitle"`
	Titles        Titles `json:"titles"`
	PosterURL     string `json:"posterUrl,omitempty"`
	BannerURL     string `json:"bannerUrl,omitempty"`
	TotalEpisodes int    `json:"totalEpisodes,omitempty"`
}

// Progress is the user-side half of a progression lookup. A nil
// Progress on ProgressionDetail means the user has no record for the
// anime yet.
type Progress struct {
	CurrentEpisode int        `json:"currentEpisode"`
	Status         int        `json:"status"`
	StartDate      *time.Time `json:"startDate,omitempty"`
	EndDate        *time.Time `json:"endDate,omitempty"`
	LastChange     *time.Time `json:"lastChange,omitempty"`
}

// ProgressionDetail is the normalized response of a progression lookup.
type ProgressionDetail struct {
	Media      MediaDetail `json:"media"`
	Progress   *Progress   `json:"progress,omitempty"`
	IsFavorite bool        `json:"isFavorite,omitempty"`
}

// WriteRequest is the payload accepted by the progression write
// endpoint. Optional dates are omitted when unset so the server keeps
// its stored values.
type WriteRequest struct {
	UID         string     `json:"id"`
	AnimeID     int        `json:"animeID"`
	Progression int        `json:"progression"`
	Status      int        `json:"status"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	LastChange  *time.Time `json:"lastChange,omitempty"`
}
