package hyakanime

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// The API is not perfectly consistent across endpoints: some responses
// arrive wrapped in a "data" envelope, timestamps show up both as epoch
// milliseconds and as ISO strings, and search results use legacy field
// names (romanji, NbEpisodes). Everything in this file exists to absorb
// that so the rest of the codebase only ever sees the normalized types.

// envelope unwraps an optional {"data": ...} wrapper.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

func unwrapData(raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 {
		return env.Data
	}
	return raw
}

// wireTime accepts epoch milliseconds, epoch seconds, or an RFC 3339
// string. Zero and null both decode to a nil time.
type wireTime struct {
	t *time.Time
}

func (w *wireTime) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if s == "null" || s == `""` || s == "0" {
		return nil
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		var t time.Time
		if n > 1e12 { // milliseconds
			t = time.UnixMilli(n).UTC()
		} else {
			t = time.Unix(n, 0).UTC()
		}
		w.t = &t
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, str); err == nil {
		t = t.UTC()
		w.t = &t
	}
	return nil
}

type wireAnime struct {
	ID         int    `json:"id"`
	Title      string `json:"title"`
	TitleEN    string `json:"titleEN"`
	TitleJP    string `json:"titleJP"`
	Romanji    string `json:"romanji"`
	NbEpisodes int    `json:"NbEpisodes"`
	Poster     string `json:"poster"`
	Image      string `json:"image"`
	Banner     string `json:"banner"`
	Status     int    `json:"status"`
}

func (w wireAnime) summary() AnimeSummary {
	s := AnimeSummary{
		ID: w.ID,
		Titles: Titles{
			FR:     w.Title,
			EN:     w.TitleEN,
			JP:     w.TitleJP,
			Romaji: w.Romanji,
		},
		Poster:        w.Poster,
		Status:        w.Status,
		TotalEpisodes: w.NbEpisodes,
	}
	if s.Poster == "" {
		s.Poster = w.Image
	}
	s.DisplayTitle = firstNonEmpty(w.Title, w.Romanji, w.TitleEN, w.TitleJP)
	return s
}

func (w wireAnime) media() MediaDetail {
	s := w.summary()
	return MediaDetail{
		ID:            s.ID,
		Status:        s.Status,
		DisplayTitle:  s.DisplayTitle,
		Titles:        s.Titles,
		PosterURL:     s.Poster,
		BannerURL:     w.Banner,
		TotalEpisodes: s.TotalEpisodes,
	}
}

type wireProgression struct {
	Progression *int     `json:"progression"`
	Status      int      `json:"status"`
	StartDate   wireTime `json:"startDate"`
	EndDate     wireTime `json:"endDate"`
	LastChange  wireTime `json:"lastChange"`
}

type wireProgressionDetail struct {
	Anime       wireAnime        `json:"anime"`
	Progression *wireProgression `json:"progression"`
	IsFavorite  bool             `json:"isFavorite"`
}

func (w wireProgressionDetail) detail() *ProgressionDetail {
	d := &ProgressionDetail{
		Media:      w.Anime.media(),
		IsFavorite: w.IsFavorite,
	}
	if w.Progression != nil {
		p := &Progress{
			Status:     w.Progression.Status,
			StartDate:  w.Progression.StartDate.t,
			EndDate:    w.Progression.EndDate.t,
			LastChange: w.Progression.LastChange.t,
		}
		if w.Progression.Progression != nil {
			p.CurrentEpisode = *w.Progression.Progression
		}
		d.Progress = p
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
