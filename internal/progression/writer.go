// Package progression derives and writes progression updates, with the
// safe path refusing to lower an episode count that already advanced
// elsewhere.
package progression

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vualdirr/Hyak-Tracker/internal/hyakanime"
)

// ReasonAlreadyUpToDate marks a skipped safe write.
const ReasonAlreadyUpToDate = "ALREADY_UP_TO_DATE"

// ErrBadArgs is returned for invalid uid, anime id, or episode.
var ErrBadArgs = errors.New("progression: invalid arguments")

// API is the remote dependency of the writer.
type API interface {
	ProgressionDetail(ctx context.Context, uid string, animeID int) (*hyakanime.ProgressionDetail, error)
	WriteProgression(ctx context.Context, req hyakanime.WriteRequest) error
	DeleteProgression(ctx context.Context, uid string, animeID int) error
}

// Result reports the outcome of a write.
type Result struct {
	// Skipped is true when the remote record was already at or past the
	// wanted episode; nothing was written.
	Skipped bool
	Reason  string
	Known   int // remote episode at decision time, 0 when unknown
	Wanted  int

	// For actual writes.
	OldEpisode *int // nil when no record existed before
	Episode    int
	Status     int
}

// Writer performs progression writes against the API.
type Writer struct {
	api    API
	now    func() time.Time
	logger *slog.Logger
}

// NewWriter creates a writer.
func NewWriter(api API, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{api: api, now: time.Now, logger: logger}
}

// WithClock overrides the clock, used by tests.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

// WriteSafe writes the wanted episode unless the remote record is
// already at or beyond it. Progress made on another device is never
// downgraded by an automatic mark.
func (w *Writer) WriteSafe(ctx context.Context, uid string, animeID, episode int) (*Result, error) {
	if uid == "" || animeID <= 0 || episode <= 0 {
		return nil, ErrBadArgs
	}

	detail, err := w.api.ProgressionDetail(ctx, uid, animeID)
	if err != nil {
		return nil, fmt.Errorf("fetching progression: %w", err)
	}

	if detail != nil && detail.Progress != nil && detail.Progress.CurrentEpisode >= episode {
		w.logger.Debug("progression already up to date",
			"animeId", animeID,
			"known", detail.Progress.CurrentEpisode,
			"wanted", episode,
		)
		return &Result{
			Skipped: true,
			Reason:  ReasonAlreadyUpToDate,
			Known:   detail.Progress.CurrentEpisode,
			Wanted:  episode,
		}, nil
	}

	return w.write(ctx, uid, animeID, episode, detail)
}

// Detail fetches the current remote record without writing anything.
func (w *Writer) Detail(ctx context.Context, uid string, animeID int) (*hyakanime.ProgressionDetail, error) {
	if uid == "" || animeID <= 0 {
		return nil, ErrBadArgs
	}
	return w.api.ProgressionDetail(ctx, uid, animeID)
}

// WriteUnsafe writes unconditionally, even when it lowers the episode
// count. Reserved for the undo path; episode 0 restores a record that
// existed without any watched episode.
func (w *Writer) WriteUnsafe(ctx context.Context, uid string, animeID, episode int) (*Result, error) {
	if uid == "" || animeID <= 0 || episode < 0 {
		return nil, ErrBadArgs
	}

	detail, err := w.api.ProgressionDetail(ctx, uid, animeID)
	if err != nil {
		return nil, fmt.Errorf("fetching progression: %w", err)
	}

	return w.write(ctx, uid, animeID, episode, detail)
}

// Delete removes the remote record entirely, reverting an anime to the
// untracked state.
func (w *Writer) Delete(ctx context.Context, uid string, animeID int) error {
	if animeID <= 0 {
		return ErrBadArgs
	}
	if err := w.api.DeleteProgression(ctx, uid, animeID); err != nil {
		return fmt.Errorf("deleting progression: %w", err)
	}
	return nil
}

func (w *Writer) write(ctx context.Context, uid string, animeID, episode int, detail *hyakanime.ProgressionDetail) (*Result, error) {
	now := w.now()
	req := hyakanime.WriteRequest{
		UID:         uid,
		AnimeID:     animeID,
		Progression: episode,
		LastChange:  &now,
	}

	var cur *hyakanime.Progress
	total := 0
	if detail != nil {
		cur = detail.Progress
		total = detail.Media.TotalEpisodes
	}

	req.Status = deriveStatus(cur, episode, total)

	var oldEpisode *int
	if cur != nil {
		old := cur.CurrentEpisode
		oldEpisode = &old
		req.StartDate = cur.StartDate
		req.EndDate = cur.EndDate
	}

	// Start date is stamped on the first tracked episode and never
	// rewritten afterwards. End date only appears on completion.
	if req.StartDate == nil && episode >= 1 {
		req.StartDate = &now
	}
	if req.Status == hyakanime.StatusCompleted && req.EndDate == nil {
		req.EndDate = &now
	}

	if err := w.api.WriteProgression(ctx, req); err != nil {
		return nil, fmt.Errorf("writing progression: %w", err)
	}

	w.logger.Info("progression written",
		"animeId", animeID,
		"episode", episode,
		"status", req.Status,
	)

	return &Result{
		OldEpisode: oldEpisode,
		Episode:    episode,
		Status:     req.Status,
		Wanted:     episode,
	}, nil
}

// deriveStatus picks the status for a write. Completing the last
// episode wins; otherwise watching any episode pulls paused, dropped,
// and planned shows back to watching. A rewatch in progress is left
// alone.
func deriveStatus(cur *hyakanime.Progress, episode, totalEpisodes int) int {
	// A rewatch in progress keeps its status no matter what, including
	// reaching the final episode again.
	if cur != nil && cur.Status == hyakanime.StatusRewatching {
		return hyakanime.StatusRewatching
	}

	if totalEpisodes > 0 && episode >= totalEpisodes {
		return hyakanime.StatusCompleted
	}

	if cur == nil {
		return hyakanime.StatusWatching
	}

	switch cur.Status {
	case hyakanime.StatusPaused, hyakanime.StatusDropped, hyakanime.StatusPlanned:
		if episode >= 1 {
			return hyakanime.StatusWatching
		}
		return cur.Status
	case 0:
		return hyakanime.StatusWatching
	default:
		return cur.Status
	}
}
