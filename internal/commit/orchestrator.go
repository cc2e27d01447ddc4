// Package commit wires context validation, resolution, the safe write,
// and history into the single pipeline that runs when an episode
// finishes.
package commit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vualdirr/Hyak-Tracker/internal/auth"
	"github.com/vualdirr/Hyak-Tracker/internal/history"
	"github.com/vualdirr/Hyak-Tracker/internal/linkcache"
	"github.com/vualdirr/Hyak-Tracker/internal/progression"
	"github.com/vualdirr/Hyak-Tracker/internal/resolver"
	"github.com/vualdirr/Hyak-Tracker/internal/session"
)

// Request is one commit attempt for a finished episode.
type Request struct {
	Context session.Context
	Episode int
}

// Result is the successful outcome of a commit.
type Result struct {
	AnimeID     int  `json:"animeId"`
	Progression int  `json:"progression"`
	Skipped     bool `json:"skipped,omitempty"`
	Known       int  `json:"known,omitempty"`
	Wanted      int  `json:"wanted,omitempty"`
}

// Orchestrator runs the commit and undo pipelines.
type Orchestrator struct {
	auth     *auth.Store
	links    *linkcache.Cache
	resolver *resolver.Resolver
	writer   *progression.Writer
	history  *history.Service
	logger   *slog.Logger
}

// New creates an orchestrator.
func New(
	authStore *auth.Store,
	links *linkcache.Cache,
	res *resolver.Resolver,
	writer *progression.Writer,
	hist *history.Service,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		auth:     authStore,
		links:    links,
		resolver: res,
		writer:   writer,
		history:  hist,
		logger:   logger,
	}
}

// Commit validates the stream context, resolves the anime, and writes
// the progression. Skips quietly when the remote record is already at
// or past the episode. Panics anywhere below are turned into
// INTERNAL_ERROR so a bad commit can never take the service down.
func (o *Orchestrator) Commit(ctx context.Context, req Request) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("commit panicked", "panic", r)
			res = nil
			err = newError(CodeInternalError, fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	title := strings.TrimSpace(req.Context.Title)
	if title == "" {
		return nil, newError(CodeNoCtx, "no stream context", nil)
	}
	if req.Episode <= 0 {
		return nil, newError(CodeBadEpisode, fmt.Sprintf("invalid episode %d", req.Episode), nil)
	}

	uid, err := o.auth.UID()
	if err != nil {
		return nil, newError(CodeNoUID, "no usable user id", err)
	}

	season := req.Context.Season
	if season < 1 {
		season = 1
	}

	animeID, err := o.resolveAnime(ctx, title, season)
	if err != nil {
		return nil, err
	}

	wres, err := o.writer.WriteSafe(ctx, uid, animeID, req.Episode)
	if err != nil {
		return nil, newError(CodeWriteFailed, "progression write failed", err)
	}

	if wres.Skipped {
		o.logger.Info("commit skipped",
			"animeId", animeID,
			"known", wres.Known,
			"wanted", wres.Wanted,
		)
	} else {
		if herr := o.history.Append(history.Entry{
			AnimeID:    animeID,
			OldEpisode: wres.OldEpisode,
			NewEpisode: req.Episode,
		}); herr != nil {
			// The write went through; a history failure only costs the
			// undo option.
			o.logger.Warn("history append failed", "error", herr)
		}
	}

	if cerr := o.links.Cleanup(); cerr != nil {
		o.logger.Warn("link cleanup failed", "error", cerr)
	}

	return &Result{
		AnimeID:     animeID,
		Progression: req.Episode,
		Skipped:     wres.Skipped,
		Known:       wres.Known,
		Wanted:      wres.Wanted,
	}, nil
}

// resolveAnime answers from the link cache when possible and falls
// back to catalog search, memoizing the winner.
func (o *Orchestrator) resolveAnime(ctx context.Context, title string, season int) (int, error) {
	key := linkcache.Key(title, season)

	if entry, err := o.links.Lookup(key); err != nil {
		o.logger.Warn("link lookup failed", "key", key, "error", err)
	} else if entry != nil {
		// A cached entry with an unusable id is a miss; re-resolving
		// overwrites it with a valid mapping.
		if entry.AnimeID > 0 {
			return entry.AnimeID, nil
		}
		o.logger.Warn("discarding cached link with invalid anime id",
			"key", key, "animeId", entry.AnimeID)
	}

	rres, err := o.resolver.Resolve(ctx, resolver.Request{Title: title, Season: season})
	if err != nil {
		return 0, newError(CodeAnimeNotFound, "resolution failed", err)
	}
	if rres.Found == nil {
		return 0, newError(CodeAnimeNotFound, fmt.Sprintf("no catalog match for %q", title), nil)
	}

	best := rres.Found
	queries := make([]string, 0, len(rres.Tried))
	for _, t := range rres.Tried {
		queries = append(queries, t.Query)
	}

	if err := o.links.Upsert(linkcache.Entry{
		Key:       key,
		AnimeID:   best.Entry.ID,
		Season:    season,
		TitleRaw:  title,
		Auto:      true,
		MatchedOn: best.MatchedOn,
		Score:     best.Score,
		Queries:   queries,
	}); err != nil {
		o.logger.Warn("link upsert failed", "key", key, "error", err)
	}

	o.logger.Info("anime resolved",
		"title", title,
		"season", season,
		"animeId", best.Entry.ID,
		"matchedOn", best.MatchedOn,
		"score", best.Score,
	)

	return best.Entry.ID, nil
}

// WriteManual writes a progression directly by anime id, through the
// same safe path and history as an automatic commit.
func (o *Orchestrator) WriteManual(ctx context.Context, animeID, episode int) (*Result, error) {
	if animeID <= 0 || episode <= 0 {
		return nil, newError(CodeBadEpisode, "invalid anime or episode", nil)
	}

	uid, err := o.auth.UID()
	if err != nil {
		return nil, newError(CodeNoUID, "no usable user id", err)
	}

	wres, err := o.writer.WriteSafe(ctx, uid, animeID, episode)
	if err != nil {
		return nil, newError(CodeWriteFailed, "progression write failed", err)
	}

	if !wres.Skipped {
		if herr := o.history.Append(history.Entry{
			AnimeID:    animeID,
			OldEpisode: wres.OldEpisode,
			NewEpisode: episode,
		}); herr != nil {
			o.logger.Warn("history append failed", "error", herr)
		}
	}

	return &Result{
		AnimeID:     animeID,
		Progression: episode,
		Skipped:     wres.Skipped,
		Known:       wres.Known,
		Wanted:      wres.Wanted,
	}, nil
}

// Undo reverts the history entry at the given list index. Only the
// most recent entry per anime is undoable, and only while the remote
// record still matches what that entry wrote.
func (o *Orchestrator) Undo(ctx context.Context, index int) error {
	entry, err := o.history.Get(index)
	if err != nil {
		if errors.Is(err, history.ErrIndexOutOfRange) {
			return newError(CodeBadArgs, "invalid history index", err)
		}
		return newError(CodeInternalError, "history lookup failed", err)
	}

	newest, err := o.history.NewestIndexFor(entry.AnimeID)
	if err != nil {
		return newError(CodeInternalError, "history lookup failed", err)
	}
	if newest != index {
		return newError(CodeNotNewestForAnime, "a newer entry exists for this anime", nil)
	}

	uid, err := o.auth.UID()
	if err != nil {
		return newError(CodeNoUID, "no usable user id", err)
	}

	detail, err := o.writer.Detail(ctx, uid, entry.AnimeID)
	if err != nil {
		return newError(CodeWriteFailed, "progression fetch failed", err)
	}

	current := 0
	if detail != nil && detail.Progress != nil {
		current = detail.Progress.CurrentEpisode
	}
	if current != entry.NewEpisode {
		return newError(CodeStateMismatch,
			fmt.Sprintf("remote progression is %d, expected %d", current, entry.NewEpisode), nil)
	}

	if entry.OldEpisode == nil {
		if err := o.writer.Delete(ctx, uid, entry.AnimeID); err != nil {
			return newError(CodeWriteFailed, "progression delete failed", err)
		}
	} else {
		if _, err := o.writer.WriteUnsafe(ctx, uid, entry.AnimeID, *entry.OldEpisode); err != nil {
			return newError(CodeWriteFailed, "progression write failed", err)
		}
	}

	if err := o.history.Remove(index); err != nil {
		return newError(CodeInternalError, "history remove failed", err)
	}

	o.logger.Info("progression undone",
		"animeId", entry.AnimeID,
		"from", entry.NewEpisode,
		"to", entry.OldEpisode,
	)
	return nil
}
