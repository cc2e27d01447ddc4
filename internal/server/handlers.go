package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vualdirr/Hyak-Tracker/internal/automark"
	"github.com/vualdirr/Hyak-Tracker/internal/commit"
	"github.com/vualdirr/Hyak-Tracker/internal/resolver"
	"github.com/vualdirr/Hyak-Tracker/internal/session"
	"github.com/vualdirr/Hyak-Tracker/internal/settings"
)

func tabID(r *http.Request) (int, bool) {
	tab, err := strconv.Atoi(chi.URLParam(r, "tab"))
	return tab, err == nil && tab >= 0
}

func (s *Server) handleStreamSet(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", "invalid tab id")
		return
	}

	var ctx session.Context
	if err := decodeBody(r, &ctx); err != nil {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", err.Error())
		return
	}
	if ctx.Title == "" {
		writeErr(w, http.StatusBadRequest, commit.CodeNoCtx, "title is required")
		return
	}

	s.sessions.Set(tab, ctx)

	// A new episode means a fresh accumulator for the tab's marker.
	s.resetMarkerKey(tab, ctx.Signature(), ctx.EpisodeKey())

	writeOK(w, nil)
}

func (s *Server) handleStreamGet(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", "invalid tab id")
		return
	}

	ctx, found := s.sessions.Get(tab)
	if !found {
		writeOK(w, map[string]any{"ctx": nil})
		return
	}
	writeOK(w, map[string]any{"ctx": ctx})
}

func (s *Server) handleStreamClear(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", "invalid tab id")
		return
	}
	s.sessions.Clear(tab)
	s.dropMarker(tab)
	writeOK(w, nil)
}

type playbackRequest struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Paused      bool    `json:"paused"`
	// Event is an optional player event delivered with the sample:
	// "seeking", "seeked", or "play".
	Event string `json:"event,omitempty"`
}

// handlePlayback feeds one playback sample into the tab's marker. When
// the sample fires the mark decision the commit runs inside the
// request and its outcome is returned, so the player-side caller sees
// failures immediately.
func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", "invalid tab id")
		return
	}

	var req playbackRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", err.Error())
		return
	}

	tm := s.markerFor(tab)

	switch req.Event {
	case "seeking":
		tm.marker.OnSeeking()
	case "seeked":
		tm.marker.OnSeeked(req.CurrentTime)
	case "play":
		tm.marker.OnPlay(req.CurrentTime)
	case "":
	default:
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", "unknown event "+req.Event)
		return
	}

	var commitResult *commit.Result
	var commitErr error

	fired := func() bool {
		ctx, found := s.sessions.Get(tab)
		sample := automark.Sample{
			CurrentTime: req.CurrentTime,
			Duration:    req.Duration,
			Paused:      req.Paused,
		}
		if !tm.marker.Tick(r.Context(), sample) {
			return false
		}
		if !found {
			commitErr = &commit.Error{Code: commit.CodeNoCtx, Message: "no stream context for tab"}
			return true
		}
		commitResult, commitErr = s.commits.Commit(r.Context(), commit.Request{
			Context: ctx,
			Episode: ctx.Episode,
		})
		return true
	}()

	resp := map[string]any{
		"snapshot": tm.marker.Snapshot(),
		"fired":    fired,
	}
	if commitErr != nil {
		code := commit.CodeOf(commitErr)
		resp["commit"] = map[string]any{
			"ok":    false,
			"error": map[string]string{"code": code, "message": commitErr.Error()},
		}
		s.logger.Warn("automark commit failed", "tab", tab, "code", code, "error", commitErr)
	} else if commitResult != nil {
		resp["commit"] = map[string]any{"ok": true, "result": commitResult}
	}

	writeOK(w, resp)
}

func (s *Server) handleAutomarkStatus(w http.ResponseWriter, r *http.Request) {
	tab, ok := tabID(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", "invalid tab id")
		return
	}
	tm := s.markerFor(tab)
	writeOK(w, map[string]any{"snapshot": tm.marker.Snapshot()})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", "missing q parameter")
		return
	}

	results, err := s.search.SearchAnime(r.Context(), q)
	if err != nil {
		writeErr(w, http.StatusBadGateway, "HTTP_ERROR", err.Error())
		return
	}
	writeOK(w, map[string]any{"results": results})
}

type resolveRequest struct {
	Title  string `json:"title"`
	Season int    `json:"season,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", err.Error())
		return
	}
	if req.Title == "" {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", "title is required")
		return
	}

	res, err := s.resolver.Resolve(r.Context(), resolver.Request{
		Title:  req.Title,
		Season: req.Season,
		Limit:  req.Limit,
	})
	if err != nil {
		writeErr(w, http.StatusBadGateway, "HTTP_ERROR", err.Error())
		return
	}

	attempts := make([]map[string]any, 0, len(res.Tried))
	for _, t := range res.Tried {
		a := map[string]any{"query": t.Query, "hits": t.Hits}
		if t.Err != nil {
			a["error"] = t.Err.Error()
		}
		attempts = append(attempts, a)
	}

	writeOK(w, map[string]any{
		"found":    res.Found,
		"ranked":   res.Ranked,
		"attempts": attempts,
	})
}

type manualWriteRequest struct {
	AnimeID int `json:"animeId"`
	Episode int `json:"episode"`
}

func (s *Server) handleManualWrite(w http.ResponseWriter, r *http.Request) {
	var req manualWriteRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", err.Error())
		return
	}

	res, err := s.commits.WriteManual(r.Context(), req.AnimeID, req.Episode)
	if err != nil {
		code := commit.CodeOf(err)
		writeErr(w, statusFor(code), code, err.Error())
		return
	}
	writeOK(w, map[string]any{"result": res})
}

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.List()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, commit.CodeInternalError, err.Error())
		return
	}
	writeOK(w, map[string]any{"history": entries})
}

func (s *Server) handleHistoryUndo(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", "invalid history index")
		return
	}

	if err := s.commits.Undo(r.Context(), index); err != nil {
		code := commit.CodeOf(err)
		writeErr(w, statusFor(code), code, err.Error())
		return
	}
	writeOK(w, nil)
}

type tokenRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleTokenSet(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", err.Error())
		return
	}

	uid, err := s.auth.SetToken(req.Token)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "NO_TOKEN", err.Error())
		return
	}
	writeOK(w, map[string]any{"uid": uid})
}

func (s *Server) handleTokenClear(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Clear(); err != nil {
		writeErr(w, http.StatusInternalServerError, commit.CodeInternalError, err.Error())
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	uid, err := s.auth.UID()
	if err != nil {
		writeOK(w, map[string]any{"authenticated": false})
		return
	}
	writeOK(w, map[string]any{"authenticated": true, "uid": uid})
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"settings": s.settings.Get()})
}

func (s *Server) handleSettingsSet(w http.ResponseWriter, r *http.Request) {
	var v settings.Values
	if err := decodeBody(r, &v); err != nil {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", err.Error())
		return
	}
	if err := s.settings.Set(v); err != nil {
		writeErr(w, http.StatusInternalServerError, commit.CodeInternalError, err.Error())
		return
	}
	writeOK(w, map[string]any{"settings": v})
}

func (s *Server) handleLinksList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.links.Filter(r.URL.Query().Get("filter"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, commit.CodeInternalError, err.Error())
		return
	}
	writeOK(w, map[string]any{"links": entries})
}

func (s *Server) handleLinkDelete(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		writeErr(w, http.StatusBadRequest, "BAD_ARGS", "missing key")
		return
	}
	if err := s.links.Delete(key); err != nil {
		writeErr(w, http.StatusInternalServerError, commit.CodeInternalError, err.Error())
		return
	}
	writeOK(w, nil)
}
