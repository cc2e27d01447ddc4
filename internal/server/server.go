// Package server exposes the tracker over a local JSON HTTP API. Site
// adapters push stream contexts and playback samples; the popup reads
// history, settings, and mappings.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vualdirr/Hyak-Tracker/internal/auth"
	"github.com/vualdirr/Hyak-Tracker/internal/automark"
	"github.com/vualdirr/Hyak-Tracker/internal/commit"
	"github.com/vualdirr/Hyak-Tracker/internal/history"
	"github.com/vualdirr/Hyak-Tracker/internal/linkcache"
	"github.com/vualdirr/Hyak-Tracker/internal/resolver"
	"github.com/vualdirr/Hyak-Tracker/internal/session"
	"github.com/vualdirr/Hyak-Tracker/internal/settings"
)

const defaultRequestTimeout = 30 * time.Second

// Searcher is the catalog search the API exposes directly.
type Searcher = resolver.Searcher

// Server holds the wired services behind the HTTP surface.
type Server struct {
	logger    *slog.Logger
	sessions  *session.Store
	commits   *commit.Orchestrator
	resolver  *resolver.Resolver
	search    Searcher
	history   *history.Service
	links     *linkcache.Cache
	auth      *auth.Store
	settings  *settings.Service
	markerCfg automark.Config

	mu      sync.Mutex
	markers map[int]*tabMarker
}

type tabMarker struct {
	marker    *automark.Marker
	signature string
}

// Options bundles the server dependencies.
type Options struct {
	Logger    *slog.Logger
	Sessions  *session.Store
	Commits   *commit.Orchestrator
	Resolver  *resolver.Resolver
	Search    Searcher
	History   *history.Service
	Links     *linkcache.Cache
	Auth      *auth.Store
	Settings  *settings.Service
	MarkerCfg automark.Config
}

// NewServer creates the HTTP server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:    logger,
		sessions:  opts.Sessions,
		commits:   opts.Commits,
		resolver:  opts.Resolver,
		search:    opts.Search,
		history:   opts.History,
		links:     opts.Links,
		auth:      opts.Auth,
		settings:  opts.Settings,
		markerCfg: opts.MarkerCfg,
		markers:   make(map[int]*tabMarker),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(defaultRequestTimeout))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/tabs/{tab}", func(r chi.Router) {
			r.Put("/stream", s.handleStreamSet)
			r.Get("/stream", s.handleStreamGet)
			r.Delete("/stream", s.handleStreamClear)
			r.Post("/playback", s.handlePlayback)
			r.Get("/automark", s.handleAutomarkStatus)
		})

		r.Get("/search/anime", s.handleSearch)
		r.Post("/resolve", s.handleResolve)
		r.Post("/progression/write", s.handleManualWrite)

		r.Get("/history", s.handleHistoryList)
		r.Post("/history/{index}/undo", s.handleHistoryUndo)

		r.Put("/token", s.handleTokenSet)
		r.Delete("/token", s.handleTokenClear)
		r.Get("/session", s.handleSession)

		r.Get("/settings", s.handleSettingsGet)
		r.Put("/settings", s.handleSettingsSet)

		r.Get("/links", s.handleLinksList)
		r.Delete("/links/{key}", s.handleLinkDelete)
	})

	return r
}

// markerFor returns the tab's marker, creating it on first use. The
// marker's enabled check reads live settings and its mark callback is
// wired at playback time so the commit carries the tab's context.
func (s *Server) markerFor(tab int) *tabMarker {
	s.mu.Lock()
	defer s.mu.Unlock()

	tm, ok := s.markers[tab]
	if !ok {
		tm = &tabMarker{
			marker: automark.NewMarker(s.markerCfg, s.settings.AutoMarkEnabled, nil, s.logger),
		}
		s.markers[tab] = tm
	}
	return tm
}

func (s *Server) dropMarker(tab int) {
	s.mu.Lock()
	delete(s.markers, tab)
	s.mu.Unlock()
}

// resetMarkerKey points the tab's marker at a new episode when the
// stream signature moved.
func (s *Server) resetMarkerKey(tab int, signature, episodeKey string) {
	s.mu.Lock()
	tm, ok := s.markers[tab]
	if !ok {
		tm = &tabMarker{
			marker: automark.NewMarker(s.markerCfg, s.settings.AutoMarkEnabled, nil, s.logger),
		}
		s.markers[tab] = tm
	}
	changed := signature != tm.signature
	if changed {
		tm.signature = signature
	}
	s.mu.Unlock()

	if changed {
		tm.marker.SetKey(episodeKey)
	}
}

// writeOK writes a success envelope merged with extra fields.
func writeOK(w http.ResponseWriter, extra map[string]any) {
	body := map[string]any{"ok": true}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeErr writes a failure envelope with the commit-style error code.
func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor maps commit error codes to HTTP statuses.
func statusFor(code string) int {
	switch code {
	case commit.CodeNoCtx, commit.CodeBadArgs, commit.CodeBadEpisode:
		return http.StatusBadRequest
	case commit.CodeNoUID:
		return http.StatusUnauthorized
	case commit.CodeAnimeNotFound:
		return http.StatusNotFound
	case commit.CodeNotNewestForAnime, commit.CodeStateMismatch:
		return http.StatusConflict
	case commit.CodeWriteFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]any{"status": "ok"})
}
