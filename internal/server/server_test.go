package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vualdirr/Hyak-Tracker/internal/auth"
	"github.com/vualdirr/Hyak-Tracker/internal/automark"
	"github.com/vualdirr/Hyak-Tracker/internal/commit"
	"github.com/vualdirr/Hyak-Tracker/internal/database"
	"github.com/vualdirr/Hyak-Tracker/internal/history"
	"github.com/vualdirr/Hyak-Tracker/internal/hyakanime"
	"github.com/vualdirr/Hyak-Tracker/internal/linkcache"
	"github.com/vualdirr/Hyak-Tracker/internal/progression"
	"github.com/vualdirr/Hyak-Tracker/internal/resolver"
	"github.com/vualdirr/Hyak-Tracker/internal/session"
	"github.com/vualdirr/Hyak-Tracker/internal/settings"
)

type fakeBackend struct {
	searchResults map[string][]hyakanime.AnimeSummary
	searchErr     error
	details       map[int]*hyakanime.ProgressionDetail
	writes        []hyakanime.WriteRequest
	deletes       []int
}

func (f *fakeBackend) SearchAnime(ctx context.Context, query string) ([]hyakanime.AnimeSummary, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searchResults[query], nil
}

func (f *fakeBackend) ProgressionDetail(ctx context.Context, uid string, animeID int) (*hyakanime.ProgressionDetail, error) {
	if d, ok := f.details[animeID]; ok {
		return d, nil
	}
	return &hyakanime.ProgressionDetail{Media: hyakanime.MediaDetail{ID: animeID}}, nil
}

func (f *fakeBackend) WriteProgression(ctx context.Context, req hyakanime.WriteRequest) error {
	f.writes = append(f.writes, req)
	if f.details == nil {
		f.details = make(map[int]*hyakanime.ProgressionDetail)
	}
	f.details[req.AnimeID] = &hyakanime.ProgressionDetail{
		Media: hyakanime.MediaDetail{ID: req.AnimeID},
		Progress: &hyakanime.Progress{
			CurrentEpisode: req.Progression,
			Status:         req.Status,
		},
	}
	return nil
}

func (f *fakeBackend) DeleteProgression(ctx context.Context, uid string, animeID int) error {
	f.deletes = append(f.deletes, animeID)
	delete(f.details, animeID)
	return nil
}

type testServer struct {
	handler http.Handler
	backend *fakeBackend
	auth    *auth.Store
	links   *linkcache.Cache
}

func signedToken(t *testing.T, uid string) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload, err := json.Marshal(map[string]string{"uid": uid})
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".x"
}

func newTestServer(t *testing.T, automarkOn bool) *testServer {
	t.Helper()

	db, err := database.OpenMemory()
	require.NoError(t, err)

	authStore := auth.NewStore(db)
	_, err = authStore.SetToken(signedToken(t, "user-1"))
	require.NoError(t, err)

	settingsPath := filepath.Join(t.TempDir(), "settings.json")
	body := fmt.Sprintf(`{"autoMarkEnabled": %t}`, automarkOn)
	require.NoError(t, os.WriteFile(settingsPath, []byte(body), 0644))
	settingsSvc, err := settings.New(settingsPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { settingsSvc.Close() })

	backend := &fakeBackend{
		searchResults: map[string][]hyakanime.AnimeSummary{
			"Jigokuraku": {
				{ID: 42, DisplayTitle: "Jigokuraku", Titles: hyakanime.Titles{FR: "Jigokuraku"}, TotalEpisodes: 13},
			},
		},
	}

	links := linkcache.New(db)
	hist := history.NewService(db)
	res := resolver.New(backend, nil)
	writer := progression.NewWriter(backend, nil)
	orch := commit.New(authStore, links, res, writer, hist, nil)

	// Short thresholds so a mark fires after a few samples.
	cfg := automark.DefaultConfig()
	cfg.MinWatchSecondsFloor = 2

	srv := NewServer(Options{
		Sessions:  session.NewStore(),
		Commits:   orch,
		Resolver:  res,
		Search:    backend,
		History:   hist,
		Links:     links,
		Auth:      authStore,
		Settings:  settingsSvc,
		MarkerCfg: cfg,
	})

	return &testServer{
		handler: srv.Router(),
		backend: backend,
		auth:    authStore,
		links:   links,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	return rec.Code, parsed
}

func errCode(resp map[string]any) string {
	e, _ := resp["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	status, resp := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["ok"])
}

func TestStreamRoundTrip(t *testing.T) {
	ts := newTestServer(t, false)

	ctx := map[string]any{"title": "Jigokuraku", "season": 2, "episode": 5, "domain": "example.com"}
	status, resp := ts.do(t, http.MethodPut, "/api/tabs/7/stream", ctx)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["ok"])

	status, resp = ts.do(t, http.MethodGet, "/api/tabs/7/stream", nil)
	require.Equal(t, http.StatusOK, status)
	got := resp["ctx"].(map[string]any)
	assert.Equal(t, "Jigokuraku", got["title"])
	assert.Equal(t, float64(5), got["episode"])

	status, _ = ts.do(t, http.MethodDelete, "/api/tabs/7/stream", nil)
	require.Equal(t, http.StatusOK, status)

	_, resp = ts.do(t, http.MethodGet, "/api/tabs/7/stream", nil)
	assert.Nil(t, resp["ctx"])
}

func TestStreamRequiresTitle(t *testing.T) {
	ts := newTestServer(t, false)

	status, resp := ts.do(t, http.MethodPut, "/api/tabs/1/stream", map[string]any{"episode": 3})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, resp["ok"])
	assert.Equal(t, commit.CodeNoCtx, errCode(resp))
}

func TestStreamRejectsBadTab(t *testing.T) {
	ts := newTestServer(t, false)
	status, resp := ts.do(t, http.MethodPut, "/api/tabs/nope/stream", map[string]any{"title": "x", "episode": 1})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_ARGS", errCode(resp))
}

func TestPlaybackFiresCommit(t *testing.T) {
	ts := newTestServer(t, true)

	_, resp := ts.do(t, http.MethodPut, "/api/tabs/1/stream",
		map[string]any{"title": "Jigokuraku", "season": 1, "episode": 3})
	require.Equal(t, true, resp["ok"])

	sample := func(pos float64) map[string]any {
		return map[string]any{"currentTime": pos, "duration": 10.0, "paused": false}
	}

	// Three one-second steps on a short video: enough watch time, and
	// the whole video is inside the end region.
	var status int
	for _, pos := range []float64{1, 2} {
		status, resp = ts.do(t, http.MethodPost, "/api/tabs/1/playback", sample(pos))
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, false, resp["fired"])
	}

	status, resp = ts.do(t, http.MethodPost, "/api/tabs/1/playback", sample(3))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["fired"])

	commitResp := resp["commit"].(map[string]any)
	require.Equal(t, true, commitResp["ok"])
	result := commitResp["result"].(map[string]any)
	assert.Equal(t, float64(42), result["animeId"])
	assert.Equal(t, float64(3), result["progression"])

	// The write landed and is visible in history.
	require.Len(t, ts.backend.writes, 1)
	_, resp = ts.do(t, http.MethodGet, "/api/history", nil)
	entries := resp["history"].([]any)
	require.Len(t, entries, 1)

	// More samples in the end region do not fire again.
	status, resp = ts.do(t, http.MethodPost, "/api/tabs/1/playback", sample(4))
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, resp["fired"])
	assert.Len(t, ts.backend.writes, 1)
}

func TestPlaybackDisabledAccumulatesNothing(t *testing.T) {
	ts := newTestServer(t, false)

	ts.do(t, http.MethodPut, "/api/tabs/1/stream",
		map[string]any{"title": "Jigokuraku", "season": 1, "episode": 3})

	for _, pos := range []float64{1, 2, 3} {
		_, resp := ts.do(t, http.MethodPost, "/api/tabs/1/playback",
			map[string]any{"currentTime": pos, "duration": 10.0, "paused": false})
		assert.Equal(t, false, resp["fired"])
	}

	_, resp := ts.do(t, http.MethodGet, "/api/tabs/1/automark", nil)
	snap := resp["snapshot"].(map[string]any)
	assert.Equal(t, float64(0), snap["watchedSeconds"])
	assert.Empty(t, ts.backend.writes)
}

func TestPlaybackSeekEvents(t *testing.T) {
	ts := newTestServer(t, true)

	ts.do(t, http.MethodPut, "/api/tabs/1/stream",
		map[string]any{"title": "Jigokuraku", "season": 1, "episode": 3})

	long := func(pos float64, event string) map[string]any {
		m := map[string]any{"currentTime": pos, "duration": 1200.0, "paused": false}
		if event != "" {
			m["event"] = event
		}
		return m
	}

	ts.do(t, http.MethodPost, "/api/tabs/1/playback", long(10, ""))
	ts.do(t, http.MethodPost, "/api/tabs/1/playback", long(10, "seeking"))
	ts.do(t, http.MethodPost, "/api/tabs/1/playback", long(500, "seeked"))
	_, resp := ts.do(t, http.MethodPost, "/api/tabs/1/playback", long(501, ""))

	snap := resp["snapshot"].(map[string]any)
	assert.Equal(t, float64(1), snap["watchedSeconds"])

	status, resp := ts.do(t, http.MethodPost, "/api/tabs/1/playback", long(502, "rewind"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_ARGS", errCode(resp))
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t, false)

	status, resp := ts.do(t, http.MethodGet, "/api/search/anime?q=Jigokuraku", nil)
	require.Equal(t, http.StatusOK, status)
	results := resp["results"].([]any)
	require.Len(t, results, 1)

	status, resp = ts.do(t, http.MethodGet, "/api/search/anime", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_ARGS", errCode(resp))
}

func TestResolveEndpoint(t *testing.T) {
	ts := newTestServer(t, false)

	status, resp := ts.do(t, http.MethodPost, "/api/resolve",
		map[string]any{"title": "Jigokuraku"})
	require.Equal(t, http.StatusOK, status)

	found := resp["found"].(map[string]any)
	entry := found["entry"].(map[string]any)
	assert.Equal(t, float64(42), entry["id"])

	attempts := resp["attempts"].([]any)
	require.NotEmpty(t, attempts)
	first := attempts[0].(map[string]any)
	assert.Equal(t, "Jigokuraku", first["query"])
}

func TestManualWriteAndUndo(t *testing.T) {
	ts := newTestServer(t, false)

	status, resp := ts.do(t, http.MethodPost, "/api/progression/write",
		map[string]any{"animeId": 42, "episode": 4})
	require.Equal(t, http.StatusOK, status)
	result := resp["result"].(map[string]any)
	assert.Equal(t, float64(4), result["progression"])

	_, resp = ts.do(t, http.MethodGet, "/api/history", nil)
	require.Len(t, resp["history"].([]any), 1)

	status, resp = ts.do(t, http.MethodPost, "/api/history/0/undo", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, resp["ok"])

	// No prior record existed, so the undo deleted the progression.
	assert.Equal(t, []int{42}, ts.backend.deletes)

	_, resp = ts.do(t, http.MethodGet, "/api/history", nil)
	assert.Empty(t, resp["history"])
}

func TestUndoOutOfRangeIndexIsBadRequest(t *testing.T) {
	ts := newTestServer(t, false)

	status, resp := ts.do(t, http.MethodPost, "/api/history/5/undo", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, commit.CodeBadArgs, errCode(resp))
}

func TestManualWriteWithoutTokenIsUnauthorized(t *testing.T) {
	ts := newTestServer(t, false)
	require.NoError(t, ts.auth.Clear())

	status, resp := ts.do(t, http.MethodPost, "/api/progression/write",
		map[string]any{"animeId": 42, "episode": 4})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, commit.CodeNoUID, errCode(resp))
}

func TestTokenAndSession(t *testing.T) {
	ts := newTestServer(t, false)
	require.NoError(t, ts.auth.Clear())

	_, resp := ts.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, false, resp["authenticated"])

	status, resp := ts.do(t, http.MethodPut, "/api/token",
		map[string]any{"token": signedToken(t, "user-9")})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user-9", resp["uid"])

	_, resp = ts.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, true, resp["authenticated"])
	assert.Equal(t, "user-9", resp["uid"])

	status, resp = ts.do(t, http.MethodPut, "/api/token", map[string]any{"token": "garbage"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "NO_TOKEN", errCode(resp))

	status, _ = ts.do(t, http.MethodDelete, "/api/token", nil)
	require.Equal(t, http.StatusOK, status)
	_, resp = ts.do(t, http.MethodGet, "/api/session", nil)
	assert.Equal(t, false, resp["authenticated"])
}

func TestSettingsRoundTrip(t *testing.T) {
	ts := newTestServer(t, false)

	_, resp := ts.do(t, http.MethodGet, "/api/settings", nil)
	values := resp["settings"].(map[string]any)
	assert.Equal(t, false, values["autoMarkEnabled"])

	status, resp := ts.do(t, http.MethodPut, "/api/settings",
		map[string]any{"autoMarkEnabled": true, "debug": false})
	require.Equal(t, http.StatusOK, status)

	_, resp = ts.do(t, http.MethodGet, "/api/settings", nil)
	values = resp["settings"].(map[string]any)
	assert.Equal(t, true, values["autoMarkEnabled"])
}

func TestLinksListFilterAndDelete(t *testing.T) {
	ts := newTestServer(t, false)

	require.NoError(t, ts.links.Upsert(linkcache.Entry{
		Key: "dandadan|s1", AnimeID: 7, Season: 1, TitleRaw: "Dandadan",
	}))
	require.NoError(t, ts.links.Upsert(linkcache.Entry{
		Key: "jigokuraku|s1", AnimeID: 42, Season: 1, TitleRaw: "Jigokuraku",
	}))

	_, resp := ts.do(t, http.MethodGet, "/api/links", nil)
	assert.Len(t, resp["links"].([]any), 2)

	_, resp = ts.do(t, http.MethodGet, "/api/links?filter=dnddn", nil)
	links := resp["links"].([]any)
	require.Len(t, links, 1)
	entry := links[0].(map[string]any)
	assert.Equal(t, "Dandadan", entry["titleRaw"])

	status, _ := ts.do(t, http.MethodDelete, "/api/links/dandadan|s1", nil)
	require.Equal(t, http.StatusOK, status)

	gone, err := ts.links.Lookup("dandadan|s1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSearchBackendFailure(t *testing.T) {
	ts := newTestServer(t, false)
	ts.backend.searchErr = errors.New("upstream down")

	status, resp := ts.do(t, http.MethodGet, "/api/search/anime?q=x", nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "HTTP_ERROR", errCode(resp))
}
