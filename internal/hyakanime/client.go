package hyakanime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://api-v5.hyakanime.fr"

// TokenFunc supplies the bearer token for a request. Returning an empty
// token makes the request fail fast with NO_TOKEN instead of producing
// a confusing 401 from the server.
type TokenFunc func(ctx context.Context) (string, error)

// ClientConfig holds configuration for the API client.
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
	Debug      bool
	Logger     *slog.Logger
}

// DefaultClientConfig returns sensible defaults for the API client.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:    DefaultBaseURL,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		UserAgent:  "hyak-tracker/1.0",
	}
}

// Client talks to the remote catalog and progression API. It keeps a
// small per-instance cache of progression lookups which is invalidated
// by writes and deletes, so repeated detail fetches during one commit
// do not hammer the server.
type Client struct {
	resty  *resty.Client
	token  TokenFunc
	logger *slog.Logger

	mu          sync.Mutex
	detailCache map[string]*ProgressionDetail
}

// NewClient creates an API client. token must not be nil.
func NewClient(config ClientConfig, token TokenFunc) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.UserAgent == "" {
		config.UserAgent = "hyak-tracker/1.0"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	restyClient := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetRetryCount(config.MaxRetries).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("User-Agent", config.UserAgent).
		SetHeader("Accept", "application/json")

	restyClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= 500 || r.StatusCode() == 429
	})

	client := &Client{
		resty:       restyClient,
		token:       token,
		logger:      config.Logger,
		detailCache: make(map[string]*ProgressionDetail),
	}

	if config.Debug {
		restyClient.OnBeforeRequest(func(c *resty.Client, r *resty.Request) error {
			client.logger.Debug("api request", "method", r.Method, "url", r.URL)
			return nil
		})
		restyClient.OnAfterResponse(func(c *resty.Client, r *resty.Response) error {
			client.logger.Debug("api response",
				"status", r.StatusCode(),
				"url", r.Request.URL,
				"time", r.Time(),
			)
			return nil
		})
	}

	return client
}

// SearchAnime queries the catalog. An empty result list is not an
// error.
func (c *Client) SearchAnime(ctx context.Context, query string) ([]AnimeSummary, error) {
	if query == "" {
		return nil, badArgs("empty search query")
	}

	resp, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}

	res, err := resp.Get("/search/anime/" + url.PathEscape(query))
	if err != nil {
		return nil, &APIError{Code: CodeNetworkError, Message: err.Error(), Err: err}
	}
	if res.StatusCode() == 404 {
		return nil, nil
	}
	if res.StatusCode() >= 400 {
		return nil, httpError(res)
	}

	var raw []wireAnime
	if err := json.Unmarshal(unwrapData(res.Body()), &raw); err != nil {
		return nil, &APIError{Code: CodeBadResponse, Message: "decoding search results", Err: err}
	}

	out := make([]AnimeSummary, 0, len(raw))
	for _, w := range raw {
		out = append(out, w.summary())
	}
	return out, nil
}

// ProgressionDetail fetches the user's record for an anime together
// with the catalog media. The Progress field is nil when the user has
// never tracked the anime.
func (c *Client) ProgressionDetail(ctx context.Context, uid string, animeID int) (*ProgressionDetail, error) {
	if uid == "" || animeID <= 0 {
		return nil, badArgs("uid and animeID are required")
	}

	key := fmt.Sprintf("%s:%d", uid, animeID)
	c.mu.Lock()
	if cached, ok := c.detailCache[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	resp, err := c.authorized(ctx)
	if err != nil {
		return nil, err
	}

	res, err := resp.Get(fmt.Sprintf("/progression/anime/%s/%d", url.PathEscape(uid), animeID))
	if err != nil {
		return nil, &APIError{Code: CodeNetworkError, Message: err.Error(), Err: err}
	}
	if res.StatusCode() >= 400 && res.StatusCode() != 404 {
		return nil, httpError(res)
	}

	var raw wireProgressionDetail
	if err := json.Unmarshal(unwrapData(res.Body()), &raw); err != nil {
		return nil, &APIError{Code: CodeBadResponse, Message: "decoding progression detail", Err: err}
	}

	detail := raw.detail()

	c.mu.Lock()
	c.detailCache[key] = detail
	c.mu.Unlock()

	return detail, nil
}

// WriteProgression posts a progression record. Callers go through the
// progression writer rather than hitting this directly, so every write
// has passed the anti-downgrade check or is an explicit undo.
func (c *Client) WriteProgression(ctx context.Context, req WriteRequest) error {
	if req.UID == "" || req.AnimeID <= 0 {
		return badArgs("uid and animeID are required")
	}

	resp, err := c.authorized(ctx)
	if err != nil {
		return err
	}

	res, err := resp.SetBody(req).Post("/progression/anime/write")
	if err != nil {
		return &APIError{Code: CodeNetworkError, Message: err.Error(), Err: err}
	}
	if res.StatusCode() >= 400 {
		return httpError(res)
	}

	c.invalidate(req.UID, req.AnimeID)
	return nil
}

// DeleteProgression removes the user's record for an anime.
func (c *Client) DeleteProgression(ctx context.Context, uid string, animeID int) error {
	if animeID <= 0 {
		return badArgs("animeID is required")
	}

	resp, err := c.authorized(ctx)
	if err != nil {
		return err
	}

	res, err := resp.SetBody(map[string]int{"id": animeID}).Delete("/progression/anime/delete")
	if err != nil {
		return &APIError{Code: CodeNetworkError, Message: err.Error(), Err: err}
	}
	if res.StatusCode() >= 400 {
		return httpError(res)
	}

	c.invalidate(uid, animeID)
	return nil
}

func (c *Client) invalidate(uid string, animeID int) {
	c.mu.Lock()
	delete(c.detailCache, fmt.Sprintf("%s:%d", uid, animeID))
	c.mu.Unlock()
}

func (c *Client) authorized(ctx context.Context) (*resty.Request, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, &APIError{Code: CodeNoToken, Message: "loading token", Err: err}
	}
	if tok == "" {
		return nil, &APIError{Code: CodeNoToken, Message: "no token configured"}
	}

	return c.resty.R().
		SetContext(ctx).
		SetHeader("Authorization", tok), nil
}

func httpError(res *resty.Response) *APIError {
	msg := res.String()
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return &APIError{Code: CodeHTTPError, Status: res.StatusCode(), Message: msg}
}
