package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/justchokingaround/ciphertv/internal/httpclient"
)

// ConsumetConfig configures the metadata API client
type ConsumetConfig struct {
	BaseURL  string
	Provider string
	Timeout  time.Duration
	Debug    bool
	Logger   *slog.Logger
	HTTP     *httpclient.Client
}

// Consumet talks to a Consumet-style metadata API (meta/anilist routes)
type Consumet struct {
	baseURL  string
	provider string
	http     *httpclient.Client
	cache    *InfoCache
	debug    bool
	logger   *slog.Logger
}

// NewConsumet creates a new API client
func NewConsumet(cfg ConsumetConfig) *Consumet {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Provider == "" {
		cfg.Provider = "zoro"
	}
	client := cfg.HTTP
	if client == nil {
		client = httpclient.NewClient(httpclient.ClientConfig{
			Timeout:    cfg.Timeout,
			MaxRetries: 3,
			Debug:      cfg.Debug,
			Logger:     cfg.Logger,
		})
	}

	return &Consumet{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		provider: cfg.Provider,
		http:     client,
		cache:    NewInfoCache(),
		debug:    cfg.Debug,
		logger:   cfg.Logger,
	}
}

// Resolve retrieves video sources for an episode.
// An answer with zero sources is reported as ErrNoSources.
func (c *Consumet) Resolve(ctx context.Context, episodeID string) (*Result, error) {
	if episodeID == "" {
		return nil, errors.New("episode id is required")
	}

	// The episode ID may contain slashes, it is part of the path
	segments := strings.Split(strings.TrimPrefix(episodeID, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	endpoint := "/meta/anilist/watch/" + strings.Join(segments, "/")

	var result Result
	if err := c.get(ctx, endpoint, map[string]string{"provider": c.provider}, &result); err != nil {
		return nil, fmt.Errorf("get sources failed: %w", err)
	}

	if c.debug {
		c.logger.Debug("get sources response", "episode", episodeID, "sources", len(result.Sources), "subtitles", len(result.Subtitles))
		for i, sub := range result.Subtitles {
			c.logger.Debug("subtitle", "index", i, "lang", sub.Lang, "url", sub.URL)
		}
	}

	if len(result.Sources) == 0 {
		return &result, ErrNoSources
	}
	return &result, nil
}

// Info retrieves anime details including the episode list
func (c *Consumet) Info(ctx context.Context, animeID string) (*AnimeInfo, error) {
	if info, ok := c.cache.Get(animeID); ok {
		return info, nil
	}

	var info AnimeInfo
	endpoint := "/meta/anilist/info/" + url.PathEscape(animeID)
	if err := c.get(ctx, endpoint, map[string]string{"provider": c.provider}, &info); err != nil {
		return nil, fmt.Errorf("get info failed: %w", err)
	}

	c.cache.Set(animeID, &info)
	return &info, nil
}

// Search queries the catalog by title
func (c *Consumet) Search(ctx context.Context, query string, page int) (*SearchPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is required")
	}
	if page < 1 {
		page = 1
	}

	var out SearchPage
	endpoint := "/meta/anilist/" + url.PathEscape(query)
	if err := c.get(ctx, endpoint, map[string]string{"page": itoa(page)}, &out); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return &out, nil
}

func (c *Consumet) get(ctx context.Context, endpoint string, params map[string]string, result interface{}) error {
	fullURL := c.baseURL + endpoint

	if len(params) > 0 {
		u, err := url.Parse(fullURL)
		if err != nil {
			return fmt.Errorf("invalid URL: %w", err)
		}
		q := u.Query()
		for key, value := range params {
			q.Set(key, value)
		}
		u.RawQuery = q.Encode()
		fullURL = u.String()
	}

	if c.debug {
		c.logger.Debug("api request", "url", fullURL)
	}

	if err := c.http.GetJSON(ctx, fullURL, result); err != nil {
		var se *httpclient.StatusError
		if errors.As(err, &se) {
			if msg := apiMessage(se.Body); msg != "" {
				return fmt.Errorf("API error (%d): %s: %w", se.StatusCode, msg, err)
			}
			return fmt.Errorf("API error (%d) at %s: %w", se.StatusCode, c.baseURL, err)
		}
		return fmt.Errorf("HTTP request failed (is the API reachable at %s?): %w", c.baseURL, err)
	}
	return nil
}

// apiMessage extracts the message of a JSON error body, if there is one
func apiMessage(body string) string {
	var resp ErrorResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return ""
	}
	if resp.Message != "" {
		return resp.Message
	}
	return resp.Error
}
