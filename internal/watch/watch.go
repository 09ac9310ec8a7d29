// Package watch runs the watch flow for one episode: it looks up the anime,
// resolves and ranks its sources and mounts them on the playback engine.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/justchokingaround/ciphertv/internal/history"
	"github.com/justchokingaround/ciphertv/internal/player"
	"github.com/justchokingaround/ciphertv/internal/sources"
	"github.com/samber/lo"
)

var (
	ErrNoEpisode         = errors.New("no episode is playing")
	ErrNoNextEpisode     = errors.New("already at the last episode")
	ErrNoPreviousEpisode = errors.New("already at the first episode")
)

var trailingNumber = regexp.MustCompile(`(\d+)\D*$`)

// Catalog is the metadata API
type Catalog interface {
	sources.Resolver
	Info(ctx context.Context, animeID string) (*sources.AnimeInfo, error)
}

// Player is the part of player.Engine the watch flow drives
type Player interface {
	Mount(src string, opts player.Options)
	SwitchQuality(quality string) error
	Status() player.Status
}

// Recorder persists watch progress
type Recorder interface {
	Record(e history.Entry) (*history.Item, error)
	ResumePosition(animeID, episodeID string) (float64, error)
}

// Config wires a Controller
type Config struct {
	Catalog Catalog
	Player  Player
	Proxy   player.Rewriter
	// History is optional
	History Recorder

	SiteURL      string
	FallbackURL  string
	SubtitleLang string
	AutoPlay     bool
	Debug        bool
	Logger       *slog.Logger

	OnError  func(error)
	OnNotice func(string)
	OnEnded  func()
}

// Episode describes what is mounted
type Episode struct {
	AnimeID   string
	EpisodeID string
	Number    int
	Title     string
	Info      *sources.AnimeInfo

	// Sources are proxied and ordered highest quality first
	Sources  []sources.VideoSource
	Quality  string
	Subtitle sources.SubtitleTrack
	// ResolveErr is set when playback fell back to the configured stream
	ResolveErr error
}

// Qualities returns the selectable labels, best first
func (e *Episode) Qualities() []string {
	return sources.Labels(e.Sources)
}

// Controller is the watch page: one episode at a time
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	current *Episode
}

// New creates a watch controller
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, logger: logger.With("component", "watch")}
}

// Current returns a copy of the mounted episode, or nil
func (c *Controller) Current() *Episode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	ep := *c.current
	return &ep
}

// Watch mounts the episode. The configured fallback plays while sources are
// resolved; a resolver failure leaves it playing instead of failing.
func (c *Controller) Watch(ctx context.Context, animeID, episodeID string) (*Episode, error) {
	if animeID == "" || episodeID == "" {
		return nil, fmt.Errorf("anime id and episode id are required")
	}

	c.mu.Lock()
	c.recordLocked()
	cfg := c.cfg
	c.mu.Unlock()

	ep := &Episode{AnimeID: animeID, EpisodeID: episodeID}
	info, err := cfg.Catalog.Info(ctx, animeID)
	if err != nil {
		c.logger.Warn("failed to fetch anime info", "anime", animeID, "error", err)
	} else {
		ep.Info = info
	}
	ep.Number = EpisodeNumber(info, episodeID)
	ep.Title = EpisodeTitle(info, ep.Number)

	opts := options(cfg, ep)
	if cfg.History != nil {
		if at, err := cfg.History.ResumePosition(animeID, episodeID); err != nil {
			c.logger.Warn("failed to read resume position", "error", err)
		} else {
			opts.StartAt = at
		}
	}

	// the player falls back to opts.FallbackURL and flags the session as such
	if opts.FallbackURL != "" {
		cfg.Player.Mount("", opts)
	}

	res, err := cfg.Catalog.Resolve(ctx, episodeID)
	if err == nil && len(res.Sources) == 0 {
		err = sources.ErrNoSources
	}
	if err != nil {
		ep.ResolveErr = err
		c.logger.Warn("failed to resolve sources", "episode", episodeID, "error", err)
		if opts.FallbackURL == "" {
			cfg.Player.Mount("", opts)
		}
		c.setCurrent(ep)
		return ep, nil
	}

	ep.Sources = sources.SortByQuality(sources.MapURLs(res.Sources, c.rewrite))
	best := ep.Sources[0]
	ep.Quality = best.Quality
	if track, ok := sources.SelectSubtitle(res.Subtitles, cfg.SubtitleLang); ok {
		ep.Subtitle = track
	}

	opts.Sources = ep.Sources
	opts.SubtitleURL = ep.Subtitle.URL
	if ep.Subtitle.URL != "" {
		opts.SubtitleLang = subtitleLabel(ep.Subtitle.Lang)
	}
	opts.Headers = headers(res.Headers)

	c.logger.Info("mounting episode", "title", ep.Title, "quality", ep.Quality, "sources", len(ep.Sources))
	cfg.Player.Mount(best.URL, opts)
	c.setCurrent(ep)
	return ep, nil
}

func (c *Controller) setCurrent(ep *Episode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = ep
}

// Retry mounts the current episode again, resolving sources afresh
func (c *Controller) Retry(ctx context.Context) (*Episode, error) {
	ep := c.Current()
	if ep == nil {
		return nil, ErrNoEpisode
	}
	return c.Watch(ctx, ep.AnimeID, ep.EpisodeID)
}

// SwitchQuality reloads the current episode at another resolved quality
func (c *Controller) SwitchQuality(label string) error {
	c.mu.Lock()
	ep, p := c.current, c.cfg.Player
	c.mu.Unlock()
	if ep == nil {
		return ErrNoEpisode
	}

	// the player notifies its listeners synchronously, and they may call back in
	if err := p.SwitchQuality(label); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == ep {
		ep.Quality = label
	}
	return nil
}

// CycleQuality switches to the next lower quality, wrapping to the best
func (c *Controller) CycleQuality() (string, error) {
	ep := c.Current()
	if ep == nil {
		return "", ErrNoEpisode
	}
	labels := ep.Qualities()
	if len(labels) < 2 {
		return ep.Quality, nil
	}
	next := labels[(lo.IndexOf(labels, ep.Quality)+1)%len(labels)]
	return next, c.SwitchQuality(next)
}

// Next mounts the following episode of the current anime
func (c *Controller) Next(ctx context.Context) (*Episode, error) {
	return c.step(ctx, 1, ErrNoNextEpisode)
}

// Previous mounts the preceding episode of the current anime
func (c *Controller) Previous(ctx context.Context) (*Episode, error) {
	return c.step(ctx, -1, ErrNoPreviousEpisode)
}

func (c *Controller) step(ctx context.Context, delta int, edge error) (*Episode, error) {
	ep := c.Current()
	if ep == nil {
		return nil, ErrNoEpisode
	}
	if ep.Info == nil {
		return nil, edge
	}
	_, i, ok := lo.FindIndexOf(ep.Info.Episodes, func(e sources.Episode) bool {
		return string(e.ID) == ep.EpisodeID
	})
	if !ok {
		return nil, edge
	}
	j := i + delta
	if j < 0 || j >= len(ep.Info.Episodes) {
		return nil, edge
	}
	return c.Watch(ctx, ep.AnimeID, string(ep.Info.Episodes[j].ID))
}

// ShareLink returns the watch page URL of the current episode
func (c *Controller) ShareLink() (string, error) {
	ep := c.Current()
	if ep == nil {
		return "", ErrNoEpisode
	}
	return ShareLink(c.cfg.SiteURL, ep.AnimeID, ep.EpisodeID), nil
}

// Finish records the progress of the current episode
func (c *Controller) Finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordLocked()
	c.current = nil
}

func (c *Controller) recordLocked() {
	ep := c.current
	if ep == nil || c.cfg.History == nil {
		return
	}
	st := c.cfg.Player.Status()
	if st.UI.CurrentTime <= 0 {
		return
	}
	_, err := c.cfg.History.Record(history.Entry{
		AnimeID:      ep.AnimeID,
		Title:        ep.Title,
		EpisodeID:    ep.EpisodeID,
		Episode:      ep.Number,
		Position:     st.UI.CurrentTime,
		Duration:     st.UI.Duration,
		Quality:      ep.Quality,
		UsedFallback: st.UsingFallback,
	})
	if err != nil {
		c.logger.Warn("failed to record history", "error", err)
	}
}

// Reconfigure replaces the playback settings of episodes mounted afterwards
func (c *Controller) Reconfigure(fallbackURL, subtitleLang string, autoPlay, debug bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.FallbackURL = fallbackURL
	c.cfg.SubtitleLang = subtitleLang
	c.cfg.AutoPlay = autoPlay
	c.cfg.Debug = debug
}

func options(cfg Config, ep *Episode) player.Options {
	return player.Options{
		Title:        ep.Title,
		FallbackURL:  cfg.FallbackURL,
		SubtitleLang: cfg.SubtitleLang,
		AutoPlay:     cfg.AutoPlay,
		Debug:        cfg.Debug,
		OnError:      cfg.OnError,
		OnNotice:     cfg.OnNotice,
		OnEnded:      cfg.OnEnded,
	}
}

func (c *Controller) rewrite(raw string) string {
	if c.cfg.Proxy == nil {
		return raw
	}
	return c.cfg.Proxy.Rewrite(raw)
}

// EpisodeNumber finds the episode in info by id, else takes the trailing
// integer of the id. It returns 0 when neither works.
func EpisodeNumber(info *sources.AnimeInfo, episodeID string) int {
	if info != nil {
		if ep, ok := lo.Find(info.Episodes, func(e sources.Episode) bool {
			return string(e.ID) == episodeID
		}); ok && ep.Number > 0 {
			return ep.Number
		}
	}
	if m := trailingNumber.FindStringSubmatch(episodeID); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}

// EpisodeTitle formats "<title> - Episode <n>"
func EpisodeTitle(info *sources.AnimeInfo, number int) string {
	title := ""
	if info != nil {
		title = info.Title.String()
	}
	switch {
	case title == "" && number > 0:
		return fmt.Sprintf("Episode %d", number)
	case number <= 0:
		return title
	default:
		return fmt.Sprintf("%s - Episode %d", title, number)
	}
}

// ShareLink builds <site>/watch/<animeId>/<episodeId>
func ShareLink(site, animeID, episodeID string) string {
	return strings.TrimRight(site, "/") + "/watch/" + url.PathEscape(animeID) + "/" + url.PathEscape(episodeID)
}

// subtitleLabel turns an API language tag such as "english" into a label
func subtitleLabel(lang string) string {
	if lang == "" {
		return ""
	}
	return strings.ToUpper(lang[:1]) + lang[1:]
}

func headers(h *sources.SourceHeaders) map[string]string {
	if h == nil {
		return nil
	}
	out := map[string]string{}
	if h.Referer != "" {
		out["Referer"] = h.Referer
	}
	if h.Origin != "" {
		out["Origin"] = h.Origin
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
