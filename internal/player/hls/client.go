// Package hls is the streaming client used when the media output cannot load
// HLS itself. It fetches playlists through the request hook, rewrites every
// segment and key reference through it as well, and hands the output a
// spooled local copy of the manifest.
package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grafov/m3u8"
	"github.com/justchokingaround/ciphertv/internal/eventbus"
	"github.com/justchokingaround/ciphertv/internal/httpclient"
	"github.com/justchokingaround/ciphertv/internal/player"
	"github.com/spf13/afero"
)

const (
	defaultRetryDelay    = time.Second
	defaultMaxRetryDelay = 30 * time.Second
	// a media error within this window of the last recovery is not retried again
	recoveryWindow = 3 * time.Second
)

// Options configure every client a Factory creates
type Options struct {
	HTTP     *httpclient.Client
	Fs       afero.Fs
	SpoolDir string
}

// Factory returns a player.ClientFactory producing HLS clients
func Factory(opts Options) player.ClientFactory {
	return func(cfg player.ClientConfig) (player.StreamClient, error) {
		return New(cfg, opts)
	}
}

// Client implements player.StreamClient
type Client struct {
	cfg    player.ClientConfig
	http   *httpclient.Client
	fs     afero.Fs
	dir    string
	logger *slog.Logger
	events *eventbus.Bus[player.ClientEvent]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.Mutex
	media         player.MediaOutput
	unsubMedia    func()
	source        string
	masterPath    string
	attempts      int
	pendingSeek   float64
	lastRecovery  time.Time
	destroyed     bool
	destroyedOnce sync.Once
}

// New creates a client spooling playlists under opts.SpoolDir
func New(cfg player.ClientConfig, opts Options) (*Client, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.HTTP == nil {
		opts.HTTP = httpclient.NewClient(httpclient.DefaultClientConfig())
	}
	if cfg.Intercept == nil {
		cfg.Intercept = func(u string) string { return u }
	}
	if cfg.Origin == nil {
		cfg.Origin = func(u string) string { return u }
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxRetryDelay < cfg.RetryDelay {
		cfg.MaxRetryDelay = defaultMaxRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dir := filepath.Join(opts.SpoolDir, "hls-"+uuid.NewString())
	if err := opts.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, &player.CapabilityError{Reason: "cannot create playlist spool", Err: err}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:    cfg,
		http:   opts.HTTP,
		fs:     opts.Fs,
		dir:    dir,
		logger: cfg.Logger.With("component", "hls"),
		events: eventbus.New[player.ClientEvent](),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Subscribe registers fn for client events
func (c *Client) Subscribe(fn func(player.ClientEvent)) func() {
	return c.events.Subscribe(fn)
}

// AttachMedia binds the client to media and reports MediaAttached
func (c *Client) AttachMedia(media player.MediaOutput) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	if c.unsubMedia != nil {
		c.unsubMedia()
	}
	c.media = media
	c.unsubMedia = media.Subscribe(c.onMediaEvent)
	c.mu.Unlock()

	c.emit(player.ClientEvent{Kind: player.ClientMediaAttached})
}

// LoadSource fetches and spools the manifest at url in the background
func (c *Client) LoadSource(url string) {
	c.mu.Lock()
	c.source = url
	c.attempts = 0
	c.mu.Unlock()
	c.goLoad(0)
}

// StartLoad retries the current source after an exponential backoff
func (c *Client) StartLoad() {
	c.mu.Lock()
	c.attempts++
	delay := c.backoff(c.attempts)
	c.mu.Unlock()
	c.goLoad(delay)
}

// RecoverMediaError reloads the spooled manifest and returns to the last position
func (c *Client) RecoverMediaError() {
	c.mu.Lock()
	media, path := c.media, c.masterPath
	if media != nil {
		c.pendingSeek = media.CurrentTime()
	}
	c.lastRecovery = time.Now()
	c.mu.Unlock()

	if media == nil || path == "" {
		c.goLoad(0)
		return
	}

	c.goRun(func(ctx context.Context) {
		c.logger.Debug("recovering media error", "path", path)
		if err := media.Load(ctx, path); err != nil && ctx.Err() == nil {
			c.emitError(player.ErrorTypeOther, true, "mediaRecoveryFailed", path, err)
		}
	})
}

// Destroy stops all background work, detaches from the media output and
// removes the spooled playlists. No events are delivered afterwards.
func (c *Client) Destroy() {
	c.destroyedOnce.Do(func() {
		c.mu.Lock()
		c.destroyed = true
		if c.unsubMedia != nil {
			c.unsubMedia()
			c.unsubMedia = nil
		}
		c.media = nil
		c.mu.Unlock()

		c.events.Close()
		c.cancel()
		c.wg.Wait()

		if err := c.fs.RemoveAll(c.dir); err != nil {
			c.logger.Warn("failed to remove playlist spool", "dir", c.dir, "error", err)
		}
	})
}

func (c *Client) onMediaEvent(evt player.MediaEvent) {
	switch evt.Kind {
	case player.MediaLoadedMetadata:
		c.mu.Lock()
		media, at := c.media, c.pendingSeek
		c.pendingSeek = 0
		c.mu.Unlock()
		if media != nil && at > 0 {
			c.goRun(func(ctx context.Context) {
				if err := media.Seek(ctx, at); err != nil {
					c.logger.Debug("seek after recovery failed", "error", err)
				}
			})
		}
	case player.MediaError:
		c.mu.Lock()
		repeated := !c.lastRecovery.IsZero() && time.Since(c.lastRecovery) < recoveryWindow
		c.mu.Unlock()
		if repeated {
			c.emitError(player.ErrorTypeOther, true, "mediaRecoveryFailed", "", evt.Err)
			return
		}
		c.emitError(player.ErrorTypeMedia, true, "mediaError", "", evt.Err)
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := c.cfg.RetryDelay
	for i := 1; i < attempt && delay < c.cfg.MaxRetryDelay; i++ {
		delay *= 2
	}
	if delay > c.cfg.MaxRetryDelay {
		delay = c.cfg.MaxRetryDelay
	}
	return delay
}

func (c *Client) goLoad(delay time.Duration) {
	c.goRun(func(ctx context.Context) {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		c.load(ctx)
	})
}

func (c *Client) goRun(fn func(ctx context.Context)) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

func (c *Client) load(ctx context.Context) {
	c.mu.Lock()
	source, media := c.source, c.media
	c.mu.Unlock()
	if source == "" || media == nil {
		return
	}

	levels, path, err := c.spool(ctx, source)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		var se *player.StreamError
		if errors.As(err, &se) {
			c.emit(player.ClientEvent{Kind: player.ClientError, Err: se})
		} else {
			c.emitError(player.ErrorTypeOther, true, "manifestParsingError", source, err)
		}
		return
	}

	c.mu.Lock()
	c.masterPath = path
	c.attempts = 0
	c.mu.Unlock()

	if err := media.Load(ctx, path); err != nil {
		if ctx.Err() == nil {
			c.emitError(player.ErrorTypeMedia, true, "mediaLoadError", path, err)
		}
		return
	}
	c.emit(player.ClientEvent{Kind: player.ClientManifestParsed, Levels: levels})
}

// spool fetches the manifest at source, rewrites it and writes the local
// copy. It returns the quality labels and the local manifest path.
func (c *Client) spool(ctx context.Context, source string) ([]string, string, error) {
	body, err := c.fetch(ctx, c.cfg.Intercept(source))
	if err != nil {
		return nil, "", &player.StreamError{Type: player.ErrorTypeNetwork, Fatal: true, Details: "manifestLoadError", URL: source, Err: err}
	}

	playlist, listType, err := decode(body)
	if err != nil {
		return nil, "", &player.StreamError{Type: player.ErrorTypeOther, Fatal: true, Details: "manifestParsingError", URL: source, Err: err}
	}

	base := c.cfg.Origin(source)
	if listType == m3u8.MEDIA {
		media := playlist.(*m3u8.MediaPlaylist)
		path, err := c.writeMedia(media, base, "index.m3u8")
		if err != nil {
			return nil, "", err
		}
		return nil, path, nil
	}

	master := playlist.(*m3u8.MasterPlaylist)
	return c.spoolMaster(ctx, master, base, source)
}

func (c *Client) spoolMaster(ctx context.Context, master *m3u8.MasterPlaylist, base, source string) ([]string, string, error) {
	var (
		levels   []string
		kept     []*m3u8.Variant
		netFails int
		lastErr  error
	)
	alternatives := make(map[*m3u8.Alternative]bool)

	for i, v := range master.Variants {
		if v == nil || v.Iframe {
			continue
		}
		name := fmt.Sprintf("level-%d.m3u8", i)
		path, err := c.spoolVariant(ctx, base, v.URI, name)
		if err != nil {
			lastErr = err
			errType, details := player.ErrorTypeOther, "levelParsingError"
			var se *player.StreamError
			if errors.As(err, &se) {
				errType, details = se.Type, se.Details
			}
			if errType == player.ErrorTypeNetwork {
				netFails++
			}
			c.emitError(errType, false, details, v.URI, err)
			continue
		}
		v.URI = path
		kept = append(kept, v)
		levels = append(levels, levelLabel(v))

		for j, alt := range v.Alternatives {
			if alt == nil || alt.URI == "" || alternatives[alt] {
				continue
			}
			alternatives[alt] = true
			altPath, err := c.spoolVariant(ctx, base, alt.URI, fmt.Sprintf("level-%d-alt-%d.m3u8", i, j))
			if err != nil {
				c.emitError(player.ErrorTypeNetwork, false, "audioTrackLoadError", alt.URI, err)
				continue
			}
			alt.URI = altPath
		}
	}

	if len(kept) == 0 {
		if netFails > 0 && lastErr != nil {
			return nil, "", &player.StreamError{Type: player.ErrorTypeNetwork, Fatal: true, Details: "levelLoadError", URL: source, Err: lastErr}
		}
		return nil, "", &player.StreamError{Type: player.ErrorTypeOther, Fatal: true, Details: "manifestIncompatibleCodecsError", URL: source, Err: errNoVariants}
	}

	master.Variants = kept
	master.ResetCache()
	path := filepath.Join(c.dir, "master.m3u8")
	if err := afero.WriteFile(c.fs, path, master.Encode().Bytes(), 0o644); err != nil {
		return nil, "", &player.StreamError{Type: player.ErrorTypeOther, Fatal: true, Details: "spoolWriteError", URL: source, Err: err}
	}
	return levels, path, nil
}

func (c *Client) spoolVariant(ctx context.Context, base, uri, name string) (string, error) {
	target, err := resolveURL(base, uri)
	if err != nil {
		return "", &player.StreamError{Type: player.ErrorTypeOther, Details: "levelParsingError", URL: uri, Err: err}
	}
	body, err := c.fetch(ctx, c.cfg.Intercept(target))
	if err != nil {
		return "", &player.StreamError{Type: player.ErrorTypeNetwork, Details: "levelLoadError", URL: target, Err: err}
	}
	playlist, listType, err := decode(body)
	if err != nil {
		return "", &player.StreamError{Type: player.ErrorTypeOther, Details: "levelParsingError", URL: target, Err: err}
	}
	if listType != m3u8.MEDIA {
		return "", &player.StreamError{Type: player.ErrorTypeOther, Details: "levelParsingError", URL: target, Err: errors.New("expected media playlist, got master playlist")}
	}
	return c.writeMedia(playlist.(*m3u8.MediaPlaylist), target, name)
}

func (c *Client) writeMedia(p *m3u8.MediaPlaylist, base, name string) (string, error) {
	n, err := rewriteMedia(p, base, c.cfg.Intercept)
	if err != nil {
		return "", &player.StreamError{Type: player.ErrorTypeOther, Fatal: true, Details: "levelParsingError", URL: base, Err: err}
	}
	if n == 0 {
		return "", &player.StreamError{Type: player.ErrorTypeOther, Fatal: true, Details: "levelEmptyError", URL: base, Err: errors.New("playlist contains no segments")}
	}

	path := filepath.Join(c.dir, name)
	if err := afero.WriteFile(c.fs, path, p.Encode().Bytes(), 0o644); err != nil {
		return "", &player.StreamError{Type: player.ErrorTypeOther, Fatal: true, Details: "spoolWriteError", URL: base, Err: err}
	}
	if c.cfg.Debug {
		c.logger.Debug("spooled playlist", "url", base, "segments", n, "path", path)
	}
	return path, nil
}

func (c *Client) fetch(ctx context.Context, url string) ([]byte, error) {
	if c.cfg.Debug {
		c.logger.Debug("fetching playlist", "url", url)
	}
	return c.http.GetBytes(ctx, url, c.cfg.Headers)
}

func (c *Client) emitError(t player.ErrorType, fatal bool, details, url string, err error) {
	c.emit(player.ClientEvent{Kind: player.ClientError, Err: &player.StreamError{
		Type:    t,
		Fatal:   fatal,
		Details: details,
		URL:     url,
		Err:     err,
	}})
}

func (c *Client) emit(evt player.ClientEvent) {
	if c.cfg.Debug && evt.Err != nil {
		c.logger.Debug("hls error", "error", evt.Err)
	}
	c.events.Publish(evt)
}
