package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/justchokingaround/ciphertv/internal/sources"
)

const (
	msgNoSource    = "No video source provided."
	msgUnsupported = "Your player does not support HLS playback."
	msgFailed      = "Failed to load video. Please try again later."
	msgAutoplay    = "Autoplay blocked: press play to start the video"
)

// Rewriter maps origin URLs to proxied URLs
type Rewriter interface {
	Rewrite(raw string) string
}

// EngineConfig wires an Engine to its collaborators
type EngineConfig struct {
	Media MediaOutput
	Proxy Rewriter
	// NewClient is nil when no streaming client library is available
	NewClient ClientFactory
	// Stream is the template for every ClientConfig; Intercept is always replaced
	Stream            ClientConfig
	NetworkRetryLimit int
	Logger            *slog.Logger
}

// Options are the per-mount inputs of a watch session
type Options struct {
	Title        string
	FallbackURL  string
	SubtitleURL  string
	SubtitleLang string
	AutoPlay     bool
	// StartAt seeks once the first source has loaded metadata
	StartAt float64
	// Sources is the resolved candidate list SwitchQuality picks from
	Sources []sources.VideoSource
	Headers map[string]string
	Debug   bool

	OnError  func(error)
	OnNotice func(string)
	OnEnded  func()
}

// Session is the binding between one streaming client and the media output
type Session struct {
	ID            string
	ActiveURL     string
	UsingFallback bool
	Quality       string
	State         State
	LastError     error

	gen            uint64
	native         bool
	client         StreamClient
	unsubs         []func()
	closed         bool
	networkRetries int
	resumeAt       float64
	subtitleAdded  bool
}

// Status is a point-in-time copy of the engine for display
type Status struct {
	SessionID     string
	Title         string
	State         State
	ActiveURL     string
	UsingFallback bool
	Quality       string
	LastError     error
	Notice        string
	UI            UIState
}

type envelope struct {
	gen    uint64
	media  *MediaEvent
	client *ClientEvent
}

// queue is an unbounded FIFO so publishers never block on the event loop
type queue struct {
	mu    sync.Mutex
	items []envelope
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) push(env envelope) {
	q.mu.Lock()
	q.items = append(q.items, env)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) take() []envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Engine owns at most one active Session on its media output
type Engine struct {
	mu sync.Mutex

	media      MediaOutput
	proxy      Rewriter
	newClient  ClientFactory
	stream     ClientConfig
	retryLimit int
	logger     *slog.Logger

	ctx           context.Context
	opts          Options
	session       *Session
	gen           uint64
	ui            UIState
	notice        string
	errorReported bool

	listeners map[int]func(Status)
	nextID    int

	events  *queue
	pending []func()
}

// NewEngine creates an engine. Call Run to start delivering events.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		media:      cfg.Media,
		proxy:      cfg.Proxy,
		newClient:  cfg.NewClient,
		stream:     cfg.Stream,
		retryLimit: cfg.NetworkRetryLimit,
		logger:     cfg.Logger,
		ctx:        context.Background(),
		ui:         UIState{Volume: 1},
		listeners:  make(map[int]func(Status)),
		events:     newQueue(),
	}
}

// Run processes media and client events until ctx is done, then tears the
// session down
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			e.Close()
			return nil
		case <-e.events.ready:
			e.drain()
		}
	}
}

func (e *Engine) drain() {
	for {
		items := e.events.take()
		if len(items) == 0 {
			return
		}
		for _, env := range items {
			e.dispatch(env)
		}
	}
}

// Mount starts a new watch session: src when given, otherwise the fallback
func (e *Engine) Mount(src string, opts Options) {
	e.mu.Lock()
	e.opts = opts
	e.errorReported = false
	e.notice = ""
	e.ui.ErrorMessage = ""

	switch {
	case src != "":
		e.trace("using provided source", "url", src)
		e.initialize(src, false, "", opts.StartAt)
	case opts.FallbackURL != "":
		e.trace("using fallback source", "url", opts.FallbackURL)
		e.initialize(opts.FallbackURL, true, "", opts.StartAt)
	default:
		e.trace("no video source provided")
		e.teardown()
		e.gen++
		e.session = &Session{
			ID:        uuid.NewString(),
			State:     Transition(StateIdle, EventFail),
			LastError: ErrNoSource,
			gen:       e.gen,
			closed:    true,
		}
		e.ui.ErrorMessage = msgNoSource
	}

	e.unlockAndFlush()
}

// Initialize tears down the current session and loads streamURL
func (e *Engine) Initialize(streamURL string) {
	e.mu.Lock()
	e.initialize(streamURL, false, "", 0)
	e.unlockAndFlush()
}

// SwitchQuality reloads the session with the resolved source labelled
// quality. It never resolves sources again.
func (e *Engine) SwitchQuality(quality string) error {
	e.mu.Lock()
	src, ok := sources.FindByQuality(e.opts.Sources, quality)
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("quality %q not available", quality)
	}
	e.errorReported = false
	e.trace("switching quality", "quality", quality)
	e.initialize(src.URL, false, quality, e.ui.CurrentTime)
	e.unlockAndFlush()
	return nil
}

// Close tears down the active session
func (e *Engine) Close() {
	e.mu.Lock()
	e.teardown()
	e.unlockAndFlush()
}

// Status returns a snapshot of the engine
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

// OnChange registers fn to receive a Status after every state change
func (e *Engine) OnChange(fn func(Status)) (unsubscribe func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.listeners, id)
	}
}

// initialize must be called with e.mu held
func (e *Engine) initialize(raw string, usingFallback bool, quality string, resumeAt float64) {
	e.teardown()

	e.gen++
	s := &Session{
		ID:            uuid.NewString(),
		ActiveURL:     e.rewrite(raw),
		UsingFallback: usingFallback,
		Quality:       quality,
		State:         Transition(StateIdle, EventLoad),
		gen:           e.gen,
		resumeAt:      resumeAt,
	}
	e.session = s
	e.ui.ErrorMessage = ""
	e.trace("initializing session", "session", s.ID, "url", s.ActiveURL, "fallback", usingFallback)

	if e.media == nil {
		e.fail(s, &CapabilityError{Reason: "no media output"}, msgUnsupported)
		return
	}

	gen := s.gen
	s.unsubs = append(s.unsubs, e.media.Subscribe(func(evt MediaEvent) {
		e.events.push(envelope{gen: gen, media: &evt})
	}))

	if e.media.CanPlayNative() {
		s.native = true
		e.trace("using native HLS support", "session", s.ID)
		if err := e.media.Load(e.ctx, s.ActiveURL); err != nil {
			e.handleStreamError(s, &StreamError{Type: ErrorTypeOther, Fatal: true, URL: s.ActiveURL, Err: err})
		}
		return
	}

	if e.newClient == nil {
		e.fail(s, &CapabilityError{Reason: "no native HLS support and no streaming client"}, msgUnsupported)
		return
	}

	cfg := e.stream
	cfg.Intercept = e.rewrite
	if u, ok := e.proxy.(interface{ Unwrap(string) string }); ok {
		cfg.Origin = u.Unwrap
	}
	cfg.Headers = e.opts.Headers
	cfg.Debug = cfg.Debug || e.opts.Debug
	cfg.Logger = e.logger.With("session", s.ID)

	client, err := e.newClient(cfg)
	if err != nil {
		var ce *CapabilityError
		if !errors.As(err, &ce) {
			ce = &CapabilityError{Reason: "streaming client unavailable", Err: err}
		}
		e.fail(s, ce, msgUnsupported)
		return
	}

	s.client = client
	s.unsubs = append(s.unsubs, client.Subscribe(func(evt ClientEvent) {
		e.events.push(envelope{gen: gen, client: &evt})
	}))
	client.AttachMedia(e.media)
}

// teardown detaches every listener and destroys the client of the current
// session. Events already queued for it are dropped by dispatch.
func (e *Engine) teardown() {
	s := e.session
	if s == nil || s.closed {
		return
	}
	s.closed = true
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	if s.client != nil {
		s.client.Destroy()
		s.client = nil
	}
	e.trace("session torn down", "session", s.ID)
}

func (e *Engine) dispatch(env envelope) {
	e.mu.Lock()
	s := e.session
	if s == nil || s.closed || env.gen != s.gen {
		e.mu.Unlock()
		return
	}

	switch {
	case env.media != nil:
		e.onMediaEvent(s, *env.media)
	case env.client != nil:
		e.onClientEvent(s, *env.client)
	}

	e.unlockAndFlush()
}

func (e *Engine) onMediaEvent(s *Session, evt MediaEvent) {
	e.ui = e.ui.Apply(evt)

	switch evt.Kind {
	case MediaPlay:
		s.State = Transition(s.State, EventPlay)
		e.notice = ""
	case MediaPause:
		s.State = Transition(s.State, EventPause)
	case MediaEnded:
		s.State = Transition(s.State, EventEnded)
		if cb := e.opts.OnEnded; cb != nil {
			e.pending = append(e.pending, cb)
		}
	case MediaLoadedMetadata:
		e.onLoadedMetadata(s)
	case MediaError:
		// The streaming client turns media errors into its own error events
		if s.native {
			e.handleStreamError(s, &StreamError{
				Type:    ErrorTypeOther,
				Fatal:   true,
				Details: "media element error",
				URL:     s.ActiveURL,
				Err:     evt.Err,
			})
		}
	}
}

func (e *Engine) onLoadedMetadata(s *Session) {
	if !s.subtitleAdded && e.opts.SubtitleURL != "" {
		s.subtitleAdded = true
		lang := e.opts.SubtitleLang
		if lang == "" {
			lang = "English"
		}
		e.trace("adding subtitle track", "url", e.opts.SubtitleURL)
		if err := e.media.AddSubtitle(e.ctx, e.opts.SubtitleURL, lang); err != nil {
			e.logger.Warn("failed to add subtitle track", "error", err)
		}
	}

	if s.resumeAt > 0 {
		at := s.resumeAt
		s.resumeAt = 0
		if err := e.media.Seek(e.ctx, at); err != nil {
			e.logger.Debug("resume seek failed", "error", err)
		}
	}

	if s.native {
		e.ready(s)
	}
}

func (e *Engine) onClientEvent(s *Session, evt ClientEvent) {
	switch evt.Kind {
	case ClientMediaAttached:
		e.trace("media attached", "session", s.ID)
		s.client.LoadSource(s.ActiveURL)
	case ClientManifestParsed:
		e.trace("manifest parsed", "session", s.ID, "levels", evt.Levels)
		e.ready(s)
	case ClientError:
		e.handleStreamError(s, evt.Err)
	}
}

// ready runs once the source is loadable and starts playback when requested
func (e *Engine) ready(s *Session) {
	if !e.opts.AutoPlay {
		s.State = Transition(s.State, EventReady)
		return
	}

	err := e.media.Play(e.ctx)
	if err == nil {
		return
	}

	s.State = Transition(s.State, EventReady)
	if errors.Is(err, ErrAutoplayBlocked) {
		e.trace("autoplay prevented", "error", err)
		e.notice = msgAutoplay
		if cb := e.opts.OnNotice; cb != nil {
			e.pending = append(e.pending, func() { cb(msgAutoplay) })
		}
		return
	}
	e.logger.Debug("autoplay failed", "error", err)
}

func (e *Engine) handleStreamError(s *Session, err *StreamError) {
	action := Decide(err, Situation{
		ActiveURL:         s.ActiveURL,
		FallbackURL:       e.fallbackURL(),
		NetworkRetries:    s.networkRetries,
		NetworkRetryLimit: e.retryLimit,
	})
	e.trace("stream error", "session", s.ID, "error", err, "class", Classify(err), "action", action)

	switch action {
	case ActionLog:
	case ActionRetryLoad:
		s.networkRetries++
		if s.client != nil {
			s.client.StartLoad()
		}
	case ActionRecoverMedia:
		if s.client != nil {
			s.client.RecoverMediaError()
		}
	case ActionFallback:
		e.logger.Info("switching to fallback stream", "from", s.ActiveURL)
		e.initialize(e.opts.FallbackURL, true, "", e.ui.CurrentTime)
	case ActionFail:
		e.fail(s, &PlaybackFailure{URL: s.ActiveURL, UsedFallback: s.UsingFallback, Err: err}, msgFailed)
	}
}

// fail moves s to Failed and reports err to the caller once
func (e *Engine) fail(s *Session, err error, message string) {
	s.State = Transition(s.State, EventFail)
	s.LastError = err
	e.ui.ErrorMessage = message
	e.logger.Error("playback failed", "session", s.ID, "error", err)
	e.teardown()

	if e.errorReported {
		return
	}
	e.errorReported = true
	if cb := e.opts.OnError; cb != nil {
		e.pending = append(e.pending, func() { cb(err) })
	}
}

func (e *Engine) rewrite(raw string) string {
	if e.proxy == nil {
		return raw
	}
	return e.proxy.Rewrite(raw)
}

func (e *Engine) fallbackURL() string {
	if e.opts.FallbackURL == "" {
		return ""
	}
	return e.rewrite(e.opts.FallbackURL)
}

func (e *Engine) trace(msg string, args ...any) {
	if e.opts.Debug {
		e.logger.Info(msg, args...)
		return
	}
	e.logger.Debug(msg, args...)
}

func (e *Engine) statusLocked() Status {
	st := Status{
		Title:  e.opts.Title,
		State:  StateIdle,
		Notice: e.notice,
		UI:     e.ui,
	}
	if s := e.session; s != nil {
		st.SessionID = s.ID
		st.State = s.State
		st.ActiveURL = s.ActiveURL
		st.UsingFallback = s.UsingFallback
		st.Quality = s.Quality
		st.LastError = s.LastError
	}
	return st
}

// unlockAndFlush notifies listeners and runs queued callbacks outside the lock
func (e *Engine) unlockAndFlush() {
	st := e.statusLocked()
	pending := e.pending
	e.pending = nil
	listeners := make([]func(Status), 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	e.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
	for _, fn := range listeners {
		fn(st)
	}
}
