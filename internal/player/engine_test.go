package player

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/justchokingaround/ciphertv/internal/proxy"
	"github.com/justchokingaround/ciphertv/internal/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	proxyBase   = "https://hls.ciphertv.dev/proxy?url="
	primaryURL  = "https://cdn.example/primary/master.m3u8"
	fallbackURL = "https://backup.example/fallback/master.m3u8"
)

func proxied(raw string) string {
	return proxyBase + url.QueryEscape(raw)
}

type harness struct {
	engine  *Engine
	media   *fakeMedia
	factory *fakeFactory

	mu      sync.Mutex
	errs    []error
	notices []string
	ended   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{media: newFakeMedia(), factory: &fakeFactory{}}
	h.engine = NewEngine(EngineConfig{
		Media:     h.media,
		Proxy:     proxy.New(proxyBase),
		NewClient: h.factory.New,
	})
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) options(o Options) Options {
	o.OnError = func(err error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.errs = append(h.errs, err)
	}
	o.OnNotice = func(msg string) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.notices = append(h.notices, msg)
	}
	o.OnEnded = func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.ended++
	}
	return o
}

func (h *harness) mount(src string, o Options) {
	h.engine.Mount(src, h.options(o))
	h.engine.drain()
}

func (h *harness) errCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errs)
}

func (h *harness) state() State {
	return h.engine.Status().State
}

func TestEngine_LoadsProxiedSourceAndAutoplays(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{AutoPlay: true})

	require.Equal(t, 1, h.factory.Count())
	client := h.factory.Last()
	assert.Same(t, h.media, client.media)
	assert.Equal(t, []string{proxied(primaryURL)}, client.Loaded())
	assert.Equal(t, StateLoading, h.state())

	client.emit(ClientEvent{Kind: ClientManifestParsed})
	h.engine.drain()

	assert.Equal(t, 1, h.media.Plays())
	st := h.engine.Status()
	assert.Equal(t, StatePlaying, st.State)
	assert.True(t, st.UI.IsPlaying)
	assert.Equal(t, proxied(primaryURL), st.ActiveURL)
	assert.False(t, st.UsingFallback)
	assert.NotEmpty(t, st.SessionID)
}

func TestEngine_InterceptRewritesSubResources(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{})

	intercept := h.factory.Last().cfg.Intercept
	require.NotNil(t, intercept)

	segment := "https://cdn.example/primary/seg-001.ts"
	assert.Equal(t, proxied(segment), intercept(segment))
	assert.Equal(t, proxied(segment), intercept(proxied(segment)))
	assert.Equal(t, "/api/key.bin", intercept("/api/key.bin"))
}

func TestEngine_AutoplayBlockedIsANotice(t *testing.T) {
	h := newHarness(t)
	h.media.playErr = ErrAutoplayBlocked
	h.mount(primaryURL, Options{AutoPlay: true})

	h.factory.Last().emit(ClientEvent{Kind: ClientManifestParsed})
	h.engine.drain()

	st := h.engine.Status()
	assert.Equal(t, StatePaused, st.State)
	assert.Equal(t, msgAutoplay, st.Notice)
	assert.Empty(t, st.UI.ErrorMessage)
	assert.Zero(t, h.errCount())
	assert.Len(t, h.notices, 1)
}

func TestEngine_NoAutoplaySettlesPaused(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{AutoPlay: false})

	h.factory.Last().emit(ClientEvent{Kind: ClientManifestParsed})
	h.engine.drain()

	assert.Equal(t, StatePaused, h.state())
	assert.Zero(t, h.media.Plays())
}

func TestEngine_NonFatalErrorIsOnlyLogged(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{FallbackURL: fallbackURL})
	client := h.factory.Last()

	client.emit(ClientEvent{Kind: ClientError, Err: &StreamError{Type: ErrorTypeOther, Fatal: false}})
	h.engine.drain()

	assert.Equal(t, 1, h.factory.Count())
	assert.Equal(t, StateLoading, h.state())
	assert.Zero(t, client.startLoads)
	assert.Zero(t, h.errCount())
}

func TestEngine_NetworkFatalRetriesWithoutLimit(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{FallbackURL: fallbackURL})
	client := h.factory.Last()

	for i := 0; i < 10; i++ {
		client.fatal(ErrorTypeNetwork)
	}
	h.engine.drain()

	assert.Equal(t, 10, client.startLoads)
	assert.Equal(t, 1, h.factory.Count())
	assert.Equal(t, StateLoading, h.state())
	assert.False(t, h.engine.Status().UsingFallback)
}

func TestEngine_NetworkRetryLimitFallsBack(t *testing.T) {
	media := newFakeMedia()
	factory := &fakeFactory{}
	e := NewEngine(EngineConfig{
		Media:             media,
		Proxy:             proxy.New(proxyBase),
		NewClient:         factory.New,
		NetworkRetryLimit: 2,
	})
	defer e.Close()

	e.Mount(primaryURL, Options{FallbackURL: fallbackURL})
	e.drain()
	first := factory.Last()

	first.fatal(ErrorTypeNetwork)
	first.fatal(ErrorTypeNetwork)
	e.drain()
	assert.Equal(t, 2, first.startLoads)
	assert.Equal(t, 1, factory.Count())

	first.fatal(ErrorTypeNetwork)
	e.drain()
	require.Equal(t, 2, factory.Count())
	assert.True(t, e.Status().UsingFallback)
}

func TestEngine_MediaFatalRecoversInPlace(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{FallbackURL: fallbackURL})
	client := h.factory.Last()

	client.fatal(ErrorTypeMedia)
	h.engine.drain()

	assert.Equal(t, 1, client.recoveries)
	assert.Equal(t, 1, h.factory.Count())
	assert.Equal(t, proxied(primaryURL), h.engine.Status().ActiveURL)
}

func TestEngine_UnrecoverableSwitchesToFallbackOnce(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{FallbackURL: fallbackURL})
	first := h.factory.Last()

	first.fatal(ErrorTypeOther)
	h.engine.drain()

	require.Equal(t, 2, h.factory.Count())
	assert.True(t, first.Destroyed())
	second := h.factory.Last()
	assert.Equal(t, []string{proxied(fallbackURL)}, second.Loaded())

	st := h.engine.Status()
	assert.True(t, st.UsingFallback)
	assert.Equal(t, proxied(fallbackURL), st.ActiveURL)
	assert.Equal(t, StateLoading, st.State)
	assert.Zero(t, h.errCount())

	second.fatal(ErrorTypeOther)
	h.engine.drain()

	assert.Equal(t, 2, h.factory.Count())
	st = h.engine.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, msgFailed, st.UI.ErrorMessage)
	assert.True(t, second.Destroyed())
	require.Equal(t, 1, h.errCount())

	var pf *PlaybackFailure
	require.ErrorAs(t, h.errs[0], &pf)
	assert.True(t, pf.UsedFallback)
	assert.Equal(t, "HLS fatal error: other", pf.Error())

	// late errors after the failure change nothing
	second.fatal(ErrorTypeOther)
	h.engine.drain()
	assert.Equal(t, 1, h.errCount())
	assert.Equal(t, StateFailed, h.state())
}

func TestEngine_UnrecoverableWithoutFallbackFails(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{})

	h.factory.Last().fatal(ErrorTypeOther)
	h.engine.drain()

	assert.Equal(t, StateFailed, h.state())
	assert.Equal(t, 1, h.errCount())
	assert.Equal(t, 1, h.factory.Count())
}

func TestEngine_FallbackEqualToActiveFails(t *testing.T) {
	h := newHarness(t)
	h.mount(fallbackURL, Options{FallbackURL: fallbackURL})

	h.factory.Last().fatal(ErrorTypeOther)
	h.engine.drain()

	assert.Equal(t, StateFailed, h.state())
	assert.Equal(t, 1, h.factory.Count())
	assert.Equal(t, 1, h.errCount())
}

func TestEngine_MissingSourceUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.media.playErr = ErrAutoplayBlocked
	h.mount("", Options{FallbackURL: fallbackURL, AutoPlay: true})

	require.Equal(t, 1, h.factory.Count())
	client := h.factory.Last()
	assert.Equal(t, []string{proxied(fallbackURL)}, client.Loaded())
	assert.Equal(t, StateLoading, h.state())
	assert.True(t, h.engine.Status().UsingFallback)

	client.emit(ClientEvent{Kind: ClientManifestParsed})
	h.engine.drain()

	assert.Equal(t, StatePaused, h.state())
	assert.Zero(t, h.errCount())
}

func TestEngine_NoSourceAtAll(t *testing.T) {
	h := newHarness(t)
	h.mount("", Options{})

	st := h.engine.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, msgNoSource, st.UI.ErrorMessage)
	assert.ErrorIs(t, st.LastError, ErrNoSource)
	assert.Zero(t, h.factory.Count())
	assert.Zero(t, h.errCount())
}

func TestEngine_CapabilityError(t *testing.T) {
	t.Run("no native support and no client", func(t *testing.T) {
		media := newFakeMedia()
		var got []error
		e := NewEngine(EngineConfig{Media: media, Proxy: proxy.New(proxyBase)})

		e.Mount(primaryURL, Options{FallbackURL: fallbackURL, OnError: func(err error) { got = append(got, err) }})
		e.drain()

		assert.Equal(t, StateFailed, e.Status().State)
		assert.Equal(t, msgUnsupported, e.Status().UI.ErrorMessage)
		assert.Empty(t, media.Loaded())
		require.Len(t, got, 1)
		var ce *CapabilityError
		assert.ErrorAs(t, got[0], &ce)
		assert.True(t, IsTerminal(got[0]))
	})

	t.Run("client library refuses", func(t *testing.T) {
		h := newHarness(t)
		h.factory.err = errors.New("no MSE")
		h.mount(primaryURL, Options{})

		assert.Equal(t, StateFailed, h.state())
		require.Equal(t, 1, h.errCount())
		var ce *CapabilityError
		assert.ErrorAs(t, h.errs[0], &ce)
	})
}

func TestEngine_NativePath(t *testing.T) {
	h := newHarness(t)
	h.media.native = true
	h.mount(primaryURL, Options{FallbackURL: fallbackURL, AutoPlay: true, SubtitleURL: "https://subs.example/en.vtt"})

	assert.Zero(t, h.factory.Count())
	assert.Equal(t, []string{proxied(primaryURL)}, h.media.Loaded())

	h.media.emit(MediaEvent{Kind: MediaLoadedMetadata})
	h.media.emit(MediaEvent{Kind: MediaLoadedMetadata})
	h.engine.drain()

	assert.Equal(t, StatePlaying, h.state())
	assert.Equal(t, []string{"https://subs.example/en.vtt"}, h.media.subtitles)

	h.media.emit(MediaEvent{Kind: MediaError, Err: errors.New("decode")})
	h.engine.drain()

	assert.Equal(t, []string{proxied(primaryURL), proxied(fallbackURL)}, h.media.Loaded())
	assert.True(t, h.engine.Status().UsingFallback)
	assert.Zero(t, h.errCount())
}

func TestEngine_ClientPathIgnoresMediaErrors(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{FallbackURL: fallbackURL})

	h.media.emit(MediaEvent{Kind: MediaError, Err: errors.New("decode")})
	h.engine.drain()

	assert.Equal(t, 1, h.factory.Count())
	assert.Equal(t, StateLoading, h.state())
}

func TestEngine_PostTeardownEventsAreIgnored(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{
		AutoPlay: true,
		Sources: []sources.VideoSource{
			{URL: proxied("https://cdn.example/1080.m3u8"), Quality: "1080p"},
			{URL: proxied("https://cdn.example/720.m3u8"), Quality: "720p"},
		},
	})
	first := h.factory.Last()

	// queued but not yet delivered when the session is replaced
	first.emit(ClientEvent{Kind: ClientManifestParsed})
	first.fatal(ErrorTypeOther)
	require.NoError(t, h.engine.SwitchQuality("720p"))
	require.NoError(t, h.engine.SwitchQuality("1080p"))
	h.engine.drain()

	assert.Zero(t, h.media.Plays())
	assert.Zero(t, h.errCount())
	require.Equal(t, 3, h.factory.Count())
	assert.True(t, h.factory.At(0).Destroyed())
	assert.True(t, h.factory.At(1).Destroyed())
	assert.False(t, h.factory.At(2).Destroyed())
	assert.Equal(t, 1, h.media.bus.Len())

	// a destroyed client emitting again reaches nobody
	first.emit(ClientEvent{Kind: ClientManifestParsed})
	h.factory.At(1).emit(ClientEvent{Kind: ClientManifestParsed})
	h.engine.drain()
	assert.Zero(t, h.media.Plays())
	assert.Equal(t, "1080p", h.engine.Status().Quality)
}

func TestEngine_SwitchQuality(t *testing.T) {
	h := newHarness(t)
	candidates := []sources.VideoSource{
		{URL: proxied("https://cdn.example/1080.m3u8"), Quality: "1080p"},
		{URL: proxied("https://cdn.example/720.m3u8"), Quality: "720p"},
	}
	h.mount(candidates[0].URL, Options{Sources: candidates, FallbackURL: fallbackURL})

	h.media.emit(MediaEvent{Kind: MediaTimeUpdate, Time: 42})
	h.engine.drain()

	require.NoError(t, h.engine.SwitchQuality("720p"))
	h.engine.drain()

	require.Equal(t, 2, h.factory.Count())
	assert.Equal(t, []string{candidates[1].URL}, h.factory.Last().Loaded())
	st := h.engine.Status()
	assert.Equal(t, "720p", st.Quality)
	assert.False(t, st.UsingFallback)

	h.media.emit(MediaEvent{Kind: MediaLoadedMetadata})
	h.engine.drain()
	assert.Equal(t, []float64{42}, h.media.seeks)

	// the fallback is preserved across the switch
	h.factory.Last().fatal(ErrorTypeOther)
	h.engine.drain()
	assert.Equal(t, []string{proxied(fallbackURL)}, h.factory.Last().Loaded())

	err := h.engine.SwitchQuality("4k")
	assert.Error(t, err)
}

func TestEngine_ReinitializeTwiceKeepsOneClient(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{})
	h.engine.Initialize("https://cdn.example/a.m3u8")
	h.engine.Initialize("https://cdn.example/b.m3u8")
	h.engine.drain()

	require.Equal(t, 3, h.factory.Count())
	live := 0
	for i := 0; i < 3; i++ {
		if !h.factory.At(i).Destroyed() {
			live++
		}
	}
	assert.Equal(t, 1, live)
	assert.Equal(t, 1, h.media.bus.Len())
	assert.Equal(t, 1, h.factory.Last().bus.Len())
}

func TestEngine_UIMirrorsNativeEvents(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{})
	ctx := context.Background()

	require.NoError(t, h.engine.Seek(ctx, 42))
	assert.Zero(t, h.engine.Status().UI.CurrentTime, "ui must wait for the native event")
	h.engine.drain()
	assert.Equal(t, 42.0, h.engine.Status().UI.CurrentTime)

	h.media.emit(MediaEvent{Kind: MediaDurationChange, Duration: 1440})
	require.NoError(t, h.engine.ToggleFullscreen(ctx))
	h.engine.drain()

	ui := h.engine.Status().UI
	assert.Equal(t, 1440.0, ui.Duration)
	assert.True(t, ui.IsFullscreen)
	assert.InDelta(t, 2.9166, ui.Percentage(), 0.001)
}

func TestEngine_SetVolumeMuteSemantics(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{})
	ctx := context.Background()

	require.NoError(t, h.engine.SetVolume(ctx, 0))
	h.engine.drain()
	assert.True(t, h.media.Muted())
	assert.True(t, h.engine.Status().UI.IsMuted)

	require.NoError(t, h.engine.SetVolume(ctx, 0.5))
	h.engine.drain()
	assert.False(t, h.media.Muted())
	ui := h.engine.Status().UI
	assert.False(t, ui.IsMuted)
	assert.Equal(t, 0.5, ui.Volume)

	require.NoError(t, h.engine.SetVolume(ctx, 3))
	h.engine.drain()
	assert.Equal(t, 1.0, h.engine.Status().UI.Volume)

	require.NoError(t, h.engine.ToggleMute(ctx))
	h.engine.drain()
	assert.True(t, h.engine.Status().UI.IsMuted)
}

func TestEngine_TogglePlayFollowsMirroredState(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{})
	ctx := context.Background()

	h.engine.TogglePlay(ctx)
	h.engine.drain()
	assert.Equal(t, 1, h.media.Plays())
	assert.Equal(t, StatePlaying, h.state())

	h.engine.TogglePlay(ctx)
	h.engine.drain()
	assert.Equal(t, 1, h.media.pauses)
	assert.Equal(t, StatePaused, h.state())

	// a refused play is swallowed
	h.media.playErr = ErrAutoplayBlocked
	h.engine.TogglePlay(ctx)
	h.engine.drain()
	assert.Equal(t, StatePaused, h.state())
	assert.Zero(t, h.errCount())
}

func TestEngine_EndedNotifiesCaller(t *testing.T) {
	h := newHarness(t)
	h.mount(primaryURL, Options{})

	h.media.emit(MediaEvent{Kind: MediaPlay})
	h.media.emit(MediaEvent{Kind: MediaEnded})
	h.engine.drain()

	assert.Equal(t, StatePaused, h.state())
	assert.Equal(t, 1, h.ended)
}

func TestEngine_OnChange(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var states []State
	unsubscribe := h.engine.OnChange(func(st Status) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, st.State)
	})

	h.mount(primaryURL, Options{})

	mu.Lock()
	require.NotEmpty(t, states)
	assert.Equal(t, StateLoading, states[0])
	count := len(states)
	mu.Unlock()

	unsubscribe()
	h.engine.Initialize(fallbackURL)
	h.engine.drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, states, count)
}

func TestEngine_Run(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()

	h.engine.Mount(primaryURL, h.options(Options{}))

	require.Eventually(t, func() bool {
		c := h.factory.Last()
		return c != nil && len(c.Loaded()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, h.factory.Last().Destroyed())
}
